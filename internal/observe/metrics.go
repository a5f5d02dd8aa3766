// Package observe holds the OpenTelemetry instruments recorded by the voice
// pipeline. Instruments are created from an injected metric.MeterProvider so
// tests can read them back through a manual reader.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/Raikerian/go-live-tutor"

// Metrics holds every instrument used by the session pipeline. All fields
// are safe for concurrent use.
type Metrics struct {
	// ChunksSent counts outbound audio chunks delivered to the service.
	ChunksSent metric.Int64Counter

	// ChunksReceived counts inbound audio chunks accepted for playback.
	ChunksReceived metric.Int64Counter

	// ChunksDropped counts inbound chunks discarded. Use with attribute:
	//   attribute.String("reason", ...)
	ChunksDropped metric.Int64Counter

	// CaptureOverflows counts device buffers dropped because the capture
	// queue was full.
	CaptureOverflows metric.Int64Counter

	// Interruptions counts playback flushes triggered by the service.
	Interruptions metric.Int64Counter

	// PlaybackGaps counts buffers scheduled after a gap while audio was
	// still playing.
	PlaybackGaps metric.Int64Counter

	// StateTransitions counts session transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// ActiveSessions tracks live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ScheduleLead records how far ahead of the output clock each buffer
	// was scheduled.
	ScheduleLead metric.Float64Histogram

	// ConnectDuration records the time from dial to the service's open signal.
	ConnectDuration metric.Float64Histogram
}

var leadBuckets = []float64{0, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

var connectBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChunksSent, err = m.Int64Counter("tutor.audio.chunks_sent",
		metric.WithDescription("Outbound audio chunks sent to the speech service."),
	); err != nil {
		return nil, err
	}
	if met.ChunksReceived, err = m.Int64Counter("tutor.audio.chunks_received",
		metric.WithDescription("Inbound audio chunks accepted for playback."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("tutor.audio.chunks_dropped",
		metric.WithDescription("Inbound audio chunks dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.CaptureOverflows, err = m.Int64Counter("tutor.capture.overflows",
		metric.WithDescription("Capture buffers dropped because the queue was full."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("tutor.playback.interruptions",
		metric.WithDescription("Playback flushes requested by the speech service."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackGaps, err = m.Int64Counter("tutor.playback.gaps",
		metric.WithDescription("Buffers scheduled after a gap during playback."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("tutor.session.transitions",
		metric.WithDescription("Session state transitions by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("tutor.session.active",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ScheduleLead, err = m.Float64Histogram("tutor.playback.schedule_lead",
		metric.WithDescription("Distance between the output clock and a buffer's scheduled start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(leadBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("tutor.session.connect_duration",
		metric.WithDescription("Time from dial until the speech service signalled open."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(connectBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Nop returns instruments that record nothing.
func Nop() *Metrics {
	met, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop meter provider failed: " + err.Error())
	}
	return met
}

// RecordDrop counts a dropped inbound chunk.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.ChunksDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTransition counts a session state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordScheduleLead records a buffer's lead over the output clock.
func (m *Metrics) RecordScheduleLead(ctx context.Context, lead time.Duration) {
	m.ScheduleLead.Record(ctx, lead.Seconds())
}
