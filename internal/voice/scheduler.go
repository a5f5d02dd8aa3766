package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/go-live-tutor/internal/observe"
	"github.com/Raikerian/go-live-tutor/pkg/audio"
)

// PlaybackScheduler turns bursty inbound chunks into continuous speaker
// output.
type PlaybackScheduler interface {
	// Enqueue appends a chunk behind everything already scheduled. It never
	// blocks on audio output.
	Enqueue(chunk audio.Chunk) error

	// Flush discards every buffer that has not finished and silences the
	// one that is playing. Discarded buffers never start.
	Flush()

	// IsSpeaking reports whether scheduled audio is still ahead of the
	// output clock.
	IsSpeaking() bool

	// Drain waits until all scheduled audio has played or ctx ends.
	Drain(ctx context.Context) error

	// Close releases the scheduler. Further Enqueue calls fail.
	Close() error
}

// ScheduledBuffer is a buffer's slot on the output clock.
type ScheduledBuffer struct {
	ID    uint64
	Start time.Duration
	End   time.Duration
}

// Duration is the buffer's length.
func (b ScheduledBuffer) Duration() time.Duration {
	return b.End - b.Start
}

const (
	defaultTick      = 20 * time.Millisecond
	defaultQueueSize = 256
)

func (o SchedulerOptions) withDefaults() SchedulerOptions {
	if o.Format.SampleRate == 0 {
		o.Format = audio.Output
	}
	if o.Format.Channels == 0 {
		o.Format.Channels = audio.Channels
	}
	if o.Tick <= 0 {
		o.Tick = defaultTick
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = observe.Nop()
	}
	return o
}

type timelineBuffer struct {
	id         uint64
	start, end int64 // frames on the output clock
	samples    []float32
	started    bool
}

// Timeline is the sample-accurate scheduler used when the host renders
// output from a realtime callback. Its clock is the number of frames the
// host has rendered, so scheduling never drifts from what is audible.
type Timeline struct {
	format  audio.Format
	guard   int64
	tick    time.Duration
	limit   int
	onStart func(ScheduledBuffer)
	logger  *zap.Logger
	metrics *observe.Metrics

	mu     sync.Mutex
	now    int64
	next   int64
	queue  []*timelineBuffer
	seq    uint64
	closed bool
}

// NewTimeline creates an empty timeline at clock zero.
func NewTimeline(opts SchedulerOptions) *Timeline {
	opts = opts.withDefaults()
	return &Timeline{
		format:  opts.Format,
		guard:   int64(opts.Format.DurationSamples(opts.GuardOffset)),
		tick:    opts.Tick,
		limit:   opts.QueueSize,
		onStart: opts.OnStart,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Enqueue implements PlaybackScheduler.
func (t *Timeline) Enqueue(chunk audio.Chunk) error {
	_, err := t.Schedule(chunk)
	return err
}

// Schedule places chunk at max(next, now+guard) and advances next by the
// chunk's length.
func (t *Timeline) Schedule(chunk audio.Chunk) (ScheduledBuffer, error) {
	if chunk.Format() != t.format {
		return ScheduledBuffer{}, fmt.Errorf("chunk format %+v does not match output %+v", chunk.Format(), t.format)
	}
	samples := chunk.Floats()
	frames := int64(chunk.Frames())

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ScheduledBuffer{}, ErrSchedulerClosed
	}
	if len(t.queue) >= t.limit {
		t.mu.Unlock()
		return ScheduledBuffer{}, fmt.Errorf("playback queue full (%d buffers)", t.limit)
	}

	start := max(t.next, t.now+t.guard)
	gap := t.next > t.now && start > t.next
	t.seq++
	buf := &timelineBuffer{id: t.seq, start: start, end: start + frames, samples: samples}
	t.queue = append(t.queue, buf)
	t.next = buf.end
	lead := start - t.now
	t.mu.Unlock()

	ctx := context.Background()
	if gap {
		t.metrics.PlaybackGaps.Add(ctx, 1)
	}
	t.metrics.RecordScheduleLead(ctx, t.toDuration(lead))

	sb := t.slot(buf)
	t.logger.Debug("Scheduled playback buffer",
		zap.Uint64("buffer_id", sb.ID),
		zap.Duration("start", sb.Start),
		zap.Duration("end", sb.End))
	return sb, nil
}

// Render fills out with whatever is scheduled for the next len(out) samples
// and advances the clock. It is called from the host's audio callback and
// only holds the lock while copying.
func (t *Timeline) Render(out []float32) {
	clear(out)
	ch := int64(t.format.Channels)
	frames := int64(len(out)) / ch

	var started []ScheduledBuffer

	t.mu.Lock()
	winStart, winEnd := t.now, t.now+frames
	keep := t.queue[:0]
	for _, b := range t.queue {
		if b.start < winEnd && b.end > winStart {
			if !b.started {
				b.started = true
				started = append(started, t.slot(b))
			}
			from, to := max(b.start, winStart), min(b.end, winEnd)
			copy(out[(from-winStart)*ch:(to-winStart)*ch], b.samples[(from-b.start)*ch:(to-b.start)*ch])
		}
		if b.end > winEnd {
			keep = append(keep, b)
		}
	}
	clear(t.queue[len(keep):])
	t.queue = keep
	t.now = winEnd
	t.mu.Unlock()

	if t.onStart != nil {
		for _, sb := range started {
			t.onStart(sb)
		}
	}
}

// Flush implements PlaybackScheduler.
func (t *Timeline) Flush() {
	t.mu.Lock()
	dropped := len(t.queue)
	clear(t.queue)
	t.queue = t.queue[:0]
	t.next = t.now
	t.mu.Unlock()

	t.logger.Debug("Flushed playback timeline", zap.Int("dropped_buffers", dropped))
}

// IsSpeaking implements PlaybackScheduler.
func (t *Timeline) IsSpeaking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next > t.now
}

// Now is the output clock: how much audio has been rendered.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.toDuration(t.now)
}

// NextPlaybackTime is where the next enqueued buffer may start.
func (t *Timeline) NextPlaybackTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.toDuration(t.next)
}

// Pending returns the buffers that have not finished playing.
func (t *Timeline) Pending() []ScheduledBuffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ScheduledBuffer, len(t.queue))
	for i, b := range t.queue {
		out[i] = t.slot(b)
	}
	return out
}

// Drain implements PlaybackScheduler.
func (t *Timeline) Drain(ctx context.Context) error {
	return drain(ctx, t.tick, func() bool {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.closed || t.next <= t.now
	})
}

// Close implements PlaybackScheduler.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	clear(t.queue)
	t.queue = nil
	t.next = t.now
	return nil
}

func (t *Timeline) slot(b *timelineBuffer) ScheduledBuffer {
	return ScheduledBuffer{ID: b.id, Start: t.toDuration(b.start), End: t.toDuration(b.end)}
}

func (t *Timeline) toDuration(frames int64) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(t.format.SampleRate)
}

// drain polls done every tick until it reports true or ctx ends.
func drain(ctx context.Context, tick time.Duration, done func() bool) error {
	if done() {
		return nil
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if done() {
				return nil
			}
		}
	}
}
