package voice

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/go-live-tutor/internal/observe"
	"github.com/Raikerian/go-live-tutor/pkg/audio"
)

// CaptureDevice is a microphone supplied by a Host.
type CaptureDevice interface {
	// RequestPermission must succeed before Open. Denial is reported as
	// ErrPermissionDenied.
	RequestPermission(ctx context.Context) error

	// Open starts delivering normalized samples to onData from the device's
	// own goroutine. onData must not block.
	Open(format audio.Format, framesPerBuffer int, onData func(samples []float32)) error

	// Close stops the device. No onData call is in flight once it returns.
	Close() error
}

// SchedulerOptions configures a PlaybackScheduler built by a Host.
type SchedulerOptions struct {
	Format      audio.Format
	GuardOffset time.Duration
	Tick        time.Duration
	QueueSize   int
	OnStart     func(ScheduledBuffer)
	Logger      *zap.Logger
	Metrics     *observe.Metrics
}

// Host owns the audio devices for one session. It is created on connect
// and closed when the session ends.
type Host interface {
	Name() string
	Capture() CaptureDevice
	NewScheduler(opts SchedulerOptions) (PlaybackScheduler, error)
	Close() error
}

// HostFactory builds a Host per session.
type HostFactory interface {
	NewHost(ctx context.Context) (Host, error)
}

// HostFactoryFunc adapts a function to HostFactory.
type HostFactoryFunc func(ctx context.Context) (Host, error)

func (f HostFactoryFunc) NewHost(ctx context.Context) (Host, error) {
	return f(ctx)
}
