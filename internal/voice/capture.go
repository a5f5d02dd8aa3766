package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Raikerian/go-live-tutor/internal/observe"
	"github.com/Raikerian/go-live-tutor/pkg/audio"
)

// CaptureOptions configures a CapturePipe.
type CaptureOptions struct {
	Format       audio.Format
	FrameSamples int
	QueueSize    int
	Logger       *zap.Logger
	Metrics      *observe.Metrics
}

// CapturePipe reads the microphone and emits fixed-size PCM16 chunks.
//
// The device callback only copies samples into a bounded queue; framing,
// conversion and delivery happen on one worker goroutine, so onFrame calls
// are sequential and in capture order.
type CapturePipe struct {
	device  CaptureDevice
	format  audio.Format
	frame   int
	logger  *zap.Logger
	metrics *observe.Metrics

	buffers chan []float32

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewCapturePipe creates a stopped pipe over device.
func NewCapturePipe(device CaptureDevice, opts CaptureOptions) *CapturePipe {
	if opts.Format.SampleRate == 0 {
		opts.Format = audio.Input
	}
	if opts.FrameSamples <= 0 {
		opts.FrameSamples = audio.CaptureFrameSamples
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.Nop()
	}

	return &CapturePipe{
		device:  device,
		format:  opts.Format,
		frame:   opts.FrameSamples,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		buffers: make(chan []float32, opts.QueueSize),
	}
}

// Start requests microphone access, opens the device and begins calling
// onFrame with Outbound chunks of exactly FrameSamples samples. If access
// is denied onFrame is never called. ctx bounds the permission request
// only; the pipe runs until Stop.
func (p *CapturePipe) Start(ctx context.Context, onFrame func(audio.Chunk)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.stopped {
		return errors.New("capture pipe already started")
	}

	if err := p.device.RequestPermission(ctx); err != nil {
		// A typed error (e.g. no input device) keeps its kind.
		if KindOf(err) != KindInternal {
			return err
		}
		return fmt.Errorf("%w: request permission: %w", ErrPermissionDenied, err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(workerCtx, onFrame)

	if err := p.device.Open(p.format, p.frame, p.onDeviceData); err != nil {
		cancel()
		p.wg.Wait()
		p.stopped = true
		if errors.Is(err, ErrDeviceUnavailable) || errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("%w: open capture device: %w", ErrDeviceUnavailable, err)
	}

	p.running = true
	p.logger.Info("Capture started",
		zap.Int("sample_rate", p.format.SampleRate),
		zap.Int("frame_samples", p.frame))
	return nil
}

// onDeviceData runs on the device's thread and must not block.
func (p *CapturePipe) onDeviceData(samples []float32) {
	if len(samples) == 0 {
		return
	}
	owned := make([]float32, len(samples))
	copy(owned, samples)

	select {
	case p.buffers <- owned:
	default:
		p.metrics.CaptureOverflows.Add(context.Background(), 1)
		p.logger.Debug("Capture queue full, dropping device buffer",
			zap.Int("samples", len(samples)))
	}
}

func (p *CapturePipe) run(ctx context.Context, onFrame func(audio.Chunk)) {
	defer p.wg.Done()

	pending := make([]float32, 0, p.frame*2)
	for {
		select {
		case <-ctx.Done():
			return
		case buf := <-p.buffers:
			pending = append(pending, buf...)
			for len(pending) >= p.frame {
				chunk, err := audio.NewChunk(audio.FloatToInt16(pending[:p.frame]), audio.Outbound, p.format)
				n := copy(pending, pending[p.frame:])
				pending = pending[:n]
				if err != nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				onFrame(chunk)
			}
		}
	}
}

// Stop releases the device and waits for the worker. It is idempotent and
// may be called from any goroutine except from inside onFrame. No frame is
// delivered after Stop returns.
func (p *CapturePipe) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true

	var err error
	if p.running {
		err = p.device.Close()
		p.running = false
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.logger.Info("Capture stopped")
	return err
}
