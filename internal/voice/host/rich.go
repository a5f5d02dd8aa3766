package host

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/Raikerian/go-live-tutor/internal/config"
	"github.com/Raikerian/go-live-tutor/internal/voice"
	"github.com/Raikerian/go-live-tutor/pkg/audio"
)

// Rich is the capability-rich host. Output is pulled by the device's
// realtime callback, which renders a voice.Timeline, so playback is
// scheduled against the actual hardware clock.
type Rich struct {
	logger  *zap.Logger
	ctx     *malgo.AllocatedContext
	capture *malgoCapture

	mu       sync.Mutex
	playback *malgo.Device
	closed   bool
}

// NewRich initializes the platform audio context.
func NewRich(logger *zap.Logger) (*Rich, error) {
	logger = logger.Named("malgo")
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", zap.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return nil, deviceError("init audio context", err)
	}

	return &Rich{
		logger:  logger,
		ctx:     ctx,
		capture: &malgoCapture{ctx: ctx, logger: logger},
	}, nil
}

func (h *Rich) Name() string { return config.HostRich }

func (h *Rich) Capture() voice.CaptureDevice { return h.capture }

// NewScheduler opens the playback device and returns the timeline it
// renders from.
func (h *Rich) NewScheduler(opts voice.SchedulerOptions) (voice.PlaybackScheduler, error) {
	if opts.Format.SampleRate == 0 {
		opts.Format = audio.Output
	}
	timeline := voice.NewTimeline(opts)

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(opts.Format.Channels)
	cfg.SampleRate = uint32(opts.Format.SampleRate)

	channels := opts.Format.Channels
	var scratch []float32
	onSamples := func(out, _ []byte, frames uint32) {
		n := int(frames) * channels
		if cap(scratch) < n {
			scratch = make([]float32, n)
		}
		timeline.Render(scratch[:n])
		encodeF32LE(out, scratch[:n])
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, voice.ErrSchedulerClosed
	}
	if h.playback != nil {
		return nil, errors.New("playback device already open")
	}

	device, err := malgo.InitDevice(h.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		return nil, deviceError("init playback device", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, deviceError("start playback device", err)
	}
	h.playback = device

	h.logger.Info("Playback device started",
		zap.Int("sample_rate", opts.Format.SampleRate),
		zap.Int("channels", channels))
	return timeline, nil
}

// Close stops both devices and releases the context.
func (h *Rich) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	var firstErr error
	if h.playback != nil {
		if err := h.playback.Stop(); err != nil {
			firstErr = fmt.Errorf("stop playback device: %w", err)
		}
		h.playback.Uninit()
		h.playback = nil
	}
	if err := h.capture.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := h.ctx.Uninit(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("uninit audio context: %w", err)
	}
	h.ctx.Free()

	h.logger.Debug("Audio host closed")
	return firstErr
}

// malgoCapture records float32 samples from the default input device.
type malgoCapture struct {
	ctx    *malgo.AllocatedContext
	logger *zap.Logger

	mu     sync.Mutex
	device *malgo.Device
}

// RequestPermission checks that an input device exists. The operating
// system prompts for access when the device first starts, and a refusal
// there surfaces from Open.
func (c *malgoCapture) RequestPermission(context.Context) error {
	devices, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return deviceError("enumerate capture devices", err)
	}
	if len(devices) == 0 {
		return fmt.Errorf("%w: no capture device found", voice.ErrDeviceUnavailable)
	}
	return nil
}

func (c *malgoCapture) Open(format audio.Format, framesPerBuffer int, onData func([]float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device != nil {
		return errors.New("capture device already open")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.PeriodSizeInFrames = uint32(framesPerBuffer)
	cfg.Alsa.NoMMap = 1

	channels := format.Channels
	var scratch []float32
	onSamples := func(_, in []byte, frames uint32) {
		n := min(int(frames)*channels*float32Size, len(in))
		scratch = decodeF32LE(scratch[:0], in[:n])
		onData(scratch)
	}

	device, err := malgo.InitDevice(c.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		return deviceError("init capture device", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return deviceError("start capture device", err)
	}
	c.device = device

	c.logger.Info("Capture device started",
		zap.Int("sample_rate", format.SampleRate),
		zap.Int("frames_per_buffer", framesPerBuffer))
	return nil
}

func (c *malgoCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return nil
	}

	err := c.device.Stop()
	c.device.Uninit()
	c.device = nil
	if err != nil {
		return fmt.Errorf("stop capture device: %w", err)
	}
	return nil
}
