package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/Raikerian/go-live-tutor/internal/config"
	"github.com/Raikerian/go-live-tutor/internal/voice"
	"github.com/Raikerian/go-live-tutor/pkg/audio"
)

const otoBufferSize = 100 * time.Millisecond

// oto allows a single context per process, fixed at its first format.
var (
	otoOnce   sync.Once
	otoCtx    *oto.Context
	otoFormat audio.Format
	otoErr    error
)

func sharedOtoContext(format audio.Format) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   otoBufferSize,
		})
		if err != nil {
			otoErr = deviceError("init output context", err)
			return
		}
		<-ready
		otoCtx, otoFormat = ctx, format
	})
	if otoErr != nil {
		return nil, otoErr
	}
	return otoCtx, nil
}

// Constrained is the host for platforms without a realtime output
// callback. Capture uses a blocking PortAudio stream; playback hands whole
// containers to oto one at a time through a voice.Sequential scheduler.
//
// All Constrained hosts in a process share one oto context, because oto
// permits only one and fixes its format on first use. The first host's
// output format wins; a later host asking for another sample rate plays
// through resampling in otoPlayer.
type Constrained struct {
	logger  *zap.Logger
	capture *portaudioCapture

	mu     sync.Mutex
	closed bool
}

// NewConstrained initializes PortAudio.
func NewConstrained(logger *zap.Logger) (*Constrained, error) {
	logger = logger.Named("portaudio")
	if err := portaudio.Initialize(); err != nil {
		return nil, deviceError("initialize portaudio", err)
	}

	return &Constrained{
		logger:  logger,
		capture: &portaudioCapture{logger: logger},
	}, nil
}

func (h *Constrained) Name() string { return config.HostConstrained }

func (h *Constrained) Capture() voice.CaptureDevice { return h.capture }

// NewScheduler returns a sequential scheduler over the shared oto context.
func (h *Constrained) NewScheduler(opts voice.SchedulerOptions) (voice.PlaybackScheduler, error) {
	if opts.Format.SampleRate == 0 {
		opts.Format = audio.Output
	}
	ctx, err := sharedOtoContext(opts.Format)
	if err != nil {
		return nil, err
	}
	poll := opts.Tick
	if poll <= 0 {
		poll = 20 * time.Millisecond
	}

	player := &otoPlayer{ctx: ctx, format: otoFormat, poll: poll}
	return voice.NewSequential(player, opts), nil
}

func (h *Constrained) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	err := h.capture.Close()
	if terr := portaudio.Terminate(); terr != nil && err == nil {
		err = fmt.Errorf("terminate portaudio: %w", terr)
	}
	h.logger.Debug("Audio host closed")
	return err
}

// otoPlayer plays one container to completion on a fresh oto player.
type otoPlayer struct {
	ctx    *oto.Context
	format audio.Format
	poll   time.Duration
}

func (p *otoPlayer) Play(ctx context.Context, container []byte) error {
	payload, err := fitContainer(container, p.format)
	if err != nil {
		return err
	}

	player := p.ctx.NewPlayer(bytes.NewReader(payload))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return player.Err()
}

// fitContainer unwraps a container into little-endian PCM at the output
// format, resampling when the shared context runs at another rate.
func fitContainer(container []byte, out audio.Format) ([]byte, error) {
	info, payload, err := audio.UnwrapContainer(container)
	if err != nil {
		return nil, err
	}
	if info.Format.Channels != out.Channels {
		return nil, fmt.Errorf("container has %d channels, output has %d", info.Format.Channels, out.Channels)
	}
	if info.Format.SampleRate == out.SampleRate {
		return payload, nil
	}
	samples, err := audio.LEToPCMInt16(payload)
	if err != nil {
		return nil, err
	}
	return audio.PCMInt16ToLE(audio.Resample(samples, info.Format.SampleRate, out.SampleRate)), nil
}

// portaudioCapture reads the default input device with a blocking stream.
type portaudioCapture struct {
	logger *zap.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	stop   chan struct{}
	done   chan struct{}
}

// RequestPermission checks that a default input device exists.
func (c *portaudioCapture) RequestPermission(context.Context) error {
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return deviceError("find default input device", err)
	}
	return nil
}

func (c *portaudioCapture) Open(format audio.Format, framesPerBuffer int, onData func([]float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return errors.New("capture stream already open")
	}

	buf := make([]float32, framesPerBuffer*format.Channels)
	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), framesPerBuffer, buf)
	if err != nil {
		return deviceError("open input stream", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return deviceError("start input stream", err)
	}

	c.stream = stream
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.read(stream, buf, onData, c.stop, c.done)

	c.logger.Info("Capture stream started",
		zap.Int("sample_rate", format.SampleRate),
		zap.Int("frames_per_buffer", framesPerBuffer))
	return nil
}

func (c *portaudioCapture) read(stream *portaudio.Stream, buf []float32, onData func([]float32), stop, done chan struct{}) {
	defer close(done)

	for {
		err := stream.Read()
		select {
		case <-stop:
			return
		default:
		}

		switch {
		case errors.Is(err, portaudio.InputOverflowed):
			c.logger.Debug("Input overflowed, samples were lost")
		case err != nil:
			c.logger.Warn("Capture stream read failed", zap.Error(err))
			return
		}
		onData(buf)
	}
}

func (c *portaudioCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}

	close(c.stop)
	// Abort unblocks a pending Read.
	err := c.stream.Abort()
	<-c.done
	if cerr := c.stream.Close(); cerr != nil && err == nil {
		err = cerr
	}
	c.stream = nil
	if err != nil {
		return fmt.Errorf("close input stream: %w", err)
	}
	return nil
}
