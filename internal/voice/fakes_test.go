package voice_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Raikerian/go-live-tutor/internal/config"
	"github.com/Raikerian/go-live-tutor/internal/voice"
	"github.com/Raikerian/go-live-tutor/pkg/audio"
	"github.com/Raikerian/go-live-tutor/pkg/wire"
)

func testVoiceConfig() config.VoiceConfig {
	return config.VoiceConfig{
		Provider:            config.ProviderGemini,
		Host:                config.HostRich,
		GuardOffset:         50 * time.Millisecond,
		Tick:                5 * time.Millisecond,
		CaptureFrameSamples: audio.CaptureFrameSamples,
		CaptureQueueSize:    64,
		PlaybackQueueSize:   64,
		ConnectTimeout:      500 * time.Millisecond,
		DisconnectTimeout:   500 * time.Millisecond,
		DrainTimeout:        500 * time.Millisecond,
		MaxSessionLength:    time.Hour,
		InactivityTimeout:   time.Hour,
		HistorySize:         8,
	}
}

// fakeCapture is an in-memory microphone.
type fakeCapture struct {
	mu         sync.Mutex
	deny       bool
	permErr    error
	permHold   chan struct{} // when set, RequestPermission waits for it or ctx
	openErr    error
	onData     func([]float32)
	format     audio.Format
	opened     bool
	closeCount int
}

func (c *fakeCapture) RequestPermission(ctx context.Context) error {
	if c.permHold != nil {
		select {
		case <-c.permHold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.deny {
		return voice.ErrPermissionDenied
	}
	return c.permErr
}

func (c *fakeCapture) Open(format audio.Format, _ int, onData func([]float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return c.openErr
	}
	c.format = format
	c.onData = onData
	c.opened = true
	return nil
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onData = nil
	c.opened = false
	c.closeCount++
	return nil
}

// Feed delivers samples as the device thread would.
func (c *fakeCapture) Feed(samples []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onData != nil {
		c.onData(samples)
	}
}

func (c *fakeCapture) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

func (c *fakeCapture) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// recordingScheduler remembers every slot the timeline hands out.
type recordingScheduler struct {
	*voice.Timeline

	mu    sync.Mutex
	slots []voice.ScheduledBuffer
}

func (r *recordingScheduler) Enqueue(chunk audio.Chunk) error {
	slot, err := r.Schedule(chunk)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.slots = append(r.slots, slot)
	r.mu.Unlock()
	return nil
}

func (r *recordingScheduler) Slots() []voice.ScheduledBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]voice.ScheduledBuffer(nil), r.slots...)
}

// fakeHost renders the timeline in real time when realtime is set; tests
// that need exact control call Render themselves.
type fakeHost struct {
	capture  *fakeCapture
	realtime bool

	mu        sync.Mutex
	scheduler *recordingScheduler
	started   []voice.ScheduledBuffer
	stop      chan struct{}
	done      chan struct{}
	closed    bool
}

func newFakeHost(realtime bool) *fakeHost {
	return &fakeHost{capture: &fakeCapture{}, realtime: realtime}
}

func (h *fakeHost) Name() string                 { return "fake" }
func (h *fakeHost) Capture() voice.CaptureDevice { return h.capture }

func (h *fakeHost) NewScheduler(opts voice.SchedulerOptions) (voice.PlaybackScheduler, error) {
	next := opts.OnStart
	opts.OnStart = func(b voice.ScheduledBuffer) {
		h.mu.Lock()
		h.started = append(h.started, b)
		h.mu.Unlock()
		if next != nil {
			next(b)
		}
	}

	sched := &recordingScheduler{Timeline: voice.NewTimeline(opts)}
	h.mu.Lock()
	h.scheduler = sched
	h.mu.Unlock()

	if h.realtime {
		h.mu.Lock()
		h.stop = make(chan struct{})
		h.done = make(chan struct{})
		stop, done := h.stop, h.done
		h.mu.Unlock()
		go h.render(sched.Timeline, stop, done)
	}
	return sched, nil
}

func (h *fakeHost) render(tl *voice.Timeline, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	buf := make([]float32, audio.OutputSampleRate/100)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			tl.Render(buf)
		}
	}
}

func (h *fakeHost) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	stop, done := h.stop, h.done
	h.mu.Unlock()

	// The render loop takes h.mu in OnStart, so wait without holding it.
	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func (h *fakeHost) Scheduler() *recordingScheduler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scheduler
}

func (h *fakeHost) Started() []voice.ScheduledBuffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]voice.ScheduledBuffer(nil), h.started...)
}

func (h *fakeHost) IsClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *fakeHost) factory() voice.HostFactory {
	return voice.HostFactoryFunc(func(context.Context) (voice.Host, error) {
		return h, nil
	})
}

// fakeConn records outbound frames.
type fakeConn struct {
	mu         sync.Mutex
	frames     []wire.Frame
	sendErr    error
	onSend     func(n int)
	closeBlock chan struct{}
	closeCount int
}

func (c *fakeConn) SendAudio(ctx context.Context, f wire.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.sendErr != nil {
		c.mu.Unlock()
		return c.sendErr
	}
	c.frames = append(c.frames, f)
	n := len(c.frames)
	hook := c.onSend
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closeCount++
	block := c.closeBlock
	c.mu.Unlock()
	if block != nil {
		<-block
	}
	return nil
}

func (c *fakeConn) Frames() []wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.Frame(nil), c.frames...)
}

func (c *fakeConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// fakeTransport is the remote speech service.
type fakeTransport struct {
	conn    *fakeConn
	dialErr error
	noOpen  bool

	mu        sync.Mutex
	handlers  voice.ServiceHandlers
	handshake voice.Handshake
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conn: &fakeConn{}}
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Dial(ctx context.Context, hs voice.Handshake, h voice.ServiceHandlers) (voice.ServiceConn, error) {
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	t.mu.Lock()
	t.handlers = h
	t.handshake = hs
	t.mu.Unlock()

	if !t.noOpen {
		h.OnOpen(ctx)
	}
	return t.conn, nil
}

func (t *fakeTransport) Handlers() voice.ServiceHandlers {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlers
}

func (t *fakeTransport) EmitAudio(samples []int16) {
	frame := wire.NewAudioFrame(audio.PCMInt16ToLE(samples), audio.OutputSampleRate)
	t.Handlers().OnMessage(context.Background(), voice.ServiceMessage{Audio: &frame})
}

func (t *fakeTransport) EmitRaw(data []byte) {
	frame := wire.Frame{Data: wire.Encode(data), MIMEType: wire.MIMEType(audio.OutputSampleRate)}
	t.Handlers().OnMessage(context.Background(), voice.ServiceMessage{Audio: &frame})
}

func (t *fakeTransport) EmitContainer(data []byte) {
	frame := wire.Frame{Data: wire.Encode(data), MIMEType: wire.ContainerMIMEType}
	t.Handlers().OnMessage(context.Background(), voice.ServiceMessage{Audio: &frame})
}

func (t *fakeTransport) EmitInterrupted() {
	t.Handlers().OnMessage(context.Background(), voice.ServiceMessage{Interrupted: true})
}

func (t *fakeTransport) EmitClose(reason string) {
	t.Handlers().OnClose(context.Background(), reason)
}

func (t *fakeTransport) EmitError(err error) {
	t.Handlers().OnError(context.Background(), err)
}

// fakePlayer plays containers for the Sequential scheduler.
type fakePlayer struct {
	mu       sync.Mutex
	played   [][]byte
	canceled int
	active   int
	maxSeen  int
	hold     chan struct{} // when set, Play waits for it or ctx
	playing  chan struct{}
	duration time.Duration
}

func (p *fakePlayer) Play(ctx context.Context, container []byte) error {
	p.mu.Lock()
	p.active++
	p.maxSeen = max(p.maxSeen, p.active)
	hold, playing := p.hold, p.playing
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	if playing != nil {
		select {
		case playing <- struct{}{}:
		default:
		}
	}

	var wait <-chan time.Time
	if p.duration > 0 {
		wait = time.After(p.duration)
	}
	if hold != nil || wait != nil {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.canceled++
			p.mu.Unlock()
			return ctx.Err()
		case <-hold:
		case <-wait:
		}
	}

	p.mu.Lock()
	p.played = append(p.played, container)
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) Played() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.played...)
}

func mustChunk(t *testing.T, samples []int16, dir audio.Direction, format audio.Format) audio.Chunk {
	t.Helper()
	c, err := audio.NewChunk(samples, dir, format)
	if err != nil {
		t.Fatalf("NewChunk: %v", err)
	}
	return c
}

func constSamples(n int, v int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

var errBoom = errors.New("boom")
