package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Raikerian/go-live-tutor/internal/config"
	"github.com/Raikerian/go-live-tutor/internal/observe"
	"github.com/Raikerian/go-live-tutor/pkg/audio"
	"github.com/Raikerian/go-live-tutor/pkg/wire"
)

// voiceActivityThreshold is the peak level above which an outbound chunk
// counts as the user speaking (about -36 dBFS).
const voiceActivityThreshold = 512

// SessionOptions configures a Session.
type SessionOptions struct {
	ID        string
	Config    config.VoiceConfig
	Transport Transport
	Hosts     HostFactory
	Logger    *zap.Logger
	Metrics   *observe.Metrics

	// Notification callbacks run synchronously on the goroutine that caused
	// the event and must not block.
	OnStateChange     func(from, to State)
	OnSpeakingChanged func(speaking bool)
	OnTranscript      func(role, text string)
	OnEnd             func(summary SessionSummary)
}

// Session is one live voice conversation: microphone to speech service to
// speaker. All state transitions happen under one mutex; the playback
// scheduler guards its own queue.
type Session struct {
	id        string
	cfg       config.VoiceConfig
	transport Transport
	hosts     HostFactory
	logger    *zap.Logger
	metrics   *observe.Metrics

	onStateChange     func(from, to State)
	onSpeakingChanged func(bool)
	onTranscript      func(role, text string)
	onEnd             func(SessionSummary)

	// ctx lives until teardown and bounds every send and background loop.
	ctx    context.Context
	cancel context.CancelFunc

	opened   chan struct{}
	openOnce sync.Once

	mu           sync.Mutex
	state        State
	pending      []func()
	host         Host
	scheduler    PlaybackScheduler
	capture      *CapturePipe
	conn         ServiceConn
	err          error
	startTime    time.Time
	lastActivity time.Time

	sent          atomic.Int64
	received      atomic.Int64
	dropped       atomic.Int64
	interruptions atomic.Int64
	counted       atomic.Bool

	teardownOnce sync.Once
	teardownErr  error
	endOnce      sync.Once
}

// NewSession creates an Idle session.
func NewSession(opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		id:                opts.ID,
		cfg:               opts.Config,
		transport:         opts.Transport,
		hosts:             opts.Hosts,
		logger:            opts.Logger.With(zap.String("session_id", opts.ID)),
		metrics:           opts.Metrics,
		onStateChange:     opts.OnStateChange,
		onSpeakingChanged: opts.OnSpeakingChanged,
		onTranscript:      opts.OnTranscript,
		onEnd:             opts.OnEnd,
		ctx:               ctx,
		cancel:            cancel,
		opened:            make(chan struct{}),
		state:             StateIdle,
	}
}

func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsSpeaking reports whether synthesized speech is playing.
func (s *Session) IsSpeaking() bool {
	return s.State() == StateSpeaking
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	start, last := s.startTime, s.lastActivity
	s.mu.Unlock()

	return SessionStats{
		ChunksSent:     s.sent.Load(),
		ChunksReceived: s.received.Load(),
		ChunksDropped:  s.dropped.Load(),
		Interruptions:  s.interruptions.Load(),
		StartTime:      start,
		LastActivity:   last,
	}
}

// Connect opens the host devices and the service stream, waits for the
// service to signal open and starts capture. It returns once the session
// is Listening or has Failed, and never waits longer than the configured
// connect timeout.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if err := s.transitionLocked(StateConnecting); err != nil {
		s.mu.Unlock()
		return err
	}
	s.startTime = time.Now()
	s.lastActivity = s.startTime
	s.unlock()

	s.counted.Store(true)
	s.metrics.ActiveSessions.Add(ctx, 1)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		s.mu.Lock()
		state, failure := s.state, s.err
		s.mu.Unlock()

		switch {
		case state == StateFailed && failure != nil:
			return failure
		case state == StateClosing || state == StateClosed:
			return ErrSessionClosed
		case errors.Is(err, ErrSessionClosed):
			return err
		default:
			return s.fail(err)
		}
	}
	return nil
}

func (s *Session) connect(ctx context.Context) error {
	host, err := s.hosts.NewHost(ctx)
	if err != nil {
		return err
	}

	sched, err := host.NewScheduler(SchedulerOptions{
		Format:      audio.Output,
		GuardOffset: s.cfg.GuardOffset,
		Tick:        s.cfg.Tick,
		QueueSize:   s.cfg.PlaybackQueueSize,
		OnStart:     s.onBufferStart,
		Logger:      s.logger,
		Metrics:     s.metrics,
	})
	if err != nil {
		_ = host.Close()
		return err
	}

	capture := NewCapturePipe(host.Capture(), CaptureOptions{
		Format:       audio.Input,
		FrameSamples: s.cfg.CaptureFrameSamples,
		QueueSize:    s.cfg.CaptureQueueSize,
		Logger:       s.logger,
		Metrics:      s.metrics,
	})

	if !s.adopt(func() {
		s.host = host
		s.scheduler = sched
		s.capture = capture
	}) {
		_ = sched.Close()
		_ = host.Close()
		return ErrSessionClosed
	}

	s.logger.Info("Connecting to speech service",
		zap.String("transport", s.transport.Name()),
		zap.String("host", host.Name()))

	dialStart := time.Now()
	conn, err := s.transport.Dial(ctx, DefaultHandshake(), s.handlers())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrTransport, s.transport.Name(), err)
	}
	if !s.adopt(func() { s.conn = conn }) {
		_ = conn.Close()
		return ErrSessionClosed
	}

	select {
	case <-s.opened:
	case <-ctx.Done():
		return ErrConnectTimeout
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
	s.metrics.ConnectDuration.Record(ctx, time.Since(dialStart).Seconds())

	s.mu.Lock()
	if err := s.transitionLocked(StateOpen); err != nil {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.unlock()

	if err := capture.Start(ctx, s.sendFrame); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.state.live() {
		// Failed or closed while capture was starting.
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == StateOpen {
		_ = s.transitionLocked(StateListening)
	}
	s.unlock()

	go s.monitor()

	s.logger.Info("Voice session connected",
		zap.Duration("connect_time", time.Since(dialStart)))
	return nil
}

// adopt runs fn under the lock if the session is still connecting.
func (s *Session) adopt(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return false
	}
	fn()
	return true
}

func (s *Session) handlers() ServiceHandlers {
	return ServiceHandlers{
		OnOpen: func(context.Context) {
			s.openOnce.Do(func() { close(s.opened) })
		},
		OnMessage: s.handleMessage,
		OnClose: func(_ context.Context, reason string) {
			go s.closeRemote(reason)
		},
		OnError: func(_ context.Context, err error) {
			go s.fail(fmt.Errorf("%w: %w", ErrTransport, err))
		},
	}
}

// sendFrame runs on the capture worker, so at most one outbound chunk is
// in flight.
func (s *Session) sendFrame(chunk audio.Chunk) {
	s.mu.Lock()
	state, conn := s.state, s.conn
	s.mu.Unlock()
	if !state.live() || conn == nil {
		return
	}

	if err := conn.SendAudio(s.ctx, wire.EncodeChunk(chunk)); err != nil {
		if s.ctx.Err() != nil || s.State() == StateClosing {
			return
		}
		// fail stops capture, which waits for this goroutine.
		go s.fail(fmt.Errorf("%w: send audio: %w", ErrTransport, err))
		return
	}

	s.sent.Add(1)
	s.metrics.ChunksSent.Add(s.ctx, 1)
	if chunk.Peak() >= voiceActivityThreshold {
		s.touch()
	}
}

func (s *Session) handleMessage(_ context.Context, msg ServiceMessage) {
	if msg.Transcript != "" && s.onTranscript != nil {
		s.onTranscript(msg.Role, msg.Transcript)
	}
	if msg.Interrupted {
		s.interrupt()
	}
	if msg.Audio != nil {
		s.playInbound(*msg.Audio)
	}
	if msg.TurnComplete {
		s.logger.Debug("Model turn complete")
	}
}

func (s *Session) playInbound(frame wire.Frame) {
	s.mu.Lock()
	state, sched := s.state, s.scheduler
	s.mu.Unlock()
	if !state.live() || sched == nil {
		s.drop("not_live", nil)
		return
	}

	data, err := frame.Bytes()
	if err != nil {
		s.drop("decode", err)
		return
	}

	rate := audio.OutputSampleRate
	if r, ok := frame.SampleRate(); ok {
		rate = r
	}

	if !frame.IsPCM() {
		info, payload, err := audio.UnwrapContainer(data)
		if err != nil {
			s.drop("malformed_container", fmt.Errorf("%w: %w", ErrMalformedContainer, err))
			return
		}
		if info.Format.Channels != audio.Channels {
			s.drop("unsupported_format", fmt.Errorf("container has %d channels", info.Format.Channels))
			return
		}
		data, rate = payload, info.Format.SampleRate
	}

	samples, err := audio.LEToPCMInt16(data)
	if err != nil {
		s.drop("decode", err)
		return
	}
	if len(samples) == 0 {
		return
	}
	samples = audio.Resample(samples, rate, audio.OutputSampleRate)

	chunk, err := audio.NewChunk(samples, audio.Inbound, audio.Output)
	if err != nil {
		s.drop("decode", err)
		return
	}
	if err := sched.Enqueue(chunk); err != nil {
		s.drop("enqueue", err)
		return
	}

	s.received.Add(1)
	s.metrics.ChunksReceived.Add(s.ctx, 1)
	s.touch()

	s.mu.Lock()
	if s.state == StateOpen || s.state == StateListening {
		_ = s.transitionLocked(StateSpeaking)
	}
	s.unlock()
}

// drop discards one inbound chunk; the session carries on.
func (s *Session) drop(reason string, err error) {
	s.dropped.Add(1)
	s.metrics.RecordDrop(s.ctx, reason)
	if err != nil {
		s.logger.Warn("Dropped inbound audio chunk",
			zap.String("reason", reason),
			zap.Error(err))
	}
}

func (s *Session) interrupt() {
	s.mu.Lock()
	state, sched := s.state, s.scheduler
	s.mu.Unlock()
	if !state.live() || sched == nil {
		return
	}

	sched.Flush()
	s.interruptions.Add(1)
	s.metrics.Interruptions.Add(s.ctx, 1)
	s.logger.Info("Playback interrupted by user speech")

	s.mu.Lock()
	if s.state == StateSpeaking {
		_ = s.transitionLocked(StateListening)
	}
	s.unlock()
}

// monitor returns to Listening once scheduled audio has played out.
func (s *Session) monitor() {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.state == StateSpeaking && s.scheduler != nil && !s.scheduler.IsSpeaking() {
				_ = s.transitionLocked(StateListening)
			}
			s.unlock()
		}
	}
}

func (s *Session) onBufferStart(b ScheduledBuffer) {
	s.logger.Debug("Playback buffer started",
		zap.Uint64("buffer_id", b.ID),
		zap.Duration("start", b.Start),
		zap.Duration("duration", b.Duration()))
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// closeRemote handles the service ending the stream: stop capture, let
// queued speech finish, then release everything.
func (s *Session) closeRemote(reason string) {
	s.mu.Lock()
	if s.state.Terminal() || s.state == StateClosing {
		s.mu.Unlock()
		return
	}
	_ = s.transitionLocked(StateClosing)
	capture, sched := s.capture, s.scheduler
	s.unlock()

	s.logger.Info("Speech service closed the session", zap.String("reason", reason))

	if capture != nil {
		_ = capture.Stop()
	}
	if sched != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
		if err := sched.Drain(ctx); err != nil {
			s.logger.Warn("Playback did not drain before close", zap.Error(err))
		}
		cancel()
	}

	if err := s.teardown(); err != nil {
		s.logger.Warn("Error releasing session resources", zap.Error(err))
	}

	s.mu.Lock()
	_ = s.transitionLocked(StateClosed)
	s.unlock()
	s.finish(StateClosed, "remote closed: "+reason, nil)
}

// fail moves the session to Failed, releases everything and notifies the
// owner once. It returns the error the session failed with.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	if s.state.Terminal() {
		failure := s.err
		s.mu.Unlock()
		if failure != nil {
			return failure
		}
		return ErrSessionClosed
	}
	s.err = err
	_ = s.transitionLocked(StateFailed)
	s.unlock()

	s.logger.Error("Voice session failed",
		zap.String("kind", KindOf(err).String()),
		zap.Error(err))

	if terr := s.teardown(); terr != nil {
		s.logger.Warn("Error releasing session resources", zap.Error(terr))
	}
	s.finish(StateFailed, "error", err)
	return err
}

// Disconnect ends the session from any state. It stops capture, silences
// playback and closes the service stream and devices, and reaches Closed
// within the configured disconnect timeout even if teardown stalls.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.disconnect(ctx, "disconnected")
}

func (s *Session) disconnect(ctx context.Context, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DisconnectTimeout)
	defer cancel()

	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil
	case StateIdle, StateFailed:
		_ = s.transitionLocked(StateClosed)
		s.unlock()
		s.cancel()
		s.finish(StateClosed, reason, nil)
		return nil
	case StateClosing:
	default:
		_ = s.transitionLocked(StateClosing)
	}
	s.unlock()

	done := make(chan error, 1)
	go func() { done <- s.teardown() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("teardown did not finish: %w", ctx.Err())
		s.logger.Warn("Teardown exceeded disconnect timeout, forcing close")
	}

	s.mu.Lock()
	_ = s.transitionLocked(StateClosed)
	s.unlock()
	s.finish(StateClosed, reason, nil)

	return err
}

// teardown releases capture, playback, the service stream and the host
// exactly once. Capture stops first so nothing is sent on a closing stream.
func (s *Session) teardown() error {
	s.teardownOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		capture, sched, conn, host := s.capture, s.scheduler, s.conn, s.host
		s.mu.Unlock()

		var errs []error
		if capture != nil {
			if err := capture.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop capture: %w", err))
			}
		}

		var g errgroup.Group
		if sched != nil {
			g.Go(sched.Close)
		}
		if conn != nil {
			g.Go(conn.Close)
		}
		if err := g.Wait(); err != nil {
			errs = append(errs, err)
		}

		if host != nil {
			if err := host.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close host: %w", err))
			}
		}

		if s.counted.Load() {
			s.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		s.teardownErr = errors.Join(errs...)
		s.logger.Debug("Session resources released")
	})
	return s.teardownErr
}

func (s *Session) finish(final State, reason string, err error) {
	s.endOnce.Do(func() {
		stats := s.Stats()
		summary := SessionSummary{
			SessionID:  s.id,
			StartTime:  stats.StartTime,
			EndTime:    time.Now(),
			FinalState: final,
			EndReason:  reason,
			Err:        err,
			Stats:      stats,
		}
		if summary.StartTime.IsZero() {
			summary.StartTime = summary.EndTime
		}

		s.logger.Info("Voice session ended",
			zap.String("reason", reason),
			zap.Stringer("state", final),
			zap.Duration("duration", summary.Duration()),
			zap.Int64("chunks_sent", stats.ChunksSent),
			zap.Int64("chunks_received", stats.ChunksReceived))

		if s.onEnd != nil {
			s.onEnd(summary)
		}
	})
}

// transitionLocked moves to `to` if the table allows it. Callers hold s.mu
// and release it with unlock so queued notifications run outside the lock.
func (s *Session) transitionLocked(to State) error {
	from := s.state
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.state = to

	s.pending = append(s.pending, func() {
		s.metrics.RecordTransition(context.Background(), from.String(), to.String())
		s.logger.Debug("Session state changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		if s.onStateChange != nil {
			s.onStateChange(from, to)
		}
		if (from == StateSpeaking) != (to == StateSpeaking) && s.onSpeakingChanged != nil {
			s.onSpeakingChanged(to == StateSpeaking)
		}
	})
	return nil
}

// unlock releases s.mu and runs queued notifications.
func (s *Session) unlock() {
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}
