package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Raikerian/go-live-tutor/internal/config"
	"github.com/Raikerian/go-live-tutor/internal/observe"
)

const (
	maxWatchdogInterval = 30 * time.Second
	endedBuffer         = 4
)

// Service owns the tutor's voice session. One call runs at a time; ended
// sessions are kept in a bounded history.
type Service struct {
	logger    *zap.Logger
	cfg       *config.VoiceConfig
	transport Transport
	hosts     HostFactory
	metrics   *observe.Metrics

	history *lru.Cache[string, SessionSummary]

	mu     sync.RWMutex
	active *Session
	ended  chan SessionSummary

	// watchdogCancel for stopping the watchdog goroutine
	watchdogCancel context.CancelFunc
	watchdogDone   chan struct{}
}

func NewService(
	logger *zap.Logger,
	cfg *config.Config,
	transport Transport,
	hosts HostFactory,
	metrics *observe.Metrics,
) (*Service, error) {
	history, err := lru.New[string, SessionSummary](max(cfg.Voice.HistorySize, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to create session history: %w", err)
	}

	s := &Service{
		logger:       logger,
		cfg:          &cfg.Voice,
		transport:    transport,
		hosts:        hosts,
		metrics:      metrics,
		history:      history,
		ended:        make(chan SessionSummary, endedBuffer),
		watchdogDone: make(chan struct{}),
	}

	// Start watchdog
	ctx, cancel := context.WithCancel(context.Background())
	s.watchdogCancel = cancel
	go s.runWatchdog(ctx)

	return s, nil
}

// Start opens a new session and blocks until it is listening or has failed.
func (s *Service) Start(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return nil, ErrSessionAlreadyExists
	}

	session := NewSession(SessionOptions{
		ID:        uuid.NewString(),
		Config:    *s.cfg,
		Transport: s.transport,
		Hosts:     s.hosts,
		Logger:    s.logger,
		Metrics:   s.metrics,
		OnSpeakingChanged: func(speaking bool) {
			s.logger.Debug("Tutor speaking changed", zap.Bool("speaking", speaking))
		},
		OnTranscript: func(role, text string) {
			s.logger.Info("Transcript",
				zap.String("role", role),
				zap.String("text", text))
		},
		OnEnd: s.recordEnd,
	})
	s.active = session
	s.mu.Unlock()

	if err := session.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to start voice session: %w", err)
	}

	s.logger.Info("Voice session started",
		zap.String("session_id", session.ID()),
		zap.String("provider", s.cfg.Provider),
		zap.String("host", s.cfg.Host))

	return session, nil
}

// Stop disconnects the active session.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.RLock()
	session := s.active
	s.mu.RUnlock()

	if session == nil {
		return ErrSessionNotFound
	}

	return s.endSession(ctx, session, "stopped by user")
}

// Active returns the live session, if any.
func (s *Service) Active() (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.active != nil
}

// Status describes the active session.
func (s *Service) Status() SessionStatus {
	s.mu.RLock()
	session := s.active
	s.mu.RUnlock()

	status := SessionStatus{
		Provider: s.cfg.Provider,
		Host:     s.cfg.Host,
	}
	if session == nil {
		return status
	}

	status.Active = true
	status.SessionID = session.ID()
	status.State = session.State()
	status.Speaking = status.State == StateSpeaking
	status.Stats = session.Stats()
	return status
}

// History returns summaries of ended sessions, oldest first.
func (s *Service) History() []SessionSummary {
	keys := s.history.Keys()
	out := make([]SessionSummary, 0, len(keys))
	for _, k := range keys {
		if summary, ok := s.history.Peek(k); ok {
			out = append(out, summary)
		}
	}
	return out
}

// Summary looks up an ended session.
func (s *Service) Summary(sessionID string) (SessionSummary, error) {
	summary, ok := s.history.Get(sessionID)
	if !ok {
		return SessionSummary{}, ErrSessionNotFound
	}
	return summary, nil
}

func (s *Service) recordEnd(summary SessionSummary) {
	s.mu.Lock()
	if s.active != nil && s.active.ID() == summary.SessionID {
		s.active = nil
	}
	s.mu.Unlock()

	s.history.Add(summary.SessionID, summary)

	select {
	case s.ended <- summary:
	default:
		s.logger.Debug("No reader for ended session", zap.String("session_id", summary.SessionID))
	}
}

// Ended delivers summaries of sessions as they end. A reader that falls
// behind misses summaries; History keeps them.
func (s *Service) Ended() <-chan SessionSummary {
	return s.ended
}

func (s *Service) endSession(ctx context.Context, session *Session, reason string) error {
	s.logger.Info("Ending voice session",
		zap.String("session_id", session.ID()),
		zap.String("reason", reason))

	return session.disconnect(ctx, reason)
}

func (s *Service) watchdogInterval() time.Duration {
	interval := min(maxWatchdogInterval, s.cfg.InactivityTimeout/4, s.cfg.MaxSessionLength/4)
	return max(interval, 10*time.Millisecond)
}

func (s *Service) runWatchdog(ctx context.Context) {
	defer close(s.watchdogDone)

	ticker := time.NewTicker(s.watchdogInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkLimits(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) checkLimits(ctx context.Context) {
	s.mu.RLock()
	session := s.active
	s.mu.RUnlock()
	if session == nil || !session.State().live() {
		return
	}

	stats := session.Stats()

	// Check inactivity timeout
	if time.Since(stats.LastActivity) > s.cfg.InactivityTimeout {
		if err := s.endSession(ctx, session, "inactivity timeout"); err != nil {
			s.logger.Warn("Failed to end inactive session", zap.Error(err))
		}
		return
	}

	// Check session duration
	if time.Since(stats.StartTime) > s.cfg.MaxSessionLength {
		if err := s.endSession(ctx, session, "maximum session length reached"); err != nil {
			s.logger.Warn("Failed to end expired session", zap.Error(err))
		}
	}
}

// Shutdown stops the watchdog and ends any live session.
func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down voice service")

	if s.watchdogCancel != nil {
		s.watchdogCancel()
		<-s.watchdogDone
	}

	if err := s.Stop(ctx); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return nil
}
