// Package gemini connects a voice session to the Gemini Live API.
//
// The BidiGenerateContent protocol runs over one WebSocket: the client sends
// a setup message, waits for setupComplete, then streams realtimeInput media
// chunks while the server streams serverContent back.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/Raikerian/go-live-tutor/internal/config"
	"github.com/Raikerian/go-live-tutor/internal/voice"
	"github.com/Raikerian/go-live-tutor/pkg/util"
	"github.com/Raikerian/go-live-tutor/pkg/wire"
)

var _ voice.Transport = (*Transport)(nil)

const (
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	endpointPath   = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	keepaliveTimeout = 5 * time.Second

	// Model turns carry up to a few seconds of base64 audio.
	readLimit = 16 << 20
)

// Transport dials Gemini Live.
type Transport struct {
	apiKey      string
	model       string
	voiceName   string
	baseURL     string
	instruction string
	keepalive   time.Duration
	logger      *zap.Logger
}

// New creates a Transport from the gemini config section.
func New(cfg config.GeminiConfig, logger *zap.Logger) *Transport {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Transport{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		voiceName:   cfg.Voice,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		instruction: cfg.SystemInstruction,
		keepalive:   cfg.KeepaliveInterval,
		logger:      logger.Named("gemini"),
	}
}

func (t *Transport) Name() string { return config.ProviderGemini }

// Dial opens the stream and sends setup. OnOpen fires when the server
// acknowledges the setup.
func (t *Transport) Dial(ctx context.Context, hs voice.Handshake, h voice.ServiceHandlers) (voice.ServiceConn, error) {
	endpoint := t.baseURL + endpointPath + "?key=" + url.QueryEscape(t.apiKey)

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &stream{
		conn:     conn,
		handlers: h,
		logger:   t.logger,
		ctx:      streamCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if t.keepalive > 0 {
		s.idle = util.NewIdleTimer(t.keepalive)
	}

	if err := s.writeJSON(ctx, t.setup(hs)); err != nil {
		cancel()
		if s.idle != nil {
			s.idle.Stop()
		}
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go s.receiveLoop()
	if s.idle != nil {
		go s.keepaliveLoop()
	}

	t.logger.Info("Gemini Live stream opened", zap.String("model", t.model))
	return s, nil
}

func (t *Transport) setup(hs voice.Handshake) setupMessage {
	model := t.model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	msg := setupMessage{
		Setup: setupConfig{
			Model: model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{strings.ToUpper(hs.Modality)},
			},
			InputAudioTranscription:  &struct{}{},
			OutputAudioTranscription: &struct{}{},
		},
	}
	if t.voiceName != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: t.voiceName},
			},
		}
	}
	if t.instruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: t.instruction}}}
	}
	return msg
}

// Outgoing messages.

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *wire.Frame `json:"inlineData,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []wire.Frame `json:"mediaChunks"`
}

// Incoming messages.

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *goAway          `json:"goAway,omitempty"`
	Error         *serviceError    `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

type serviceError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// stream is one open Gemini Live connection.
type stream struct {
	conn     *websocket.Conn
	handlers voice.ServiceHandlers
	logger   *zap.Logger
	idle     *util.IdleTimer

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// SendAudio implements voice.ServiceConn.
func (s *stream) SendAudio(ctx context.Context, frame wire.Frame) error {
	if s.ctx.Err() != nil {
		return errors.New("gemini: stream closed")
	}
	msg := realtimeInputMessage{RealtimeInput: realtimeInput{MediaChunks: []wire.Frame{frame}}}
	if err := s.writeJSON(ctx, msg); err != nil {
		return err
	}
	if s.idle != nil {
		s.idle.Touch()
	}
	return nil
}

// Close implements voice.ServiceConn.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.done)
		if s.idle != nil {
			s.idle.Stop()
		}
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *stream) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *stream) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.readFailed(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Skipping malformed server message", zap.Error(err))
			continue
		}
		s.dispatch(&msg)
	}
}

// readFailed reports why the stream ended, unless we closed it ourselves.
func (s *stream) readFailed(err error) {
	if s.ctx.Err() != nil {
		return
	}

	switch status := websocket.CloseStatus(err); status {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		var ce websocket.CloseError
		reason := status.String()
		if errors.As(err, &ce) && ce.Reason != "" {
			reason = ce.Reason
		}
		s.handlers.OnClose(s.ctx, reason)
	default:
		s.handlers.OnError(s.ctx, fmt.Errorf("gemini: read: %w", err))
	}
}

func (s *stream) dispatch(msg *serverMessage) {
	switch {
	case msg.Error != nil:
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		s.handlers.OnError(s.ctx, fmt.Errorf("gemini: %s (code %d)", text, msg.Error.Code))
	case msg.SetupComplete != nil:
		s.logger.Debug("Setup complete")
		s.handlers.OnOpen(s.ctx)
	case msg.GoAway != nil:
		s.logger.Info("Server is going away", zap.String("time_left", msg.GoAway.TimeLeft))
	}

	if msg.ServerContent != nil {
		s.handleContent(msg.ServerContent)
	}
}

func (s *stream) handleContent(sc *serverContent) {
	// Interruption comes first so stale audio is flushed before any new
	// audio in the same message is queued.
	if sc.Interrupted {
		s.handlers.OnMessage(s.ctx, voice.ServiceMessage{Interrupted: true})
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			switch {
			case p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, "audio/"):
				frame := *p.InlineData
				s.handlers.OnMessage(s.ctx, voice.ServiceMessage{Audio: &frame})
			case p.Text != "":
				s.handlers.OnMessage(s.ctx, voice.ServiceMessage{Transcript: p.Text, Role: "model"})
			}
		}
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		s.handlers.OnMessage(s.ctx, voice.ServiceMessage{Transcript: sc.InputTranscription.Text, Role: "user"})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		s.handlers.OnMessage(s.ctx, voice.ServiceMessage{Transcript: sc.OutputTranscription.Text, Role: "model"})
	}
	if sc.TurnComplete {
		s.handlers.OnMessage(s.ctx, voice.ServiceMessage{TurnComplete: true})
	}
}

// keepaliveLoop pings the server whenever no audio was sent for one
// keepalive interval.
func (s *stream) keepaliveLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.idle.C():
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			if err := s.conn.Ping(pingCtx); err != nil && s.ctx.Err() == nil {
				s.logger.Debug("Keepalive ping failed", zap.Error(err))
			}
			cancel()
			s.idle.Touch()
		}
	}
}
