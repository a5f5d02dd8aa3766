// Package openai connects a voice session to the OpenAI Realtime API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	openairt "github.com/WqyJh/go-openai-realtime"
	"github.com/coder/websocket"
	openaiapi "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/Raikerian/go-live-tutor/internal/config"
	"github.com/Raikerian/go-live-tutor/internal/voice"
	"github.com/Raikerian/go-live-tutor/pkg/audio"
	"github.com/Raikerian/go-live-tutor/pkg/pricing"
	"github.com/Raikerian/go-live-tutor/pkg/wire"
)

var _ voice.Transport = (*Transport)(nil)

// serviceRate is the only PCM16 rate the Realtime API accepts and emits.
const serviceRate = 24000

// Transport dials the OpenAI Realtime API.
type Transport struct {
	client        *openairt.Client
	model         string
	voiceName     string
	instructions  string
	transcription bool
	prices        *pricing.TokenPricing // nil when no price list is configured
	logger        *zap.Logger
}

// New creates a Transport from the openai config section.
func New(cfg config.OpenAIConfig, logger *zap.Logger) *Transport {
	t := &Transport{
		client:        openairt.NewClient(cfg.APIKey),
		model:         cfg.Model,
		voiceName:     cfg.Voice,
		instructions:  cfg.Instructions,
		transcription: cfg.InputAudioTranscription,
		logger:        logger.Named("openai"),
	}
	if cfg.PricingFile != "" {
		t.prices = loadPrices(cfg.PricingFile, cfg.Model, t.logger)
	}
	return t
}

// loadPrices returns nil when the list is unusable; cost estimates are
// informational and never block a session.
func loadPrices(path, model string, logger *zap.Logger) *pricing.TokenPricing {
	pd, err := pricing.Load(path)
	if err != nil {
		logger.Warn("Cost estimates disabled", zap.Error(err))
		return nil
	}
	info, err := pd.Model(model)
	if err != nil {
		logger.Warn("Cost estimates disabled", zap.Error(err))
		return nil
	}
	return &info.Pricing
}

func (t *Transport) Name() string { return config.ProviderOpenAI }

// Dial connects and configures the session. OnOpen fires on session.created.
func (t *Transport) Dial(ctx context.Context, hs voice.Handshake, h voice.ServiceHandlers) (voice.ServiceConn, error) {
	t.logger.Info("Connecting to OpenAI Realtime API", zap.String("model", t.model))

	conn, err := t.client.Connect(ctx, openairt.WithModel(t.model))
	if err != nil {
		return nil, fmt.Errorf("openai: connect: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &stream{
		conn:     conn,
		handlers: h,
		logger:   t.logger,
		ctx:      streamCtx,
		cancel:   cancel,
	}
	if t.prices != nil {
		s.meter = pricing.NewMeter(*t.prices)
	}

	if err := conn.SendMessage(ctx, t.sessionUpdate(hs)); err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("openai: configure session: %w", err)
	}

	go s.readLoop()
	return s, nil
}

func (t *Transport) sessionUpdate(hs voice.Handshake) *openairt.SessionUpdateEvent {
	modalities := []openairt.Modality{openairt.ModalityText}
	if hs.Modality == "audio" {
		modalities = append(modalities, openairt.ModalityAudio)
	}

	session := openairt.ClientSession{
		Modalities:        modalities,
		Voice:             openairt.Voice(t.voiceName),
		Instructions:      t.instructions,
		InputAudioFormat:  openairt.AudioFormatPcm16,
		OutputAudioFormat: openairt.AudioFormatPcm16,
	}
	if t.transcription {
		session.InputAudioTranscription = &openairt.InputAudioTranscription{
			Model: openaiapi.Whisper1,
		}
	}

	t.logger.Info("Configuring OpenAI session",
		zap.String("voice", t.voiceName),
		zap.Bool("transcription", t.transcription))

	return &openairt.SessionUpdateEvent{Session: session}
}

// stream is one open Realtime connection.
type stream struct {
	conn     *openairt.Conn
	handlers voice.ServiceHandlers
	logger   *zap.Logger
	meter    *pricing.Meter

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// SendAudio resamples the captured frame to the service rate and appends
// it to the input audio buffer.
func (s *stream) SendAudio(ctx context.Context, frame wire.Frame) error {
	if s.ctx.Err() != nil {
		return errors.New("openai: stream closed")
	}

	payload, err := toServiceRate(frame)
	if err != nil {
		return err
	}
	return s.conn.SendMessage(ctx, &openairt.InputAudioBufferAppendEvent{Audio: payload})
}

// Close implements voice.ServiceConn.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.conn.Close()
		if s.meter != nil {
			usage, cost := s.meter.Total()
			s.logger.Info("Session usage",
				zap.Int("input_tokens", usage.InputTokens),
				zap.Int("output_tokens", usage.OutputTokens),
				zap.Float64("estimated_cost_usd", cost))
		}
	})
	return err
}

func (s *stream) readLoop() {
	for {
		event, err := s.conn.ReadMessage(s.ctx)
		if err != nil {
			s.readFailed(err)
			return
		}
		s.handleEvent(s.ctx, event)
	}
}

func (s *stream) readFailed(err error) {
	if s.ctx.Err() != nil {
		return
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		s.handlers.OnClose(s.ctx, "closed by server")
		return
	}
	if errors.Is(err, io.EOF) {
		s.handlers.OnClose(s.ctx, "connection ended")
		return
	}
	s.handlers.OnError(s.ctx, fmt.Errorf("openai: read: %w", err))
}

func (s *stream) handleEvent(ctx context.Context, event openairt.ServerEvent) {
	s.logger.Debug("Received server event",
		zap.String("event_type", string(event.ServerEventType())))

	switch e := event.(type) {
	case openairt.SessionCreatedEvent:
		s.handlers.OnOpen(ctx)

	case openairt.ResponseAudioDeltaEvent:
		if e.Delta == "" {
			return
		}
		frame := wire.Frame{Data: e.Delta, MIMEType: wire.MIMEType(serviceRate)}
		s.handlers.OnMessage(ctx, voice.ServiceMessage{Audio: &frame})

	case openairt.InputAudioBufferSpeechStartedEvent:
		s.handlers.OnMessage(ctx, voice.ServiceMessage{Interrupted: true})

	case openairt.ResponseAudioTranscriptDoneEvent:
		s.handlers.OnMessage(ctx, voice.ServiceMessage{Transcript: e.Transcript, Role: "model"})

	case openairt.ConversationItemInputAudioTranscriptionCompletedEvent:
		s.handlers.OnMessage(ctx, voice.ServiceMessage{Transcript: e.Transcript, Role: "user"})

	case openairt.ConversationItemInputAudioTranscriptionFailedEvent:
		s.logger.Warn("User audio transcription failed",
			zap.String("item_id", e.ItemID),
			zap.String("error", e.Error.Message))

	case openairt.ResponseDoneEvent:
		if usage := e.Response.Usage; usage != nil {
			u := pricing.Usage{
				InputTokens:       usage.InputTokens,
				OutputTokens:      usage.OutputTokens,
				InputAudioTokens:  usage.InputTokenDetails.AudioTokens,
				OutputAudioTokens: usage.OutputTokenDetails.AudioTokens,
			}
			fields := []zap.Field{
				zap.Int("input_tokens", u.InputTokens),
				zap.Int("output_tokens", u.OutputTokens),
				zap.Int("input_audio_tokens", u.InputAudioTokens),
				zap.Int("output_audio_tokens", u.OutputAudioTokens),
			}
			if s.meter != nil {
				fields = append(fields, zap.Float64("estimated_cost_usd", s.meter.Add(u)))
			}
			s.logger.Info("Response completed", fields...)
		}
		s.handlers.OnMessage(ctx, voice.ServiceMessage{TurnComplete: true})

	case openairt.ErrorEvent:
		s.handlers.OnError(ctx, fmt.Errorf("openai: %s", e.Error.Message))
	}
}

// toServiceRate re-encodes a frame's PCM at the service rate.
func toServiceRate(frame wire.Frame) (string, error) {
	rate, ok := frame.SampleRate()
	if ok && rate == serviceRate {
		return frame.Data, nil
	}
	if !ok {
		rate = audio.InputSampleRate
	}

	pcm, err := frame.Bytes()
	if err != nil {
		return "", fmt.Errorf("openai: decode frame: %w", err)
	}
	samples, err := audio.LEToPCMInt16(pcm)
	if err != nil {
		return "", fmt.Errorf("openai: decode frame: %w", err)
	}
	return wire.Encode(audio.PCMInt16ToLE(audio.Resample(samples, rate, serviceRate))), nil
}
