package openai

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	openairt "github.com/WqyJh/go-openai-realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/go-live-tutor/internal/config"
	"github.com/Raikerian/go-live-tutor/internal/voice"
	"github.com/Raikerian/go-live-tutor/pkg/audio"
	"github.com/Raikerian/go-live-tutor/pkg/pricing"
	"github.com/Raikerian/go-live-tutor/pkg/wire"
)

type recorded struct {
	opened   int
	messages []voice.ServiceMessage
	errs     []error
}

func newTestStream(t *testing.T) (*stream, *recorded) {
	t.Helper()
	rec := &recorded{}
	s := &stream{
		logger: zaptest.NewLogger(t),
		handlers: voice.ServiceHandlers{
			OnOpen:    func(context.Context) { rec.opened++ },
			OnMessage: func(_ context.Context, m voice.ServiceMessage) { rec.messages = append(rec.messages, m) },
			OnClose:   func(context.Context, string) {},
			OnError:   func(_ context.Context, err error) { rec.errs = append(rec.errs, err) },
		},
	}
	return s, rec
}

func mustEvent(t *testing.T, raw string) openairt.ServerEvent {
	t.Helper()
	event, err := openairt.UnmarshalServerEvent([]byte(raw))
	require.NoError(t, err)
	return event
}

func TestHandleEvent(t *testing.T) {
	tests := map[string]struct {
		raw        string
		wantOpen   int
		wantMsg    *voice.ServiceMessage
		wantErrMsg string
	}{
		"session created opens": {
			raw:      `{"type":"session.created","event_id":"e1","session":{"id":"sess_1"}}`,
			wantOpen: 1,
		},
		"audio delta": {
			raw: `{"type":"response.audio.delta","event_id":"e2","response_id":"r1","item_id":"i1","output_index":0,"content_index":0,"delta":"AAEC"}`,
			wantMsg: &voice.ServiceMessage{
				Audio: &wire.Frame{Data: "AAEC", MIMEType: "audio/pcm;rate=24000"},
			},
		},
		"speech started interrupts": {
			raw:     `{"type":"input_audio_buffer.speech_started","event_id":"e3","audio_start_ms":120,"item_id":"i2"}`,
			wantMsg: &voice.ServiceMessage{Interrupted: true},
		},
		"model transcript": {
			raw:     `{"type":"response.audio_transcript.done","event_id":"e4","response_id":"r1","item_id":"i1","output_index":0,"content_index":0,"transcript":"Très bien !"}`,
			wantMsg: &voice.ServiceMessage{Transcript: "Très bien !", Role: "model"},
		},
		"user transcript": {
			raw:     `{"type":"conversation.item.input_audio_transcription.completed","event_id":"e5","item_id":"i2","content_index":0,"transcript":"je suis allé"}`,
			wantMsg: &voice.ServiceMessage{Transcript: "je suis allé", Role: "user"},
		},
		"response done completes the turn": {
			raw:     `{"type":"response.done","event_id":"e6","response":{"id":"r1","status":"completed","usage":{"total_tokens":30,"input_tokens":10,"output_tokens":20}}}`,
			wantMsg: &voice.ServiceMessage{TurnComplete: true},
		},
		"error event": {
			raw:        `{"type":"error","event_id":"e7","error":{"type":"invalid_request_error","message":"bad audio"}}`,
			wantErrMsg: "openai: bad audio",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s, rec := newTestStream(t)
			s.handleEvent(context.Background(), mustEvent(t, tt.raw))

			assert.Equal(t, tt.wantOpen, rec.opened)
			if tt.wantMsg != nil {
				require.Len(t, rec.messages, 1)
				assert.Equal(t, *tt.wantMsg, rec.messages[0])
			} else {
				assert.Empty(t, rec.messages)
			}
			if tt.wantErrMsg != "" {
				require.Len(t, rec.errs, 1)
				assert.EqualError(t, rec.errs[0], tt.wantErrMsg)
			} else {
				assert.Empty(t, rec.errs)
			}
		})
	}
}

func TestHandleEvent_EmptyDeltaIgnored(t *testing.T) {
	s, rec := newTestStream(t)
	s.handleEvent(context.Background(), mustEvent(t, `{"type":"response.audio.delta","event_id":"e","delta":""}`))
	assert.Empty(t, rec.messages)
}

func TestToServiceRate(t *testing.T) {
	t.Run("capture rate is resampled", func(t *testing.T) {
		frame := wire.NewAudioFrame(audio.PCMInt16ToLE(make([]int16, 1600)), audio.InputSampleRate)

		encoded, err := toServiceRate(frame)
		require.NoError(t, err)

		pcm, err := wire.Decode(encoded)
		require.NoError(t, err)
		assert.Len(t, pcm, 2400*audio.BytesPerSample)
	})

	t.Run("service rate passes through", func(t *testing.T) {
		frame := wire.NewAudioFrame([]byte{1, 0, 2, 0}, serviceRate)

		encoded, err := toServiceRate(frame)
		require.NoError(t, err)
		assert.Equal(t, frame.Data, encoded)
	})

	t.Run("odd payload is rejected", func(t *testing.T) {
		frame := wire.NewAudioFrame([]byte{1, 2, 3}, audio.InputSampleRate)

		_, err := toServiceRate(frame)
		assert.Error(t, err)
	})
}

func TestSessionUpdate(t *testing.T) {
	tr := New(config.OpenAIConfig{
		APIKey:                  "k",
		Model:                   "gpt-4o-realtime-preview",
		Voice:                   "shimmer",
		Instructions:            "Speak slowly.",
		InputAudioTranscription: true,
	}, zaptest.NewLogger(t))

	update := tr.sessionUpdate(voice.DefaultHandshake())

	assert.Equal(t, []openairt.Modality{openairt.ModalityText, openairt.ModalityAudio}, update.Session.Modalities)
	assert.Equal(t, openairt.Voice("shimmer"), update.Session.Voice)
	assert.Equal(t, "Speak slowly.", update.Session.Instructions)
	assert.Equal(t, openairt.AudioFormatPcm16, update.Session.InputAudioFormat)
	require.NotNil(t, update.Session.InputAudioTranscription)
	assert.Equal(t, "whisper-1", update.Session.InputAudioTranscription.Model)
	assert.Equal(t, "openai", tr.Name())
}

func TestHandleEvent_ResponseDoneMetersCost(t *testing.T) {
	s, rec := newTestStream(t)
	out := 80.0
	s.meter = pricing.NewMeter(pricing.TokenPricing{
		InputPerMillion:       5,
		OutputPerMillion:      &out,
		AudioInputPerMillion:  &out,
		AudioOutputPerMillion: &out,
	})

	raw := `{"type":"response.done","event_id":"e8","response":{"id":"r2","status":"completed",` +
		`"usage":{"total_tokens":3000000,"input_tokens":1000000,"output_tokens":2000000,` +
		`"input_token_details":{"audio_tokens":0},"output_token_details":{"audio_tokens":2000000}}}}`
	s.handleEvent(context.Background(), mustEvent(t, raw))
	s.handleEvent(context.Background(), mustEvent(t, raw))

	require.Len(t, rec.messages, 2)
	usage, cost := s.meter.Total()
	assert.Equal(t, 2_000_000, usage.InputTokens)
	assert.Equal(t, 4_000_000, usage.OutputAudioTokens)
	assert.InDelta(t, 2*(5+2*80), cost, 1e-9)
}

func TestLoadPrices(t *testing.T) {
	logger := zaptest.NewLogger(t)

	path := filepath.Join(t.TempDir(), "models.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"models":{"gpt-4o-realtime-preview":{"pricing":{"input_per_million":5}}}}`), 0o644))

	prices := loadPrices(path, "gpt-4o-realtime-preview", logger)
	require.NotNil(t, prices)
	assert.InDelta(t, 5.0, prices.InputPerMillion, 1e-9)

	assert.Nil(t, loadPrices(path, "other-model", logger))
	assert.Nil(t, loadPrices(filepath.Join(t.TempDir(), "missing.json"), "gpt-4o-realtime-preview", logger))
}
