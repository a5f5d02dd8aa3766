// Package transport selects the remote speech service a session talks to.
package transport

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-live-tutor/internal/config"
	"github.com/Raikerian/go-live-tutor/internal/transport/gemini"
	"github.com/Raikerian/go-live-tutor/internal/transport/openai"
	"github.com/Raikerian/go-live-tutor/internal/voice"
)

// Module provides the voice.Transport named by voice.provider.
var Module = fx.Module("transport",
	fx.Provide(New),
)

// New builds the configured transport.
func New(cfg *config.Config, logger *zap.Logger) (voice.Transport, error) {
	switch cfg.Voice.Provider {
	case config.ProviderGemini:
		return gemini.New(cfg.Gemini, logger), nil
	case config.ProviderOpenAI:
		return openai.New(cfg.OpenAI, logger), nil
	default:
		return nil, fmt.Errorf("unknown speech provider %q", cfg.Voice.Provider)
	}
}
