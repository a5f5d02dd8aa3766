package host

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Raikerian/go-live-tutor/internal/config"
	"github.com/Raikerian/go-live-tutor/internal/voice"
)

// Factory builds the host configured by voice.host for each session.
type Factory struct {
	kind   string
	logger *zap.Logger
}

func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{kind: cfg.Voice.Host, logger: logger}
}

// NewHost implements voice.HostFactory.
func (f *Factory) NewHost(context.Context) (voice.Host, error) {
	switch f.kind {
	case config.HostRich:
		h, err := NewRich(f.logger)
		if err != nil {
			return nil, err
		}
		return h, nil
	case config.HostConstrained:
		h, err := NewConstrained(f.logger)
		if err != nil {
			return nil, err
		}
		return h, nil
	default:
		return nil, fmt.Errorf("%w: unknown audio host %q", voice.ErrDeviceUnavailable, f.kind)
	}
}
