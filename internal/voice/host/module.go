package host

import (
	"go.uber.org/fx"

	"github.com/Raikerian/go-live-tutor/internal/voice"
)

// Module provides the voice.HostFactory selected by configuration.
var Module = fx.Module("host",
	fx.Provide(
		fx.Annotate(
			NewFactory,
			fx.As(new(voice.HostFactory)),
		),
	),
)
