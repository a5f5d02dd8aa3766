package host

import (
	"strings"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// Device describes one endpoint reported by the platform backend.
type Device struct {
	Direction string // "capture" or "playback"
	Name      string
	Default   bool
}

// ListDevices enumerates capture and playback endpoints.
func ListDevices(logger *zap.Logger) ([]Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", zap.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return nil, deviceError("init audio context", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	var out []Device
	for _, kind := range []struct {
		dir  string
		kind malgo.DeviceType
	}{
		{"capture", malgo.Capture},
		{"playback", malgo.Playback},
	} {
		infos, err := ctx.Devices(kind.kind)
		if err != nil {
			return nil, deviceError("enumerate "+kind.dir+" devices", err)
		}
		for _, info := range infos {
			out = append(out, Device{
				Direction: kind.dir,
				Name:      info.Name(),
				Default:   info.IsDefault != 0,
			})
		}
	}
	return out, nil
}
