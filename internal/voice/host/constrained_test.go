package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raikerian/go-live-tutor/pkg/audio"
)

func TestFitContainer(t *testing.T) {
	pcm := audio.PCMInt16ToLE([]int16{0, 100, 200, 300})

	tests := map[string]struct {
		container []byte
		out       audio.Format
		expected  []int16
		wantErr   bool
	}{
		"same rate passes through": {
			container: audio.WrapContainer(pcm, 24000, 1),
			out:       audio.Format{SampleRate: 24000, Channels: 1},
			expected:  []int16{0, 100, 200, 300},
		},
		"context at a higher rate": {
			container: audio.WrapContainer(pcm, 24000, 1),
			out:       audio.Format{SampleRate: 48000, Channels: 1},
			expected:  []int16{0, 50, 100, 150, 200, 250, 300, 300},
		},
		"context at a lower rate": {
			container: audio.WrapContainer(pcm, 24000, 1),
			out:       audio.Format{SampleRate: 12000, Channels: 1},
			expected:  []int16{0, 200},
		},
		"channel mismatch": {
			container: audio.WrapContainer(pcm, 24000, 1),
			out:       audio.Format{SampleRate: 24000, Channels: 2},
			wantErr:   true,
		},
		"malformed container": {
			container: []byte("RIFF"),
			out:       audio.Format{SampleRate: 24000, Channels: 1},
			wantErr:   true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := fitContainer(tt.container, tt.out)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			samples, err := audio.LEToPCMInt16(got)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, samples)
		})
	}
}
