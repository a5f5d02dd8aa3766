package wire_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raikerian/go-live-tutor/pkg/audio"
	"github.com/Raikerian/go-live-tutor/pkg/wire"
)

func TestRoundTrip_Exact(t *testing.T) {
	every := make([]byte, 256)
	for i := range every {
		every[i] = byte(i)
	}

	tests := map[string][]byte{
		"empty":       {},
		"single_nul":  {0x00},
		"all_zero":    make([]byte, 4096),
		"all_ff":      bytes.Repeat([]byte{0xFF}, 4097),
		"high_bytes":  {0x80, 0x81, 0xFE, 0x7F},
		"every_byte":  every,
		"odd_length":  {1, 2, 3},
		"padding_one": {1, 2},
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := wire.Decode(wire.Encode(input))
			require.NoError(t, err)
			assert.True(t, bytes.Equal(input, got), "decode(encode(b)) must equal b")
		})
	}
}

func TestRoundTrip_Random(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		b := make([]byte, rng.Intn(9000))
		rng.Read(b)

		got, err := wire.Decode(wire.Encode(b))
		require.NoError(t, err)
		require.True(t, bytes.Equal(b, got), "iteration %d", i)
	}
}

func TestDecode_Invalid(t *testing.T) {
	_, err := wire.Decode("not base64!!")
	assert.Error(t, err)
}

func TestEncodeChunk(t *testing.T) {
	c, err := audio.NewChunk([]int16{1, -1, 0}, audio.Outbound, audio.Input)
	require.NoError(t, err)

	f := wire.EncodeChunk(c)
	assert.Equal(t, "audio/pcm;rate=16000", f.MIMEType)

	rate, ok := f.SampleRate()
	assert.True(t, ok)
	assert.Equal(t, 16000, rate)

	b, err := f.Bytes()
	require.NoError(t, err)
	assert.Equal(t, c.Bytes(), b)
}

func TestFrame_SampleRate(t *testing.T) {
	tests := map[string]struct {
		mime   string
		rate   int
		wantOK bool
	}{
		"output_rate": {mime: "audio/pcm;rate=24000", rate: 24000, wantOK: true},
		"spaced":      {mime: "audio/pcm; rate=16000", rate: 16000, wantOK: true},
		"no_rate":     {mime: "audio/pcm", wantOK: false},
		"garbage":     {mime: "audio/pcm;rate=abc", wantOK: false},
		"empty":       {mime: "", wantOK: false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rate, ok := wire.Frame{MIMEType: tt.mime}.SampleRate()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.rate, rate)
		})
	}
}

func TestFrame_IsPCM(t *testing.T) {
	tests := map[string]struct {
		mime string
		want bool
	}{
		"pcm with rate": {mime: "audio/pcm;rate=24000", want: true},
		"bare pcm":      {mime: "audio/pcm", want: true},
		"upper case":    {mime: "Audio/PCM; rate=16000", want: true},
		"untagged":      {mime: "", want: true},
		"wav":           {mime: wire.ContainerMIMEType, want: false},
		"other":         {mime: "audio/ogg", want: false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, wire.Frame{MIMEType: tt.mime}.IsPCM())
		})
	}
}
