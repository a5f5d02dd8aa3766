package audio_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raikerian/go-live-tutor/pkg/audio"
)

func TestNewChunk_RejectsEmpty(t *testing.T) {
	_, err := audio.NewChunk(nil, audio.Outbound, audio.Input)
	assert.ErrorIs(t, err, audio.ErrEmptyChunk)

	_, err = audio.ChunkFromBytes([]byte{}, audio.Inbound, audio.Output)
	assert.ErrorIs(t, err, audio.ErrEmptyChunk)
}

func TestChunk_Immutable(t *testing.T) {
	src := []int16{1, 2, 3}
	c, err := audio.NewChunk(src, audio.Outbound, audio.Input)
	require.NoError(t, err)

	src[0] = 99
	assert.Equal(t, []int16{1, 2, 3}, c.Samples())

	out := c.Samples()
	out[1] = 42
	assert.Equal(t, []int16{1, 2, 3}, c.Samples())
}

func TestChunk_Duration(t *testing.T) {
	in, err := audio.NewChunk(make([]int16, audio.CaptureFrameSamples), audio.Outbound, audio.Input)
	require.NoError(t, err)
	assert.Equal(t, 256*time.Millisecond, in.Duration())

	out, err := audio.NewChunk(make([]int16, 2400), audio.Inbound, audio.Output)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, out.Duration())
	assert.Equal(t, audio.Inbound, out.Direction())
}

func TestChunkFromBytes(t *testing.T) {
	c, err := audio.ChunkFromBytes([]byte{0x01, 0x00, 0xFF, 0xFF}, audio.Inbound, audio.Output)
	require.NoError(t, err)
	assert.Equal(t, []int16{1, -1}, c.Samples())
	assert.Equal(t, []byte{0x01, 0x00, 0xFF, 0xFF}, c.Bytes())

	_, err = audio.ChunkFromBytes([]byte{0x01}, audio.Inbound, audio.Output)
	assert.Error(t, err)
}

func TestChunk_Peak(t *testing.T) {
	c, err := audio.NewChunk([]int16{3, -32768, 100}, audio.Outbound, audio.Input)
	require.NoError(t, err)
	assert.Equal(t, 32768, c.Peak())
}
