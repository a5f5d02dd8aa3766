package audio

import (
	"errors"
	"time"
)

// Direction tells which way a chunk travels through the pipeline.
type Direction int

const (
	// Outbound chunks flow from the microphone to the remote service.
	Outbound Direction = iota
	// Inbound chunks flow from the remote service to the speaker.
	Inbound
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return "unknown"
	}
}

// ErrEmptyChunk is returned when a chunk would carry no samples.
var ErrEmptyChunk = errors.New("audio chunk has no samples")

// Chunk is an immutable unit of mono PCM16 audio.
type Chunk struct {
	samples   []int16
	direction Direction
	format    Format
}

// NewChunk copies samples into a chunk. Empty input is rejected.
func NewChunk(samples []int16, dir Direction, format Format) (Chunk, error) {
	if len(samples) == 0 {
		return Chunk{}, ErrEmptyChunk
	}
	if format.Channels > 1 && len(samples)%format.Channels != 0 {
		return Chunk{}, errors.New("audio chunk is not a whole number of frames")
	}
	owned := make([]int16, len(samples))
	copy(owned, samples)
	return Chunk{samples: owned, direction: dir, format: format}, nil
}

// ChunkFromBytes decodes little-endian PCM16 bytes into a chunk.
func ChunkFromBytes(pcm []byte, dir Direction, format Format) (Chunk, error) {
	samples, err := LEToPCMInt16(pcm)
	if err != nil {
		return Chunk{}, err
	}
	if len(samples) == 0 {
		return Chunk{}, ErrEmptyChunk
	}
	return Chunk{samples: samples, direction: dir, format: format}, nil
}

// Samples returns a copy of the chunk's samples.
func (c Chunk) Samples() []int16 {
	out := make([]int16, len(c.samples))
	copy(out, c.samples)
	return out
}

// Len is the number of samples across all channels.
func (c Chunk) Len() int { return len(c.samples) }

// Frames is the number of per-channel sample frames.
func (c Chunk) Frames() int {
	if c.format.Channels <= 1 {
		return len(c.samples)
	}
	return len(c.samples) / c.format.Channels
}

func (c Chunk) Direction() Direction { return c.direction }

func (c Chunk) Format() Format { return c.format }

// Duration is the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	return c.format.SamplesDuration(c.Frames())
}

// Bytes returns the little-endian PCM16 encoding of the chunk.
func (c Chunk) Bytes() []byte {
	return PCMInt16ToLE(c.samples)
}

// Floats returns the chunk as normalized float samples.
func (c Chunk) Floats() []float32 {
	return Int16ToFloat(c.samples)
}

// Peak returns the largest absolute sample value.
func (c Chunk) Peak() int {
	peak := 0
	for _, s := range c.samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}
