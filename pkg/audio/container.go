package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ContainerHeaderSize is the fixed size of the RIFF/WAVE header that
// precedes the PCM payload.
const ContainerHeaderSize = 44

// ErrMalformedContainer reports a container whose header disagrees with
// itself or with its payload.
var ErrMalformedContainer = errors.New("malformed audio container")

// containerHeader mirrors the on-disk layout byte for byte.
type containerHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 = integer PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// ContainerInfo describes a parsed container.
type ContainerInfo struct {
	Format   Format
	DataSize int
}

// WrapContainer prefixes PCM16 bytes with a 44-byte RIFF/WAVE header. An
// empty payload yields a valid, silent container.
func WrapContainer(pcm []byte, sampleRate, channels int) []byte {
	h := containerHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * BytesPerSample),
		BlockAlign:    uint16(channels * BytesPerSample),
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, ContainerHeaderSize+len(pcm)))
	// Writes into a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, &h)
	buf.Write(pcm)
	return buf.Bytes()
}

// IsContainer reports whether b starts like a RIFF container.
func IsContainer(b []byte) bool {
	return len(b) >= 4 && string(b[:4]) == "RIFF"
}

// UnwrapContainer validates a container and returns its payload. Every
// header field must agree with the payload; anything else is reported as
// ErrMalformedContainer so the caller can drop the buffer.
func UnwrapContainer(b []byte) (ContainerInfo, []byte, error) {
	if len(b) < ContainerHeaderSize {
		return ContainerInfo{}, nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedContainer, len(b))
	}

	var h containerHeader
	if err := binary.Read(bytes.NewReader(b[:ContainerHeaderSize]), binary.LittleEndian, &h); err != nil {
		return ContainerInfo{}, nil, fmt.Errorf("%w: %v", ErrMalformedContainer, err)
	}

	payload := b[ContainerHeaderSize:]
	switch {
	case string(h.ChunkID[:]) != "RIFF":
		return malformed("missing RIFF tag")
	case string(h.Format[:]) != "WAVE":
		return malformed("missing WAVE tag")
	case string(h.Subchunk1ID[:]) != "fmt ":
		return malformed("missing fmt tag")
	case h.Subchunk1Size != 16:
		return malformed(fmt.Sprintf("fmt size %d", h.Subchunk1Size))
	case h.AudioFormat != 1:
		return malformed(fmt.Sprintf("audio format %d is not integer PCM", h.AudioFormat))
	case h.NumChannels == 0:
		return malformed("zero channels")
	case h.SampleRate == 0:
		return malformed("zero sample rate")
	case h.BitsPerSample != 16:
		return malformed(fmt.Sprintf("%d bits per sample", h.BitsPerSample))
	case h.BlockAlign != h.NumChannels*BytesPerSample:
		return malformed(fmt.Sprintf("block align %d for %d channels", h.BlockAlign, h.NumChannels))
	case h.ByteRate != h.SampleRate*uint32(h.BlockAlign):
		return malformed(fmt.Sprintf("byte rate %d", h.ByteRate))
	case string(h.Subchunk2ID[:]) != "data":
		return malformed("missing data tag")
	case int(h.Subchunk2Size) != len(payload):
		return malformed(fmt.Sprintf("data size %d but payload is %d bytes", h.Subchunk2Size, len(payload)))
	case h.ChunkSize != 36+h.Subchunk2Size:
		return malformed(fmt.Sprintf("chunk size %d", h.ChunkSize))
	case len(payload)%int(h.BlockAlign) != 0:
		return malformed("payload is not a whole number of frames")
	}

	info := ContainerInfo{
		Format:   Format{SampleRate: int(h.SampleRate), Channels: int(h.NumChannels)},
		DataSize: len(payload),
	}
	return info, payload, nil
}

func malformed(reason string) (ContainerInfo, []byte, error) {
	return ContainerInfo{}, nil, fmt.Errorf("%w: %s", ErrMalformedContainer, reason)
}
