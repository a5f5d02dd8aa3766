// Package wire turns PCM16 audio into the text-safe frames carried by the
// remote speech service's JSON messages, and back.
package wire

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/Raikerian/go-live-tutor/pkg/audio"
)

const (
	// PCMMIMEPrefix is the MIME type stem for raw PCM16 audio.
	PCMMIMEPrefix = "audio/pcm"
	// ContainerMIMEType tags a payload wrapped in a RIFF/WAVE container.
	ContainerMIMEType = "audio/wav"
)

// Encode converts raw bytes to standard padded base64.
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Decode is the exact inverse of Encode.
func Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode wire frame: %w", err)
	}
	return b, nil
}

// Frame is one encoded audio unit tagged with its PCM format.
type Frame struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// MIMEType returns the tag for PCM16 at the given rate, e.g. "audio/pcm;rate=16000".
func MIMEType(sampleRate int) string {
	return PCMMIMEPrefix + ";rate=" + strconv.Itoa(sampleRate)
}

// NewAudioFrame encodes PCM16 bytes captured at sampleRate.
func NewAudioFrame(pcm []byte, sampleRate int) Frame {
	return Frame{Data: Encode(pcm), MIMEType: MIMEType(sampleRate)}
}

// EncodeChunk encodes a chunk's little-endian bytes.
func EncodeChunk(c audio.Chunk) Frame {
	return NewAudioFrame(c.Bytes(), c.Format().SampleRate)
}

// Bytes decodes the frame payload.
func (f Frame) Bytes() ([]byte, error) {
	return Decode(f.Data)
}

// SampleRate parses the rate parameter of the MIME tag. ok is false when
// the tag carries no usable rate.
func (f Frame) SampleRate() (rate int, ok bool) {
	for _, param := range strings.Split(f.MIMEType, ";")[1:] {
		key, value, found := strings.Cut(strings.TrimSpace(param), "=")
		if !found || key != "rate" {
			continue
		}
		r, err := strconv.Atoi(value)
		if err != nil || r <= 0 {
			return 0, false
		}
		return r, true
	}
	return 0, false
}

// IsPCM reports whether the tag names raw PCM16. An untagged frame is
// treated as raw PCM.
func (f Frame) IsPCM() bool {
	stem, _, _ := strings.Cut(f.MIMEType, ";")
	stem = strings.ToLower(strings.TrimSpace(stem))
	return stem == "" || stem == PCMMIMEPrefix
}
