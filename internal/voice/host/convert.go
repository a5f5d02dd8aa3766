// Package host provides the audio device backends a voice session runs on.
package host

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/Raikerian/go-live-tutor/internal/voice"
)

const float32Size = 4

// decodeF32LE appends the little-endian float32 samples in b to dst.
// A trailing partial sample is ignored.
func decodeF32LE(dst []float32, b []byte) []float32 {
	n := len(b) / float32Size
	for i := 0; i < n; i++ {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(b[i*float32Size:])))
	}
	return dst
}

// encodeF32LE writes src into dst as little-endian float32 and returns the
// number of samples written.
func encodeF32LE(dst []byte, src []float32) int {
	n := min(len(src), len(dst)/float32Size)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(dst[i*float32Size:], math.Float32bits(src[i]))
	}
	return n
}

// deviceError maps a backend failure onto the voice error taxonomy.
// Backends only report access problems as text.
func deviceError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %s: %w", voice.ErrPermissionDenied, op, err)
	}
	return fmt.Errorf("%w: %s: %w", voice.ErrDeviceUnavailable, op, err)
}
