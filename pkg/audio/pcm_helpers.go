package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FloatToInt16 converts normalized float samples to PCM16. Input outside
// [-1, 1] is clamped before scaling so the result never wraps.
func FloatToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = floatSampleToInt16(s)
	}
	return out
}

func floatSampleToInt16(s float32) int16 {
	if s != s { // NaN
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	v := math.Round(float64(s) * 32768)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Int16ToFloat converts PCM16 into normalized floats. Every int16 survives
// a trip through Int16ToFloat and back through FloatToInt16 unchanged.
func Int16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// PCMInt16ToLE converts int16 samples to raw little-endian bytes.
func PCMInt16ToLE(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// LEToPCMInt16 converts raw little-endian bytes back to int16 samples.
func LEToPCMInt16(b []byte) ([]int16, error) {
	if len(b)%BytesPerSample != 0 {
		return nil, fmt.Errorf("pcm16 payload has odd length %d", len(b))
	}
	out := make([]int16, len(b)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out, nil
}
