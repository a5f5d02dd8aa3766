package audio

import "math"

// Resample converts mono PCM16 between sample rates using linear
// interpolation. Equal rates return the input unchanged.
func Resample(src []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(src) == 0 || fromRate <= 0 || toRate <= 0 {
		return src
	}

	outLen := int(int64(len(src)) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		return nil
	}
	dst := make([]int16, outLen)
	ratio := float64(fromRate) / float64(toRate)

	for i := range dst {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		if idx+1 >= len(src) {
			dst[i] = src[len(src)-1]
			continue
		}
		a := float64(src[idx])
		b := float64(src[idx+1])
		dst[i] = int16(math.Round(a + (b-a)*frac))
	}
	return dst
}
