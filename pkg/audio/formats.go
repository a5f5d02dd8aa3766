package audio

import "time"

// Format constants shared by the capture, wire and playback layers.
const (
	// Microphone → service.
	InputSampleRate     = 16_000 // Hz
	CaptureFrameSamples = 4096   // samples per outbound chunk (256 ms)

	// Service → speaker.
	OutputSampleRate = 24_000 // Hz

	Channels       = 1 // mono in both directions
	BytesPerSample = 2 // 16-bit PCM
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Input is the format of captured audio.
var Input = Format{SampleRate: InputSampleRate, Channels: Channels}

// Output is the format of synthesized audio.
var Output = Format{SampleRate: OutputSampleRate, Channels: Channels}

// ByteRate returns the number of PCM16 bytes per second.
func (f Format) ByteRate() int {
	return f.SampleRate * f.Channels * BytesPerSample
}

// SamplesDuration converts a per-channel sample count into wall time.
func (f Format) SamplesDuration(samples int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// DurationSamples converts wall time into a per-channel sample count,
// rounding down.
func (f Format) DurationSamples(d time.Duration) int {
	return int(d * time.Duration(f.SampleRate) / time.Second)
}
