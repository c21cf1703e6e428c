package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Buffer is interleaved 16-bit PCM.
type Buffer struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Silence returns a zeroed buffer of the given length in frames.
func Silence(rate, channels, frames int) Buffer {
	if frames < 0 {
		frames = 0
	}
	return Buffer{SampleRate: rate, Channels: channels, Samples: make([]int16, frames*channels)}
}

// FramesForMS converts a millisecond offset into a frame count at rate.
func FramesForMS(rate, ms int) int {
	if ms <= 0 {
		return 0
	}
	return int(int64(rate) * int64(ms) / 1000)
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate == 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// DurationMS returns the playback length in whole milliseconds.
func (b Buffer) DurationMS() int {
	return int(b.Duration() / time.Millisecond)
}

// Clone returns a copy that shares no memory with b.
func (b Buffer) Clone() Buffer {
	b.Samples = append([]int16(nil), b.Samples...)
	return b
}

// IsSilent reports whether every sample is zero.
func (b Buffer) IsSilent() bool {
	for _, s := range b.Samples {
		if s != 0 {
			return false
		}
	}
	return true
}

// Peak returns the largest absolute sample value.
func (b Buffer) Peak() int {
	peak := 0
	for _, s := range b.Samples {
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

// PreviewInfo identifies an assembled preview for the audition pipeline.
type PreviewInfo struct {
	ID   string
	Path string
	Name string
}
