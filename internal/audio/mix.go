package audio

// clip saturates v to the int16 range.
func clip(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// Overlay adds src into dst starting at frame offset at. Both buffers must
// share rate and channel count. Samples past the end of dst are dropped and
// sums are clipped to the int16 range. It returns the number of frames
// written.
func Overlay(dst *Buffer, src Buffer, at int) int {
	if dst.Channels != src.Channels || dst.SampleRate != src.SampleRate || at < 0 {
		return 0
	}
	frames := src.Frames()
	if room := dst.Frames() - at; frames > room {
		frames = room
	}
	if frames <= 0 {
		return 0
	}
	off := at * dst.Channels
	n := frames * dst.Channels
	for i := 0; i < n; i++ {
		dst.Samples[off+i] = clip(int32(dst.Samples[off+i]) + int32(src.Samples[i]))
	}
	return frames
}

// ToChannels converts b to n channels. Mono is duplicated when upmixing,
// channels are averaged when downmixing to mono, and any other change keeps
// the leading channels and zero-fills the rest.
func ToChannels(b Buffer, n int) Buffer {
	if b.Channels == n || n <= 0 || b.Channels == 0 {
		return b
	}
	frames := b.Frames()
	out := Buffer{SampleRate: b.SampleRate, Channels: n, Samples: make([]int16, frames*n)}
	for f := 0; f < frames; f++ {
		in := b.Samples[f*b.Channels : (f+1)*b.Channels]
		dst := out.Samples[f*n : (f+1)*n]
		switch {
		case b.Channels == 1:
			for c := range dst {
				dst[c] = in[0]
			}
		case n == 1:
			var sum int32
			for _, s := range in {
				sum += int32(s)
			}
			dst[0] = clip(sum / int32(len(in)))
		default:
			copy(dst, in)
		}
	}
	return out
}

// Resample converts b to rate using linear interpolation.
func Resample(b Buffer, rate int) Buffer {
	if b.SampleRate == rate || rate <= 0 || b.SampleRate <= 0 || b.Channels == 0 {
		if rate > 0 && b.SampleRate == 0 {
			b.SampleRate = rate
		}
		return b
	}
	inFrames := b.Frames()
	outFrames := int(int64(inFrames) * int64(rate) / int64(b.SampleRate))
	out := Buffer{SampleRate: rate, Channels: b.Channels, Samples: make([]int16, outFrames*b.Channels)}
	if inFrames == 0 {
		return out
	}
	step := float64(b.SampleRate) / float64(rate)
	for f := 0; f < outFrames; f++ {
		pos := float64(f) * step
		i0 := int(pos)
		if i0 >= inFrames {
			i0 = inFrames - 1
		}
		i1 := i0 + 1
		if i1 >= inFrames {
			i1 = inFrames - 1
		}
		frac := pos - float64(i0)
		for c := 0; c < b.Channels; c++ {
			s0 := float64(b.Samples[i0*b.Channels+c])
			s1 := float64(b.Samples[i1*b.Channels+c])
			out.Samples[f*b.Channels+c] = clip(int32(s0 + (s1-s0)*frac))
		}
	}
	return out
}

// FitFrames pads with silence or truncates b to exactly frames.
func FitFrames(b Buffer, frames int) Buffer {
	if frames < 0 {
		frames = 0
	}
	want := frames * b.Channels
	if len(b.Samples) == want {
		return b
	}
	out := b
	out.Samples = make([]int16, want)
	copy(out.Samples, b.Samples)
	return out
}

// Split returns one mono buffer per channel of b.
func Split(b Buffer) []Buffer {
	frames := b.Frames()
	out := make([]Buffer, b.Channels)
	for c := range out {
		out[c] = Buffer{SampleRate: b.SampleRate, Channels: 1, Samples: make([]int16, frames)}
		for f := 0; f < frames; f++ {
			out[c].Samples[f] = b.Samples[f*b.Channels+c]
		}
	}
	return out
}

// Interleave joins mono buffers into one multi-channel buffer, one channel
// per input in order. All inputs must share rate and length.
func Interleave(channels []Buffer) Buffer {
	if len(channels) == 0 {
		return Buffer{}
	}
	n := len(channels)
	frames := channels[0].Frames()
	out := Buffer{SampleRate: channels[0].SampleRate, Channels: n, Samples: make([]int16, frames*n)}
	for c, ch := range channels {
		limit := frames
		if len(ch.Samples) < limit {
			limit = len(ch.Samples)
		}
		for f := 0; f < limit; f++ {
			out.Samples[f*n+c] = ch.Samples[f]
		}
	}
	return out
}
