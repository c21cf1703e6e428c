package audio

// Envelope reduces b to points peak values in [0,1], one per equal slice of
// the buffer. Channels are folded together. It returns nil for an empty
// buffer or a non-positive point count.
func Envelope(b Buffer, points int) []float64 {
	frames := b.Frames()
	if frames == 0 || points <= 0 {
		return nil
	}
	if points > frames {
		points = frames
	}
	out := make([]float64, points)
	for p := 0; p < points; p++ {
		start := p * frames / points
		end := (p + 1) * frames / points
		peak := 0
		for i := start * b.Channels; i < end*b.Channels; i++ {
			v := int(b.Samples[i])
			if v < 0 {
				v = -v
			}
			if v > peak {
				peak = v
			}
		}
		out[p] = float64(peak) / 32768
	}
	return out
}
