package audio

// Smoothstep returns 3t^2 - 2t^3 for t clamped to [0,1].
func Smoothstep(t float64) float64 {
	switch {
	case t <= 0:
		return 0
	case t >= 1:
		return 1
	}
	return t * t * (3 - 2*t)
}

// CrossfadeFrames blends incoming over outgoing along the smoothstep curve,
// where progress 0 keeps outgoing and 1 yields incoming. The result has the
// length of outgoing; a short incoming frame is padded with silence.
func CrossfadeFrames(outgoing, incoming []int16, progress float64) []int16 {
	in := Smoothstep(progress)
	out := 1 - in
	result := make([]int16, len(outgoing))
	for i, o := range outgoing {
		var n int16
		if i < len(incoming) {
			n = incoming[i]
		}
		result[i] = clip(int32(float64(o)*out + float64(n)*in))
	}
	return result
}
