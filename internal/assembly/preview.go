package assembly

import (
	"github.com/satindergrewal/cuemap/internal/audio"
)

// PreviewName is the filename of the stereo preview mix.
const PreviewName = "assembled_preview_stereo.wav"

// MixPreview overlays every present track, converted to stereo, into one
// stereo buffer at the common rate and length.
func MixPreview(t Tracks) (audio.Buffer, error) {
	if len(t.present()) == 0 {
		return audio.Buffer{}, ErrNothingToAssemble
	}
	rate, frames := t.TargetFormat()
	out := audio.Silence(rate, 2, frames)
	for _, b := range t.present() {
		stereo := audio.ToChannels(audio.Resample(*b, rate), 2)
		audio.Overlay(&out, stereo, 0)
	}
	return out, nil
}
