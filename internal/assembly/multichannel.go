package assembly

import (
	"errors"

	"github.com/satindergrewal/cuemap/internal/audio"
)

// OutputChannels is the fixed channel count of the multi-channel file.
const OutputChannels = 5

// ErrNothingToAssemble is returned when no track carries any audio.
var ErrNothingToAssemble = errors.New("nothing to assemble")

// Tracks holds the rendered per-track buffers. A nil entry is an absent
// track and becomes silence in the output.
type Tracks struct {
	Music *audio.Buffer
	SFX1  *audio.Buffer
	SFX2  *audio.Buffer
	Voice *audio.Buffer
}

// Get returns the buffer for t.
func (t Tracks) Get(id TrackID) *audio.Buffer {
	switch id {
	case TrackMusic:
		return t.Music
	case TrackSFX1:
		return t.SFX1
	case TrackSFX2:
		return t.SFX2
	case TrackVoice:
		return t.Voice
	}
	return nil
}

// Set stores b as the buffer for id.
func (t *Tracks) Set(id TrackID, b *audio.Buffer) {
	switch id {
	case TrackMusic:
		t.Music = b
	case TrackSFX1:
		t.SFX1 = b
	case TrackSFX2:
		t.SFX2 = b
	case TrackVoice:
		t.Voice = b
	}
}

func (t Tracks) present() []*audio.Buffer {
	var out []*audio.Buffer
	for _, id := range TrackOrder {
		if b := t.Get(id); b != nil {
			out = append(out, b)
		}
	}
	return out
}

// TargetFormat resolves the common rate (never below 48kHz) and the longest
// length in frames at that rate.
func (t Tracks) TargetFormat() (rate, frames int) {
	rate = audio.SampleRate
	for _, b := range t.present() {
		if b.SampleRate > rate {
			rate = b.SampleRate
		}
	}
	for _, b := range t.present() {
		if b.SampleRate == 0 {
			continue
		}
		n := int(int64(b.Frames()) * int64(rate) / int64(b.SampleRate))
		if n > frames {
			frames = n
		}
	}
	return rate, frames
}

// Multiplex combines the tracks into one interleaved buffer with channels
// [MusicL, MusicR, SFX1, SFX2, Voice]. Absent tracks are silent channels.
func Multiplex(t Tracks) (audio.Buffer, error) {
	if len(t.present()) == 0 {
		return audio.Buffer{}, ErrNothingToAssemble
	}
	rate, frames := t.TargetFormat()

	conform := func(b *audio.Buffer, channels int) audio.Buffer {
		if b == nil {
			return audio.Silence(rate, channels, frames)
		}
		out := audio.Resample(*b, rate)
		out = audio.FitFrames(out, frames)
		out = audio.ToChannels(out, channels)
		return audio.FitFrames(out, frames)
	}

	music := audio.Split(conform(t.Music, 2))
	columns := []audio.Buffer{
		music[0],
		music[1],
		conform(t.SFX1, 1),
		conform(t.SFX2, 1),
		conform(t.Voice, 1),
	}
	return audio.Interleave(columns), nil
}

// SaveMultichannel multiplexes the tracks and writes a 16-bit WAV to path.
func SaveMultichannel(path string, t Tracks) (audio.Buffer, error) {
	out, err := Multiplex(t)
	if err != nil {
		return audio.Buffer{}, err
	}
	if err := audio.WriteWAVFile(path, out); err != nil {
		return audio.Buffer{}, err
	}
	return out, nil
}
