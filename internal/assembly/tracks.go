package assembly

import (
	"fmt"
	"sort"
	"strings"

	"github.com/satindergrewal/cuemap/internal/marker"
)

// TrackID names an output track.
type TrackID string

const (
	TrackMusic TrackID = "music_lr"
	TrackSFX1  TrackID = "sfx_1"
	TrackSFX2  TrackID = "sfx_2"
	TrackVoice TrackID = "voice"
)

// TrackOrder is the channel order of the multi-channel output.
var TrackOrder = []TrackID{TrackMusic, TrackSFX1, TrackSFX2, TrackVoice}

// Channels returns the 1-based output channels a track occupies.
func (t TrackID) Channels() []int {
	switch t {
	case TrackMusic:
		return []int{1, 2}
	case TrackSFX1:
		return []int{3}
	case TrackSFX2:
		return []int{4}
	case TrackVoice:
		return []int{5}
	}
	return nil
}

// Stereo reports whether the track is rendered with two channels.
func (t TrackID) Stereo() bool {
	return t == TrackMusic
}

// StemName is the filename of the per-track render.
func (t TrackID) StemName() string {
	switch t {
	case TrackMusic:
		return "channel_1_2_music_stereo.wav"
	case TrackSFX1:
		return "channel_3_sfx_1.wav"
	case TrackSFX2:
		return "channel_4_sfx_2.wav"
	case TrackVoice:
		return "channel_5_voice.wav"
	}
	return string(t) + ".wav"
}

// Plan is the result of track assignment.
type Plan struct {
	Tracks     map[TrackID][]marker.Marker
	Unassigned []marker.Marker
}

// Assign distributes markers over the output tracks: music to music_lr,
// voice to voice, and sfx alternating between sfx_1 and sfx_2 in time
// order so overlapping effects land on different channels. music_control
// markers carry no audio and stay unassigned.
//
// Each element of markers is annotated with its track and channels; the
// plan holds copies. The result depends only on the input, so repeated
// calls give the same plan.
func Assign(markers []marker.Marker) Plan {
	plan := Plan{Tracks: make(map[TrackID][]marker.Marker, len(TrackOrder))}
	for _, t := range TrackOrder {
		plan.Tracks[t] = []marker.Marker{}
	}

	var sfx []int
	for i := range markers {
		m := &markers[i]
		switch m.Type {
		case marker.TypeMusic:
			annotate(m, TrackMusic)
		case marker.TypeVoice:
			annotate(m, TrackVoice)
		case marker.TypeSFX:
			sfx = append(sfx, i)
		default:
			m.AssignedTrack = ""
			m.AssignedChannels = nil
		}
	}

	sort.SliceStable(sfx, func(a, b int) bool {
		return markers[sfx[a]].TimeMS < markers[sfx[b]].TimeMS
	})
	for pos, i := range sfx {
		if pos%2 == 0 {
			annotate(&markers[i], TrackSFX1)
		} else {
			annotate(&markers[i], TrackSFX2)
		}
	}

	for _, m := range markers {
		if m.AssignedTrack == "" {
			plan.Unassigned = append(plan.Unassigned, m.Clone())
			continue
		}
		id := TrackID(m.AssignedTrack)
		plan.Tracks[id] = append(plan.Tracks[id], m.Clone())
	}
	for _, t := range TrackOrder {
		ms := plan.Tracks[t]
		sort.SliceStable(ms, func(a, b int) bool { return ms[a].TimeMS < ms[b].TimeMS })
	}
	return plan
}

func annotate(m *marker.Marker, t TrackID) {
	m.AssignedTrack = string(t)
	m.AssignedChannels = t.Channels()
}

// Count returns the number of assigned markers.
func (p Plan) Count() int {
	n := 0
	for _, ms := range p.Tracks {
		n += len(ms)
	}
	return n
}

// Summary renders a short human-readable description of the plan.
func (p Plan) Summary() string {
	var b strings.Builder
	for _, t := range TrackOrder {
		ch := p.Tracks[t]
		fmt.Fprintf(&b, "%-9s ch %-4s %d marker(s)\n", t, channelLabel(t.Channels()), len(ch))
	}
	if n := len(p.Unassigned); n > 0 {
		fmt.Fprintf(&b, "unassigned         %d marker(s)\n", n)
	}
	return b.String()
}

func channelLabel(ch []int) string {
	parts := make([]string, len(ch))
	for i, c := range ch {
		parts[i] = fmt.Sprint(c)
	}
	return strings.Join(parts, "-")
}
