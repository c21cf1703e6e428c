package marker

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type identifies what kind of audio a marker produces.
type Type string

const (
	TypeSFX          Type = "sfx"
	TypeVoice        Type = "voice"
	TypeMusic        Type = "music"
	TypeMusicControl Type = "music_control"
)

// Types lists every marker type in display order.
var Types = []Type{TypeMusic, TypeSFX, TypeVoice, TypeMusicControl}

// ParseType converts a raw string into a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.TrimSpace(s))
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Reason: fmt.Sprintf("invalid type: %s", s)}
	}
	return t, nil
}

// Valid reports whether t is one of the known marker types.
func (t Type) Valid() bool {
	switch t {
	case TypeSFX, TypeVoice, TypeMusic, TypeMusicControl:
		return true
	}
	return false
}

// AssetPrefix is the filename prefix used for generated assets of this type.
func (t Type) AssetPrefix() string {
	switch t {
	case TypeMusic:
		return "MUS"
	case TypeSFX:
		return "SFX"
	case TypeVoice:
		return "VOX"
	case TypeMusicControl:
		return "CTRL"
	}
	return "ASSET"
}

// Generatable reports whether markers of this type carry audio.
func (t Type) Generatable() bool {
	return t != TypeMusicControl
}

// Status is the generation state of one audio version.
type Status string

const (
	StatusNotYetGenerated Status = "not_yet_generated"
	StatusGenerating      Status = "generating"
	StatusGenerated       Status = "generated"
	StatusFailed          Status = "failed"
)

// ParseStatus accepts both the current identifiers and the legacy
// space-separated spelling written by older templates.
func ParseStatus(s string) (Status, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	switch st := Status(normalized); st {
	case StatusNotYetGenerated, StatusGenerating, StatusGenerated, StatusFailed:
		return st, nil
	case "":
		return StatusNotYetGenerated, nil
	}
	return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("invalid status: %s", s)}
}

// AudioVersion is one generation attempt for a marker.
type AudioVersion struct {
	Version        int        `json:"version"`
	AssetFile      string     `json:"asset_file"`
	AssetID        string     `json:"asset_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Status         Status     `json:"status"`
	PromptSnapshot PromptData `json:"prompt_data_snapshot"`
}

// Clone returns a deep copy of the version.
func (v AudioVersion) Clone() AudioVersion {
	v.PromptSnapshot = v.PromptSnapshot.Clone()
	return v
}

// Marker is a timed audio cue on the timeline.
//
// AssetFile, AssetID and Status are not stored; they are read from the
// current version so they cannot drift from the ledger.
type Marker struct {
	ID             string
	TimeMS         int
	Type           Type
	Name           string
	Prompt         PromptData
	AssetSlot      string
	CurrentVersion int
	Versions       []AudioVersion

	// Derived by track assignment; never persisted.
	AssignedTrack    string
	AssignedChannels []int
}

// New creates a marker with a fresh identity and an empty prompt of the right shape.
func New(t Type, timeMS int, name string) Marker {
	if timeMS < 0 {
		timeMS = 0
	}
	return Marker{
		ID:     uuid.NewString(),
		TimeMS: timeMS,
		Type:   t,
		Name:   name,
		Prompt: DefaultPrompt(t),
	}
}

// SlotFor builds the asset slot identifier for the n-th marker of a type.
func SlotFor(t Type, n int) string {
	return fmt.Sprintf("%s_%d", t, n)
}

// SlotNumber returns the per-type sequence encoded in AssetSlot, or 0.
func (m Marker) SlotNumber() int {
	idx := strings.LastIndex(m.AssetSlot, "_")
	if idx < 0 {
		n, _ := strconv.Atoi(m.AssetSlot)
		return n
	}
	n, err := strconv.Atoi(m.AssetSlot[idx+1:])
	if err != nil {
		return 0
	}
	return n
}

// Clone returns a deep copy of the marker.
func (m Marker) Clone() Marker {
	out := m
	out.Prompt = m.Prompt.Clone()
	if m.Versions != nil {
		out.Versions = make([]AudioVersion, len(m.Versions))
		for i, v := range m.Versions {
			out.Versions[i] = v.Clone()
		}
	}
	if m.AssignedChannels != nil {
		out.AssignedChannels = append([]int(nil), m.AssignedChannels...)
	}
	return out
}

// Version looks up a version by number.
func (m Marker) Version(n int) (AudioVersion, bool) {
	for _, v := range m.Versions {
		if v.Version == n {
			return v, true
		}
	}
	return AudioVersion{}, false
}

// Current returns the active version; false when nothing has been generated.
func (m Marker) Current() (AudioVersion, bool) {
	if m.CurrentVersion == 0 {
		return AudioVersion{}, false
	}
	return m.Version(m.CurrentVersion)
}

// AssetFile returns the current version's file, or the unversioned base
// filename when no version exists yet.
func (m Marker) AssetFile() string {
	if v, ok := m.Current(); ok {
		return v.AssetFile
	}
	return fmt.Sprintf("%s_%05d.mp3", m.Type.AssetPrefix(), m.SlotNumber())
}

// AssetID returns the service-side identifier of the current version.
func (m Marker) AssetID() string {
	if v, ok := m.Current(); ok {
		return v.AssetID
	}
	return ""
}

// Status returns the current version's status.
func (m Marker) Status() Status {
	if v, ok := m.Current(); ok {
		return v.Status
	}
	return StatusNotYetGenerated
}

// HasAudio reports whether the current version finished generating.
func (m Marker) HasAudio() bool {
	return m.Status() == StatusGenerated
}

// DisplayName is the marker name, falling back to its asset slot.
func (m Marker) DisplayName() string {
	if strings.TrimSpace(m.Name) != "" {
		return m.Name
	}
	if m.AssetSlot != "" {
		return m.AssetSlot
	}
	return string(m.Type)
}

// Validate checks the structural invariants of a marker.
func (m Marker) Validate() error {
	if !m.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("invalid type: %s", m.Type)}
	}
	if m.TimeMS < 0 {
		return &ValidationError{Field: "time_ms", Reason: "must not be negative"}
	}
	if m.Prompt.Kind != m.Type {
		return &ValidationError{Field: "prompt_data", Reason: fmt.Sprintf("prompt kind %s does not match type %s", m.Prompt.Kind, m.Type)}
	}
	if err := m.Prompt.Validate(); err != nil {
		return err
	}
	for i, v := range m.Versions {
		if v.Version != i+1 {
			return &ValidationError{Field: "versions", Reason: fmt.Sprintf("version %d at position %d breaks the 1..n sequence", v.Version, i)}
		}
	}
	if m.CurrentVersion != 0 {
		if _, ok := m.Version(m.CurrentVersion); !ok {
			return &ValidationError{Field: "current_version", Reason: fmt.Sprintf("version %d does not exist", m.CurrentVersion)}
		}
	} else if len(m.Versions) > 0 {
		return &ValidationError{Field: "current_version", Reason: "must reference a version when versions exist"}
	}
	return nil
}

// FormatTime renders milliseconds as M:SS.mmm.
func FormatTime(ms int) string {
	if ms < 0 {
		ms = 0
	}
	minutes := ms / 60000
	seconds := (ms % 60000) / 1000
	millis := ms % 1000
	return fmt.Sprintf("%d:%02d.%03d", minutes, seconds, millis)
}
