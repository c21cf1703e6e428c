package marker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxSectionDurationMS is the longest music section the generation service accepts.
const MaxSectionDurationMS = 120000

// MusicSection is one timed part of a music composition.
type MusicSection struct {
	Name                string   `json:"sectionName"`
	DurationMS          int      `json:"durationMs"`
	PositiveLocalStyles []string `json:"positiveLocalStyles"`
	NegativeLocalStyles []string `json:"negativeLocalStyles"`
}

// Clone returns a deep copy of the section.
func (s MusicSection) Clone() MusicSection {
	s.PositiveLocalStyles = cloneStrings(s.PositiveLocalStyles)
	s.NegativeLocalStyles = cloneStrings(s.NegativeLocalStyles)
	return s
}

// PromptData holds the generation parameters for a marker. Kind selects
// which fields are meaningful:
//
//	sfx, music_control  Description
//	voice               VoiceProfile, Text
//	music               PositiveGlobalStyles, NegativeGlobalStyles, Sections
//
// Fields belonging to another kind must be empty; Validate enforces this.
type PromptData struct {
	Kind Type

	Description string

	VoiceProfile string
	Text         string

	PositiveGlobalStyles []string
	NegativeGlobalStyles []string
	Sections             []MusicSection
}

// DefaultPrompt returns an empty but valid prompt for t.
func DefaultPrompt(t Type) PromptData {
	switch t {
	case TypeMusic:
		return PromptData{Kind: TypeMusic, PositiveGlobalStyles: []string{}, NegativeGlobalStyles: []string{}, Sections: []MusicSection{}}
	case TypeVoice:
		return PromptData{Kind: TypeVoice}
	case TypeMusicControl:
		return PromptData{Kind: TypeMusicControl}
	}
	return PromptData{Kind: TypeSFX}
}

func SFXPrompt(description string) PromptData {
	return PromptData{Kind: TypeSFX, Description: description}
}

func VoicePrompt(profile, text string) PromptData {
	return PromptData{Kind: TypeVoice, VoiceProfile: profile, Text: text}
}

func MusicPrompt(positive, negative []string, sections []MusicSection) PromptData {
	p := DefaultPrompt(TypeMusic)
	p.PositiveGlobalStyles = append(p.PositiveGlobalStyles, positive...)
	p.NegativeGlobalStyles = append(p.NegativeGlobalStyles, negative...)
	for _, s := range sections {
		p.Sections = append(p.Sections, s.Clone())
	}
	return p
}

func ControlPrompt(description string) PromptData {
	return PromptData{Kind: TypeMusicControl, Description: description}
}

// Clone returns a deep copy.
func (p PromptData) Clone() PromptData {
	p.PositiveGlobalStyles = cloneStrings(p.PositiveGlobalStyles)
	p.NegativeGlobalStyles = cloneStrings(p.NegativeGlobalStyles)
	if p.Sections != nil {
		sections := make([]MusicSection, len(p.Sections))
		for i, s := range p.Sections {
			sections[i] = s.Clone()
		}
		p.Sections = sections
	}
	return p
}

// IsEmpty reports whether the prompt carries no user content.
func (p PromptData) IsEmpty() bool {
	return strings.TrimSpace(p.Description) == "" &&
		strings.TrimSpace(p.VoiceProfile) == "" &&
		strings.TrimSpace(p.Text) == "" &&
		len(p.PositiveGlobalStyles) == 0 &&
		len(p.NegativeGlobalStyles) == 0 &&
		len(p.Sections) == 0
}

// Validate checks that only the fields of Kind are populated.
func (p PromptData) Validate() error {
	if !p.Kind.Valid() {
		return &ValidationError{Field: "prompt_data", Reason: fmt.Sprintf("invalid kind: %q", p.Kind)}
	}
	hasDescription := p.Description != ""
	hasVoice := p.VoiceProfile != "" || p.Text != ""
	hasMusic := len(p.PositiveGlobalStyles) > 0 || len(p.NegativeGlobalStyles) > 0 || len(p.Sections) > 0

	var foreign bool
	switch p.Kind {
	case TypeSFX, TypeMusicControl:
		foreign = hasVoice || hasMusic
	case TypeVoice:
		foreign = hasDescription || hasMusic
	case TypeMusic:
		foreign = hasDescription || hasVoice
	}
	if foreign {
		return &ValidationError{Field: "prompt_data", Reason: fmt.Sprintf("fields do not match kind %s", p.Kind)}
	}
	for i, s := range p.Sections {
		if s.DurationMS < 0 {
			return &ValidationError{Field: "prompt_data.sections", Reason: fmt.Sprintf("section %d has negative duration", i)}
		}
	}
	return nil
}

// Summary is a one-line description used in listings.
func (p PromptData) Summary() string {
	switch p.Kind {
	case TypeVoice:
		if p.VoiceProfile == "" {
			return p.Text
		}
		return p.VoiceProfile + ": " + p.Text
	case TypeMusic:
		s := strings.Join(p.PositiveGlobalStyles, ", ")
		if n := len(p.Sections); n > 0 {
			s = fmt.Sprintf("%s (%d sections)", s, n)
		}
		return s
	}
	return p.Description
}

// TotalSectionMS sums the section durations of a music prompt.
func (p PromptData) TotalSectionMS() int {
	total := 0
	for _, s := range p.Sections {
		total += s.DurationMS
	}
	return total
}

type descriptionWire struct {
	Description string `json:"description"`
}

type voiceWire struct {
	VoiceProfile string `json:"voice_profile"`
	Text         string `json:"text"`
}

type musicWire struct {
	PositiveGlobalStyles []string       `json:"positiveGlobalStyles"`
	NegativeGlobalStyles []string       `json:"negativeGlobalStyles"`
	Sections             []MusicSection `json:"sections"`
}

// promptWire is the superset of every variant's fields, used for decoding
// before the kind is known.
type promptWire struct {
	Description          *string        `json:"description"`
	VoiceProfile         *string        `json:"voice_profile"`
	Text                 *string        `json:"text"`
	PositiveGlobalStyles []string       `json:"positiveGlobalStyles"`
	NegativeGlobalStyles []string       `json:"negativeGlobalStyles"`
	Sections             []MusicSection `json:"sections"`
}

// MarshalJSON writes only the fields of the prompt's kind.
func (p PromptData) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case TypeVoice:
		return json.Marshal(voiceWire{VoiceProfile: p.VoiceProfile, Text: p.Text})
	case TypeMusic:
		w := musicWire{
			PositiveGlobalStyles: nonNil(p.PositiveGlobalStyles),
			NegativeGlobalStyles: nonNil(p.NegativeGlobalStyles),
			Sections:             p.Sections,
		}
		if w.Sections == nil {
			w.Sections = []MusicSection{}
		}
		return json.Marshal(w)
	}
	return json.Marshal(descriptionWire{Description: p.Description})
}

// UnmarshalJSON decodes any variant. The kind is inferred from the keys
// present; callers that know the owning marker's type should follow up
// with As to pin it.
func (p *PromptData) UnmarshalJSON(data []byte) error {
	var w promptWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := PromptData{
		PositiveGlobalStyles: w.PositiveGlobalStyles,
		NegativeGlobalStyles: w.NegativeGlobalStyles,
		Sections:             w.Sections,
	}
	if w.Description != nil {
		out.Description = *w.Description
	}
	if w.VoiceProfile != nil {
		out.VoiceProfile = *w.VoiceProfile
	}
	if w.Text != nil {
		out.Text = *w.Text
	}
	switch {
	case w.VoiceProfile != nil || w.Text != nil:
		out.Kind = TypeVoice
	case w.PositiveGlobalStyles != nil || w.NegativeGlobalStyles != nil || w.Sections != nil:
		out.Kind = TypeMusic
	default:
		out.Kind = TypeSFX
	}
	*p = out
	return nil
}

// As re-tags the prompt for type t, keeping only that variant's fields.
// Content from a mismatched variant is dropped rather than reinterpreted.
func (p PromptData) As(t Type) PromptData {
	switch t {
	case TypeVoice:
		return VoicePrompt(p.VoiceProfile, p.Text)
	case TypeMusic:
		return MusicPrompt(p.PositiveGlobalStyles, p.NegativeGlobalStyles, p.Sections)
	case TypeMusicControl:
		return ControlPrompt(p.Description)
	}
	return SFXPrompt(p.Description)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
