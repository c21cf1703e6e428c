package elevenlabs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/satindergrewal/cuemap/internal/marker"
)

// DefaultMusicLengthMS is used when a music prompt has no sections.
const DefaultMusicLengthMS = 10000

var (
	errDescriptionRequired = errors.New("description is required")
	errTextRequired        = errors.New("text is required")
	errStyleRequired       = errors.New("at least one positive style is required")

	// ErrNotGeneratable is returned for marker kinds that carry no audio.
	ErrNotGeneratable = errors.New("elevenlabs: marker type cannot be generated")
)

// Section is one part of a composition plan.
type Section struct {
	SectionName         string   `json:"section_name"`
	PositiveLocalStyles []string `json:"positive_local_styles"`
	NegativeLocalStyles []string `json:"negative_local_styles"`
	DurationMS          int      `json:"duration_ms"`
	Lines               []string `json:"lines"`
}

// CompositionPlan is the structured music request.
type CompositionPlan struct {
	PositiveGlobalStyles []string  `json:"positive_global_styles"`
	NegativeGlobalStyles []string  `json:"negative_global_styles"`
	Sections             []Section `json:"sections"`
}

// PlanFor converts music prompt data into a composition plan. Unnamed
// sections are numbered and sections without a duration get 3 seconds.
func PlanFor(p marker.PromptData) CompositionPlan {
	plan := CompositionPlan{
		PositiveGlobalStyles: nonNil(p.PositiveGlobalStyles),
		NegativeGlobalStyles: nonNil(p.NegativeGlobalStyles),
		Sections:             make([]Section, 0, len(p.Sections)),
	}
	for i, s := range p.Sections {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("Section %d", i+1)
		}
		d := s.DurationMS
		if d <= 0 {
			d = 3000
		}
		plan.Sections = append(plan.Sections, Section{
			SectionName:         name,
			PositiveLocalStyles: nonNil(s.PositiveLocalStyles),
			NegativeLocalStyles: nonNil(s.NegativeLocalStyles),
			DurationMS:          d,
			Lines:               []string{},
		})
	}
	return plan
}

// Validate checks the plan against service limits.
func (p CompositionPlan) Validate() error {
	if len(p.PositiveGlobalStyles) == 0 {
		return fmt.Errorf("music: %w", errStyleRequired)
	}
	for i, s := range p.Sections {
		if s.DurationMS > marker.MaxSectionDurationMS {
			return &marker.ValidationError{
				Field:  "sections",
				Reason: fmt.Sprintf("section %d exceeds the %d ms limit; split it into smaller parts", i+1, marker.MaxSectionDurationMS),
			}
		}
	}
	return nil
}

// DurationMS is the total planned length.
func (p CompositionPlan) DurationMS() int {
	if len(p.Sections) == 0 {
		return DefaultMusicLengthMS
	}
	total := 0
	for _, s := range p.Sections {
		total += s.DurationMS
	}
	return total
}

// Prompt flattens the plan into a text prompt.
func (p CompositionPlan) Prompt() string {
	var parts []string
	if len(p.PositiveGlobalStyles) > 0 {
		parts = append(parts, "Musical style: "+strings.Join(p.PositiveGlobalStyles, ", "))
	}
	if len(p.NegativeGlobalStyles) > 0 {
		parts = append(parts, "Avoid: "+strings.Join(p.NegativeGlobalStyles, ", "))
	}
	for _, s := range p.Sections {
		desc := s.SectionName
		if len(s.PositiveLocalStyles) > 0 {
			desc += ": " + strings.Join(s.PositiveLocalStyles, ", ")
		}
		parts = append(parts, fmt.Sprintf("%s (%.1fs)", desc, float64(s.DurationMS)/1000))
	}
	if len(parts) == 0 {
		return "instrumental background music"
	}
	return strings.Join(parts, ". ")
}

// ValidatePrompt reports whether p has what its kind needs to be generated.
// It never contacts the service.
func ValidatePrompt(p marker.PromptData) error {
	if err := p.Validate(); err != nil {
		return err
	}
	switch p.Kind {
	case marker.TypeSFX:
		if strings.TrimSpace(p.Description) == "" {
			return &marker.ValidationError{Field: "description", Reason: "SFX " + errDescriptionRequired.Error()}
		}
	case marker.TypeVoice:
		if strings.TrimSpace(p.Text) == "" {
			return &marker.ValidationError{Field: "text", Reason: "voice " + errTextRequired.Error()}
		}
	case marker.TypeMusic:
		if err := PlanFor(p).Validate(); err != nil {
			var ve *marker.ValidationError
			if errors.As(err, &ve) {
				return err
			}
			return &marker.ValidationError{Field: "positive_global_styles", Reason: "music requires " + errStyleRequired.Error()}
		}
	default:
		return fmt.Errorf("%s: %w", p.Kind, ErrNotGeneratable)
	}
	return nil
}

// Generate validates p and calls the endpoint for its kind.
func (c *Client) Generate(ctx context.Context, p marker.PromptData) (*Result, error) {
	if err := ValidatePrompt(p); err != nil {
		return nil, err
	}
	switch p.Kind {
	case marker.TypeSFX:
		return c.SoundEffect(ctx, p.Description)
	case marker.TypeVoice:
		return c.Voice(ctx, p.VoiceProfile, p.Text)
	case marker.TypeMusic:
		return c.Music(ctx, PlanFor(p))
	}
	return nil, ErrNotGeneratable
}

func nonNil(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
