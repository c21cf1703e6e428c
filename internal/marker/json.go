package marker

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type markerWire struct {
	ID             string        `json:"id,omitempty"`
	TimeMS         int           `json:"time_ms"`
	Type           string        `json:"type"`
	Name           string        `json:"name"`
	Prompt         *PromptData   `json:"prompt_data,omitempty"`
	LegacyPrompt   *string       `json:"prompt,omitempty"`
	AssetSlot      string        `json:"asset_slot"`
	AssetFile      string        `json:"asset_file"`
	AssetID        *string       `json:"asset_id"`
	Status         string        `json:"status"`
	CurrentVersion int           `json:"current_version"`
	Versions       []versionWire `json:"versions"`
}

type versionWire struct {
	Version        int        `json:"version"`
	AssetFile      string     `json:"asset_file"`
	AssetID        *string    `json:"asset_id"`
	CreatedAt      time.Time  `json:"created_at"`
	Status         string     `json:"status"`
	PromptSnapshot PromptData `json:"prompt_data_snapshot"`
}

// MarshalJSON writes the template representation. The asset_file, asset_id
// and status mirrors are emitted for readers that expect them.
func (m Marker) MarshalJSON() ([]byte, error) {
	prompt := m.Prompt
	w := markerWire{
		ID:             m.ID,
		TimeMS:         m.TimeMS,
		Type:           string(m.Type),
		Name:           m.Name,
		Prompt:         &prompt,
		AssetSlot:      m.AssetSlot,
		AssetFile:      m.AssetFile(),
		Status:         string(m.Status()),
		CurrentVersion: m.CurrentVersion,
		Versions:       make([]versionWire, 0, len(m.Versions)),
	}
	if id := m.AssetID(); id != "" {
		w.AssetID = &id
	}
	for _, v := range m.Versions {
		vw := versionWire{
			Version:        v.Version,
			AssetFile:      v.AssetFile,
			CreatedAt:      v.CreatedAt,
			Status:         string(v.Status),
			PromptSnapshot: v.PromptSnapshot,
		}
		if v.AssetID != "" {
			id := v.AssetID
			vw.AssetID = &id
		}
		w.Versions = append(w.Versions, vw)
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads a marker, migrating legacy shapes: a plain "prompt"
// string becomes prompt data, and a marker with a recorded status but no
// version list gets a synthesized version 1.
func (m *Marker) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var w markerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	t, err := ParseType(w.Type)
	if err != nil {
		return err
	}

	out := Marker{
		ID:             w.ID,
		TimeMS:         w.TimeMS,
		Type:           t,
		Name:           w.Name,
		AssetSlot:      w.AssetSlot,
		CurrentVersion: w.CurrentVersion,
	}
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.TimeMS < 0 {
		out.TimeMS = 0
	}

	switch {
	case w.Prompt != nil:
		out.Prompt = w.Prompt.As(t)
	case w.LegacyPrompt != nil:
		out.Prompt = migrateLegacyPrompt(t, *w.LegacyPrompt)
	default:
		out.Prompt = DefaultPrompt(t)
	}

	if _, hasVersions := raw["versions"]; hasVersions {
		for _, vw := range w.Versions {
			st, err := ParseStatus(vw.Status)
			if err != nil {
				return err
			}
			v := AudioVersion{
				Version:        vw.Version,
				AssetFile:      vw.AssetFile,
				CreatedAt:      vw.CreatedAt,
				Status:         st,
				PromptSnapshot: vw.PromptSnapshot.As(t),
			}
			if vw.AssetID != nil {
				v.AssetID = *vw.AssetID
			}
			out.Versions = append(out.Versions, v)
		}
		if len(out.Versions) == 0 {
			out.CurrentVersion = 0
		}
	} else {
		st, err := ParseStatus(w.Status)
		if err != nil {
			return err
		}
		if st != StatusNotYetGenerated {
			v := AudioVersion{
				Version:        1,
				AssetFile:      legacyVersionedFile(w.AssetFile, t, out.SlotNumber()),
				CreatedAt:      time.Now().UTC(),
				Status:         st,
				PromptSnapshot: out.Prompt.Clone(),
			}
			if w.AssetID != nil {
				v.AssetID = *w.AssetID
			}
			out.Versions = []AudioVersion{v}
			out.CurrentVersion = 1
		} else {
			out.CurrentVersion = 0
		}
	}

	if err := out.Validate(); err != nil {
		return err
	}
	*m = out
	return nil
}

func migrateLegacyPrompt(t Type, prompt string) PromptData {
	switch t {
	case TypeVoice:
		if profile, text, ok := strings.Cut(prompt, ":"); ok {
			return VoicePrompt(strings.TrimSpace(profile), strings.TrimSpace(text))
		}
		return VoicePrompt("", prompt)
	case TypeMusic:
		var positive []string
		if prompt != "" {
			positive = []string{prompt}
		}
		return MusicPrompt(positive, nil, nil)
	case TypeMusicControl:
		return ControlPrompt(prompt)
	}
	return SFXPrompt(prompt)
}

func legacyVersionedFile(assetFile string, t Type, slot int) string {
	if assetFile == "" {
		assetFile = fmt.Sprintf("%s_%05d.mp3", t.AssetPrefix(), slot)
	}
	if strings.Contains(assetFile, "_v") {
		return assetFile
	}
	base, ext := assetFile, "mp3"
	if idx := strings.LastIndex(assetFile, "."); idx >= 0 {
		base, ext = assetFile[:idx], assetFile[idx+1:]
	}
	return fmt.Sprintf("%s_v1.%s", base, ext)
}
