// Package template reads and writes marker templates: the JSON document that
// carries a timeline's markers between sessions and tools.
package template

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/uuid"

	"github.com/satindergrewal/cuemap/internal/fileutil"
	"github.com/satindergrewal/cuemap/internal/marker"
)

const (
	DefaultID   = "TEMPLATE"
	DefaultName = "Untitled"
)

// ErrMissingMarkers is returned for documents without a "markers" array.
var ErrMissingMarkers = errors.New("invalid template: 'markers' field missing")

// Template is a named, timed list of markers.
type Template struct {
	ID         string          `json:"template_id"`
	Name       string          `json:"template_name"`
	DurationMS int             `json:"duration_ms"`
	Markers    []marker.Marker `json:"markers"`
}

// New builds a template from a marker snapshot. Empty id and name get the
// defaults.
func New(id, name string, durationMS int, markers []marker.Marker) *Template {
	t := &Template{ID: id, Name: name, DurationMS: durationMS, Markers: make([]marker.Marker, len(markers))}
	for i, m := range markers {
		t.Markers[i] = m.Clone()
	}
	t.normalize()
	return t
}

// Read decodes a template. Each marker must carry time_ms and type; legacy
// marker shapes are migrated while decoding. Negative times and durations
// are clamped to zero, markers are sorted by time, duplicate or missing ids
// are replaced and missing asset slots are filled in.
func Read(r io.Reader) (*Template, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}

	var head struct {
		Markers []json.RawMessage `json:"markers"`
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON file: %w", err)
	}
	if _, ok := raw["markers"]; !ok {
		return nil, ErrMissingMarkers
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("'markers' must be a list: %w", err)
	}

	t := &Template{ID: DefaultID, Name: DefaultName}
	if v, ok := raw["template_id"]; ok {
		json.Unmarshal(v, &t.ID)
	}
	if v, ok := raw["template_name"]; ok {
		json.Unmarshal(v, &t.Name)
	}
	if v, ok := raw["duration_ms"]; ok {
		if err := json.Unmarshal(v, &t.DurationMS); err != nil {
			return nil, fmt.Errorf("duration_ms: %w", err)
		}
	}

	t.Markers = make([]marker.Marker, 0, len(head.Markers))
	for i, rm := range head.Markers {
		if err := requireFields(rm); err != nil {
			return nil, fmt.Errorf("marker %d: %w", i, err)
		}
		var m marker.Marker
		if err := json.Unmarshal(rm, &m); err != nil {
			return nil, fmt.Errorf("marker %d: %w", i, err)
		}
		t.Markers = append(t.Markers, m)
	}
	t.normalize()
	return t, nil
}

func requireFields(rm json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rm, &fields); err != nil {
		return &marker.ValidationError{Field: "marker", Reason: "not an object"}
	}
	for _, k := range []string{"time_ms", "type"} {
		if _, ok := fields[k]; !ok {
			return &marker.ValidationError{Field: k, Reason: "missing"}
		}
	}
	return nil
}

// ReadFile opens and decodes the template at path.
func ReadFile(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer f.Close()
	return Read(f)
}

func (t *Template) normalize() {
	if t.ID == "" {
		t.ID = DefaultID
	}
	if t.Name == "" {
		t.Name = DefaultName
	}
	if t.DurationMS < 0 {
		t.DurationMS = 0
	}
	if t.Markers == nil {
		t.Markers = []marker.Marker{}
	}

	seen := make(map[string]bool, len(t.Markers))
	slots := make(map[marker.Type]int)
	for _, m := range t.Markers {
		if m.AssetSlot != "" && m.SlotNumber() >= slots[m.Type] {
			slots[m.Type] = m.SlotNumber() + 1
		}
	}
	for i := range t.Markers {
		m := &t.Markers[i]
		if m.TimeMS < 0 {
			m.TimeMS = 0
		}
		if m.ID == "" || seen[m.ID] {
			m.ID = uuid.NewString()
		}
		seen[m.ID] = true
		if m.AssetSlot == "" {
			m.AssetSlot = marker.SlotFor(m.Type, slots[m.Type])
			slots[m.Type]++
		}
	}
	sort.SliceStable(t.Markers, func(a, b int) bool { return t.Markers[a].TimeMS < t.Markers[b].TimeMS })
}

// Write encodes t as indented JSON.
func Write(w io.Writer, t *Template) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	return nil
}

// WriteFile writes t to path, creating parent directories. The file is
// replaced atomically.
func WriteFile(path string, t *Template) error {
	var buf bytes.Buffer
	if err := Write(&buf, t); err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, buf.Bytes())
}

// Counts returns the number of markers per type.
func (t *Template) Counts() map[marker.Type]int {
	out := make(map[marker.Type]int, len(marker.Types))
	for _, m := range t.Markers {
		out[m.Type]++
	}
	return out
}
