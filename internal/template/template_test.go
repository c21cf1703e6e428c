package template

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/satindergrewal/cuemap/internal/marker"
)

var now = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func sample(t *testing.T) []marker.Marker {
	t.Helper()
	sfx := marker.New(marker.TypeSFX, 1200, "door")
	sfx.AssetSlot = "sfx_0"
	if _, err := marker.AddNewVersion(&sfx, marker.SFXPrompt("door slam"), now); err != nil {
		t.Fatal(err)
	}
	marker.MarkGenerating(&sfx)
	marker.CompleteVersion(&sfx, "", "abc")
	marker.AddNewVersion(&sfx, marker.SFXPrompt("door creak"), now.Add(time.Minute))
	marker.RollbackToVersion(&sfx, 1)

	voice := marker.New(marker.TypeVoice, 400, "line")
	voice.AssetSlot = "voice_0"
	voice.Prompt = marker.VoicePrompt("old man", "hello there")

	music := marker.New(marker.TypeMusic, 0, "bed")
	music.AssetSlot = "music_0"
	music.Prompt = marker.MusicPrompt([]string{"ambient"}, nil, []marker.MusicSection{{Name: "a", DurationMS: 5000}})
	return []marker.Marker{sfx, voice, music}
}

// --- Round trip ---

func TestRoundTrip(t *testing.T) {
	in := New("T1", "Scene", 9000, sample(t))

	var buf bytes.Buffer
	if err := Write(&buf, in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if diff := cmp.Diff(in, out, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	sfx := out.Markers[2]
	if sfx.CurrentVersion != 1 || len(sfx.Versions) != 2 {
		t.Errorf("sfx current = %d versions = %d, want 1 and 2", sfx.CurrentVersion, len(sfx.Versions))
	}
	if sfx.Status() != marker.StatusGenerated || sfx.AssetID() != "abc" {
		t.Errorf("sfx mirror = %s/%q, want generated/abc", sfx.Status(), sfx.AssetID())
	}
}

func TestNewSortsAndDefaults(t *testing.T) {
	tpl := New("", "", -5, sample(t))
	if tpl.ID != DefaultID || tpl.Name != DefaultName || tpl.DurationMS != 0 {
		t.Errorf("header = %q/%q/%d, want defaults and 0", tpl.ID, tpl.Name, tpl.DurationMS)
	}
	var times []int
	for _, m := range tpl.Markers {
		times = append(times, m.TimeMS)
	}
	if want := []int{0, 400, 1200}; !cmp.Equal(times, want) {
		t.Errorf("times = %v, want %v", times, want)
	}
}

func TestWriteFileAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "scene.json")
	in := New("X", "Y", 100, sample(t))
	if err := WriteFile(path, in); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	out, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(out.Markers) != 3 || out.Name != "Y" {
		t.Errorf("got %d markers name %q", len(out.Markers), out.Name)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the template", len(entries))
	}
}

// --- Import normalization ---

func TestReadNormalizesNegatives(t *testing.T) {
	doc := `{"duration_ms": -100, "markers": [
		{"time_ms": -50, "type": "sfx", "name": "a", "prompt_data": {"description": "x"}},
		{"time_ms": 10, "type": "voice", "name": "b"}
	]}`
	tpl, err := Read(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if tpl.DurationMS != 0 {
		t.Errorf("DurationMS = %d, want 0", tpl.DurationMS)
	}
	if tpl.Markers[0].TimeMS != 0 {
		t.Errorf("TimeMS = %d, want 0", tpl.Markers[0].TimeMS)
	}
	if tpl.ID != DefaultID || tpl.Name != DefaultName {
		t.Errorf("header = %q/%q, want defaults", tpl.ID, tpl.Name)
	}
	if tpl.Markers[0].AssetSlot != "sfx_0" || tpl.Markers[1].AssetSlot != "voice_0" {
		t.Errorf("slots = %q %q, want filled in", tpl.Markers[0].AssetSlot, tpl.Markers[1].AssetSlot)
	}
}

func TestReadFillsSlotsAfterExplicitOnes(t *testing.T) {
	doc := `{"markers": [
		{"time_ms": 0, "type": "sfx", "prompt_data": {"description": "a"}},
		{"time_ms": 10, "type": "sfx", "asset_slot": "sfx_0", "prompt_data": {"description": "b"}},
		{"time_ms": 20, "type": "sfx", "prompt_data": {"description": "c"}}
	]}`
	tpl, err := Read(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var got []string
	for _, m := range tpl.Markers {
		got = append(got, m.AssetSlot)
	}
	if diff := cmp.Diff([]string{"sfx_1", "sfx_0", "sfx_2"}, got); diff != "" {
		t.Errorf("slots mismatch (-want +got):\n%s", diff)
	}
}

func TestReadLegacyMarkers(t *testing.T) {
	doc := `{"template_id": "OLD", "template_name": "legacy", "duration_ms": 3000, "markers": [
		{"time_ms": 0, "type": "voice", "name": "v", "prompt": "narrator: welcome",
		 "asset_slot": "voice_0", "asset_file": "VOX_00000.mp3", "status": "generated"},
		{"time_ms": 500, "type": "sfx", "name": "s", "prompt": "glass break",
		 "asset_slot": "sfx_0", "status": "not yet generated"}
	]}`
	tpl, err := Read(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	v := tpl.Markers[0]
	if v.Prompt.VoiceProfile != "narrator" || v.Prompt.Text != "welcome" {
		t.Errorf("voice prompt = %+v", v.Prompt)
	}
	if v.CurrentVersion != 1 || v.AssetFile() != "VOX_00000_v1.mp3" {
		t.Errorf("voice version = %d file = %q, want synthesized v1", v.CurrentVersion, v.AssetFile())
	}
	s := tpl.Markers[1]
	if s.Prompt.Description != "glass break" || s.CurrentVersion != 0 || len(s.Versions) != 0 {
		t.Errorf("sfx = %+v, want migrated prompt and no versions", s)
	}
}

func TestReadDuplicateIDsReplaced(t *testing.T) {
	doc := `{"markers": [
		{"id": "same", "time_ms": 0, "type": "sfx"},
		{"id": "same", "time_ms": 5, "type": "sfx"}
	]}`
	tpl, err := Read(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	if tpl.Markers[0].ID == tpl.Markers[1].ID {
		t.Error("duplicate ids survived import")
	}
	if tpl.Markers[0].ID != "same" {
		t.Errorf("first id = %q, want kept", tpl.Markers[0].ID)
	}
}

// --- Import errors ---

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		is   error
	}{
		{"missing markers", `{"template_id": "x"}`, ErrMissingMarkers},
		{"not json", `{{{`, nil},
		{"markers not list", `{"markers": 5}`, nil},
		{"missing type", `{"markers": [{"time_ms": 0}]}`, nil},
		{"missing time", `{"markers": [{"type": "sfx"}]}`, nil},
		{"bad type", `{"markers": [{"time_ms": 0, "type": "ambience"}]}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.doc))
			if err == nil {
				t.Fatal("Read succeeded, want error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("err = %v, want %v", err, tt.is)
			}
		})
	}
}

func TestReadValidationErrorsAreTyped(t *testing.T) {
	_, err := Read(strings.NewReader(`{"markers": [{"time_ms": 0, "type": "ambience"}]}`))
	if !marker.IsValidation(err) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestCounts(t *testing.T) {
	tpl := New("", "", 0, sample(t))
	c := tpl.Counts()
	if c[marker.TypeSFX] != 1 || c[marker.TypeVoice] != 1 || c[marker.TypeMusic] != 1 {
		t.Errorf("Counts = %v", c)
	}
}
