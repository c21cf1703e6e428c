package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/cuemap/internal/assembly"
	"github.com/satindergrewal/cuemap/internal/audio"
	"github.com/satindergrewal/cuemap/internal/elevenlabs"
	"github.com/satindergrewal/cuemap/internal/generate"
	"github.com/satindergrewal/cuemap/internal/history"
	"github.com/satindergrewal/cuemap/internal/marker"
	"github.com/satindergrewal/cuemap/internal/store"
)

type stubGen struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
}

func (g *stubGen) Generate(ctx context.Context, p marker.PromptData) (*elevenlabs.Result, error) {
	g.mu.Lock()
	g.calls++
	gate := g.gate
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &elevenlabs.Result{Audio: []byte("audio"), AssetID: "id-" + p.Description}, nil
}

func newSession(t *testing.T, durationMS int, gen generate.Generator) *Session {
	t.Helper()
	s := store.New()
	h := history.New(0)
	var d *generate.Dispatcher
	if gen != nil {
		d = generate.NewDispatcher(s, h, gen, t.TempDir(), zerolog.Nop())
	}
	return New(s, h, d, NewBlankTimeline(durationMS), zerolog.Nop())
}

func addSFX(t *testing.T, s *Session, ms int, desc string) marker.Marker {
	t.Helper()
	m, err := s.AddMarker(marker.TypeSFX, ms, "")
	if err != nil {
		t.Fatalf("AddMarker: %v", err)
	}
	if desc != "" {
		if err := s.SetPrompt(m.ID, marker.SFXPrompt(desc)); err != nil {
			t.Fatalf("SetPrompt: %v", err)
		}
	}
	got, err := s.Marker(m.ID)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

// --- Adding markers ---

func TestAddMarkerAtNow(t *testing.T) {
	s := newSession(t, 0, nil)
	if _, err := s.AddMarkerAtNow(marker.TypeSFX, ""); !errors.Is(err, ErrNoMedia) {
		t.Fatalf("unloaded err = %v, want ErrNoMedia", err)
	}

	tl := NewBlankTimeline(10000)
	s = New(store.New(), history.New(0), nil, tl, zerolog.Nop())
	tl.Seek(2500)
	m, err := s.AddMarkerAtNow(marker.TypeVoice, "intro")
	if err != nil {
		t.Fatalf("AddMarkerAtNow: %v", err)
	}
	if m.TimeMS != 2500 || m.Name != "intro" {
		t.Errorf("marker = %d %q, want 2500 %q", m.TimeMS, m.Name, "intro")
	}
	if m.Prompt.Kind != marker.TypeVoice {
		t.Errorf("prompt kind = %s, want voice", m.Prompt.Kind)
	}
}

func TestAddMarkerSlots(t *testing.T) {
	s := newSession(t, 0, nil)
	var slots []string
	for _, typ := range []marker.Type{marker.TypeSFX, marker.TypeSFX, marker.TypeVoice, marker.TypeSFX} {
		m, err := s.AddMarker(typ, 0, "")
		if err != nil {
			t.Fatalf("AddMarker: %v", err)
		}
		slots = append(slots, m.AssetSlot)
	}
	want := []string{"sfx_0", "sfx_1", "voice_0", "sfx_2"}
	if diff := cmp.Diff(want, slots); diff != "" {
		t.Errorf("slots mismatch (-want +got):\n%s", diff)
	}
	if _, err := s.AddMarker("bogus", 0, ""); !marker.IsValidation(err) {
		t.Errorf("invalid type err = %v, want ValidationError", err)
	}
}

// --- Moving ---

func TestMoveClampsAndUndoes(t *testing.T) {
	s := newSession(t, 5000, nil)
	m := addSFX(t, s, 1000, "")

	if err := s.Move(m.ID, 9000); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, _ := s.Marker(m.ID)
	if got.TimeMS != 5000 {
		t.Errorf("TimeMS = %d, want 5000", got.TimeMS)
	}
	if ok, err := s.Undo(); !ok || err != nil {
		t.Fatalf("Undo = %v, %v", ok, err)
	}
	got, _ = s.Marker(m.ID)
	if got.TimeMS != 1000 {
		t.Errorf("TimeMS after undo = %d, want 1000", got.TimeMS)
	}
}

func TestSlotsAreNotReusedAfterDelete(t *testing.T) {
	s := newSession(t, 0, nil)
	a := addSFX(t, s, 100, "a")
	b := addSFX(t, s, 200, "b")
	if err := s.Delete(b.ID); err != nil {
		t.Fatal(err)
	}
	c := addSFX(t, s, 300, "c")
	d := addSFX(t, s, 400, "d")

	// Retyping takes a fresh number of the new type too.
	v, err := s.AddMarker(marker.TypeVoice, 500, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ChangeType(v.ID, marker.TypeSFX, true); err != nil {
		t.Fatal(err)
	}
	retyped, err := s.Store().GetByID(v.ID)
	if err != nil {
		t.Fatal(err)
	}

	files := map[string]string{}
	for _, m := range []marker.Marker{a, c, d, retyped} {
		f := marker.VersionFile(m, 1)
		if other, dup := files[f]; dup {
			t.Errorf("%s shared by %s and %s", f, other, m.ID)
		}
		files[f] = m.ID
	}
	got := []string{a.AssetSlot, c.AssetSlot, d.AssetSlot, retyped.AssetSlot}
	if diff := cmp.Diff([]string{"sfx_0", "sfx_2", "sfx_3", "sfx_4"}, got); diff != "" {
		t.Errorf("slots mismatch (-want +got):\n%s", diff)
	}
}

func TestNudge(t *testing.T) {
	s := newSession(t, 1000, nil)
	m := addSFX(t, s, 0, "")
	before := s.History().UndoLen()

	moved, err := s.Nudge(m.ID, -50)
	if err != nil || moved {
		t.Errorf("Nudge at start = %v, %v, want false, nil", moved, err)
	}
	if s.History().UndoLen() != before {
		t.Error("no-op nudge was recorded")
	}

	moved, err = s.NudgeFrames(m.ID, 2, 30)
	if err != nil || !moved {
		t.Fatalf("NudgeFrames = %v, %v", moved, err)
	}
	got, _ := s.Marker(m.ID)
	if got.TimeMS != 66 {
		t.Errorf("TimeMS = %d, want 66", got.TimeMS)
	}

	if _, err := s.Nudge("missing", 10); !errors.Is(err, marker.ErrNotFound) {
		t.Errorf("missing err = %v, want ErrNotFound", err)
	}
}

// --- Editing ---

func TestSetPromptKindMismatch(t *testing.T) {
	s := newSession(t, 0, nil)
	m := addSFX(t, s, 0, "")

	err := s.SetPrompt(m.ID, marker.VoicePrompt("", "hello"))
	if !marker.IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if err := s.SetPrompt(m.ID, marker.SFXPrompt("rain")); err != nil {
		t.Fatalf("SetPrompt: %v", err)
	}
	if err := s.Rename(m.ID, "storm"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	got, _ := s.Marker(m.ID)
	if got.Prompt.Description != "rain" || got.Name != "storm" {
		t.Errorf("marker = %q %q", got.Prompt.Description, got.Name)
	}

	s.Undo()
	s.Undo()
	got, _ = s.Marker(m.ID)
	if got.Prompt.Description != "" || got.Name != "" {
		t.Errorf("after undo = %q %q, want empty", got.Prompt.Description, got.Name)
	}
}

func TestChangeType(t *testing.T) {
	s := newSession(t, 0, &stubGen{})
	empty := addSFX(t, s, 0, "")
	if err := s.ChangeType(empty.ID, marker.TypeMusic, false); err != nil {
		t.Fatalf("ChangeType empty: %v", err)
	}
	got, _ := s.Marker(empty.ID)
	if got.Type != marker.TypeMusic || got.Prompt.Kind != marker.TypeMusic || got.AssetSlot != "music_0" {
		t.Errorf("retyped = %s/%s/%s", got.Type, got.Prompt.Kind, got.AssetSlot)
	}

	drafted := addSFX(t, s, 100, "glass")
	if err := s.ChangeType(drafted.ID, marker.TypeVoice, false); !errors.Is(err, ErrUnsavedPrompt) {
		t.Errorf("drafted err = %v, want ErrUnsavedPrompt", err)
	}

	if _, err := s.GenerateSync(context.Background(), drafted.ID); err != nil {
		t.Fatalf("GenerateSync: %v", err)
	}
	if err := s.ChangeType(drafted.ID, marker.TypeVoice, false); !errors.Is(err, ErrTypeLocked) {
		t.Errorf("generated err = %v, want ErrTypeLocked", err)
	}

	original, _ := s.Marker(drafted.ID)
	if err := s.ChangeType(drafted.ID, marker.TypeVoice, true); err != nil {
		t.Fatalf("forced ChangeType: %v", err)
	}
	got, _ = s.Marker(drafted.ID)
	if got.Type != marker.TypeVoice || got.CurrentVersion != 0 || len(got.Versions) != 0 {
		t.Errorf("forced = %s v%d (%d versions)", got.Type, got.CurrentVersion, len(got.Versions))
	}

	if _, err := s.Undo(); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Marker(drafted.ID)
	if diff := cmp.Diff(original, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("undo mismatch (-want +got):\n%s", diff)
	}
}

func TestRollback(t *testing.T) {
	s := newSession(t, 0, &stubGen{})
	m := addSFX(t, s, 0, "first")
	ctx := context.Background()

	if _, err := s.GenerateSync(ctx, m.ID); err != nil {
		t.Fatalf("GenerateSync 1: %v", err)
	}
	if err := s.SetPrompt(m.ID, marker.SFXPrompt("second")); err != nil {
		t.Fatal(err)
	}
	out, err := s.GenerateSync(ctx, m.ID)
	if err != nil {
		t.Fatalf("GenerateSync 2: %v", err)
	}
	if out.Version != 2 || out.AssetID != "id-second" {
		t.Errorf("outcome = v%d %s", out.Version, out.AssetID)
	}

	if err := s.Rollback(m.ID, 1); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	got, _ := s.Marker(m.ID)
	if got.CurrentVersion != 1 || got.Prompt.Description != "first" || got.AssetID() != "id-first" {
		t.Errorf("after rollback = v%d %q %s", got.CurrentVersion, got.Prompt.Description, got.AssetID())
	}
	if err := s.Rollback(m.ID, 7); !marker.IsValidation(err) {
		t.Errorf("missing version err = %v, want ValidationError", err)
	}

	s.Undo()
	got, _ = s.Marker(m.ID)
	if got.CurrentVersion != 2 {
		t.Errorf("CurrentVersion after undo = %d, want 2", got.CurrentVersion)
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := newSession(t, 0, nil)
	a := addSFX(t, s, 0, "")
	addSFX(t, s, 10, "")
	addSFX(t, s, 20, "")

	if err := s.Delete(a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	n, err := s.Clear()
	if err != nil || n != 2 {
		t.Fatalf("Clear = %d, %v, want 2", n, err)
	}
	if got := len(s.Snapshot()); got != 0 {
		t.Errorf("len after clear = %d, want 0", got)
	}
	for i := 0; i < 3; i++ {
		s.Undo()
	}
	if got := len(s.Snapshot()); got != 3 {
		t.Errorf("len after undo = %d, want 3", got)
	}
}

func TestUndoRedoEmpty(t *testing.T) {
	s := newSession(t, 0, nil)
	if ok, err := s.Undo(); ok || err != nil {
		t.Errorf("Undo = %v, %v, want false, nil", ok, err)
	}
	if ok, err := s.Redo(); ok || err != nil {
		t.Errorf("Redo = %v, %v, want false, nil", ok, err)
	}
}

func TestLoadClearsHistory(t *testing.T) {
	s := newSession(t, 0, nil)
	addSFX(t, s, 0, "")

	imported := []marker.Marker{marker.New(marker.TypeVoice, 300, "a"), marker.New(marker.TypeSFX, 100, "b")}
	if err := s.Load(imported); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.History().CanUndo() {
		t.Error("history not cleared")
	}
	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].Name != "b" {
		t.Errorf("snapshot = %+v", snap)
	}
}

// --- Generation ---

func TestGenerateWithoutDispatcher(t *testing.T) {
	s := newSession(t, 0, nil)
	m := addSFX(t, s, 0, "x")
	if _, err := s.Generate(context.Background(), m.ID); !errors.Is(err, ErrNoGenerator) {
		t.Errorf("Generate err = %v, want ErrNoGenerator", err)
	}
	if _, err := s.GenerateBatch(context.Background(), nil, nil); !errors.Is(err, ErrNoGenerator) {
		t.Errorf("GenerateBatch err = %v, want ErrNoGenerator", err)
	}
	if got := s.ApplyReady(); got != nil {
		t.Errorf("ApplyReady = %v, want nil", got)
	}
}

func TestGenerateDoesNotBlockEdits(t *testing.T) {
	gen := &stubGen{gate: make(chan struct{})}
	s := newSession(t, 0, gen)
	m := addSFX(t, s, 0, "slow")
	ctx := context.Background()

	job, err := s.Generate(ctx, m.ID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Rename(m.ID, "edited meanwhile") }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Rename: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Rename blocked by in-flight generation")
	}

	close(gen.gate)
	out, err := s.Wait(ctx, job)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	got, _ := s.Marker(m.ID)
	if got.Name != "edited meanwhile" || got.Status() != marker.StatusGenerated || out.Version != 1 {
		t.Errorf("after generation = %q %s v%d", got.Name, got.Status(), out.Version)
	}
}

func TestGenerateBatchMissing(t *testing.T) {
	gen := &stubGen{}
	s := newSession(t, 0, gen)
	addSFX(t, s, 0, "a")
	addSFX(t, s, 10, "b")
	if _, err := s.AddMarker(marker.TypeMusicControl, 20, ""); err != nil {
		t.Fatal(err)
	}

	var seen []int
	sum, err := s.GenerateBatch(context.Background(), nil, func(i, total int, m marker.Marker) {
		seen = append(seen, i)
	})
	if err != nil {
		t.Fatalf("GenerateBatch: %v", err)
	}
	if sum.Total != 2 || sum.Succeeded != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if diff := cmp.Diff([]int{1, 2}, seen); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}

	sum, _ = s.GenerateBatch(context.Background(), generate.Missing, nil)
	if sum.Total != 0 {
		t.Errorf("second pass Total = %d, want 0", sum.Total)
	}
}

// --- Assembly ---

func TestAssembleUsesTimelineDuration(t *testing.T) {
	assets := t.TempDir()
	m := marker.New(marker.TypeVoice, 0, "")
	m.AssetSlot = marker.SlotFor(marker.TypeVoice, 0)
	if _, err := marker.AddNewVersion(&m, marker.VoicePrompt("", "hi"), time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := marker.MarkGenerating(&m); err != nil {
		t.Fatal(err)
	}
	if err := marker.CompleteVersion(&m, "VOX_00000_v1.wav", ""); err != nil {
		t.Fatal(err)
	}
	clip := audio.Silence(48000, 1, 4800)
	clip.Samples[0] = 1000
	if err := audio.WriteWAVFile(filepath.Join(assets, "voice", "VOX_00000_v1.wav"), clip); err != nil {
		t.Fatal(err)
	}

	s := newSession(t, 1000, nil)
	if err := s.Load([]marker.Marker{m}); err != nil {
		t.Fatal(err)
	}
	a := assembly.NewAssembler(assembly.NewEngine(assets, audio.SampleRate, zerolog.Nop()), zerolog.Nop())
	res, err := s.Assemble(context.Background(), a, assembly.Options{OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if res.Frames != 48000 || res.Channels != 5 {
		t.Errorf("result = %d frames %d ch, want 48000 frames 5 ch", res.Frames, res.Channels)
	}
}

// --- Timeline ---

func TestBlankTimeline(t *testing.T) {
	tl := NewBlankTimeline(0)
	if tl.IsLoaded() {
		t.Error("zero-duration timeline reports loaded")
	}
	tl.Load(3000)
	tests := []struct {
		seek, want int
	}{
		{-10, 0},
		{1500, 1500},
		{4000, 3000},
	}
	for _, tt := range tests {
		if got := tl.Seek(tt.seek); got != tt.want {
			t.Errorf("Seek(%d) = %d, want %d", tt.seek, got, tt.want)
		}
	}
	if got := tl.Step(-500); got != 2500 {
		t.Errorf("Step(-500) = %d, want 2500", got)
	}
}
