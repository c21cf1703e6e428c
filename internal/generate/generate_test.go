package generate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/cuemap/internal/elevenlabs"
	"github.com/satindergrewal/cuemap/internal/history"
	"github.com/satindergrewal/cuemap/internal/marker"
	"github.com/satindergrewal/cuemap/internal/store"
)

// fakeGen answers from a function and counts calls.
type fakeGen struct {
	mu    sync.Mutex
	calls []marker.PromptData
	fn    func(ctx context.Context, p marker.PromptData) (*elevenlabs.Result, error)
}

func (f *fakeGen) Generate(ctx context.Context, p marker.PromptData) (*elevenlabs.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, p)
	}
	return &elevenlabs.Result{Audio: []byte("audio:" + p.Description + p.Text), AssetID: "asset-1"}, nil
}

func (f *fakeGen) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	store *store.Store
	hist  *history.History
	gen   *fakeGen
	d     *Dispatcher
	dir   string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: store.New(), hist: history.New(0), gen: &fakeGen{}, dir: t.TempDir()}
	f.d = NewDispatcher(f.store, f.hist, f.gen, f.dir, zerolog.Nop())
	f.d.now = func() time.Time { return time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) add(t *testing.T, m marker.Marker) string {
	t.Helper()
	if _, err := f.store.Add(m); err != nil {
		t.Fatal(err)
	}
	return m.ID
}

func sfx(ms int, desc string, slot int) marker.Marker {
	m := marker.New(marker.TypeSFX, ms, "")
	m.AssetSlot = marker.SlotFor(marker.TypeSFX, slot)
	m.Prompt = marker.SFXPrompt(desc)
	return m
}

// --- Single generation ---

func TestGenerateSyncInstallsAndWritesFile(t *testing.T) {
	f := setup(t)
	id := f.add(t, sfx(100, "whoosh", 3))

	out, err := f.d.GenerateSync(context.Background(), id)
	if err != nil {
		t.Fatalf("GenerateSync: %v", err)
	}
	m, _ := f.store.GetByID(id)
	if m.CurrentVersion != 1 || m.Status() != marker.StatusGenerated || m.AssetID() != "asset-1" {
		t.Errorf("marker = v%d %s %q, want v1 generated asset-1", m.CurrentVersion, m.Status(), m.AssetID())
	}
	if m.AssetFile() != "SFX_00003_v1.mp3" {
		t.Errorf("AssetFile = %q", m.AssetFile())
	}
	want := filepath.Join(f.dir, "sfx", "SFX_00003_v1.mp3")
	if out.Path != want {
		t.Errorf("Path = %q, want %q", out.Path, want)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "audio:whoosh" {
		t.Errorf("file = %q, %v", data, err)
	}
	if f.hist.UndoLen() != 1 {
		t.Errorf("UndoLen = %d, want 1", f.hist.UndoLen())
	}

	// Undo restores the marker as it was before generation.
	if ok, err := f.hist.Undo(); !ok || err != nil {
		t.Fatalf("Undo = %v, %v", ok, err)
	}
	m, _ = f.store.GetByID(id)
	if len(m.Versions) != 0 || m.CurrentVersion != 0 {
		t.Errorf("after undo versions = %d current = %d, want none", len(m.Versions), m.CurrentVersion)
	}
}

func TestGenerateFailureMarksFailed(t *testing.T) {
	f := setup(t)
	f.gen.fn = func(context.Context, marker.PromptData) (*elevenlabs.Result, error) {
		return nil, errors.New("quota exceeded")
	}
	id := f.add(t, sfx(0, "boom", 0))

	_, err := f.d.GenerateSync(context.Background(), id)
	if !errors.Is(err, ErrGenerationFailed) || !strings.Contains(err.Error(), "quota") {
		t.Fatalf("err = %v, want ErrGenerationFailed wrapping cause", err)
	}
	m, _ := f.store.GetByID(id)
	if m.Status() != marker.StatusFailed || m.CurrentVersion != 1 {
		t.Errorf("marker = v%d %s, want v1 failed", m.CurrentVersion, m.Status())
	}
	if f.hist.UndoLen() != 0 {
		t.Errorf("failed generation recorded in history")
	}
	if f.d.InFlight() != 0 {
		t.Errorf("InFlight = %d, want 0", f.d.InFlight())
	}
}

func TestDispatchRejectsInvalidPromptWithoutVersion(t *testing.T) {
	f := setup(t)
	id := f.add(t, sfx(0, "", 0))
	ctrl := marker.New(marker.TypeMusicControl, 0, "fade")
	f.add(t, ctrl)

	if _, err := f.d.Dispatch(context.Background(), id); !marker.IsValidation(err) {
		t.Errorf("err = %v, want ValidationError", err)
	}
	if _, err := f.d.Dispatch(context.Background(), ctrl.ID); !marker.IsValidation(err) {
		t.Errorf("control err = %v, want ValidationError", err)
	}
	m, _ := f.store.GetByID(id)
	if len(m.Versions) != 0 {
		t.Errorf("versions = %d, want none after rejected dispatch", len(m.Versions))
	}
	if f.gen.count() != 0 {
		t.Errorf("generator called %d times", f.gen.count())
	}
}

func TestDispatchBusy(t *testing.T) {
	f := setup(t)
	release := make(chan struct{})
	f.gen.fn = func(ctx context.Context, p marker.PromptData) (*elevenlabs.Result, error) {
		<-release
		return &elevenlabs.Result{Audio: []byte("x")}, nil
	}
	id := f.add(t, sfx(0, "rain", 0))

	job, err := f.d.Dispatch(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	m, _ := f.store.GetByID(id)
	if m.Status() != marker.StatusGenerating {
		t.Errorf("status = %s, want generating while in flight", m.Status())
	}
	if _, err := f.d.Dispatch(context.Background(), id); !errors.Is(err, ErrBusy) {
		t.Errorf("second dispatch err = %v, want ErrBusy", err)
	}
	close(release)
	if err := f.d.Apply(job); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// Applying twice is harmless.
	if err := f.d.Apply(job); err != nil {
		t.Errorf("second Apply: %v", err)
	}
	if f.hist.UndoLen() != 1 {
		t.Errorf("UndoLen = %d, want 1", f.hist.UndoLen())
	}
}

func TestMoveDuringGenerationIsKept(t *testing.T) {
	f := setup(t)
	release := make(chan struct{})
	f.gen.fn = func(context.Context, marker.PromptData) (*elevenlabs.Result, error) {
		<-release
		return &elevenlabs.Result{Audio: []byte("x"), AssetID: "a"}, nil
	}
	id := f.add(t, sfx(1000, "bell", 0))
	job, _ := f.d.Dispatch(context.Background(), id)

	if err := f.hist.Execute(history.NewMove(f.store, id, 4000)); err != nil {
		t.Fatal(err)
	}
	close(release)
	<-job.Done()
	f.d.ApplyReady()

	m, _ := f.store.GetByID(id)
	if m.TimeMS != 4000 || m.Status() != marker.StatusGenerated {
		t.Errorf("marker = %dms %s, want 4000ms generated", m.TimeMS, m.Status())
	}
}

func TestDeleteDuringGenerationFailsOutcome(t *testing.T) {
	f := setup(t)
	release := make(chan struct{})
	f.gen.fn = func(context.Context, marker.PromptData) (*elevenlabs.Result, error) {
		<-release
		return &elevenlabs.Result{Audio: []byte("x")}, nil
	}
	id := f.add(t, sfx(1000, "gone", 0))
	job, err := f.d.Dispatch(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.hist.Execute(history.NewDelete(f.store, id)); err != nil {
		t.Fatal(err)
	}
	close(release)
	<-job.Done()

	outs := f.d.ApplyReady()
	if len(outs) != 1 || !errors.Is(outs[0].Err, marker.ErrNotFound) {
		t.Fatalf("outcomes = %+v, want ErrNotFound", outs)
	}
	if f.hist.UndoLen() != 1 {
		t.Errorf("UndoLen = %d, want only the delete", f.hist.UndoLen())
	}
	if f.d.InFlight() != 0 {
		t.Errorf("InFlight = %d, want 0", f.d.InFlight())
	}
}

func TestOnInstalledHook(t *testing.T) {
	f := setup(t)
	var got []string
	f.d.SetOnInstalled(func(m marker.Marker) { got = append(got, m.ID) })
	id := f.add(t, sfx(0, "ding", 0))
	if _, err := f.d.GenerateSync(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != id {
		t.Errorf("hook calls = %v, want [%s]", got, id)
	}
}

func TestReadySignal(t *testing.T) {
	f := setup(t)
	id := f.add(t, sfx(0, "ping", 0))
	if _, err := f.d.Dispatch(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	select {
	case <-f.d.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("no ready signal")
	}
	outs := f.d.ApplyReady()
	if len(outs) != 1 || outs[0].Err != nil {
		t.Errorf("outcomes = %+v", outs)
	}
}

// --- Batch ---

func TestSelectors(t *testing.T) {
	fresh := sfx(0, "a", 0)
	failed := sfx(0, "b", 1)
	marker.AddNewVersion(&failed, failed.Prompt, time.Now())
	marker.MarkGenerating(&failed)
	marker.FailVersion(&failed)
	done := sfx(0, "c", 2)
	marker.AddNewVersion(&done, done.Prompt, time.Now())
	marker.MarkGenerating(&done)
	marker.CompleteVersion(&done, "", "")
	ctrl := marker.New(marker.TypeMusicControl, 0, "")
	voice := marker.New(marker.TypeVoice, 0, "")

	tests := []struct {
		name string
		sel  Selector
		m    marker.Marker
		want bool
	}{
		{"missing fresh", Missing, fresh, true},
		{"missing failed", Missing, failed, true},
		{"missing done", Missing, done, false},
		{"missing control", Missing, ctrl, false},
		{"all done", All, done, true},
		{"all control", All, ctrl, false},
		{"by type match", ByType(marker.TypeVoice), voice, true},
		{"by type other", ByType(marker.TypeVoice), fresh, false},
		{"by type control", ByType(marker.TypeMusicControl), ctrl, false},
	}
	for _, tt := range tests {
		if got := tt.sel(tt.m); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBatchMissing(t *testing.T) {
	f := setup(t)
	f.gen.fn = func(_ context.Context, p marker.PromptData) (*elevenlabs.Result, error) {
		if p.Description == "bad" {
			return nil, errors.New("rejected")
		}
		return &elevenlabs.Result{Audio: []byte("1234")}, nil
	}
	f.add(t, sfx(300, "one", 0))
	badID := f.add(t, sfx(100, "bad", 1))
	f.add(t, sfx(200, "", 2)) // invalid prompt, fails validation
	f.add(t, marker.New(marker.TypeMusicControl, 0, ""))

	var order []int
	sum := f.d.Batch(context.Background(), Missing, func(i, total int, m marker.Marker) {
		order = append(order, m.TimeMS)
	})
	if sum.Total != 3 || sum.Succeeded != 1 || sum.Failed != 2 || sum.Cancelled != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if _, ok := sum.Errors[badID]; !ok {
		t.Errorf("Errors = %v, want entry for failed marker", sum.Errors)
	}
	if want := []int{100, 200, 300}; len(order) != 3 || order[0] != want[0] || order[2] != want[2] {
		t.Errorf("progress order = %v, want %v", order, want)
	}
	if sum.Bytes != 4 || !strings.Contains(sum.String(), "1 of 3 generated") {
		t.Errorf("String = %q", sum.String())
	}

	// A second pass retries only the failures.
	f.gen.fn = nil
	again := f.d.Batch(context.Background(), Missing, nil)
	if again.Total != 2 {
		t.Errorf("second pass Total = %d, want 2", again.Total)
	}
}

func TestBatchCancelled(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.gen.fn = func(gctx context.Context, _ marker.PromptData) (*elevenlabs.Result, error) {
		cancel()
		if err := gctx.Err(); err != nil {
			return nil, err
		}
		return &elevenlabs.Result{Audio: []byte("x")}, nil
	}
	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, f.add(t, sfx(i*100, "s", i)))
	}
	sum := f.d.Batch(ctx, All, nil)
	if sum.Succeeded != 1 || sum.Failed != 0 || sum.Cancelled != 3 {
		t.Errorf("summary = %+v, want 1 succeeded 3 cancelled", sum)
	}
	if f.gen.count() != 1 {
		t.Errorf("generator calls = %d, want 1", f.gen.count())
	}
	first, err := f.store.GetByID(ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if first.Status() != marker.StatusGenerated {
		t.Errorf("in-flight marker status = %s, want %s", first.Status(), marker.StatusGenerated)
	}
}
