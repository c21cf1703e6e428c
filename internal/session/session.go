// Package session is the single-writer facade over one timeline: marker
// store, undo history and generation dispatcher. Every edit goes through
// the session so it is serialized and recorded.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/cuemap/internal/assembly"
	"github.com/satindergrewal/cuemap/internal/generate"
	"github.com/satindergrewal/cuemap/internal/history"
	"github.com/satindergrewal/cuemap/internal/marker"
	"github.com/satindergrewal/cuemap/internal/store"
)

var (
	// ErrNoMedia is returned when adding at the playhead without a loaded timeline.
	ErrNoMedia = errors.New("no media loaded")
	// ErrUnsavedPrompt is returned when a type change would discard prompt content.
	ErrUnsavedPrompt = errors.New("marker has prompt content that would be discarded")
	// ErrTypeLocked is returned when changing the type of a marker that has versions.
	ErrTypeLocked = errors.New("marker type is locked by generated versions")
	// ErrNoGenerator is returned when generation is requested without a dispatcher.
	ErrNoGenerator = errors.New("generation is not configured")
)

// DefaultFPS is the frame rate used for frame nudges.
const DefaultFPS = 30.0

type Session struct {
	mu       sync.Mutex
	store    *store.Store
	hist     *history.History
	disp     *generate.Dispatcher
	timeline Timeline
	logger   zerolog.Logger
}

// New wires a session. disp may be nil when generation is not available.
func New(s *store.Store, h *history.History, disp *generate.Dispatcher, tl Timeline, logger zerolog.Logger) *Session {
	if tl == nil {
		tl = NewBlankTimeline(0)
	}
	sess := &Session{store: s, hist: h, disp: disp, timeline: tl, logger: logger}
	if disp != nil {
		disp.SetOwnerLock(&sess.mu)
	}
	return sess
}

// Store is the session's marker store. Mutate it only through the session.
func (s *Session) Store() *store.Store {
	return s.store
}

func (s *Session) History() *history.History {
	return s.hist
}

func (s *Session) Timeline() Timeline {
	return s.timeline
}

// Dispatcher is nil when generation is not configured.
func (s *Session) Dispatcher() *generate.Dispatcher {
	return s.disp
}

// Snapshot returns a deep copy of every marker in time order.
func (s *Session) Snapshot() []marker.Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.All()
}

// Marker returns a copy of one marker.
func (s *Session) Marker(id string) (marker.Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.GetByID(id)
}

// Load replaces every marker and clears the history.
func (s *Session) Load(markers []marker.Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Replace(markers); err != nil {
		return err
	}
	s.hist.Clear()
	s.logger.Info().Int("markers", len(markers)).Msg("markers loaded")
	return nil
}

// AddMarkerAtNow adds a marker at the playhead.
func (s *Session) AddMarkerAtNow(t marker.Type, name string) (marker.Marker, error) {
	if !s.timeline.IsLoaded() {
		return marker.Marker{}, ErrNoMedia
	}
	return s.AddMarker(t, s.timeline.CurrentTimeMS(), name)
}

// AddMarker adds a marker of type t at ms. Its asset slot continues the
// per-type sequence.
func (s *Session) AddMarker(t marker.Type, ms int, name string) (marker.Marker, error) {
	if !t.Valid() {
		return marker.Marker{}, &marker.ValidationError{Field: "type", Reason: fmt.Sprintf("invalid type: %s", t)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m := marker.New(t, s.clampTime(ms), name)
	m.AssetSlot = marker.SlotFor(t, s.store.NextSlot(t))
	if err := s.hist.Execute(history.NewAdd(s.store, m)); err != nil {
		return marker.Marker{}, err
	}
	s.logger.Debug().Str("type", string(t)).Int("time_ms", m.TimeMS).Str("slot", m.AssetSlot).Msg("marker added")
	return m.Clone(), nil
}

// Move places a marker at ms, clamped to the timeline.
func (s *Session) Move(id string, ms int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.store.GetByID(id)
	if err != nil {
		return err
	}
	target := s.clampTime(ms)
	if target == m.TimeMS {
		return nil
	}
	return s.hist.Execute(history.NewMove(s.store, id, target))
}

// Nudge shifts a marker by delta milliseconds. It reports whether the
// marker moved; a nudge against either end of the timeline is a no-op.
func (s *Session) Nudge(id string, delta int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.store.GetByID(id)
	if err != nil {
		return false, err
	}
	target := s.clampTime(m.TimeMS + delta)
	if target == m.TimeMS {
		return false, nil
	}
	if err := s.hist.Execute(history.NewMove(s.store, id, target)); err != nil {
		return false, err
	}
	return true, nil
}

// NudgeFrames shifts a marker by whole video frames at fps.
func (s *Session) NudgeFrames(id string, frames int, fps float64) (bool, error) {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return s.Nudge(id, frames*int(1000/fps))
}

// Delete removes a marker.
func (s *Session) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.Execute(history.NewDelete(s.store, id))
}

// Clear removes every marker as one undoable step per marker and returns
// how many were removed.
func (s *Session) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.store.All()
	for _, m := range all {
		if err := s.hist.Execute(history.NewDelete(s.store, m.ID)); err != nil {
			return 0, err
		}
	}
	return len(all), nil
}

// Rename sets the display name.
func (s *Session) Rename(id, name string) error {
	return s.edit(id, "rename marker", func(m *marker.Marker) error {
		m.Name = name
		return nil
	})
}

// SetPrompt replaces the working prompt. The prompt must be of the
// marker's type.
func (s *Session) SetPrompt(id string, p marker.PromptData) error {
	return s.edit(id, "edit prompt", func(m *marker.Marker) error {
		if p.Kind != m.Type {
			return &marker.ValidationError{Field: "prompt_data", Reason: fmt.Sprintf("prompt kind %s does not match type %s", p.Kind, m.Type)}
		}
		m.Prompt = p.Clone()
		return nil
	})
}

// ChangeType switches a marker to type t with a fresh default prompt and
// a new asset slot. Unless force is set, it refuses to drop prompt content
// or generated versions. A forced change starts a new version ledger.
func (s *Session) ChangeType(id string, t marker.Type, force bool) error {
	if !t.Valid() {
		return &marker.ValidationError{Field: "type", Reason: fmt.Sprintf("invalid type: %s", t)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.store.GetByID(id)
	if err != nil {
		return err
	}
	if m.Type == t {
		return nil
	}
	if !force {
		if len(m.Versions) > 0 {
			return fmt.Errorf("%s: %w", m.DisplayName(), ErrTypeLocked)
		}
		if !m.Prompt.IsEmpty() {
			return fmt.Errorf("%s: %w", m.DisplayName(), ErrUnsavedPrompt)
		}
	}
	next := m.Clone()
	next.Type = t
	next.Prompt = marker.DefaultPrompt(t)
	next.AssetSlot = marker.SlotFor(t, s.store.NextSlot(t))
	next.Versions = nil
	next.CurrentVersion = 0
	cmd, err := history.NewEdit(s.store, m, next, "change type")
	if err != nil {
		return err
	}
	return s.hist.Execute(cmd)
}

// Rollback makes version n current again and restores its prompt. It is
// recorded as an edit, so it can be undone.
func (s *Session) Rollback(id string, n int) error {
	return s.edit(id, fmt.Sprintf("rollback to v%d", n), func(m *marker.Marker) error {
		if !marker.RollbackToVersion(m, n) {
			return &marker.ValidationError{Field: "version", Reason: fmt.Sprintf("version %d does not exist", n)}
		}
		return nil
	})
}

func (s *Session) edit(id, label string, fn func(*marker.Marker) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before, err := s.store.GetByID(id)
	if err != nil {
		return err
	}
	after := before.Clone()
	if err := fn(&after); err != nil {
		return err
	}
	cmd, err := history.NewEdit(s.store, before, after, label)
	if err != nil {
		return err
	}
	return s.hist.Execute(cmd)
}

// Undo reverts the last recorded step. It returns false when there was
// nothing to undo.
func (s *Session) Undo() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.Undo()
}

// Redo reapplies the last undone step.
func (s *Session) Redo() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.Redo()
}

// Generate starts generation for one marker and returns the job. The
// result is folded in by ApplyReady or Wait.
func (s *Session) Generate(ctx context.Context, id string) (*generate.Job, error) {
	if s.disp == nil {
		return nil, ErrNoGenerator
	}
	return s.disp.Dispatch(ctx, id)
}

// Wait blocks until job finishes and applies it.
func (s *Session) Wait(ctx context.Context, job *generate.Job) (generate.Outcome, error) {
	select {
	case <-job.Done():
	case <-ctx.Done():
		return generate.Outcome{MarkerID: job.MarkerID()}, ctx.Err()
	}
	err := s.disp.Apply(job)
	return job.Outcome(), err
}

// GenerateSync generates one marker and waits for the result.
func (s *Session) GenerateSync(ctx context.Context, id string) (generate.Outcome, error) {
	if s.disp == nil {
		return generate.Outcome{MarkerID: id}, ErrNoGenerator
	}
	return s.disp.GenerateSync(ctx, id)
}

// ApplyReady folds in every finished generation.
func (s *Session) ApplyReady() []generate.Outcome {
	if s.disp == nil {
		return nil
	}
	return s.disp.ApplyReady()
}

// GenerateBatch generates every selected marker in timeline order.
func (s *Session) GenerateBatch(ctx context.Context, sel generate.Selector, progress generate.ProgressFunc) (generate.Summary, error) {
	if s.disp == nil {
		return generate.Summary{}, ErrNoGenerator
	}
	if sel == nil {
		sel = generate.Missing
	}
	return s.disp.Batch(ctx, sel, progress), nil
}

// Assemble renders the current markers with a. The timeline duration
// bounds the output unless opts sets one.
func (s *Session) Assemble(ctx context.Context, a *assembly.Assembler, opts assembly.Options) (*assembly.Result, error) {
	snapshot := s.Snapshot()
	if opts.DurationMS <= 0 {
		opts.DurationMS = s.timeline.DurationMS()
	}
	return a.Assemble(ctx, snapshot, opts)
}

func (s *Session) clampTime(ms int) int {
	return clamp(ms, 0, s.timeline.DurationMS())
}
