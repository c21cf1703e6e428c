package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/satindergrewal/cuemap/internal/marker"
	"github.com/satindergrewal/cuemap/internal/store"
)

// GenerateState is the lifecycle position of a GenerateAudio command.
type GenerateState int

const (
	GenerateIdle GenerateState = iota
	GenerateDispatched
	GenerateInstalled
	GenerateFailed
)

func (s GenerateState) String() string {
	switch s {
	case GenerateIdle:
		return "idle"
	case GenerateDispatched:
		return "dispatched"
	case GenerateInstalled:
		return "installed"
	case GenerateFailed:
		return "failed"
	}
	return "unknown"
}

// ErrNotInstalled is returned when a GenerateAudio command is executed
// before its result has been installed.
var ErrNotInstalled = errors.New("generation result not installed")

// GenerateAudio records a generation as a reversible step. It is driven
// through Dispatch and then Install or Fail; only an installed command can
// be executed by History. Undo restores the marker as it was before
// Dispatch.
type GenerateAudio struct {
	store *store.Store
	id    string
	state GenerateState

	before  marker.Marker
	after   marker.Marker
	version int
	reason  string
}

func NewGenerateAudio(s *store.Store, id string) *GenerateAudio {
	return &GenerateAudio{store: s, id: id}
}

func (c *GenerateAudio) Name() string { return fmt.Sprintf("generate v%d", c.version) }

func (c *GenerateAudio) State() GenerateState { return c.state }

// MarkerID returns the target marker.
func (c *GenerateAudio) MarkerID() string { return c.id }

// Version is the version number allocated by Dispatch.
func (c *GenerateAudio) Version() int { return c.version }

// FailureReason is set once Fail has been called.
func (c *GenerateAudio) FailureReason() string { return c.reason }

// Pending returns the marker as it stood right after Dispatch.
func (c *GenerateAudio) Pending() marker.Marker { return c.after.Clone() }

// Dispatch appends a new version snapshotting prompt, marks it generating
// and writes it to the store. It returns the allocated version.
func (c *GenerateAudio) Dispatch(prompt marker.PromptData, now time.Time) (int, error) {
	if c.state != GenerateIdle {
		return 0, fmt.Errorf("dispatch in state %s: %w", c.state, marker.ErrInvalidTransition)
	}
	m, err := c.store.GetByID(c.id)
	if err != nil {
		return 0, err
	}
	c.before = m.Clone()

	n, err := marker.AddNewVersion(&m, prompt, now)
	if err != nil {
		return 0, err
	}
	if err := marker.MarkGenerating(&m); err != nil {
		return 0, err
	}
	if _, err := c.store.Update(m); err != nil {
		return 0, err
	}
	c.after = m
	c.version = n
	c.state = GenerateDispatched
	return n, nil
}

// Install records a successful result on the dispatched version.
func (c *GenerateAudio) Install(assetFile, assetID string) error {
	if c.state != GenerateDispatched {
		return fmt.Errorf("install in state %s: %w", c.state, marker.ErrInvalidTransition)
	}
	m, err := c.current()
	if err != nil {
		return err
	}
	if err := marker.CompleteVersion(&m, assetFile, assetID); err != nil {
		return err
	}
	c.after = m.Clone()
	c.state = GenerateInstalled
	return nil
}

// Fail marks the dispatched version as failed and writes it to the store.
// A failed command is never placed on the history.
func (c *GenerateAudio) Fail(reason string) error {
	if c.state != GenerateDispatched {
		return fmt.Errorf("fail in state %s: %w", c.state, marker.ErrInvalidTransition)
	}
	m, err := c.current()
	if err != nil {
		return err
	}
	if err := marker.FailVersion(&m); err != nil {
		return err
	}
	if _, err := c.store.Update(m); err != nil {
		return err
	}
	c.after = m.Clone()
	c.reason = reason
	c.state = GenerateFailed
	return nil
}

// Execute writes the installed marker state to the store.
func (c *GenerateAudio) Execute() error {
	if c.state != GenerateInstalled {
		return ErrNotInstalled
	}
	m, err := c.store.GetByID(c.id)
	if err != nil {
		return err
	}
	next := c.after.Clone()
	next.TimeMS = m.TimeMS
	next.Name = m.Name
	_, err = c.store.Update(next)
	return err
}

// Undo restores the marker as it was before Dispatch, keeping its current
// position and name.
func (c *GenerateAudio) Undo() error {
	if c.state != GenerateInstalled {
		return ErrNotInstalled
	}
	m, err := c.store.GetByID(c.id)
	if err != nil {
		return err
	}
	prev := c.before.Clone()
	prev.TimeMS = m.TimeMS
	prev.Name = m.Name
	_, err = c.store.Update(prev)
	return err
}

// current reads the marker from the store while keeping the version list
// recorded at dispatch, so edits made during generation do not detach the
// result from its version.
func (c *GenerateAudio) current() (marker.Marker, error) {
	m, err := c.store.GetByID(c.id)
	if err != nil {
		return marker.Marker{}, err
	}
	m.Versions = c.after.Clone().Versions
	m.CurrentVersion = c.version
	return m, nil
}
