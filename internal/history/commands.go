package history

import (
	"fmt"

	"github.com/satindergrewal/cuemap/internal/marker"
	"github.com/satindergrewal/cuemap/internal/store"
)

// Add inserts a marker; undo removes it again.
type Add struct {
	store  *store.Store
	marker marker.Marker
}

func NewAdd(s *store.Store, m marker.Marker) *Add {
	return &Add{store: s, marker: m.Clone()}
}

func (c *Add) Name() string { return "add " + string(c.marker.Type) }

func (c *Add) Execute() error {
	_, err := c.store.Add(c.marker)
	return err
}

func (c *Add) Undo() error {
	if !c.store.Remove(c.marker) {
		return fmt.Errorf("marker %s: %w", c.marker.ID, marker.ErrNotFound)
	}
	return nil
}

// MarkerID returns the identity of the added marker.
func (c *Add) MarkerID() string { return c.marker.ID }

// Delete removes a marker, remembering where it was so undo can put it back.
type Delete struct {
	store    *store.Store
	id       string
	snapshot marker.Marker
	index    int
}

func NewDelete(s *store.Store, id string) *Delete {
	return &Delete{store: s, id: id, index: -1}
}

func (c *Delete) Name() string { return "delete marker" }

func (c *Delete) Execute() error {
	i := c.store.IndexOf(c.id)
	if i < 0 {
		return fmt.Errorf("marker %s: %w", c.id, marker.ErrNotFound)
	}
	removed, err := c.store.RemoveAt(i)
	if err != nil {
		return err
	}
	c.snapshot = removed.Clone()
	c.index = i
	return nil
}

// Undo re-inserts at the captured index. If other edits shifted the list in
// between, InsertAt re-sorts so the store stays ordered by time.
func (c *Delete) Undo() error {
	_, err := c.store.InsertAt(c.index, c.snapshot)
	return err
}

// Move changes a marker's time.
type Move struct {
	store    *store.Store
	id       string
	newTime  int
	oldTime  int
	oldIndex int
}

func NewMove(s *store.Store, id string, newTimeMS int) *Move {
	if newTimeMS < 0 {
		newTimeMS = 0
	}
	return &Move{store: s, id: id, newTime: newTimeMS}
}

func (c *Move) Name() string { return "move marker" }

func (c *Move) Execute() error {
	m, err := c.store.GetByID(c.id)
	if err != nil {
		return err
	}
	c.oldTime = m.TimeMS
	c.oldIndex = c.store.IndexOf(c.id)
	m.TimeMS = c.newTime
	_, err = c.store.Update(m)
	return err
}

// Undo restores the old time at the old index, so the marker returns to
// its place among markers sharing that time.
func (c *Move) Undo() error {
	m, err := c.store.GetByID(c.id)
	if err != nil {
		return err
	}
	m.TimeMS = c.oldTime
	_, err = c.store.Place(c.oldIndex, m)
	return err
}

// Edit swaps a marker between two full snapshots.
type Edit struct {
	store  *store.Store
	id     string
	before marker.Marker
	after  marker.Marker
	label  string
	index  int
}

// NewEdit records a change from before to after. Both must share an ID.
func NewEdit(s *store.Store, before, after marker.Marker, label string) (*Edit, error) {
	if before.ID != after.ID {
		return nil, &marker.ValidationError{Field: "id", Reason: "edit snapshots refer to different markers"}
	}
	if err := after.Validate(); err != nil {
		return nil, err
	}
	if label == "" {
		label = "edit marker"
	}
	return &Edit{store: s, id: before.ID, before: before.Clone(), after: after.Clone(), label: label}, nil
}

func (c *Edit) Name() string { return c.label }

func (c *Edit) Execute() error {
	c.index = c.store.IndexOf(c.id)
	_, err := c.store.Update(c.after)
	return err
}

func (c *Edit) Undo() error {
	_, err := c.store.Place(c.index, c.before)
	return err
}
