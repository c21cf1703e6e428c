// Package history implements reversible marker edits and a bounded
// undo/redo history.
package history

import (
	"fmt"
	"sync"
)

// DefaultCapacity is the number of undo entries kept when none is configured.
const DefaultCapacity = 50

// Command is a reversible operation on the marker store.
type Command interface {
	Execute() error
	Undo() error
	Name() string
}

// History keeps executed commands for undo and redo. The oldest entry is
// dropped when the undo stack exceeds its capacity.
type History struct {
	mu       sync.Mutex
	capacity int
	undo     []Command
	redo     []Command
}

// New creates a history holding at most capacity undo entries.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{capacity: capacity}
}

// Execute runs cmd and records it. The redo stack is cleared. A command
// that fails is not recorded.
func (h *History) Execute(cmd Command) error {
	if err := cmd.Execute(); err != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo = append(h.undo, cmd)
	if len(h.undo) > h.capacity {
		h.undo = h.undo[len(h.undo)-h.capacity:]
	}
	h.redo = nil
	return nil
}

// Undo reverts the most recent command. It returns false when there is
// nothing to undo.
func (h *History) Undo() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.undo) == 0 {
		return false, nil
	}
	cmd := h.undo[len(h.undo)-1]
	if err := cmd.Undo(); err != nil {
		return false, fmt.Errorf("undo %s: %w", cmd.Name(), err)
	}
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, cmd)
	return true, nil
}

// Redo re-applies the most recently undone command. It returns false when
// there is nothing to redo.
func (h *History) Redo() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.redo) == 0 {
		return false, nil
	}
	cmd := h.redo[len(h.redo)-1]
	if err := cmd.Execute(); err != nil {
		return false, fmt.Errorf("redo %s: %w", cmd.Name(), err)
	}
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, cmd)
	return true, nil
}

func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo) > 0
}

func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo) > 0
}

func (h *History) UndoLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo)
}

func (h *History) RedoLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo)
}

// Peek returns the names of the next undo and redo entries, empty when absent.
func (h *History) Peek() (undo, redo string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.undo); n > 0 {
		undo = h.undo[n-1].Name()
	}
	if n := len(h.redo); n > 0 {
		redo = h.redo[n-1].Name()
	}
	return undo, redo
}

// Clear drops both stacks.
func (h *History) Clear() {
	h.mu.Lock()
	h.undo = nil
	h.redo = nil
	h.mu.Unlock()
}
