// Package store holds the ordered marker collection for one timeline.
package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/satindergrewal/cuemap/internal/marker"
)

// Store is the single owner of the marker list. Markers are kept sorted by
// TimeMS (stable, so equal times keep their relative order). Every getter
// returns deep copies and every mutating call fires exactly one change
// notification.
type Store struct {
	mu        sync.RWMutex
	markers   []marker.Marker
	listeners map[int]func()
	nextID    int
	nextSlot  map[marker.Type]int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		listeners: make(map[int]func()),
		nextSlot:  make(map[marker.Type]int),
	}
}

// OnChange registers fn to run after every mutation. The returned func
// removes the listener.
func (s *Store) OnChange(fn func()) (remove func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Len returns the number of markers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.markers)
}

// All returns a deep copy of every marker in time order.
func (s *Store) All() []marker.Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]marker.Marker, len(s.markers))
	for i, m := range s.markers {
		out[i] = m.Clone()
	}
	return out
}

// Get returns a copy of the marker at index i.
func (s *Store) Get(i int) (marker.Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkIndex(i, len(s.markers)); err != nil {
		return marker.Marker{}, err
	}
	return s.markers[i].Clone(), nil
}

// GetByID returns a copy of the marker with the given ID.
func (s *Store) GetByID(id string) (marker.Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return marker.Marker{}, fmt.Errorf("marker %s: %w", id, marker.ErrNotFound)
	}
	return s.markers[i].Clone(), nil
}

// IndexOf returns the current index of the marker with the given ID, or -1.
func (s *Store) IndexOf(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOf(id)
}

// FindByTime returns the first index whose time is within tolerance of ms.
func (s *Store) FindByTime(ms, tolerance int) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, m := range s.markers {
		d := m.TimeMS - ms
		if d < 0 {
			d = -d
		}
		if d <= tolerance {
			return i, true
		}
	}
	return -1, false
}

// NextSlot reserves the next asset slot number for type t. Numbers are
// above every slot of that type currently in the store and are never handed
// out twice by the same store, so deleting a marker does not free its
// number for a later one.
func (s *Store) NextSlot(t marker.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nextSlot[t]
	for _, m := range s.markers {
		if m.Type == t && m.AssetSlot != "" && m.SlotNumber() >= n {
			n = m.SlotNumber() + 1
		}
	}
	s.nextSlot[t] = n + 1
	return n
}

// Add inserts m in time order and returns its index.
func (s *Store) Add(m marker.Marker) (int, error) {
	if err := m.Validate(); err != nil {
		return -1, err
	}
	s.mu.Lock()
	s.markers = append(s.markers, m.Clone())
	s.sortLocked()
	idx := s.indexOf(m.ID)
	s.mu.Unlock()
	s.notify()
	return idx, nil
}

// InsertAt places m at index i (clamped to [0, Len]) and then restores time
// order. When the list is unchanged since i was captured the marker lands
// back in the same slot.
func (s *Store) InsertAt(i int, m marker.Marker) (int, error) {
	if err := m.Validate(); err != nil {
		return -1, err
	}
	s.mu.Lock()
	if i < 0 {
		i = 0
	}
	if i > len(s.markers) {
		i = len(s.markers)
	}
	s.markers = append(s.markers, marker.Marker{})
	copy(s.markers[i+1:], s.markers[i:])
	s.markers[i] = m.Clone()
	s.sortLocked()
	idx := s.indexOf(m.ID)
	s.mu.Unlock()
	s.notify()
	return idx, nil
}

// Place replaces the marker that shares m's ID, moving it to index i
// (clamped) before re-sorting. Among markers with equal times it keeps the
// requested position, which is how undo puts a marker back where it was.
func (s *Store) Place(i int, m marker.Marker) (int, error) {
	if err := m.Validate(); err != nil {
		return -1, err
	}
	s.mu.Lock()
	cur := s.indexOf(m.ID)
	if cur < 0 {
		s.mu.Unlock()
		return -1, fmt.Errorf("marker %s: %w", m.ID, marker.ErrNotFound)
	}
	s.markers = append(s.markers[:cur], s.markers[cur+1:]...)
	i = max(0, min(i, len(s.markers)))
	s.markers = append(s.markers, marker.Marker{})
	copy(s.markers[i+1:], s.markers[i:])
	s.markers[i] = m.Clone()
	s.sortLocked()
	idx := s.indexOf(m.ID)
	s.mu.Unlock()
	s.notify()
	return idx, nil
}

// RemoveAt deletes and returns the marker at index i.
func (s *Store) RemoveAt(i int) (marker.Marker, error) {
	s.mu.Lock()
	if err := s.checkIndex(i, len(s.markers)); err != nil {
		s.mu.Unlock()
		return marker.Marker{}, err
	}
	removed := s.markers[i]
	s.markers = append(s.markers[:i], s.markers[i+1:]...)
	s.mu.Unlock()
	s.notify()
	return removed, nil
}

// Remove deletes the first marker with the same identity as m. Returns
// false when no such marker exists.
func (s *Store) Remove(m marker.Marker) bool {
	s.mu.Lock()
	i := s.indexOf(m.ID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.markers = append(s.markers[:i], s.markers[i+1:]...)
	s.mu.Unlock()
	s.notify()
	return true
}

// UpdateAt replaces the marker at index i and re-sorts. It returns the
// marker's new index.
func (s *Store) UpdateAt(i int, m marker.Marker) (int, error) {
	if err := m.Validate(); err != nil {
		return -1, err
	}
	s.mu.Lock()
	if err := s.checkIndex(i, len(s.markers)); err != nil {
		s.mu.Unlock()
		return -1, err
	}
	s.markers[i] = m.Clone()
	s.sortLocked()
	idx := s.indexOf(m.ID)
	s.mu.Unlock()
	s.notify()
	return idx, nil
}

// Update replaces the marker that shares m's ID.
func (s *Store) Update(m marker.Marker) (int, error) {
	i := s.IndexOf(m.ID)
	if i < 0 {
		return -1, fmt.Errorf("marker %s: %w", m.ID, marker.ErrNotFound)
	}
	return s.UpdateAt(i, m)
}

// SortByTime re-sorts the list.
func (s *Store) SortByTime() {
	s.mu.Lock()
	s.sortLocked()
	s.mu.Unlock()
	s.notify()
}

// Replace swaps the whole list, used when a template or project is loaded.
func (s *Store) Replace(markers []marker.Marker) error {
	next := make([]marker.Marker, 0, len(markers))
	for _, m := range markers {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("marker %s: %w", m.ID, err)
		}
		next = append(next, m.Clone())
	}
	s.mu.Lock()
	s.markers = next
	s.sortLocked()
	s.mu.Unlock()
	s.notify()
	return nil
}

// Clear removes every marker.
func (s *Store) Clear() {
	s.mu.Lock()
	s.markers = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Store) sortLocked() {
	sort.SliceStable(s.markers, func(a, b int) bool {
		return s.markers[a].TimeMS < s.markers[b].TimeMS
	})
}

func (s *Store) indexOf(id string) int {
	for i, m := range s.markers {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) checkIndex(i, n int) error {
	if i < 0 || i >= n {
		return &marker.ValidationError{Field: "index", Reason: fmt.Sprintf("%d out of range [0,%d)", i, n)}
	}
	return nil
}

func (s *Store) notify() {
	s.mu.RLock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
