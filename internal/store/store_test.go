package store

import (
	"errors"
	"testing"

	"github.com/satindergrewal/cuemap/internal/marker"
)

func newMarker(t marker.Type, ms int) marker.Marker {
	return marker.New(t, ms, "")
}

func times(s *Store) []int {
	var out []int
	for _, m := range s.All() {
		out = append(out, m.TimeMS)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- Ordering ---

func TestAddKeepsTimeOrder(t *testing.T) {
	s := New()
	for _, ms := range []int{3000, 1000, 2000, 0} {
		if _, err := s.Add(newMarker(marker.TypeSFX, ms)); err != nil {
			t.Fatalf("Add(%d): %v", ms, err)
		}
	}
	if got, want := times(s), []int{0, 1000, 2000, 3000}; !equalInts(got, want) {
		t.Errorf("times = %v, want %v", got, want)
	}
}

func TestAddReturnsSortedIndex(t *testing.T) {
	s := New()
	s.Add(newMarker(marker.TypeSFX, 100))
	s.Add(newMarker(marker.TypeSFX, 300))
	idx, err := s.Add(newMarker(marker.TypeSFX, 200))
	if err != nil {
		t.Fatal(err)
	}
	if idx != 1 {
		t.Errorf("Add index = %d, want 1", idx)
	}
}

func TestEqualTimesKeepInsertionOrder(t *testing.T) {
	s := New()
	a := newMarker(marker.TypeSFX, 500)
	b := newMarker(marker.TypeVoice, 500)
	s.Add(a)
	s.Add(b)
	s.SortByTime()
	all := s.All()
	if all[0].ID != a.ID || all[1].ID != b.ID {
		t.Error("stable sort did not preserve insertion order for equal times")
	}
}

func TestUpdateAtResorts(t *testing.T) {
	s := New()
	m := newMarker(marker.TypeSFX, 100)
	s.Add(m)
	s.Add(newMarker(marker.TypeSFX, 200))

	m.TimeMS = 900
	idx, err := s.UpdateAt(0, m)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 1 {
		t.Errorf("UpdateAt new index = %d, want 1", idx)
	}
	if got, want := times(s), []int{200, 900}; !equalInts(got, want) {
		t.Errorf("times = %v, want %v", got, want)
	}
}

func TestInsertAtRestoresPosition(t *testing.T) {
	s := New()
	ms := []marker.Marker{newMarker(marker.TypeSFX, 100), newMarker(marker.TypeSFX, 100), newMarker(marker.TypeSFX, 100)}
	for _, m := range ms {
		s.Add(m)
	}
	removed, err := s.RemoveAt(1)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := s.InsertAt(1, removed)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 1 {
		t.Errorf("InsertAt index = %d, want 1", idx)
	}
	for i, m := range s.All() {
		if m.ID != ms[i].ID {
			t.Errorf("position %d holds %s, want %s", i, m.ID, ms[i].ID)
		}
	}
}

func TestInsertAtClampsIndex(t *testing.T) {
	s := New()
	s.Add(newMarker(marker.TypeSFX, 100))
	if _, err := s.InsertAt(99, newMarker(marker.TypeSFX, 50)); err != nil {
		t.Fatal(err)
	}
	if got, want := times(s), []int{50, 100}; !equalInts(got, want) {
		t.Errorf("times = %v, want %v", got, want)
	}
}

func TestPlaceAmongEqualTimes(t *testing.T) {
	s := New()
	a := newMarker(marker.TypeSFX, 100)
	b := newMarker(marker.TypeSFX, 100)
	c := newMarker(marker.TypeSFX, 200)
	for _, m := range []marker.Marker{a, b, c} {
		s.Add(m)
	}
	calls := 0
	s.OnChange(func() { calls++ })

	idx, err := s.Place(0, b)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 || s.IndexOf(a.ID) != 1 {
		t.Errorf("Place(0, b) = %d, a at %d; want b at 0, a at 1", idx, s.IndexOf(a.ID))
	}
	if calls != 1 {
		t.Errorf("notifications = %d, want 1", calls)
	}

	// The index only orders equal times; a later time still sorts last.
	late := a.Clone()
	late.TimeMS = 500
	if idx, _ := s.Place(0, late); idx != 2 {
		t.Errorf("Place(0, a@500) = %d, want 2", idx)
	}
	if _, err := s.Place(0, newMarker(marker.TypeSFX, 0)); !errors.Is(err, marker.ErrNotFound) {
		t.Errorf("Place unknown = %v, want ErrNotFound", err)
	}
}

// --- Removal ---

func TestRemoveByValue(t *testing.T) {
	s := New()
	a := newMarker(marker.TypeSFX, 100)
	s.Add(a)
	if !s.Remove(a) {
		t.Error("Remove existing = false")
	}
	if s.Remove(a) {
		t.Error("Remove missing = true")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestRemoveAtOutOfRange(t *testing.T) {
	s := New()
	s.Add(newMarker(marker.TypeSFX, 100))
	calls := 0
	s.OnChange(func() { calls++ })

	_, err := s.RemoveAt(5)
	if !marker.IsValidation(err) {
		t.Errorf("RemoveAt(5) error = %v, want ValidationError", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	if calls != 0 {
		t.Errorf("notifications = %d, want 0 on rejected call", calls)
	}
}

// --- Lookup ---

func TestFindByTime(t *testing.T) {
	s := New()
	s.Add(newMarker(marker.TypeSFX, 1000))
	s.Add(newMarker(marker.TypeSFX, 2000))

	tests := []struct {
		ms, tol int
		want    int
		found   bool
	}{
		{1000, 0, 0, true},
		{1040, 50, 0, true},
		{1960, 50, 1, true},
		{1500, 100, -1, false},
	}
	for _, tt := range tests {
		idx, ok := s.FindByTime(tt.ms, tt.tol)
		if idx != tt.want || ok != tt.found {
			t.Errorf("FindByTime(%d, %d) = %d, %v, want %d, %v", tt.ms, tt.tol, idx, ok, tt.want, tt.found)
		}
	}
}

func TestGetByIDNotFound(t *testing.T) {
	s := New()
	if _, err := s.GetByID("nope"); !errors.Is(err, marker.ErrNotFound) {
		t.Errorf("GetByID error = %v, want ErrNotFound", err)
	}
}

func TestGettersReturnCopies(t *testing.T) {
	s := New()
	m := newMarker(marker.TypeMusic, 0)
	m.Prompt = marker.MusicPrompt([]string{"jazz"}, nil, nil)
	s.Add(m)

	got, _ := s.Get(0)
	got.Prompt.PositiveGlobalStyles[0] = "metal"
	got.TimeMS = 999

	again, _ := s.Get(0)
	if again.Prompt.PositiveGlobalStyles[0] != "jazz" || again.TimeMS != 0 {
		t.Error("mutating a returned marker changed store state")
	}
}

// --- Notifications ---

func TestOneNotificationPerCall(t *testing.T) {
	s := New()
	calls := 0
	remove := s.OnChange(func() { calls++ })

	s.Add(newMarker(marker.TypeSFX, 10))
	s.Add(newMarker(marker.TypeSFX, 20))
	s.SortByTime()
	s.RemoveAt(0)
	if calls != 4 {
		t.Errorf("notifications = %d, want 4", calls)
	}

	remove()
	s.Clear()
	if calls != 4 {
		t.Errorf("notifications after remove = %d, want 4", calls)
	}
}

func TestAddRejectsInvalid(t *testing.T) {
	s := New()
	m := newMarker(marker.TypeSFX, 0)
	m.Prompt = marker.VoicePrompt("x", "y")
	if _, err := s.Add(m); !marker.IsValidation(err) {
		t.Errorf("Add invalid = %v, want ValidationError", err)
	}
}
