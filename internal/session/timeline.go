package session

import (
	"context"
	"sync"

	"github.com/satindergrewal/cuemap/internal/audio"
)

// Timeline is the media the markers are placed against.
type Timeline interface {
	CurrentTimeMS() int
	DurationMS() int
	IsLoaded() bool
}

// BlankTimeline is a playhead over a fixed duration with no media behind it.
type BlankTimeline struct {
	mu       sync.Mutex
	duration int
	position int
	loaded   bool
}

// NewBlankTimeline returns a timeline of durationMS. A non-positive
// duration leaves it unloaded.
func NewBlankTimeline(durationMS int) *BlankTimeline {
	b := &BlankTimeline{}
	if durationMS > 0 {
		b.Load(durationMS)
	}
	return b
}

// MediaTimeline probes the duration of a media file and returns a loaded
// timeline for it.
func MediaTimeline(ctx context.Context, path string) (*BlankTimeline, error) {
	ms, err := audio.ProbeDurationMS(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewBlankTimeline(ms), nil
}

// Load resets the timeline to durationMS with the playhead at zero.
func (b *BlankTimeline) Load(durationMS int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if durationMS < 0 {
		durationMS = 0
	}
	b.duration = durationMS
	b.position = 0
	b.loaded = true
}

// Seek moves the playhead, clamped to the duration, and returns it.
func (b *BlankTimeline) Seek(ms int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.position = clamp(ms, 0, b.duration)
	return b.position
}

// Step moves the playhead by delta.
func (b *BlankTimeline) Step(delta int) int {
	b.mu.Lock()
	pos := b.position + delta
	b.mu.Unlock()
	return b.Seek(pos)
}

func (b *BlankTimeline) CurrentTimeMS() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position
}

func (b *BlankTimeline) DurationMS() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.duration
}

func (b *BlankTimeline) IsLoaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if hi > lo && v > hi {
		return hi
	}
	return v
}
