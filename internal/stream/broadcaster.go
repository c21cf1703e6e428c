// Package stream serves the audition preview: a looping stereo mix of the
// latest assembly, fanned out to HTTP and WebRTC listeners, plus a small
// control API for re-assembling and inspecting the timeline.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// listenerBuffer is about three seconds of 20ms frames.
const listenerBuffer = 150

// Broadcaster fans out PCM frames from one source to any number of
// listeners. A slow listener loses frames instead of stalling the others.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	sent      atomic.Int64
	dropped   atomic.Int64
}

// Listener receives frames from the broadcaster.
type Listener struct {
	C    chan []int16
	done chan struct{}
	once sync.Once
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[*Listener]struct{})}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, listenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and closes its Done channel. Calling it
// twice is harmless.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Stats returns frames delivered and frames dropped on slow listeners.
func (b *Broadcaster) Stats() (sent, dropped int64) {
	return b.sent.Load(), b.dropped.Load()
}

// Run forwards frames from source until ctx is cancelled or source closes.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
					b.sent.Add(1)
				default:
					b.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
		}
	}
}
