package stream

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// startBroadcast runs b on a fresh source channel until the test ends.
func startBroadcast(t *testing.T, b *Broadcaster, buffer int) (chan []int16, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	src := make(chan []int16, buffer)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		b.Run(ctx, src)
	}()
	return src, stopped
}

func drain(l *Listener) [][]int16 {
	var got [][]int16
	for {
		select {
		case f := <-l.C:
			got = append(got, f)
		default:
			return got
		}
	}
}

func receive(t *testing.T, l *Listener) []int16 {
	t.Helper()
	select {
	case f := <-l.C:
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame within 1s")
		return nil
	}
}

// --- Listener bookkeeping ---

func TestListenerCount(t *testing.T) {
	b := NewBroadcaster()
	if n := b.ListenerCount(); n != 0 {
		t.Fatalf("ListenerCount = %d, want 0", n)
	}
	ls := []*Listener{b.Subscribe(), b.Subscribe(), b.Subscribe()}
	for i, l := range ls {
		b.Unsubscribe(l)
		if n, want := b.ListenerCount(), len(ls)-i-1; n != want {
			t.Errorf("after %d unsubscribes ListenerCount = %d, want %d", i+1, n, want)
		}
	}
}

func TestUnsubscribeClosesDoneOnce(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()
	b.Unsubscribe(l)
	b.Unsubscribe(l)
	select {
	case <-l.Done():
	default:
		t.Error("Done not closed after Unsubscribe")
	}
}

// --- Fan-out ---

func TestEveryListenerGetsTheSameFrames(t *testing.T) {
	b := NewBroadcaster()
	ls := []*Listener{b.Subscribe(), b.Subscribe(), b.Subscribe()}
	src, _ := startBroadcast(t, b, 4)

	frames := [][]int16{{1, -1}, {2, -2}, {3, -3}}
	for _, f := range frames {
		src <- f
	}
	for i, l := range ls {
		var got [][]int16
		for range frames {
			got = append(got, receive(t, l))
		}
		if diff := cmp.Diff(frames, got); diff != "" {
			t.Errorf("listener %d frames (-want +got):\n%s", i, diff)
		}
	}
	if sent, dropped := b.Stats(); sent != 9 || dropped != 0 {
		t.Errorf("Stats = %d sent, %d dropped, want 9 and 0", sent, dropped)
	}
}

func TestFullListenerLosesFramesWithoutBlocking(t *testing.T) {
	b := NewBroadcaster()
	stalled := b.Subscribe()
	src, _ := startBroadcast(t, b, 0)

	extra := 25
	for i := 0; i < listenerBuffer+extra; i++ {
		select {
		case src <- []int16{int16(i)}:
		case <-time.After(time.Second):
			t.Fatalf("broadcaster blocked at frame %d", i)
		}
	}

	// An unbuffered source guarantees every frame but the last was handed
	// over; wait for the last one to be counted.
	deadline := time.Now().Add(time.Second)
	for {
		sent, dropped := b.Stats()
		if sent+dropped == int64(listenerBuffer+extra) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Stats = %d sent, %d dropped, want %d total", sent, dropped, listenerBuffer+extra)
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := drain(stalled)
	if len(got) != listenerBuffer {
		t.Errorf("stalled listener holds %d frames, want %d", len(got), listenerBuffer)
	}
	if got[0][0] != 0 {
		t.Errorf("first kept frame = %d, want the oldest (0)", got[0][0])
	}
	if _, dropped := b.Stats(); dropped != int64(extra) {
		t.Errorf("dropped = %d, want %d", dropped, extra)
	}
}

// --- Shutdown ---

func TestRunStops(t *testing.T) {
	tests := []struct {
		name string
		stop func(cancel context.CancelFunc, src chan []int16)
	}{
		{"context cancelled", func(cancel context.CancelFunc, _ chan []int16) { cancel() }},
		{"source closed", func(_ context.CancelFunc, src chan []int16) { close(src) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBroadcaster()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			src := make(chan []int16)
			stopped := make(chan struct{})
			go func() {
				defer close(stopped)
				b.Run(ctx, src)
			}()

			tt.stop(cancel, src)
			select {
			case <-stopped:
			case <-time.After(2 * time.Second):
				t.Fatal("Run did not return")
			}
		})
	}
}
