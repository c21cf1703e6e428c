package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/satindergrewal/cuemap/internal/marker"
)

// Selector picks the markers a batch will generate.
type Selector func(m marker.Marker) bool

// Missing selects markers that have no usable audio yet: never generated,
// or whose current version failed.
func Missing(m marker.Marker) bool {
	if !m.Type.Generatable() {
		return false
	}
	switch m.Status() {
	case marker.StatusNotYetGenerated, marker.StatusFailed:
		return true
	}
	return false
}

// All selects every generatable marker, creating a new version for each.
func All(m marker.Marker) bool {
	return m.Type.Generatable()
}

// ByType selects generatable markers of one type.
func ByType(t marker.Type) Selector {
	return func(m marker.Marker) bool {
		return m.Type == t && m.Type.Generatable()
	}
}

// ProgressFunc reports batch progress before each marker starts. index is
// 1-based.
type ProgressFunc func(index, total int, m marker.Marker)

// Summary is the result of a batch run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
	Bytes     int
	Errors    map[string]error // by marker id
	Elapsed   time.Duration
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d generated (%s) in %s", s.Succeeded, s.Total,
		humanize.Bytes(uint64(s.Bytes)), s.Elapsed.Round(time.Millisecond))
	if s.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", s.Failed)
	}
	if s.Cancelled > 0 {
		fmt.Fprintf(&b, ", %d cancelled", s.Cancelled)
	}
	return b.String()
}

// Batch generates the selected markers one at a time, in timeline order.
// Cancellation is checked between markers; the rest are counted as
// cancelled. Failures do not stop the batch.
func (d *Dispatcher) Batch(ctx context.Context, sel Selector, progress ProgressFunc) Summary {
	start := time.Now()
	var ids []string
	var targets []marker.Marker
	for _, m := range d.store.All() {
		if sel(m) {
			ids = append(ids, m.ID)
			targets = append(targets, m)
		}
	}

	sum := Summary{Total: len(ids), Errors: make(map[string]error)}
	d.logger.Info().Int("markers", sum.Total).Msg("batch generation started")

	// Calls already dispatched run to completion even if ctx is cancelled.
	call := context.WithoutCancel(ctx)
	for i, id := range ids {
		if ctx.Err() != nil {
			sum.Cancelled = sum.Total - i
			break
		}
		if progress != nil {
			progress(i+1, sum.Total, targets[i])
		}
		out, err := d.GenerateSync(call, id)
		if err != nil {
			sum.Failed++
			sum.Errors[id] = err
			continue
		}
		sum.Succeeded++
		sum.Bytes += out.Bytes
	}

	sum.Elapsed = time.Since(start)
	d.logger.Info().
		Int("succeeded", sum.Succeeded).
		Int("failed", sum.Failed).
		Int("cancelled", sum.Cancelled).
		Dur("elapsed", sum.Elapsed).
		Msg("batch generation finished")
	return sum
}
