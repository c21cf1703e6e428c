package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/satindergrewal/cuemap/internal/marker"
)

var titleCaser = cases.Title(language.English)

// parseTimeMS accepts plain milliseconds ("1500"), Go durations ("1.5s",
// "-200ms") and clock positions ("1:02.500").
func parseTimeMS(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty time")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	if strings.Contains(s, ":") {
		return parseClock(s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (use ms, a duration like 1.5s, or M:SS.mmm)", s)
	}
	return int(d / time.Millisecond), nil
}

func parseClock(s string) (int, error) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	sec, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil || sec < 0 || sec >= 60 {
		return 0, fmt.Errorf("invalid seconds in %q", s)
	}
	total := sec * 1000
	scale := 60000.0
	for i := len(parts) - 2; i >= 0; i-- {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time %q", s)
		}
		total += float64(n) * scale
		scale *= 60
	}
	ms := int(math.Round(total))
	if neg {
		ms = -ms
	}
	return ms, nil
}

// resolveMarker finds a marker by 1-based timeline position, full ID or a
// unique ID prefix.
func resolveMarker(markers []marker.Marker, ref string) (marker.Marker, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return marker.Marker{}, fmt.Errorf("marker reference is empty")
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(markers) {
			return marker.Marker{}, fmt.Errorf("marker #%d: %w (have %d)", n, marker.ErrNotFound, len(markers))
		}
		return markers[n-1], nil
	}
	var found []marker.Marker
	for _, m := range markers {
		if m.ID == ref {
			return m, nil
		}
		if strings.HasPrefix(m.ID, ref) {
			found = append(found, m)
		}
	}
	switch len(found) {
	case 0:
		return marker.Marker{}, fmt.Errorf("marker %q: %w", ref, marker.ErrNotFound)
	case 1:
		return found[0], nil
	}
	return marker.Marker{}, fmt.Errorf("marker %q is ambiguous (%d matches)", ref, len(found))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// label turns an identifier like "not_yet_generated" into "Not Yet Generated".
func label(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// parseSection reads "name:duration[:pos1,pos2[:neg1,neg2]]".
func parseSection(s string) (marker.MusicSection, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) < 2 {
		return marker.MusicSection{}, fmt.Errorf("section %q: want name:duration[:styles[:negative styles]]", s)
	}
	ms, err := parseTimeMS(parts[1])
	if err != nil {
		return marker.MusicSection{}, fmt.Errorf("section %q: %w", s, err)
	}
	sec := marker.MusicSection{
		Name:                strings.TrimSpace(parts[0]),
		DurationMS:          ms,
		PositiveLocalStyles: []string{},
		NegativeLocalStyles: []string{},
	}
	if len(parts) > 2 {
		sec.PositiveLocalStyles = splitList(parts[2])
	}
	if len(parts) > 3 {
		sec.NegativeLocalStyles = splitList(parts[3])
	}
	return sec, nil
}

func splitList(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
