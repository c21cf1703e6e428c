package main

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/satindergrewal/cuemap/internal/marker"
)

func TestParseTimeMS(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"1500", 1500, false},
		{"-200", -200, false},
		{"1.5s", 1500, false},
		{"-250ms", -250, false},
		{"2m3s", 123000, false},
		{"1:02.500", 62500, false},
		{"0:00.001", 1, false},
		{"1:00:00", 3600000, false},
		{"-0:01", -1000, false},
		{"", 0, true},
		{"abc", 0, true},
		{"1:75", 0, true},
		{"1:2:3:4", 0, true},
	}
	for _, tt := range tests {
		got, err := parseTimeMS(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTimeMS(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseTimeMS(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestResolveMarker(t *testing.T) {
	markers := []marker.Marker{
		{ID: "aaaa1111-0000", TimeMS: 0},
		{ID: "aaaa2222-0000", TimeMS: 10},
		{ID: "bbbb3333-0000", TimeMS: 20},
	}

	tests := []struct {
		ref    string
		wantID string
	}{
		{"1", "aaaa1111-0000"},
		{"3", "bbbb3333-0000"},
		{"bbbb", "bbbb3333-0000"},
		{"aaaa2", "aaaa2222-0000"},
		{"aaaa1111-0000", "aaaa1111-0000"},
	}
	for _, tt := range tests {
		got, err := resolveMarker(markers, tt.ref)
		if err != nil {
			t.Errorf("resolveMarker(%q) error: %v", tt.ref, err)
			continue
		}
		if got.ID != tt.wantID {
			t.Errorf("resolveMarker(%q) = %s, want %s", tt.ref, got.ID, tt.wantID)
		}
	}

	for _, ref := range []string{"0", "4", "zzzz"} {
		if _, err := resolveMarker(markers, ref); !errors.Is(err, marker.ErrNotFound) {
			t.Errorf("resolveMarker(%q) err = %v, want ErrNotFound", ref, err)
		}
	}
	if _, err := resolveMarker(markers, "aaaa"); err == nil {
		t.Error("ambiguous prefix should fail")
	}
	if _, err := resolveMarker(markers, " "); err == nil {
		t.Error("empty reference should fail")
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"add sfx 1000", []string{"add", "sfx", "1000"}},
		{"  rename  2\t'big door' ", []string{"rename", "2", "big door"}},
		{`prompt 1 --text "it's here"`, []string{"prompt", "1", "--text", "it's here"}},
		{`rename 1 ""`, []string{"rename", "1", ""}},
	}
	for _, tt := range tests {
		got, err := splitArgs(tt.line)
		if err != nil {
			t.Errorf("splitArgs(%q) error: %v", tt.line, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("splitArgs(%q) mismatch (-want +got):\n%s", tt.line, diff)
		}
	}
	if _, err := splitArgs(`rename 1 "open`); err == nil {
		t.Error("unterminated quote should fail")
	}
}

func TestParseSection(t *testing.T) {
	got, err := parseSection("verse:1m:piano, strings:drums")
	if err != nil {
		t.Fatalf("parseSection: %v", err)
	}
	want := marker.MusicSection{
		Name:                "verse",
		DurationMS:          60000,
		PositiveLocalStyles: []string{"piano", "strings"},
		NegativeLocalStyles: []string{"drums"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseSection mismatch (-want +got):\n%s", diff)
	}

	bare, err := parseSection("outro:5000")
	if err != nil {
		t.Fatalf("parseSection bare: %v", err)
	}
	if bare.PositiveLocalStyles == nil || bare.NegativeLocalStyles == nil {
		t.Errorf("style lists should be empty, not nil: %+v", bare)
	}

	for _, bad := range []string{"intro", "intro:soon"} {
		if _, err := parseSection(bad); err == nil {
			t.Errorf("parseSection(%q) should fail", bad)
		}
	}
}

func TestLabelAndTruncate(t *testing.T) {
	if got := label("not_yet_generated"); got != "Not Yet Generated" {
		t.Errorf("label = %q", got)
	}
	if got := label("music_lr"); got != "Music Lr" {
		t.Errorf("label = %q", got)
	}
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abc", 4); got != "abc" {
		t.Errorf("truncate = %q", got)
	}
}

func TestRenderTablePlainOutsideTerminal(t *testing.T) {
	out := renderTable(nil, []string{"A", "B"}, [][]string{{"1"}}, []columnAlignment{alignRight})
	if out == "" || out[0] != '+' {
		t.Errorf("want ASCII table, got:\n%s", out)
	}
	if renderTable(nil, nil, nil, nil) != "" {
		t.Error("no headers should render nothing")
	}
}
