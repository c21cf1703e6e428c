package marker

import (
	"fmt"
	"time"
)

// NextVersion returns the number the next generated version will get.
func NextVersion(m Marker) int {
	highest := 0
	for _, v := range m.Versions {
		if v.Version > highest {
			highest = v.Version
		}
	}
	return highest + 1
}

// VersionFile builds the asset filename for version n of m.
func VersionFile(m Marker, n int) string {
	return fmt.Sprintf("%s_%05d_v%d.mp3", m.Type.AssetPrefix(), m.SlotNumber(), n)
}

// AddNewVersion appends a version snapshotting p and makes it current.
// The marker's working prompt is replaced with a copy of p.
func AddNewVersion(m *Marker, p PromptData, now time.Time) (int, error) {
	p = p.As(m.Type)
	if err := p.Validate(); err != nil {
		return 0, err
	}
	next := NextVersion(*m)
	m.Versions = append(m.Versions, AudioVersion{
		Version:        next,
		AssetFile:      VersionFile(*m, next),
		CreatedAt:      now.UTC(),
		Status:         StatusNotYetGenerated,
		PromptSnapshot: p.Clone(),
	})
	m.CurrentVersion = next
	m.Prompt = p.Clone()
	return next, nil
}

// RollbackToVersion makes version n current and restores its prompt.
// Returns false without touching m when n does not exist.
func RollbackToVersion(m *Marker, n int) bool {
	v, ok := m.Version(n)
	if !ok {
		return false
	}
	m.CurrentVersion = n
	m.Prompt = v.PromptSnapshot.Clone()
	return true
}

// MarkGenerating moves the current version from not_yet_generated to generating.
func MarkGenerating(m *Marker) error {
	return transition(m, StatusGenerating, func(*AudioVersion) {})
}

// CompleteVersion records a successful generation on the current version.
func CompleteVersion(m *Marker, assetFile, assetID string) error {
	return transition(m, StatusGenerated, func(v *AudioVersion) {
		if assetFile != "" {
			v.AssetFile = assetFile
		}
		v.AssetID = assetID
	})
}

// FailVersion marks the current version as failed.
func FailVersion(m *Marker) error {
	return transition(m, StatusFailed, func(*AudioVersion) {})
}

func canTransition(from, to Status) bool {
	switch from {
	case StatusNotYetGenerated:
		return to == StatusGenerating
	case StatusGenerating:
		return to == StatusGenerated || to == StatusFailed
	}
	return false
}

func transition(m *Marker, to Status, apply func(*AudioVersion)) error {
	for i := range m.Versions {
		v := &m.Versions[i]
		if v.Version != m.CurrentVersion {
			continue
		}
		if !canTransition(v.Status, to) {
			return fmt.Errorf("version %d %s -> %s: %w", v.Version, v.Status, to, ErrInvalidTransition)
		}
		v.Status = to
		apply(v)
		return nil
	}
	return fmt.Errorf("marker %s has no current version: %w", m.ID, ErrNotFound)
}
