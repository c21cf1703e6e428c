// Package export writes the deliverable bundle for a timeline: the
// assembled audio, its channel metadata, every generated asset with a
// side-car, and the template itself.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/satindergrewal/cuemap/internal/assembly"
	"github.com/satindergrewal/cuemap/internal/marker"
)

// ChannelMap names each channel of the multi-channel file.
var ChannelMap = map[string]string{
	"1": "music_left",
	"2": "music_right",
	"3": "sfx_1",
	"4": "sfx_2",
	"5": "voice",
}

// ChannelTypes describes the layout of each track.
var ChannelTypes = map[string]string{
	"1-2": "stereo",
	"3":   "mono",
	"4":   "mono",
	"5":   "mono",
}

// Metadata is the assembled-file description written next to the WAV.
type Metadata struct {
	TemplateID       string            `json:"template_id"`
	TemplateName     string            `json:"template_name"`
	MediaPath        string            `json:"video_reference,omitempty"`
	AssembledFile    string            `json:"assembled_file"`
	PreviewFile      string            `json:"preview_file"`
	ChannelMap       map[string]string `json:"channel_map"`
	ChannelTypes     map[string]string `json:"channel_types"`
	SampleRate       int               `json:"sample_rate"`
	BitDepth         int               `json:"bit_depth"`
	Channels         int               `json:"channels"`
	DurationMS       int               `json:"duration_ms"`
	MarkerCount      int               `json:"marker_count"`
	Markers          []MarkerRecord    `json:"markers"`
	ExportedAt       time.Time         `json:"exported_at"`
	TrackMarkerCount map[string]int    `json:"track_marker_count"`
}

// MarkerRecord is the provenance of one marker in the export.
type MarkerRecord struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Type             marker.Type     `json:"type"`
	TimeMS           int             `json:"time_ms"`
	AssignedTrack    string          `json:"assigned_track,omitempty"`
	AssignedChannels []int           `json:"assigned_channels,omitempty"`
	CurrentVersion   int             `json:"current_version"`
	AssetFile        string          `json:"asset_file"`
	AssetID          string          `json:"asset_id,omitempty"`
	Status           marker.Status   `json:"status"`
	Versions         []VersionRecord `json:"version_history"`
}

// VersionRecord is one entry of a marker's version history.
type VersionRecord struct {
	Version   int           `json:"version"`
	AssetFile string        `json:"asset_file"`
	AssetID   string        `json:"asset_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	Status    marker.Status `json:"status"`
}

// BuildMetadata describes an assembly result.
func BuildMetadata(res *assembly.Result, id, name, mediaPath string, now time.Time) Metadata {
	md := Metadata{
		TemplateID:       id,
		TemplateName:     name,
		MediaPath:        mediaPath,
		AssembledFile:    filepath.Base(res.MultichannelPath),
		PreviewFile:      filepath.Base(res.PreviewPath),
		ChannelMap:       ChannelMap,
		ChannelTypes:     ChannelTypes,
		SampleRate:       res.SampleRate,
		BitDepth:         res.BitDepth,
		Channels:         res.Channels,
		DurationMS:       res.DurationMS,
		MarkerCount:      len(res.Markers),
		Markers:          make([]MarkerRecord, 0, len(res.Markers)),
		ExportedAt:       now.UTC(),
		TrackMarkerCount: make(map[string]int, len(assembly.TrackOrder)),
	}
	for _, t := range assembly.TrackOrder {
		md.TrackMarkerCount[string(t)] = len(res.Plan.Tracks[t])
	}

	markers := append([]marker.Marker(nil), res.Markers...)
	sort.SliceStable(markers, func(a, b int) bool { return markers[a].TimeMS < markers[b].TimeMS })
	for _, m := range markers {
		md.Markers = append(md.Markers, recordFor(m))
	}
	return md
}

func recordFor(m marker.Marker) MarkerRecord {
	r := MarkerRecord{
		ID:               m.ID,
		Name:             m.DisplayName(),
		Type:             m.Type,
		TimeMS:           m.TimeMS,
		AssignedTrack:    m.AssignedTrack,
		AssignedChannels: m.AssignedChannels,
		CurrentVersion:   m.CurrentVersion,
		AssetFile:        m.AssetFile(),
		AssetID:          m.AssetID(),
		Status:           m.Status(),
		Versions:         make([]VersionRecord, 0, len(m.Versions)),
	}
	for _, v := range m.Versions {
		r.Versions = append(r.Versions, VersionRecord{
			Version:   v.Version,
			AssetFile: v.AssetFile,
			AssetID:   v.AssetID,
			CreatedAt: v.CreatedAt.UTC(),
			Status:    v.Status,
		})
	}
	return r
}

// AssetMetadata is the side-car written next to each exported asset. One
// asset may be used by several templates; Usage keeps one entry per
// template.
type AssetMetadata struct {
	AssetFile string            `json:"asset_file"`
	AssetID   string            `json:"asset_id,omitempty"`
	Type      marker.Type       `json:"type"`
	Title     string            `json:"title"`
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	Prompt    marker.PromptData `json:"prompt_data"`
	Usage     []TemplateUsage   `json:"usedInTemplates"`
	Extra     map[string]any    `json:"extra,omitempty"`
}

// TemplateUsage records where a template places an asset.
type TemplateUsage struct {
	TemplateID  string `json:"template_id"`
	TimestampMS int    `json:"timestamp_ms"`
	ScriptText  string `json:"script_text,omitempty"`
}

// SidecarPath returns the side-car location for an asset file.
func SidecarPath(assetPath string) string {
	ext := filepath.Ext(assetPath)
	return assetPath[:len(assetPath)-len(ext)] + "_metadata.json"
}

// assetMetadata builds the side-car for m, merging with an existing one at
// path so usage from other templates is preserved.
func assetMetadata(path string, m marker.Marker, templateID string) (AssetMetadata, error) {
	v, _ := m.Current()
	md := AssetMetadata{
		AssetFile: v.AssetFile,
		AssetID:   v.AssetID,
		Type:      m.Type,
		Title:     m.DisplayName(),
		Version:   v.Version,
		CreatedAt: v.CreatedAt.UTC(),
		Prompt:    v.PromptSnapshot.As(m.Type),
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var prev AssetMetadata
		if err := json.Unmarshal(data, &prev); err != nil {
			return AssetMetadata{}, fmt.Errorf("decode %s: %w", path, err)
		}
		md.Usage = prev.Usage
		md.Extra = prev.Extra
	case !os.IsNotExist(err):
		return AssetMetadata{}, fmt.Errorf("read %s: %w", path, err)
	}

	use := TemplateUsage{TemplateID: templateID, TimestampMS: m.TimeMS}
	if m.Type == marker.TypeVoice {
		use.ScriptText = v.PromptSnapshot.Text
	}
	replaced := false
	for i, u := range md.Usage {
		if u.TemplateID == templateID {
			md.Usage[i] = use
			replaced = true
			break
		}
	}
	if !replaced {
		md.Usage = append(md.Usage, use)
	}
	return md, nil
}
