package assembly

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/cuemap/internal/audio"
	"github.com/satindergrewal/cuemap/internal/marker"
)

// ClipLoader decodes a clip at the requested rate and channel count.
type ClipLoader func(ctx context.Context, path string, rate, channels int) (audio.Buffer, error)

// Engine renders tracks from generated clips.
type Engine struct {
	assetsDir  string
	sampleRate int
	load       ClipLoader
	logger     zerolog.Logger
}

// NewEngine creates a renderer that resolves clips under assetsDir and mixes
// at sampleRate.
func NewEngine(assetsDir string, sampleRate int, logger zerolog.Logger) *Engine {
	if sampleRate <= 0 {
		sampleRate = audio.SampleRate
	}
	return &Engine{
		assetsDir:  assetsDir,
		sampleRate: sampleRate,
		load:       audio.LoadFile,
		logger:     logger,
	}
}

// SetLoader replaces the clip decoder.
func (e *Engine) SetLoader(fn ClipLoader) {
	e.load = fn
}

// SampleRate is the rate tracks are rendered at.
func (e *Engine) SampleRate() int {
	return e.sampleRate
}

// ResolveClip finds the current version's file for m. It checks the
// per-type directory, the assets root, and finally the path as stored.
func (e *Engine) ResolveClip(m marker.Marker) (string, bool) {
	v, ok := m.Current()
	if !ok || v.AssetFile == "" {
		return "", false
	}
	candidates := []string{
		filepath.Join(e.assetsDir, string(m.Type), v.AssetFile),
		filepath.Join(e.assetsDir, v.AssetFile),
	}
	if filepath.IsAbs(v.AssetFile) {
		candidates = append([]string{v.AssetFile}, candidates...)
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}

type placedClip struct {
	at  int
	buf audio.Buffer
}

// RenderTrack mixes each marker's current clip into a silent buffer at its
// time. The buffer lasts durationMS, or until the last clip ends when
// durationMS is not positive. Missing or unreadable clips are logged and
// skipped. It returns the buffer and the number of clips that landed
// inside it.
func (e *Engine) RenderTrack(ctx context.Context, track TrackID, markers []marker.Marker, durationMS int) (audio.Buffer, int) {
	channels := 1
	if track.Stereo() {
		channels = 2
	}

	var clips []placedClip
	for _, m := range markers {
		if ctx.Err() != nil {
			break
		}
		path, ok := e.ResolveClip(m)
		if !ok {
			e.logger.Warn().
				Str("track", string(track)).
				Str("marker", m.DisplayName()).
				Str("asset", m.AssetFile()).
				Msg("audio file not found, leaving gap")
			continue
		}
		buf, err := e.load(ctx, path, e.sampleRate, channels)
		if err != nil {
			e.logger.Warn().Err(err).Str("track", string(track)).Str("path", path).Msg("could not load clip, leaving gap")
			continue
		}
		buf = audio.Resample(audio.ToChannels(buf, channels), e.sampleRate)
		clips = append(clips, placedClip{at: audio.FramesForMS(e.sampleRate, m.TimeMS), buf: buf})
	}

	frames := audio.FramesForMS(e.sampleRate, durationMS)
	if durationMS <= 0 {
		for _, c := range clips {
			if end := c.at + c.buf.Frames(); end > frames {
				frames = end
			}
		}
	}

	out := audio.Silence(e.sampleRate, channels, frames)
	placed := 0
	for _, c := range clips {
		if audio.Overlay(&out, c.buf, c.at) > 0 {
			placed++
		}
	}
	e.logger.Debug().Str("track", string(track)).Int("clips", placed).Int("frames", frames).Msg("rendered track")
	return out, placed
}
