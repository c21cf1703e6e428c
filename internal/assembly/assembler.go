package assembly

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/cuemap/internal/audio"
	"github.com/satindergrewal/cuemap/internal/marker"
)

// Result describes a finished assembly.
type Result struct {
	MultichannelPath string
	PreviewPath      string
	StemPaths        map[TrackID]string
	Plan             Plan
	Markers          []marker.Marker // annotated snapshot that was assembled
	Placed           map[TrackID]int
	SampleRate       int
	Channels         int
	BitDepth         int
	Frames           int
	DurationMS       int
	Elapsed          time.Duration
}

// Assembler turns a marker snapshot into the multi-channel file, a stereo
// preview and per-track stems.
type Assembler struct {
	engine *Engine
	logger zerolog.Logger
}

func NewAssembler(engine *Engine, logger zerolog.Logger) *Assembler {
	return &Assembler{engine: engine, logger: logger}
}

// Engine returns the track renderer.
func (a *Assembler) Engine() *Engine {
	return a.engine
}

// Options controls where assembly output goes.
type Options struct {
	OutputDir  string
	Name       string // multi-channel filename without extension
	DurationMS int
	SkipStems  bool
}

// Assemble renders markers into the output directory. The input slice is
// copied first, so callers may keep mutating their own state. When no track
// receives any audio it returns ErrNothingToAssemble without writing files.
func (a *Assembler) Assemble(ctx context.Context, markers []marker.Marker, opts Options) (*Result, error) {
	start := time.Now()

	snapshot := make([]marker.Marker, len(markers))
	for i, m := range markers {
		snapshot[i] = m.Clone()
	}
	plan := Assign(snapshot)

	var tracks Tracks
	placed := make(map[TrackID]int, len(TrackOrder))
	total := 0
	for _, id := range TrackOrder {
		assigned := plan.Tracks[id]
		if len(assigned) == 0 {
			continue
		}
		buf, n := a.engine.RenderTrack(ctx, id, assigned, opts.DurationMS)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		placed[id] = n
		total += n
		if n > 0 {
			b := buf
			tracks.Set(id, &b)
		}
	}
	if total == 0 {
		return nil, ErrNothingToAssemble
	}

	multi, err := Multiplex(tracks)
	if err != nil {
		return nil, err
	}
	preview, err := MixPreview(tracks)
	if err != nil {
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = "assembled"
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	res := &Result{
		MultichannelPath: filepath.Join(opts.OutputDir, name+".wav"),
		PreviewPath:      filepath.Join(opts.OutputDir, PreviewName),
		StemPaths:        make(map[TrackID]string),
		Plan:             plan,
		Markers:          snapshot,
		Placed:           placed,
		SampleRate:       multi.SampleRate,
		Channels:         multi.Channels,
		BitDepth:         audio.BitDepth,
		Frames:           multi.Frames(),
		DurationMS:       multi.DurationMS(),
	}

	if err := audio.WriteWAVFile(res.MultichannelPath, multi); err != nil {
		return nil, fmt.Errorf("write multichannel: %w", err)
	}
	if err := audio.WriteWAVFile(res.PreviewPath, preview); err != nil {
		return nil, fmt.Errorf("write preview: %w", err)
	}
	if !opts.SkipStems {
		for _, id := range TrackOrder {
			b := tracks.Get(id)
			if b == nil {
				continue
			}
			path := filepath.Join(opts.OutputDir, id.StemName())
			if err := audio.WriteWAVFile(path, *b); err != nil {
				return nil, fmt.Errorf("write stem %s: %w", id, err)
			}
			res.StemPaths[id] = path
		}
	}

	res.Elapsed = time.Since(start)
	a.logger.Info().
		Str("output", res.MultichannelPath).
		Int("sample_rate", res.SampleRate).
		Int("duration_ms", res.DurationMS).
		Int("clips", total).
		Dur("elapsed", res.Elapsed).
		Msg("assembly complete")
	return res, nil
}
