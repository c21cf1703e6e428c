package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/cuemap/internal/assembly"
	"github.com/satindergrewal/cuemap/internal/fileutil"
	"github.com/satindergrewal/cuemap/internal/marker"
	"github.com/satindergrewal/cuemap/internal/template"
)

// Options describes one export.
type Options struct {
	OutputDir    string
	TemplateID   string
	TemplateName string
	DurationMS   int
	MediaPath    string
	SkipStems    bool
}

// Summary reports what an export produced.
type Summary struct {
	OutputDir     string
	Assembly      *assembly.Result
	MetadataPath  string
	TemplatePath  string
	Assets        []string
	MissingAssets []string
	Bytes         int64
	Elapsed       time.Duration
}

// String is a short human-readable report.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "exported to %s\n", s.OutputDir)
	if s.Assembly != nil {
		fmt.Fprintf(&b, "  assembled   %s (%d ch, %d Hz, %s)\n",
			filepath.Base(s.Assembly.MultichannelPath), s.Assembly.Channels, s.Assembly.SampleRate,
			time.Duration(s.Assembly.DurationMS)*time.Millisecond)
	}
	fmt.Fprintf(&b, "  assets      %d (+%d side-cars)\n", len(s.Assets), len(s.Assets))
	if n := len(s.MissingAssets); n > 0 {
		fmt.Fprintf(&b, "  missing     %d\n", n)
	}
	fmt.Fprintf(&b, "  total size  %s in %s\n", humanize.Bytes(uint64(s.Bytes)), s.Elapsed.Round(time.Millisecond))
	return b.String()
}

// Exporter produces export bundles.
type Exporter struct {
	assembler *assembly.Assembler
	logger    zerolog.Logger
	now       func() time.Time
}

func NewExporter(a *assembly.Assembler, logger zerolog.Logger) *Exporter {
	return &Exporter{assembler: a, logger: logger, now: time.Now}
}

// Export assembles markers and writes the bundle into opts.OutputDir:
//
//	<id>_assembled.wav            5-channel mix
//	assembled_preview_stereo.wav  stereo preview
//	<id>_assembled.json           channel metadata
//	assets/<type>/<file>          current version of every generated marker
//	assets/<type>/<file>_metadata.json
//	<id>_template.json
func (e *Exporter) Export(ctx context.Context, markers []marker.Marker, opts Options) (*Summary, error) {
	start := e.now()
	id := opts.TemplateID
	if id == "" {
		id = template.DefaultID
	}
	name := opts.TemplateName
	if name == "" {
		name = template.DefaultName
	}

	res, err := e.assembler.Assemble(ctx, markers, assembly.Options{
		OutputDir:  opts.OutputDir,
		Name:       id + "_assembled",
		DurationMS: opts.DurationMS,
		SkipStems:  opts.SkipStems,
	})
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}

	sum := &Summary{OutputDir: opts.OutputDir, Assembly: res}
	for _, p := range []string{res.MultichannelPath, res.PreviewPath} {
		sum.Bytes += fileSize(p)
	}
	for _, p := range res.StemPaths {
		sum.Bytes += fileSize(p)
	}

	md := BuildMetadata(res, id, name, opts.MediaPath, e.now())
	sum.MetadataPath = filepath.Join(opts.OutputDir, id+"_assembled.json")
	n, err := writeJSON(sum.MetadataPath, md)
	if err != nil {
		return nil, err
	}
	sum.Bytes += n

	for _, m := range res.Markers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !m.HasAudio() {
			continue
		}
		src, ok := e.assembler.Engine().ResolveClip(m)
		if !ok {
			sum.MissingAssets = append(sum.MissingAssets, m.AssetFile())
			e.logger.Warn().Str("marker", m.DisplayName()).Str("asset", m.AssetFile()).Msg("asset missing, not exported")
			continue
		}
		dst := filepath.Join(opts.OutputDir, "assets", string(m.Type), filepath.Base(m.AssetFile()))
		copied, err := copyFile(src, dst)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", m.DisplayName(), err)
		}
		side, err := assetMetadata(SidecarPath(dst), m, id)
		if err != nil {
			return nil, err
		}
		written, err := writeJSON(SidecarPath(dst), side)
		if err != nil {
			return nil, err
		}
		sum.Assets = append(sum.Assets, dst)
		sum.Bytes += copied + written
	}

	sum.TemplatePath = filepath.Join(opts.OutputDir, id+"_template.json")
	tmpl := template.New(id, name, opts.DurationMS, markers)
	if err := template.WriteFile(sum.TemplatePath, tmpl); err != nil {
		return nil, err
	}
	sum.Bytes += fileSize(sum.TemplatePath)

	sum.Elapsed = e.now().Sub(start)
	e.logger.Info().
		Str("output", opts.OutputDir).
		Int("assets", len(sum.Assets)).
		Int("missing", len(sum.MissingAssets)).
		Str("size", humanize.Bytes(uint64(sum.Bytes))).
		Msg("export complete")
	return sum, nil
}

func writeJSON(path string, v any) (int64, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := fileutil.WriteFileAtomic(path, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	var n int64
	err = fileutil.WriteAtomic(dst, func(w *os.File) error {
		var cerr error
		n, cerr = io.Copy(w, in)
		return cerr
	})
	return n, err
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
