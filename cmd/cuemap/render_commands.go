package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/satindergrewal/cuemap/internal/assembly"
	"github.com/satindergrewal/cuemap/internal/export"
	"github.com/satindergrewal/cuemap/internal/generate"
	"github.com/satindergrewal/cuemap/internal/logging"
	"github.com/satindergrewal/cuemap/internal/marker"
	"github.com/satindergrewal/cuemap/internal/session"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var all, missing bool
	var typeName string

	cmd := &cobra.Command{
		Use:   "generate [marker...]",
		Short: "Generate audio for markers",
		Long: `Generate audio for the named markers, or for a selection:
  --missing  markers without audio or whose last attempt failed (default)
  --all      every generatable marker, adding a new version to each
  --type T   every generatable marker of one type`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 && (all || missing || typeName != "") {
				return fmt.Errorf("name markers or pass a selection flag, not both")
			}
			if all && typeName != "" {
				return fmt.Errorf("--all and --type are exclusive")
			}
			sel := generate.Missing
			switch {
			case all:
				sel = generate.All
			case typeName != "":
				t, err := marker.ParseType(typeName)
				if err != nil {
					return err
				}
				sel = generate.ByType(t)
			}

			return ctx.withWorkspace(cmd, func(c context.Context, w *workspace) (bool, error) {
				if w.sess.Dispatcher() == nil {
					return false, fmt.Errorf("%w: set generation.api_key or ELEVENLABS_API_KEY", session.ErrNoGenerator)
				}
				if len(args) > 0 {
					return generateNamed(c, cmd, w, args)
				}
				return generateBatch(c, cmd, w, sel)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Generate every marker")
	cmd.Flags().BoolVar(&missing, "missing", false, "Generate markers without audio")
	cmd.Flags().StringVar(&typeName, "type", "", "Generate markers of one type")
	return cmd
}

func generateNamed(ctx context.Context, cmd *cobra.Command, w *workspace, refs []string) (bool, error) {
	snapshot := w.sess.Snapshot()
	targets := make([]marker.Marker, 0, len(refs))
	for _, ref := range refs {
		m, err := resolveMarker(snapshot, ref)
		if err != nil {
			return false, err
		}
		targets = append(targets, m)
	}

	out := cmd.OutOrStdout()
	changed := false
	failed := 0
	for _, m := range targets {
		fmt.Fprintf(out, "Generating %s (%s)\n", m.DisplayName(), m.Type)
		o, err := w.sess.GenerateSync(ctx, m.ID)
		changed = changed || o.Version > 0
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return changed, err
			}
			failed++
			fmt.Fprintf(out, "  failed: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "  v%d %s (%s)\n", o.Version, o.AssetFile, humanize.Bytes(uint64(o.Bytes)))
	}
	if failed > 0 {
		return changed, fmt.Errorf("%d of %d generations failed", failed, len(targets))
	}
	return changed, nil
}

func generateBatch(ctx context.Context, cmd *cobra.Command, w *workspace, sel generate.Selector) (bool, error) {
	out := cmd.OutOrStdout()
	sum, err := w.sess.GenerateBatch(ctx, sel, func(i, total int, m marker.Marker) {
		fmt.Fprintf(out, "[%d/%d] %s %s at %s\n", i, total, m.Type, m.DisplayName(), marker.FormatTime(m.TimeMS))
	})
	if err != nil {
		return false, err
	}
	if sum.Total == 0 {
		fmt.Fprintln(out, "Nothing to generate")
		return false, nil
	}
	fmt.Fprintln(out, sum.String())

	ids := make([]string, 0, len(sum.Errors))
	for id := range sum.Errors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "  %s: %v\n", shortID(id), sum.Errors[id])
	}

	switch {
	case sum.Cancelled > 0:
		return true, ctx.Err()
	case sum.Failed > 0:
		return true, fmt.Errorf("%d generations failed", sum.Failed)
	}
	return true, nil
}

type renderFlags struct {
	outDir   string
	duration string
	noStems  bool
}

func (f *renderFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.outDir, "out", "o", "", "Output directory (default paths.output_dir)")
	cmd.Flags().StringVar(&f.duration, "duration", "", "Render length (default the project duration)")
	cmd.Flags().BoolVar(&f.noStems, "no-stems", false, "Skip per-track stem files")
}

func (f *renderFlags) resolve(w *workspace) (outDir string, durationMS int, skipStems bool, err error) {
	outDir = f.outDir
	if outDir == "" {
		outDir = w.cfg.Paths.OutputDir
	}
	durationMS = w.durationMS()
	if f.duration != "" {
		if durationMS, err = parseTimeMS(f.duration); err != nil {
			return "", 0, false, err
		}
	}
	return outDir, durationMS, f.noStems || !w.cfg.Assembly.Stems, nil
}

func newAssembleCommand(ctx *commandContext) *cobra.Command {
	var rf renderFlags

	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Render every marker into the 5-channel WAV, a stereo preview and stems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(c context.Context, w *workspace) (bool, error) {
				outDir, dur, skip, err := rf.resolve(w)
				if err != nil {
					return false, err
				}
				res, err := w.sess.Assemble(c, w.assembler(), assembly.Options{
					OutputDir:  outDir,
					Name:       w.templateID() + "_assembled",
					DurationMS: dur,
					SkipStems:  skip,
				})
				if err != nil {
					if errors.Is(err, assembly.ErrNothingToAssemble) {
						return false, fmt.Errorf("%w: no marker has a generated clip on disk", err)
					}
					return false, err
				}
				printAssembly(cmd, res)
				return false, nil
			})
		},
	}
	rf.bind(cmd)
	return cmd
}

func printAssembly(cmd *cobra.Command, res *assembly.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, res.Plan.Summary())
	fmt.Fprintf(out, "Wrote %s (%d ch, %d Hz, %d-bit, %s)\n", res.MultichannelPath, res.Channels,
		res.SampleRate, res.BitDepth, time.Duration(res.DurationMS)*time.Millisecond)
	fmt.Fprintf(out, "Preview %s\n", res.PreviewPath)
	for _, id := range assembly.TrackOrder {
		if p, ok := res.StemPaths[id]; ok {
			fmt.Fprintf(out, "Stem %s (%d clips)\n", filepath.Base(p), res.Placed[id])
		}
	}
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var rf renderFlags

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Assemble and write the delivery bundle with metadata and assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(c context.Context, w *workspace) (bool, error) {
				outDir, dur, skip, err := rf.resolve(w)
				if err != nil {
					return false, err
				}
				exp := export.NewExporter(w.assembler(), logging.Component(w.logger, "export"))
				sum, err := exp.Export(c, w.sess.Snapshot(), export.Options{
					OutputDir:    outDir,
					TemplateID:   w.templateID(),
					TemplateName: w.project.Name,
					DurationMS:   dur,
					MediaPath:    w.project.MediaPath,
					SkipStems:    skip,
				})
				if err != nil {
					return false, err
				}
				fmt.Fprint(cmd.OutOrStdout(), sum.String())
				return false, nil
			})
		},
	}
	rf.bind(cmd)
	return cmd
}
