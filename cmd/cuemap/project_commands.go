package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/cuemap/internal/assembly"
	"github.com/satindergrewal/cuemap/internal/config"
	"github.com/satindergrewal/cuemap/internal/marker"
	"github.com/satindergrewal/cuemap/internal/project"
	"github.com/satindergrewal/cuemap/internal/session"
	"github.com/satindergrewal/cuemap/internal/template"
)

func newInitCommand(ctx *commandContext) *cobra.Command {
	var name, id, media, duration string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an empty project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			c := cmd.Context()
			db, err := openProject(c, cfg.Paths.ProjectDB)
			if err != nil {
				return err
			}
			defer db.Close()

			exists, err := db.Exists(c)
			if err != nil {
				return err
			}
			if exists && !force {
				return fmt.Errorf("project already exists at %s (use --force to replace it)", cfg.Paths.ProjectDB)
			}

			p := project.Project{
				TemplateID: strings.TrimSpace(id),
				Name:       strings.TrimSpace(name),
				Markers:    []marker.Marker{},
				UpdatedAt:  time.Now().UTC(),
			}
			if p.TemplateID == "" {
				p.TemplateID = template.DefaultID
			}
			if p.Name == "" {
				p.Name = template.DefaultName
			}
			if media != "" {
				abs, err := config.ExpandPath(media)
				if err != nil {
					return err
				}
				tl, err := session.MediaTimeline(c, abs)
				if err != nil {
					return fmt.Errorf("probe media: %w", err)
				}
				p.MediaPath = abs
				p.DurationMS = tl.DurationMS()
			}
			if duration != "" {
				ms, err := parseTimeMS(duration)
				if err != nil {
					return err
				}
				p.DurationMS = max(ms, 0)
			}

			if err := db.Save(c, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created project %q (%s) at %s, duration %s\n",
				p.Name, p.TemplateID, cfg.Paths.ProjectDB, marker.FormatTime(p.DurationMS))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Project name")
	cmd.Flags().StringVar(&id, "id", "", "Template identifier")
	cmd.Flags().StringVar(&media, "media", "", "Reference media file; its duration becomes the timeline length")
	cmd.Flags().StringVar(&duration, "duration", "", "Timeline length (ms, 1m30s or M:SS.mmm)")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing project")
	return cmd
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <template.json>",
		Short: "Replace the project markers with a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			t, err := template.ReadFile(args[0])
			if err != nil {
				return err
			}

			c := cmd.Context()
			db, err := openProject(c, cfg.Paths.ProjectDB)
			if err != nil {
				return err
			}
			defer db.Close()

			p, err := db.Load(c)
			switch {
			case errors.Is(err, project.ErrNoProject):
				p = &project.Project{}
			case err != nil:
				return err
			}
			p.TemplateID = t.ID
			p.Name = t.Name
			if t.DurationMS > 0 {
				p.DurationMS = t.DurationMS
			}
			p.Markers = t.Markers
			p.UpdatedAt = time.Now().UTC()
			if err := db.Save(c, *p); err != nil {
				return err
			}

			counts := t.Counts()
			parts := make([]string, 0, len(marker.Types))
			for _, typ := range marker.Types {
				if n := counts[typ]; n > 0 {
					parts = append(parts, fmt.Sprintf("%s %d", typ, n))
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d markers from %s", len(t.Markers), args[0])
			if len(parts) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " (%s)", strings.Join(parts, ", "))
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}

func newExportTemplateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "export-template [path]",
		Short: "Write the markers as template JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(_ context.Context, w *workspace) (bool, error) {
				t := template.New(w.templateID(), w.project.Name, w.project.DurationMS, w.sess.Snapshot())
				path := filepath.Join(w.cfg.Paths.OutputDir, t.ID+"_template.json")
				if len(args) == 1 {
					path = args[0]
				}
				if err := template.WriteFile(path, t); err != nil {
					return false, err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d markers to %s\n", len(t.Markers), path)
				return false, nil
			})
		},
	}
}

func newMarkersCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "markers",
		Aliases: []string{"ls"},
		Short:   "List markers in timeline order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(_ context.Context, w *workspace) (bool, error) {
				markers := w.sess.Snapshot()
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return false, enc.Encode(markers)
				}
				if len(markers) == 0 {
					fmt.Fprintln(out, "No markers")
					return false, nil
				}
				fmt.Fprintln(out, renderTable(out, markerHeaders, markerRows(markers), markerAligns))
				return false, nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print markers as JSON")
	return cmd
}

var (
	markerHeaders = []string{"#", "ID", "Time", "Type", "Name", "Slot", "Ver", "Status", "Prompt"}
	markerAligns  = []columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}
)

func markerRows(markers []marker.Marker) [][]string {
	rows := make([][]string, 0, len(markers))
	for i, m := range markers {
		ver := "-"
		if m.CurrentVersion > 0 {
			ver = fmt.Sprintf("%d/%d", m.CurrentVersion, len(m.Versions))
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			shortID(m.ID),
			marker.FormatTime(m.TimeMS),
			label(string(m.Type)),
			m.Name,
			m.AssetSlot,
			ver,
			label(string(m.Status())),
			truncate(m.Prompt.Summary(), 40),
		})
	}
	return rows
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show how markers map onto output channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(_ context.Context, w *workspace) (bool, error) {
				out := cmd.OutOrStdout()
				plan := assembly.Assign(w.sess.Snapshot())
				fmt.Fprintln(out, renderTable(out,
					[]string{"Track", "Channels", "Markers", "At"},
					planRows(plan),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
				return false, nil
			})
		},
	}
}

func planRows(plan assembly.Plan) [][]string {
	rows := make([][]string, 0, len(assembly.TrackOrder)+1)
	for _, id := range assembly.TrackOrder {
		ms := plan.Tracks[id]
		rows = append(rows, []string{label(string(id)), channelList(id.Channels()), strconv.Itoa(len(ms)), timesOf(ms)})
	}
	if len(plan.Unassigned) > 0 {
		rows = append(rows, []string{"Unassigned", "-", strconv.Itoa(len(plan.Unassigned)), timesOf(plan.Unassigned)})
	}
	return rows
}

func channelList(ch []int) string {
	parts := make([]string, len(ch))
	for i, c := range ch {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, "-")
}

func timesOf(ms []marker.Marker) string {
	parts := make([]string, 0, len(ms))
	for _, m := range ms {
		parts = append(parts, marker.FormatTime(m.TimeMS))
	}
	return truncate(strings.Join(parts, ", "), 60)
}
