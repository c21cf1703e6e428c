package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/cuemap/internal/marker"
	"github.com/satindergrewal/cuemap/internal/session"
)

func newMarkerEditCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newAddCommand(ctx),
		newMoveCommand(ctx),
		newNudgeCommand(ctx),
		newDeleteCommand(ctx),
		newRenameCommand(ctx),
		newPromptCommand(ctx),
		newRetypeCommand(ctx),
		newRollbackCommand(ctx),
	}
}

// lookup resolves ref against the current markers.
func lookup(w *workspace, ref string) (marker.Marker, error) {
	return resolveMarker(w.sess.Snapshot(), ref)
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var name string
	var pf promptFlags

	cmd := &cobra.Command{
		Use:   "add <type> <time>",
		Short: "Add a marker (types: sfx, voice, music, music_control)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := marker.ParseType(args[0])
			if err != nil {
				return err
			}
			ms, err := parseTimeMS(args[1])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(_ context.Context, w *workspace) (bool, error) {
				m, err := w.sess.AddMarker(t, ms, name)
				if err != nil {
					return false, err
				}
				if pf.changed(cmd) {
					p, err := pf.build(cmd, m.Type, m.Prompt)
					if err != nil {
						return true, err
					}
					if err := w.sess.SetPrompt(m.ID, p); err != nil {
						return true, err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s marker %s at %s (slot %s)\n",
					m.Type, shortID(m.ID), marker.FormatTime(m.TimeMS), m.AssetSlot)
				return true, nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	pf.bind(cmd)
	return cmd
}

func newMoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "move <marker> <time>",
		Short: "Place a marker at a new time",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ms, err := parseTimeMS(args[1])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(_ context.Context, w *workspace) (bool, error) {
				m, err := lookup(w, args[0])
				if err != nil {
					return false, err
				}
				if err := w.sess.Move(m.ID, ms); err != nil {
					return false, err
				}
				moved, _ := w.sess.Marker(m.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", m.DisplayName(),
					marker.FormatTime(m.TimeMS), marker.FormatTime(moved.TimeMS))
				return moved.TimeMS != m.TimeMS, nil
			})
		},
	}
}

func newNudgeCommand(ctx *commandContext) *cobra.Command {
	var frames int
	var fps float64

	cmd := &cobra.Command{
		Use:   "nudge <marker> [delta]",
		Short: "Shift a marker by a delta (ms or duration) or by video frames",
		Long: `Shift a marker by a delta (ms or duration) or by video frames.

Put -- before a negative delta so it is not read as a flag:
  cuemap nudge 3 -- -250ms`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var delta int
			byFrames := cmd.Flags().Changed("frames")
			switch {
			case byFrames && len(args) == 2:
				return fmt.Errorf("give either a delta or --frames, not both")
			case !byFrames && len(args) < 2:
				return fmt.Errorf("missing delta")
			case !byFrames:
				d, err := parseTimeMS(args[1])
				if err != nil {
					return err
				}
				delta = d
			}
			return ctx.withWorkspace(cmd, func(_ context.Context, w *workspace) (bool, error) {
				m, err := lookup(w, args[0])
				if err != nil {
					return false, err
				}
				var moved bool
				if byFrames {
					moved, err = w.sess.NudgeFrames(m.ID, frames, fps)
				} else {
					moved, err = w.sess.Nudge(m.ID, delta)
				}
				if err != nil {
					return false, err
				}
				if !moved {
					fmt.Fprintf(cmd.OutOrStdout(), "%s stays at %s\n", m.DisplayName(), marker.FormatTime(m.TimeMS))
					return false, nil
				}
				after, _ := w.sess.Marker(m.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", m.DisplayName(),
					marker.FormatTime(m.TimeMS), marker.FormatTime(after.TimeMS))
				return true, nil
			})
		},
	}
	cmd.Flags().IntVar(&frames, "frames", 0, "Nudge by this many video frames (negative moves earlier)")
	cmd.Flags().Float64Var(&fps, "fps", session.DefaultFPS, "Frame rate for --frames")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:     "delete <marker>...",
		Aliases: []string{"rm"},
		Short:   "Remove markers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("name at least one marker, or pass --all")
			}
			return ctx.withWorkspace(cmd, func(_ context.Context, w *workspace) (bool, error) {
				out := cmd.OutOrStdout()
				if all {
					n, err := w.sess.Clear()
					if err != nil {
						return n > 0, err
					}
					fmt.Fprintf(out, "Removed %d markers\n", n)
					return n > 0, nil
				}
				// Resolve everything first; positions shift as markers go.
				snapshot := w.sess.Snapshot()
				targets := make([]marker.Marker, 0, len(args))
				for _, ref := range args {
					m, err := resolveMarker(snapshot, ref)
					if err != nil {
						return false, err
					}
					targets = append(targets, m)
				}
				removed := 0
				for _, m := range targets {
					if err := w.sess.Delete(m.ID); err != nil {
						return removed > 0, err
					}
					removed++
					fmt.Fprintf(out, "Removed %s at %s\n", m.DisplayName(), marker.FormatTime(m.TimeMS))
				}
				return true, nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Remove every marker")
	return cmd
}

func newRenameCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <marker> <name>",
		Short: "Set a marker's display name",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args[1:], " ")
			return ctx.withWorkspace(cmd, func(_ context.Context, w *workspace) (bool, error) {
				m, err := lookup(w, args[0])
				if err != nil {
					return false, err
				}
				if err := w.sess.Rename(m.ID, name); err != nil {
					return false, err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", shortID(m.ID), name)
				return true, nil
			})
		},
	}
}

func newPromptCommand(ctx *commandContext) *cobra.Command {
	var pf promptFlags

	cmd := &cobra.Command{
		Use:   "prompt <marker>",
		Short: "Show or edit a marker's generation prompt",
		Long: `Show or edit a marker's generation prompt.

Without flags the current prompt is printed. Flags apply by marker type:
  sfx, music_control  --description
  voice               --profile, --text
  music               --positive, --negative, --section name:duration[:styles[:negative]]`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(_ context.Context, w *workspace) (bool, error) {
				m, err := lookup(w, args[0])
				if err != nil {
					return false, err
				}
				out := cmd.OutOrStdout()
				if !pf.changed(cmd) {
					printPrompt(cmd, m)
					return false, nil
				}
				p, err := pf.build(cmd, m.Type, m.Prompt)
				if err != nil {
					return false, err
				}
				if err := w.sess.SetPrompt(m.ID, p); err != nil {
					return false, err
				}
				fmt.Fprintf(out, "Updated prompt for %s: %s\n", m.DisplayName(), p.Summary())
				return true, nil
			})
		},
	}
	pf.bind(cmd)
	return cmd
}

func printPrompt(cmd *cobra.Command, m marker.Marker) {
	out := cmd.OutOrStdout()
	p := m.Prompt
	fmt.Fprintf(out, "%s (%s)\n", m.DisplayName(), label(string(m.Type)))
	switch p.Kind {
	case marker.TypeVoice:
		fmt.Fprintf(out, "  profile: %s\n  text:    %s\n", p.VoiceProfile, p.Text)
	case marker.TypeMusic:
		fmt.Fprintf(out, "  positive: %s\n  negative: %s\n",
			strings.Join(p.PositiveGlobalStyles, ", "), strings.Join(p.NegativeGlobalStyles, ", "))
		for i, s := range p.Sections {
			fmt.Fprintf(out, "  section %d: %s %s [%s] [-%s]\n", i+1, s.Name,
				time.Duration(s.DurationMS)*time.Millisecond,
				strings.Join(s.PositiveLocalStyles, ", "), strings.Join(s.NegativeLocalStyles, ", "))
		}
	default:
		fmt.Fprintf(out, "  description: %s\n", p.Description)
	}
}

func newRetypeCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "retype <marker> <type>",
		Short: "Change a marker's type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := marker.ParseType(args[1])
			if err != nil {
				return err
			}
			return ctx.withWorkspace(cmd, func(_ context.Context, w *workspace) (bool, error) {
				m, err := lookup(w, args[0])
				if err != nil {
					return false, err
				}
				if m.Type == t {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is already %s\n", m.DisplayName(), t)
					return false, nil
				}
				if err := w.sess.ChangeType(m.ID, t, force); err != nil {
					return false, fmt.Errorf("%w (use --force to discard)", err)
				}
				after, _ := w.sess.Marker(m.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s (slot %s)\n", shortID(m.ID), t, after.AssetSlot)
				return true, nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Discard prompt content and generated versions")
	return cmd
}

func newRollbackCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <marker> <version>",
		Short: "Make an earlier audio version current",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(args[1]), "v"))
			if err != nil {
				return fmt.Errorf("invalid version %q", args[1])
			}
			return ctx.withWorkspace(cmd, func(_ context.Context, w *workspace) (bool, error) {
				m, err := lookup(w, args[0])
				if err != nil {
					return false, err
				}
				if err := w.sess.Rollback(m.ID, n); err != nil {
					return false, err
				}
				after, _ := w.sess.Marker(m.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "%s now plays v%d (%s)\n", m.DisplayName(), n, after.AssetFile())
				return true, nil
			})
		},
	}
}

func newVersionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <marker>",
		Short: "List a marker's audio versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(_ context.Context, w *workspace) (bool, error) {
				m, err := lookup(w, args[0])
				if err != nil {
					return false, err
				}
				out := cmd.OutOrStdout()
				if len(m.Versions) == 0 {
					fmt.Fprintf(out, "%s has no versions yet (next file %s)\n", m.DisplayName(), m.AssetFile())
					return false, nil
				}
				rows := make([][]string, 0, len(m.Versions))
				for _, v := range m.Versions {
					ver := "v" + strconv.Itoa(v.Version)
					if v.Version == m.CurrentVersion {
						ver = "*" + ver
					}
					rows = append(rows, []string{
						ver,
						label(string(v.Status)),
						v.AssetFile,
						v.AssetID,
						v.CreatedAt.Local().Format(time.DateTime),
						truncate(v.PromptSnapshot.Summary(), 40),
					})
				}
				fmt.Fprintln(out, renderTable(out,
					[]string{"Version", "Status", "File", "Asset ID", "Created", "Prompt"},
					rows,
					[]columnAlignment{alignRight}))
				return false, nil
			})
		},
	}
}

// promptFlags are the prompt fields settable from the command line.
type promptFlags struct {
	description string
	profile     string
	text        string
	positive    []string
	negative    []string
	sections    []string
	clear       bool
}

var promptFlagKinds = map[string][]marker.Type{
	"description": {marker.TypeSFX, marker.TypeMusicControl},
	"profile":     {marker.TypeVoice},
	"text":        {marker.TypeVoice},
	"positive":    {marker.TypeMusic},
	"negative":    {marker.TypeMusic},
	"section":     {marker.TypeMusic},
}

func (f *promptFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.description, "description", "", "Sound effect or control description")
	fs.StringVar(&f.profile, "profile", "", "Voice profile description")
	fs.StringVar(&f.text, "text", "", "Voice script")
	fs.StringSliceVar(&f.positive, "positive", nil, "Positive global music styles")
	fs.StringSliceVar(&f.negative, "negative", nil, "Negative global music styles")
	fs.StringArrayVar(&f.sections, "section", nil, "Music section name:duration[:styles[:negative styles]] (repeatable)")
	fs.BoolVar(&f.clear, "clear", false, "Reset the prompt to empty")
}

func (f *promptFlags) changed(cmd *cobra.Command) bool {
	if cmd.Flags().Changed("clear") {
		return true
	}
	for name := range promptFlagKinds {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

// build applies the changed flags to current, which must belong to t.
func (f *promptFlags) build(cmd *cobra.Command, t marker.Type, current marker.PromptData) (marker.PromptData, error) {
	for name, kinds := range promptFlagKinds {
		if !cmd.Flags().Changed(name) {
			continue
		}
		ok := false
		for _, k := range kinds {
			ok = ok || k == t
		}
		if !ok {
			return marker.PromptData{}, fmt.Errorf("--%s does not apply to %s markers", name, t)
		}
	}

	p := current.Clone()
	if f.clear || p.Kind != t {
		p = marker.DefaultPrompt(t)
	}
	changed := cmd.Flags().Changed
	switch t {
	case marker.TypeSFX, marker.TypeMusicControl:
		if changed("description") {
			p.Description = f.description
		}
	case marker.TypeVoice:
		if changed("profile") {
			p.VoiceProfile = f.profile
		}
		if changed("text") {
			p.Text = f.text
		}
	case marker.TypeMusic:
		if changed("positive") {
			p.PositiveGlobalStyles = append([]string{}, f.positive...)
		}
		if changed("negative") {
			p.NegativeGlobalStyles = append([]string{}, f.negative...)
		}
		if changed("section") {
			p.Sections = make([]marker.MusicSection, 0, len(f.sections))
			for _, raw := range f.sections {
				s, err := parseSection(raw)
				if err != nil {
					return marker.PromptData{}, err
				}
				p.Sections = append(p.Sections, s)
			}
		}
	}
	if err := p.Validate(); err != nil {
		return marker.PromptData{}, err
	}
	return p, nil
}
