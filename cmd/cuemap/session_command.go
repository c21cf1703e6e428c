package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/cuemap/internal/marker"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Interactive editing shell with undo and redo",
		Long: `Interactive editing shell. The project stays open and every edit is
saved as it happens. Marker commands work as on the command line; the shell
adds undo, redo, history, seek, step and at (add at the playhead).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := ctx.openWorkspace(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer w.close()
			ctx.active = w
			defer func() { ctx.active = nil }()

			sh := &shell{ctx: ctx, w: w, in: cmd.InOrStdin(), out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
			return sh.run(cmd.Context())
		},
	}
}

type shell struct {
	ctx    *commandContext
	w      *workspace
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func (s *shell) run(ctx context.Context) error {
	interactive := isTerminal(s.in)
	fmt.Fprintf(s.out, "%s: %d markers, %s. Type help for commands.\n",
		s.w.project.Name, s.w.sess.Store().Len(), marker.FormatTime(s.w.timeline.DurationMS()))

	scanner := bufio.NewScanner(s.in)
	for {
		if interactive {
			fmt.Fprintf(s.out, "[%s] cuemap> ", marker.FormatTime(s.w.timeline.CurrentTimeMS()))
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		args, err := splitArgs(line)
		if err != nil {
			fmt.Fprintf(s.errOut, "error: %v\n", err)
			continue
		}
		quit, err := s.exec(ctx, args)
		if err != nil {
			fmt.Fprintf(s.errOut, "error: %v\n", err)
		}
		if quit || ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}

// exec runs one shell line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, args []string) (bool, error) {
	w := s.w
	switch args[0] {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		s.help()
		return false, nil
	case "undo", "redo":
		return false, s.step(ctx, args[0])
	case "history":
		undo, redo := w.sess.History().Peek()
		fmt.Fprintf(s.out, "undo %d (next: %s), redo %d (next: %s)\n",
			w.sess.History().UndoLen(), orDash(undo), w.sess.History().RedoLen(), orDash(redo))
		return false, nil
	case "seek", "step":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: %s <time>", args[0])
		}
		ms, err := parseTimeMS(args[1])
		if err != nil {
			return false, err
		}
		if args[0] == "seek" {
			ms = w.timeline.Seek(ms)
		} else {
			ms = w.timeline.Step(ms)
		}
		fmt.Fprintf(s.out, "playhead %s\n", marker.FormatTime(ms))
		return false, nil
	case "at":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: at <type> [name]")
		}
		t, err := marker.ParseType(args[1])
		if err != nil {
			return false, err
		}
		m, err := w.sess.AddMarkerAtNow(t, strings.Join(args[2:], " "))
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "Added %s marker %s at %s\n", m.Type, shortID(m.ID), marker.FormatTime(m.TimeMS))
		return false, w.save(context.WithoutCancel(ctx))
	case "save":
		if err := w.save(context.WithoutCancel(ctx)); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "saved")
		return false, nil
	}

	sub := s.commands()
	sub.SetArgs(args)
	sub.SetIn(s.in)
	sub.SetOut(s.out)
	sub.SetErr(s.errOut)
	return false, sub.ExecuteContext(ctx)
}

func (s *shell) step(ctx context.Context, which string) error {
	h := s.w.sess.History()
	undo, redo := h.Peek()
	var ok bool
	var err error
	name := undo
	if which == "undo" {
		ok, err = s.w.sess.Undo()
	} else {
		name = redo
		ok, err = s.w.sess.Redo()
	}
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(s.out, "nothing to %s\n", which)
		return nil
	}
	fmt.Fprintf(s.out, "%s %s\n", which, name)
	return s.w.save(context.WithoutCancel(ctx))
}

// commands is the subset of the command tree usable inside the shell.
func (s *shell) commands() *cobra.Command {
	root := &cobra.Command{
		Use:           "cuemap",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(newMarkersCommand(s.ctx))
	root.AddCommand(newPlanCommand(s.ctx))
	for _, cmd := range newMarkerEditCommands(s.ctx) {
		root.AddCommand(cmd)
	}
	root.AddCommand(newVersionsCommand(s.ctx))
	root.AddCommand(newGenerateCommand(s.ctx))
	root.AddCommand(newAssembleCommand(s.ctx))
	root.AddCommand(newExportCommand(s.ctx))
	root.AddCommand(newExportTemplateCommand(s.ctx))
	return root
}

func (s *shell) help() {
	rows := [][]string{
		{"undo / redo", "Revert or reapply the last edit"},
		{"history", "Show the undo and redo stacks"},
		{"seek <time>", "Move the playhead"},
		{"step <delta>", "Move the playhead relative to where it is"},
		{"at <type> [name]", "Add a marker at the playhead"},
		{"save", "Write the project now"},
		{"quit", "Leave the shell"},
	}
	for _, c := range s.commands().Commands() {
		if c.Hidden || c.Name() == "help" {
			continue
		}
		rows = append(rows, []string{c.Use, c.Short})
	}
	fmt.Fprintln(s.out, renderTable(s.out, []string{"Command", "Does"}, rows, nil))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// splitArgs splits a shell line on whitespace, honouring single and double
// quotes.
func splitArgs(line string) ([]string, error) {
	var args []string
	var cur strings.Builder
	var quote rune
	inArg := false
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inArg = true
		case r == ' ' || r == '\t':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}
