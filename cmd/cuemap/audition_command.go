package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/cuemap/internal/logging"
	"github.com/satindergrewal/cuemap/internal/stream"
)

func newAuditionCommand(ctx *commandContext) *cobra.Command {
	var port int
	var watch bool
	var crossfade float64

	cmd := &cobra.Command{
		Use:   "audition",
		Short: "Serve a looping preview that re-assembles as markers and assets change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkspace(cmd, func(c context.Context, w *workspace) (bool, error) {
				cfg := w.cfg
				opts := stream.Options{
					Addr:      cfg.ListenAddr(),
					OutputDir: filepath.Join(cfg.Paths.OutputDir, "audition"),
					Debounce:  time.Duration(cfg.Audition.DebounceMS) * time.Millisecond,
					Crossfade: cfg.CrossfadeDuration(),
				}
				if cmd.Flags().Changed("port") {
					opts.Addr = fmt.Sprintf(":%d", port)
				}
				if cmd.Flags().Changed("crossfade") {
					opts.Crossfade = time.Duration(crossfade * float64(time.Second))
				}
				if watch || cfg.Audition.Watch {
					opts.WatchDir = cfg.Paths.AssetsDir
				}

				// Store listeners run under the session lock; saving happens
				// on its own goroutine.
				dirty := make(chan struct{}, 1)
				remove := w.sess.Store().OnChange(func() {
					select {
					case dirty <- struct{}{}:
					default:
					}
				})
				defer remove()
				saveCtx, stopSaver := context.WithCancel(c)
				saved := make(chan struct{})
				go func() {
					defer close(saved)
					for {
						select {
						case <-saveCtx.Done():
							return
						case <-dirty:
							if err := w.save(saveCtx); err != nil {
								w.logger.Error().Err(err).Msg("autosave failed")
							}
						}
					}
				}()

				srv := stream.NewServer(w.sess, w.assembler(), opts, logging.Component(w.logger, "audition"))
				fmt.Fprintf(cmd.OutOrStdout(), "Auditioning %q on http://localhost%s/stream (Ctrl-C to stop)\n", w.project.Name, opts.Addr)
				err := srv.Run(c)
				stopSaver()
				<-saved
				return true, err
			})
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (default audition.port)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Re-assemble when files under the assets directory change")
	cmd.Flags().Float64Var(&crossfade, "crossfade", 0, "Crossfade seconds between renders (default audition.crossfade_seconds)")
	return cmd
}
