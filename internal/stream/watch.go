package stream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reports settled changes under a directory tree. Bursts of
// events inside the debounce window produce one notification.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   zerolog.Logger
	fsw      *fsnotify.Watcher
}

// NewWatcher watches root and every directory below it. root is created
// if missing.
func NewWatcher(root string, debounce time.Duration, logger zerolog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", root, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{root: root, debounce: debounce, logger: logger, fsw: fsw}
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	return w, nil
}

// Run calls fn after each settled burst of changes until ctx is cancelled.
// Temporary files written during atomic saves are ignored.
func (w *Watcher) Run(ctx context.Context, fn func()) error {
	defer w.fsw.Close()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.fsw.Add(ev.Name); err != nil {
						w.logger.Warn().Err(err).Str("dir", ev.Name).Msg("watch new directory")
					}
					continue
				}
			}
			if ignored(ev) {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			w.logger.Debug().Str("root", w.root).Msg("assets changed")
			fn()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

func ignored(ev fsnotify.Event) bool {
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") {
		return true
	}
	return ev.Op == fsnotify.Chmod
}
