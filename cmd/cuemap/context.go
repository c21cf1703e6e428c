package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/satindergrewal/cuemap/internal/assembly"
	"github.com/satindergrewal/cuemap/internal/config"
	"github.com/satindergrewal/cuemap/internal/elevenlabs"
	"github.com/satindergrewal/cuemap/internal/generate"
	"github.com/satindergrewal/cuemap/internal/history"
	"github.com/satindergrewal/cuemap/internal/logging"
	"github.com/satindergrewal/cuemap/internal/project"
	"github.com/satindergrewal/cuemap/internal/session"
	"github.com/satindergrewal/cuemap/internal/store"
	"github.com/satindergrewal/cuemap/internal/template"
)

type commandContext struct {
	configFlag  *string
	projectFlag *string
	verbose     *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
	logger     zerolog.Logger

	// active is the workspace held open by the session shell.
	active *workspace
}

func newCommandContext(configFlag, projectFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		projectFlag: projectFlag,
		verbose:     verbose,
		logger:      zerolog.Nop(),
	}
}

func (c *commandContext) ensureConfig(logOut io.Writer) (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.projectFlag != nil && strings.TrimSpace(*c.projectFlag) != "" {
			p, err := config.ExpandPath(strings.TrimSpace(*c.projectFlag))
			if err != nil {
				c.configErr = fmt.Errorf("resolve project path: %w", err)
				return
			}
			cfg.Paths.ProjectDB = p
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		level := cfg.Logging.Level
		if c.verbose != nil && *c.verbose {
			level = "debug"
		}
		c.logger = logging.New(logging.Options{Level: level, Format: cfg.Logging.Format, Output: logOut})
		c.config = cfg
	})
	return c.config, c.configErr
}

// workspace is one open project loaded into a session.
type workspace struct {
	cfg      *config.Config
	db       *project.Store
	project  project.Project
	sess     *session.Session
	timeline *session.BlankTimeline
	logger   zerolog.Logger
}

func (c *commandContext) openWorkspace(ctx context.Context, logOut io.Writer) (*workspace, error) {
	cfg, err := c.ensureConfig(logOut)
	if err != nil {
		return nil, err
	}
	db, err := openProject(ctx, cfg.Paths.ProjectDB)
	if err != nil {
		return nil, err
	}
	p, err := db.Load(ctx)
	if err != nil {
		db.Close()
		if errors.Is(err, project.ErrNoProject) {
			return nil, fmt.Errorf("no project in %s; run `cuemap init` first", cfg.Paths.ProjectDB)
		}
		return nil, fmt.Errorf("load project: %w", err)
	}
	w, err := newWorkspace(cfg, db, *p, c.logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func openProject(ctx context.Context, path string) (*project.Store, error) {
	db, err := project.Open(ctx, path)
	if err != nil {
		if errors.Is(err, project.ErrLocked) {
			return nil, fmt.Errorf("open project %s: %w; close the running session or audition first", path, err)
		}
		return nil, fmt.Errorf("open project: %w", err)
	}
	return db, nil
}

// newWorkspace builds the session for p. Generation is wired only when an
// API key is configured.
func newWorkspace(cfg *config.Config, db *project.Store, p project.Project, logger zerolog.Logger) (*workspace, error) {
	st := store.New()
	hist := history.New(cfg.History.MaxEntries)

	var disp *generate.Dispatcher
	if cfg.Generation.APIKey != "" {
		client := elevenlabs.NewClient(cfg.Generation.APIURL, cfg.Generation.APIKey, elevenlabs.Options{
			VoiceDesignModel: cfg.Generation.VoiceDesignModel,
			TTSModel:         cfg.Generation.TTSModel,
			DefaultVoiceID:   cfg.Generation.DefaultVoiceID,
			OutputFormat:     cfg.Generation.OutputFormat,
			PromptInfluence:  cfg.Generation.PromptInfluence,
			Timeout:          cfg.RequestTimeout(),
		}, logging.Component(logger, "elevenlabs"))
		disp = generate.NewDispatcher(st, hist, client, cfg.Paths.AssetsDir, logging.Component(logger, "generate"))
	}

	tl := session.NewBlankTimeline(p.DurationMS)
	sess := session.New(st, hist, disp, tl, logging.Component(logger, "session"))
	if err := sess.Load(p.Markers); err != nil {
		return nil, fmt.Errorf("load markers: %w", err)
	}
	return &workspace{cfg: cfg, db: db, project: p, sess: sess, timeline: tl, logger: logger}, nil
}

func (w *workspace) save(ctx context.Context) error {
	w.project.Markers = w.sess.Snapshot()
	w.project.UpdatedAt = time.Now().UTC()
	if err := w.db.Save(ctx, w.project); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

func (w *workspace) close() error {
	return w.db.Close()
}

// durationMS is the render length: the project duration, else the
// configured default. Zero renders up to the last clip.
func (w *workspace) durationMS() int {
	if w.project.DurationMS > 0 {
		return w.project.DurationMS
	}
	return w.cfg.Assembly.DurationMS
}

func (w *workspace) assembler() *assembly.Assembler {
	engine := assembly.NewEngine(w.cfg.Paths.AssetsDir, w.cfg.Assembly.SampleRate, logging.Component(w.logger, "render"))
	return assembly.NewAssembler(engine, logging.Component(w.logger, "assembly"))
}

func (w *workspace) templateID() string {
	if w.project.TemplateID != "" {
		return w.project.TemplateID
	}
	return template.DefaultID
}

// withWorkspace runs fn against the open project and saves when fn reports
// a change. Inside the session shell the shell's workspace is reused.
func (c *commandContext) withWorkspace(cmd *cobra.Command, fn func(ctx context.Context, w *workspace) (bool, error)) error {
	ctx := cmd.Context()
	w := c.active
	if w == nil {
		var err error
		if w, err = c.openWorkspace(ctx, cmd.ErrOrStderr()); err != nil {
			return err
		}
		defer w.close()
	}

	changed, err := fn(ctx, w)
	if changed {
		if serr := w.save(context.WithoutCancel(ctx)); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
