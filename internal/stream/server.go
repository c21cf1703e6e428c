package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/cuemap/internal/assembly"
	"github.com/satindergrewal/cuemap/internal/audio"
	"github.com/satindergrewal/cuemap/internal/logging"
	"github.com/satindergrewal/cuemap/internal/marker"
	"github.com/satindergrewal/cuemap/internal/session"
)

const (
	defaultWaveformPoints = 400
	maxWaveformPoints     = 5000
)

// Options configures the audition server. A non-empty WatchDir triggers
// re-assembly on file changes below it.
type Options struct {
	Addr      string
	OutputDir string
	WatchDir  string
	Debounce  time.Duration
	Crossfade time.Duration
}

// Server plays the latest assembly of a session on a loop and re-assembles
// whenever markers or assets change.
type Server struct {
	sess        *session.Session
	assembler   *assembly.Assembler
	pipeline    *audio.Pipeline
	broadcaster *Broadcaster
	mp3         *HTTPHandler
	rtc         *WebRTCHandler
	opts        Options
	logger      zerolog.Logger

	trigger chan struct{}
	asmMu   sync.Mutex

	mu      sync.RWMutex
	last    *assembly.Result
	lastErr error
	renders int
}

func NewServer(sess *session.Session, a *assembly.Assembler, opts Options, logger zerolog.Logger) *Server {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	b := NewBroadcaster()
	return &Server{
		sess:        sess,
		assembler:   a,
		pipeline:    audio.NewPipeline(opts.Crossfade, logging.Component(logger, "pipeline")),
		broadcaster: b,
		mp3:         NewHTTPHandler(b, logging.Component(logger, "http-stream")),
		rtc:         NewWebRTCHandler(b, logging.Component(logger, "webrtc")),
		opts:        opts,
		logger:      logger,
		trigger:     make(chan struct{}, 1),
	}
}

// Pipeline exposes the playback loop.
func (s *Server) Pipeline() *audio.Pipeline { return s.pipeline }

// Trigger requests a re-assembly. Requests made while one is pending are
// merged.
func (s *Server) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Reassemble renders the session now and queues the new preview for
// playback.
func (s *Server) Reassemble(ctx context.Context) (*assembly.Result, error) {
	s.asmMu.Lock()
	defer s.asmMu.Unlock()

	res, err := s.sess.Assemble(ctx, s.assembler, assembly.Options{OutputDir: s.opts.OutputDir, SkipStems: true})
	s.mu.Lock()
	s.lastErr = err
	if err == nil {
		s.last = res
		s.renders++
	}
	n := s.renders
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, assembly.ErrNothingToAssemble) {
			s.logger.Info().Msg("nothing to audition yet")
		} else {
			s.logger.Error().Err(err).Msg("re-assembly failed")
		}
		return nil, err
	}

	s.pipeline.Load(audio.PreviewInfo{
		ID:   fmt.Sprintf("render-%d", n),
		Path: res.PreviewPath,
		Name: fmt.Sprintf("%d markers", res.Plan.Count()),
	})
	return res, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, logging.Middleware(s.logger))

	r.Get("/stream", s.mp3.ServeHTTP)
	r.Post("/offer", s.rtc.HandleOffer)
	r.Options("/offer", s.rtc.HandlePreflight)
	r.Get("/preview.wav", s.handlePreview)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/markers", s.handleMarkers)
		r.Post("/assemble", s.handleAssemble)
		r.Get("/waveform", s.handleWaveform)
		r.Post("/seek", s.handleSeek)
		r.Post("/markers/{id}/generate", s.handleGenerate)
	})
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	start := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	start(func() { s.pipeline.Run(ctx) })
	start(func() { s.broadcaster.Run(ctx, s.pipeline.Frames()) })
	start(func() { s.assembleLoop(ctx) })

	removeListener := s.sess.Store().OnChange(s.Trigger)
	defer removeListener()

	if d := s.sess.Dispatcher(); d != nil {
		d.SetOnInstalled(func(marker.Marker) { s.Trigger() })
		start(func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-d.Ready():
					s.sess.ApplyReady()
				}
			}
		})
	}

	if s.opts.WatchDir != "" {
		w, err := NewWatcher(s.opts.WatchDir, s.opts.Debounce, logging.Component(s.logger, "watch"))
		if err != nil {
			return err
		}
		start(func() {
			if err := w.Run(ctx, s.Trigger); err != nil {
				s.logger.Warn().Err(err).Msg("watcher stopped")
			}
		})
	}

	s.Trigger()

	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("audition server listening")
		errCh <- srv.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
	s.rtc.Close()
	wg.Wait()

	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

func (s *Server) assembleLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.opts.Debounce)
		case <-timer.C:
			s.Reassemble(ctx)
		}
	}
}

func (s *Server) lastResult() (*assembly.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastErr
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	res, _ := s.lastResult()
	if res == nil {
		writeError(w, http.StatusNotFound, "no_preview", "nothing has been assembled yet")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, res.PreviewPath)
}

type assemblyJSON struct {
	Path        string         `json:"path"`
	PreviewPath string         `json:"preview_path"`
	SampleRate  int            `json:"sample_rate"`
	Channels    int            `json:"channels"`
	DurationMS  int            `json:"duration_ms"`
	Placed      map[string]int `json:"placed"`
	ElapsedMS   int64          `json:"elapsed_ms"`
}

func toAssemblyJSON(res *assembly.Result) *assemblyJSON {
	if res == nil {
		return nil
	}
	placed := make(map[string]int, len(res.Placed))
	for id, n := range res.Placed {
		placed[string(id)] = n
	}
	return &assemblyJSON{
		Path:        res.MultichannelPath,
		PreviewPath: res.PreviewPath,
		SampleRate:  res.SampleRate,
		Channels:    res.Channels,
		DurationMS:  res.DurationMS,
		Placed:      placed,
		ElapsedMS:   res.Elapsed.Milliseconds(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	res, lastErr := s.lastResult()
	preview, pos, dur := s.pipeline.Status()
	sent, dropped := s.broadcaster.Stats()

	inFlight := 0
	if d := s.sess.Dispatcher(); d != nil {
		inFlight = d.InFlight()
	}
	body := map[string]any{
		"markers":        s.sess.Store().Len(),
		"in_flight":      inFlight,
		"can_undo":       s.sess.History().CanUndo(),
		"can_redo":       s.sess.History().CanRedo(),
		"listeners":      s.broadcaster.ListenerCount(),
		"peers":          s.rtc.PeerCount(),
		"frames_sent":    sent,
		"frames_dropped": dropped,
		"renders":        s.pipeline.Renders(),
		"preview":        preview.ID,
		"position_ms":    pos.Milliseconds(),
		"duration_ms":    dur.Milliseconds(),
		"last_assembly":  toAssemblyJSON(res),
	}
	if lastErr != nil {
		body["last_error"] = lastErr.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

type markerJSON struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Type    marker.Type   `json:"type"`
	TimeMS  int           `json:"time_ms"`
	Version int           `json:"current_version"`
	Status  marker.Status `json:"status"`
	Prompt  string        `json:"prompt"`
}

func (s *Server) handleMarkers(w http.ResponseWriter, r *http.Request) {
	snap := s.sess.Snapshot()
	out := make([]markerJSON, 0, len(snap))
	for _, m := range snap {
		out = append(out, markerJSON{
			ID:      m.ID,
			Name:    m.DisplayName(),
			Type:    m.Type,
			TimeMS:  m.TimeMS,
			Version: m.CurrentVersion,
			Status:  m.Status(),
			Prompt:  m.Prompt.Summary(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	res, err := s.Reassemble(r.Context())
	switch {
	case errors.Is(err, assembly.ErrNothingToAssemble):
		writeError(w, http.StatusUnprocessableEntity, "nothing_to_assemble", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "assembly_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toAssemblyJSON(res))
}

func (s *Server) handleWaveform(w http.ResponseWriter, r *http.Request) {
	res, _ := s.lastResult()
	if res == nil {
		writeError(w, http.StatusNotFound, "no_preview", "nothing has been assembled yet")
		return
	}
	points, _ := strconv.Atoi(r.URL.Query().Get("points"))
	if points <= 0 {
		points = defaultWaveformPoints
	}
	if points > maxWaveformPoints {
		points = maxWaveformPoints
	}

	track := r.URL.Query().Get("track")
	path := res.PreviewPath
	if track != "" && track != "preview" {
		p, ok := res.StemPaths[assembly.TrackID(track)]
		if !ok {
			writeError(w, http.StatusNotFound, "no_track", fmt.Sprintf("no audio on track %q", track))
			return
		}
		path = p
	} else {
		track = "preview"
	}

	buf, err := audio.ReadWAVFile(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"track":       track,
		"duration_ms": buf.DurationMS(),
		"peaks":       audio.Envelope(buf, points),
	})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	ms, err := strconv.Atoi(r.URL.Query().Get("ms"))
	if err != nil || ms < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "ms must be a non-negative integer")
		return
	}
	s.pipeline.Seek(time.Duration(ms) * time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]any{"position_ms": ms})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.sess.Generate(context.WithoutCancel(r.Context()), id)
	switch {
	case errors.Is(err, session.ErrNoGenerator):
		writeError(w, http.StatusServiceUnavailable, "no_generator", err.Error())
		return
	case errors.Is(err, marker.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	case marker.IsValidation(err):
		writeError(w, http.StatusBadRequest, "invalid_prompt", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusConflict, "generate_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"marker_id": job.MarkerID(), "version": job.Version()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, map[string]any{"error": map[string]string{"code": kind, "message": msg}})
}
