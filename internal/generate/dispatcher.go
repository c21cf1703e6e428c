// Package generate runs audio generation for markers in the background and
// folds the results back into the store as undoable history entries.
package generate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/cuemap/internal/elevenlabs"
	"github.com/satindergrewal/cuemap/internal/fileutil"
	"github.com/satindergrewal/cuemap/internal/history"
	"github.com/satindergrewal/cuemap/internal/marker"
	"github.com/satindergrewal/cuemap/internal/store"
)

var (
	// ErrGenerationFailed wraps every failure reported by the generator.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrBusy is returned when the marker already has a generation in flight.
	ErrBusy = errors.New("marker is already generating")
)

// Generator produces audio for a prompt.
type Generator interface {
	Generate(ctx context.Context, p marker.PromptData) (*elevenlabs.Result, error)
}

// InstalledFunc is called after a result has been applied to the store.
type InstalledFunc func(m marker.Marker)

// Outcome is what a finished job produced.
type Outcome struct {
	MarkerID  string
	Version   int
	AssetFile string
	AssetID   string
	Path      string
	Bytes     int
	Err       error
}

// Job is one in-flight generation.
type Job struct {
	cmd     *history.GenerateAudio
	mtype   marker.Type
	name    string
	done    chan struct{}
	once    sync.Once
	applied bool
	outcome Outcome
}

// MarkerID is the marker being generated.
func (j *Job) MarkerID() string { return j.cmd.MarkerID() }

// Version is the version allocated for this job.
func (j *Job) Version() int { return j.cmd.Version() }

// Done is closed once the generator has returned.
func (j *Job) Done() <-chan struct{} { return j.done }

// Outcome is valid after Done is closed.
func (j *Job) Outcome() Outcome { return j.outcome }

func (j *Job) finish(o Outcome) {
	j.once.Do(func() {
		j.outcome = o
		close(j.done)
	})
}

// Dispatcher starts generation jobs. Generation runs on its own goroutine;
// the store and history are only changed by Dispatch and Apply, which the
// owner calls from its own goroutine.
type Dispatcher struct {
	store     *store.Store
	hist      *history.History
	gen       Generator
	assetsDir string
	logger    zerolog.Logger
	now       func() time.Time

	owner       sync.Locker
	mu          sync.Mutex
	inflight    map[string]*Job
	ready       []*Job
	readyCh     chan struct{}
	onInstalled InstalledFunc
	wg          sync.WaitGroup
}

// NewDispatcher creates a dispatcher writing clips under assetsDir.
func NewDispatcher(s *store.Store, h *history.History, gen Generator, assetsDir string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     s,
		hist:      h,
		gen:       gen,
		assetsDir: assetsDir,
		logger:    logger,
		now:       time.Now,
		owner:     nopLocker{},
		inflight:  make(map[string]*Job),
		readyCh:   make(chan struct{}, 1),
	}
}

// SetOnInstalled registers a hook run after each successful Apply.
func (d *Dispatcher) SetOnInstalled(fn InstalledFunc) {
	d.mu.Lock()
	d.onInstalled = fn
	d.mu.Unlock()
}

// SetOwnerLock makes Dispatch and Apply hold l while they change the store,
// so an owner serializing its own edits with l sees them as single steps.
// l must not be held by the caller of Dispatch, Apply or Batch.
func (d *Dispatcher) SetOwnerLock(l sync.Locker) {
	d.owner = l
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// AssetsDir is the root clips are written under.
func (d *Dispatcher) AssetsDir() string { return d.assetsDir }

// ClipPath is where a marker's asset file lives.
func (d *Dispatcher) ClipPath(t marker.Type, assetFile string) string {
	return filepath.Join(d.assetsDir, string(t), assetFile)
}

// Ready signals (coalesced) that at least one job finished.
func (d *Dispatcher) Ready() <-chan struct{} { return d.readyCh }

// InFlight is the number of jobs not yet applied.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Dispatch validates the marker's prompt, allocates a generating version
// and starts generation. The prompt is checked before any version is
// created, so an invalid prompt leaves the marker untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, id string) (*Job, error) {
	d.owner.Lock()
	defer d.owner.Unlock()

	m, err := d.store.GetByID(id)
	if err != nil {
		return nil, err
	}
	if !m.Type.Generatable() {
		return nil, &marker.ValidationError{Field: "type", Reason: fmt.Sprintf("%s markers cannot be generated", m.Type)}
	}
	prompt := m.Prompt.Clone()
	if err := elevenlabs.ValidatePrompt(prompt); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if _, busy := d.inflight[id]; busy {
		d.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", m.DisplayName(), ErrBusy)
	}
	cmd := history.NewGenerateAudio(d.store, id)
	if _, err := cmd.Dispatch(prompt, d.now()); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	pending := cmd.Pending()
	job := &Job{cmd: cmd, mtype: m.Type, name: m.DisplayName(), done: make(chan struct{})}
	d.inflight[id] = job
	d.mu.Unlock()

	d.logger.Info().
		Str("marker", job.name).
		Str("type", string(m.Type)).
		Int("version", cmd.Version()).
		Msg("generation dispatched")

	d.wg.Add(1)
	go d.run(ctx, job, prompt, pending.AssetFile())
	return job, nil
}

func (d *Dispatcher) run(ctx context.Context, job *Job, prompt marker.PromptData, assetFile string) {
	defer d.wg.Done()
	out := Outcome{MarkerID: job.MarkerID(), Version: job.Version(), AssetFile: assetFile}

	res, err := d.gen.Generate(ctx, prompt)
	if err == nil {
		out.Path = d.ClipPath(job.mtype, assetFile)
		out.AssetID = res.AssetID
		out.Bytes = len(res.Audio)
		err = fileutil.WriteFileAtomic(out.Path, res.Audio)
	}
	if err != nil {
		out.Err = fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	job.finish(out)

	d.mu.Lock()
	d.ready = append(d.ready, job)
	d.mu.Unlock()
	select {
	case d.readyCh <- struct{}{}:
	default:
	}
}

// Apply folds a finished job into the store. A success is installed and
// recorded on the history; a failure marks the version failed and is not
// recorded. Apply returns the job's error, if any.
func (d *Dispatcher) Apply(job *Job) error {
	<-job.done
	d.mu.Lock()
	if job.applied {
		d.mu.Unlock()
		return job.outcome.Err
	}
	job.applied = true
	delete(d.inflight, job.MarkerID())
	for i, r := range d.ready {
		if r == job {
			d.ready = append(d.ready[:i], d.ready[i+1:]...)
			break
		}
	}
	hook := d.onInstalled
	d.mu.Unlock()

	out := job.outcome
	if err := d.settle(job); err != nil {
		d.logger.Warn().Err(err).Str("marker", job.name).Int("version", out.Version).Msg("could not install result")
		d.mu.Lock()
		job.outcome.Err = err
		d.mu.Unlock()
		return err
	}
	if out.Err != nil {
		return out.Err
	}
	if hook != nil {
		if m, err := d.store.GetByID(out.MarkerID); err == nil {
			hook(m)
		}
	}
	return nil
}

func (d *Dispatcher) settle(job *Job) error {
	d.owner.Lock()
	defer d.owner.Unlock()

	out := job.outcome
	if out.Err != nil {
		if err := job.cmd.Fail(out.Err.Error()); err != nil && !errors.Is(err, marker.ErrNotFound) {
			d.logger.Warn().Err(err).Str("marker", job.name).Msg("could not record failure")
		}
		d.logger.Error().Err(out.Err).Str("marker", job.name).Int("version", out.Version).Msg("generation failed")
		return nil
	}

	if err := job.cmd.Install(out.AssetFile, out.AssetID); err != nil {
		return err
	}
	if err := d.hist.Execute(job.cmd); err != nil {
		return err
	}
	d.logger.Info().
		Str("marker", job.name).
		Int("version", out.Version).
		Str("file", out.AssetFile).
		Int("bytes", out.Bytes).
		Msg("generation installed")
	return nil
}

// ApplyReady applies every finished job and returns their outcomes.
func (d *Dispatcher) ApplyReady() []Outcome {
	d.mu.Lock()
	jobs := append([]*Job(nil), d.ready...)
	d.mu.Unlock()

	out := make([]Outcome, 0, len(jobs))
	for _, j := range jobs {
		_ = d.Apply(j) // recorded on the outcome
		out = append(out, j.Outcome())
	}
	return out
}

// GenerateSync dispatches, waits and applies one marker.
func (d *Dispatcher) GenerateSync(ctx context.Context, id string) (Outcome, error) {
	job, err := d.Dispatch(ctx, id)
	if err != nil {
		return Outcome{MarkerID: id, Err: err}, err
	}
	<-job.Done()
	err = d.Apply(job)
	return job.Outcome(), err
}

// Wait blocks until every started generator call has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
