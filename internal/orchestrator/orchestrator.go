// Package orchestrator drives an ordered list of scenes through a video
// generation provider, one scene at a time.
//
// For each scene the orchestrator picks a reference image (the last frame of
// the previous scene, else a subject reference, else a background reference,
// else none), submits the job, polls until the provider reports a result,
// downloads the video to <OutputDir>/<id>.mp4 and, with frame chaining on,
// extracts the last frame for the next scene. Submission failures and
// provider-reported failures are retried once; download failures are not.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maauso/scenechain/internal/provider"
	"github.com/maauso/scenechain/internal/scene"
)

// MaxAttempts is the number of submissions a scene gets: the first attempt
// plus one retry.
const MaxAttempts = 2

// maxEmptyCompletions is how many consecutive "completed" polls without a
// video URI are tolerated before the attempt fails.
const maxEmptyCompletions = 3

// errNoVideoInResponse is recorded when a provider keeps reporting success without a video.
const errNoVideoInResponse = "no video in response"

// Static errors for orchestrator operations.
var (
	// ErrAlreadyRunning is returned when a run is started or scenes are loaded while a run is active.
	ErrAlreadyRunning = errors.New("orchestrator: run already in progress")
	// ErrInvalidSettings is returned when Settings fail validation.
	ErrInvalidSettings = errors.New("orchestrator: invalid settings")
	// ErrAdapterRequired is returned when no provider adapter is given.
	ErrAdapterRequired = errors.New("orchestrator: provider adapter is required")
	// ErrFramesRequired is returned when frame chaining is on without a frame provider.
	ErrFramesRequired = errors.New("orchestrator: frame chaining requires a reference frame provider")
	// ErrDuplicateSceneID is returned when two loaded scenes share an ID.
	ErrDuplicateSceneID = errors.New("orchestrator: duplicate scene ID")
	// ErrNilScene is returned when a loaded scene list contains nil.
	ErrNilScene = errors.New("orchestrator: nil scene")
)

// ReferenceFrameProvider derives a still image from a finished video.
type ReferenceFrameProvider interface {
	// ExtractLastFrame returns the path of an image holding the last frame of videoPath.
	ExtractLastFrame(ctx context.Context, videoPath string) (string, error)
}

// Result describes how a run ended.
type Result struct {
	Summary scene.Summary
	Stopped bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver sets the event observer. The default logs events through the
// orchestrator's logger.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Orchestrator runs scenes sequentially on one background worker.
// Scenes are mutated only by the worker; readers use Snapshot.
type Orchestrator struct {
	adapter  provider.Adapter
	frames   ReferenceFrameProvider
	settings Settings
	observer Observer
	logger   *slog.Logger

	mu       sync.RWMutex
	scenes   []*scene.Task
	stopCh   chan struct{}
	stopOnce *sync.Once
	done     chan struct{}
	result   Result

	running       atomic.Bool
	stopRequested atomic.Bool
}

// New creates an Orchestrator for one adapter and one set of settings.
// frames may be nil only when frame chaining is off.
func New(adapter provider.Adapter, frames ReferenceFrameProvider, settings Settings, opts ...Option) (*Orchestrator, error) {
	if adapter == nil {
		return nil, ErrAdapterRequired
	}
	settings = settings.withDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if settings.FrameChaining && frames == nil {
		return nil, ErrFramesRequired
	}

	o := &Orchestrator{
		adapter:  adapter,
		frames:   frames,
		settings: settings,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.observer == nil {
		o.observer = NewLogObserver(o.logger)
	}
	return o, nil
}

// Settings returns the settings the orchestrator runs with, defaults applied.
func (o *Orchestrator) Settings() Settings {
	return o.settings
}

// Load replaces the scene list. The tasks are driven in slice order and
// mutated in place by the run.
func (o *Orchestrator) Load(tasks []*scene.Task) error {
	if o.running.Load() {
		return ErrAlreadyRunning
	}

	seen := make(map[int]struct{}, len(tasks))
	for i, t := range tasks {
		if t == nil {
			return fmt.Errorf("%w at index %d", ErrNilScene, i)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateSceneID, t.ID)
		}
		seen[t.ID] = struct{}{}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.scenes = append([]*scene.Task(nil), tasks...)
	return nil
}

// Snapshot returns copies of the loaded scenes.
func (o *Orchestrator) Snapshot() []*scene.Task {
	tasks := o.tasks()
	out := make([]*scene.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

// Summary counts the loaded scenes by outcome.
func (o *Orchestrator) Summary() scene.Summary {
	return scene.Summarize(o.tasks())
}

// EstimateCost sums the adapter's unit cost over every loaded scene,
// whatever state the scenes are in.
func (o *Orchestrator) EstimateCost() float64 {
	unit := o.adapter.EstimateUnitCost(o.settings.DurationSec, o.settings.Resolution)
	return unit * float64(len(o.tasks()))
}

// Running reports whether a run is in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Run drives the loaded scenes on the calling goroutine and returns when the
// list is exhausted or the run is stopped. Cancelling ctx stops the run the
// same way Stop does.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	if err := o.begin(); err != nil {
		return Result{}, err
	}
	return o.drive(ctx), nil
}

// Start drives the loaded scenes on a new goroutine. Use Wait to block until
// the run ends.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}
	go o.drive(ctx)
	return nil
}

// Wait blocks until the current or most recent run ends and returns its result.
func (o *Orchestrator) Wait() Result {
	o.mu.RLock()
	done := o.done
	o.mu.RUnlock()
	if done != nil {
		<-done
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.result
}

// Stop asks the running worker to stop. The worker notices before the next
// scene, before the next poll sleep, or during a pause; a request already in
// flight to the provider completes first. Stop does not wait. A Stop issued
// while no run is in progress applies to the next one.
func (o *Orchestrator) Stop() {
	o.stopRequested.Store(true)

	o.mu.RLock()
	ch, once := o.stopCh, o.stopOnce
	o.mu.RUnlock()
	if once != nil {
		once.Do(func() { close(ch) })
	}
}

func (o *Orchestrator) begin() error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopCh = make(chan struct{})
	o.stopOnce = new(sync.Once)
	o.done = make(chan struct{})
	o.result = Result{}
	return nil
}

func (o *Orchestrator) tasks() []*scene.Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]*scene.Task(nil), o.scenes...)
}

func (o *Orchestrator) stopChan() <-chan struct{} {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stopCh
}

func (o *Orchestrator) shouldStop(ctx context.Context) bool {
	return o.stopRequested.Load() || ctx.Err() != nil
}

// sleep pauses for d and reports false if the run was stopped meanwhile.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return !o.shouldStop(ctx)
	case <-o.stopChan():
		return false
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) drive(ctx context.Context) Result {
	tasks := o.tasks()
	stopped := false

	if err := os.MkdirAll(o.settings.OutputDir, 0o750); err != nil {
		o.logger.Error("failed to create output directory",
			slog.String("dir", o.settings.OutputDir),
			slog.String("error", err.Error()),
		)
	}

	alreadyDone := make([]bool, len(tasks))
	for i, t := range tasks {
		alreadyDone[i] = t.ResetForRun()
	}

	o.logger.Info("run started",
		slog.String("provider", o.adapter.Name()),
		slog.Int("scenes", len(tasks)),
		slog.Bool("frame_chaining", o.settings.FrameChaining),
	)

	var chainedFrame string
	for i, t := range tasks {
		if o.shouldStop(ctx) {
			stopped = true
			break
		}

		if alreadyDone[i] {
			chainedFrame = o.resumeFrame(ctx, t)
			continue
		}

		if o.processScene(ctx, t, chainedFrame) == outcomeStopped {
			stopped = true
			break
		}

		chainedFrame = ""
		if o.settings.FrameChaining && t.GetState() == scene.StateCompleted {
			chainedFrame = o.extractFrame(ctx, t)
		}
	}

	if stopped {
		o.logf(0, "Generation stopped by user.")
	}

	res := Result{Summary: scene.Summarize(tasks), Stopped: stopped}
	o.observer.OnEvent(Event{Kind: EventDone, Summary: res.Summary, Stopped: stopped})

	o.mu.Lock()
	o.result = res
	done := o.done
	o.mu.Unlock()

	o.stopRequested.Store(false)
	o.running.Store(false)
	close(done)
	return res
}

// resumeFrame extracts the chaining frame from a scene completed before this run.
func (o *Orchestrator) resumeFrame(ctx context.Context, t *scene.Task) string {
	o.logf(t.ID, "Scene %d: Already completed, skipping", t.ID)
	if !o.settings.FrameChaining {
		return ""
	}

	videoPath := t.Clone().LocalVideoPath
	if _, err := os.Stat(videoPath); err != nil {
		o.logf(t.ID, "Scene %d: Video %s not found, no frame to chain from", t.ID, videoPath)
		return ""
	}
	return o.extractFrame(ctx, t)
}

func (o *Orchestrator) extractFrame(ctx context.Context, t *scene.Task) string {
	frame, err := o.frames.ExtractLastFrame(ctx, t.Clone().LocalVideoPath)
	if err != nil {
		o.logf(t.ID, "Scene %d: Frame extraction failed: %v", t.ID, err)
		return ""
	}
	o.logf(t.ID, "Scene %d: Extracted last frame for chaining", t.ID)
	return frame
}

// selectReference picks the conditioning image for a submission and a label
// for the log line.
func (o *Orchestrator) selectReference(chainedFrame string) (path, mode string) {
	if !o.adapter.SupportsImageConditioning() {
		return "", "text-to-video"
	}
	switch {
	case o.settings.FrameChaining && chainedFrame != "":
		return chainedFrame, "image-to-video, frame chaining"
	case len(o.settings.SubjectRefs) > 0:
		return o.settings.SubjectRefs[0], "image-to-video, subject reference"
	case len(o.settings.BackgroundRefs) > 0:
		return o.settings.BackgroundRefs[0], "image-to-video, background reference"
	default:
		return "", "text-to-video"
	}
}

func (o *Orchestrator) logf(sceneID int, format string, args ...any) {
	o.observer.OnEvent(Event{Kind: EventLog, SceneID: sceneID, Message: fmt.Sprintf(format, args...)})
}

func (o *Orchestrator) progress(t *scene.Task) {
	o.observer.OnEvent(Event{Kind: EventProgress, SceneID: t.ID, Scene: t.Clone()})
}

// transition applies a scene mutation and publishes the new state. A refused
// transition means the worker's bookkeeping is wrong; it is logged and the
// scene is left as it was.
func (o *Orchestrator) transition(t *scene.Task, apply func() error) bool {
	return o.record(t, apply) == nil
}

// record is transition for callers that route a refusal into a scene failure.
func (o *Orchestrator) record(t *scene.Task, apply func() error) error {
	if err := apply(); err != nil {
		o.logger.Error("scene transition rejected",
			slog.Int("scene_id", t.ID),
			slog.String("state", string(t.GetState())),
			slog.String("error", err.Error()),
		)
		return err
	}
	o.progress(t)
	return nil
}
