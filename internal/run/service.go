package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maauso/scenechain/internal/media"
	"github.com/maauso/scenechain/internal/orchestrator"
	"github.com/maauso/scenechain/internal/provider"
	"github.com/maauso/scenechain/internal/scene"
	"github.com/maauso/scenechain/internal/storage"
)

// FilmName is the file name of the joined video inside a run's output directory.
const FilmName = "film.mp4"

// Static errors for service operations.
var (
	// ErrNoScenes is returned when a run is created without scenes.
	ErrNoScenes = errors.New("run: at least one scene is required")
	// ErrInvalidInput is returned when run input fails validation.
	ErrInvalidInput = errors.New("run: invalid input")
	// ErrRunNotActive is returned when stopping a run that is not running.
	ErrRunNotActive = errors.New("run: not active")
	// ErrShuttingDown is returned when a run is created after Shutdown.
	ErrShuttingDown = errors.New("run: service is shutting down")
)

// SceneInput is one scene of a run request.
type SceneInput struct {
	// ID orders the scene; zero means "position in the list, starting at 1".
	ID             int
	Prompt         string
	EnhancedPrompt string
}

// CreateInput contains everything needed to start a run.
type CreateInput struct {
	// Provider is the backend name; empty uses the service default.
	Provider       string
	Model          string
	AspectRatio    string
	NegativePrompt string
	GenerateAudio  *bool

	Scenes        []SceneInput
	DurationSec   int
	Resolution    string
	Seed          int64
	FrameChaining bool

	// SubjectImages and BackgroundImages are base64 payloads or data URIs.
	SubjectImages    []string
	BackgroundImages []string

	PushToS3 bool
	Join     bool
}

// EstimateInput describes a prospective run for cost estimation.
type EstimateInput struct {
	Provider    string
	Model       string
	DurationSec int
	Resolution  string
	SceneCount  int
}

// ServiceConfig holds the defaults a Service applies to every run.
type ServiceConfig struct {
	// OutputRoot is the parent of each run's output directory.
	OutputRoot string
	// DefaultProvider is used when a request names none.
	DefaultProvider string
	// PollInterval and RetryDelay are passed to every orchestrator.
	PollInterval time.Duration
	RetryDelay   time.Duration
}

type activeRun struct {
	run  *Run
	orch *orchestrator.Orchestrator
}

// Service creates runs, keeps their snapshots current and stops them.
// Each run gets its own orchestrator and adapter.
type Service struct {
	repo    Repository
	factory provider.Factory
	media   media.Processor
	store   storage.Storage
	cfg     ServiceConfig
	logger  *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	active  map[string]*activeRun
	closing bool
}

// NewService creates a new Service.
func NewService(repo Repository, factory provider.Factory, proc media.Processor, store storage.Storage, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = orchestrator.DefaultPollInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = orchestrator.DefaultRetryDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:    repo,
		factory: factory,
		media:   proc,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
		active:  make(map[string]*activeRun),
	}
}

// Create validates the input, builds an orchestrator for it and starts the
// run in the background. The returned run is a snapshot in RUNNING state.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Run, error) {
	if len(in.Scenes) == 0 {
		return nil, ErrNoScenes
	}

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return nil, ErrShuttingDown
	}

	providerName := s.providerName(in.Provider)
	r := New(providerName)
	r.Model = in.Model
	r.OutputDir = filepath.Join(s.cfg.OutputRoot, r.ID)
	r.PushToS3 = in.PushToS3
	r.Join = in.Join

	logger := s.logger.With(slog.String("run_id", r.ID), slog.String("provider", providerName))

	subjects, err := saveImages(ctx, s.store, r.ID, "subject", in.SubjectImages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	backgrounds, err := saveImages(ctx, s.store, r.ID, "background", in.BackgroundImages)
	if err != nil {
		s.cleanup(ctx, subjects)
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	temps := append(append([]string(nil), subjects...), backgrounds...)

	orch, err := s.build(r, in, subjects, backgrounds, logger)
	if err != nil {
		s.cleanup(ctx, temps)
		return nil, err
	}

	r.SetScenes(orch.Snapshot())
	r.EstimatedCost = orch.EstimateCost()

	if err := r.Start(); err != nil {
		s.cleanup(ctx, temps)
		return nil, err
	}
	if err := s.repo.Save(ctx, r); err != nil {
		s.cleanup(ctx, temps)
		return nil, fmt.Errorf("save run: %w", err)
	}

	// Publishing the run, starting it and registering its worker happen under
	// one lock so Stop and Shutdown see either nothing or a started run.
	s.mu.Lock()
	startErr := ErrShuttingDown
	if !s.closing {
		startErr = orch.Start(s.baseCtx)
	}
	if startErr != nil {
		s.mu.Unlock()
		_ = r.Fail(startErr.Error())
		_ = s.repo.Save(ctx, r)
		s.cleanup(ctx, temps)
		if errors.Is(startErr, ErrShuttingDown) {
			return nil, startErr
		}
		return nil, fmt.Errorf("start run: %w", startErr)
	}
	s.active[r.ID] = &activeRun{run: r, orch: orch}
	s.wg.Add(1)
	s.mu.Unlock()

	logger.Info("run started",
		slog.Int("scenes", len(in.Scenes)),
		slog.Float64("estimated_cost", r.EstimatedCost),
	)

	go s.finish(r, orch, temps, logger)

	return r.Clone(), nil
}

// build creates the adapter and orchestrator for a run and loads its scenes.
func (s *Service) build(r *Run, in CreateInput, subjects, backgrounds []string, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	adapter, err := s.factory(provider.Options{
		Name:           r.Provider,
		Model:          in.Model,
		AspectRatio:    in.AspectRatio,
		NegativePrompt: in.NegativePrompt,
		GenerateAudio:  in.GenerateAudio,
		SubjectRefs:    subjects,
		BackgroundRefs: backgrounds,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	settings := orchestrator.Settings{
		DurationSec:    in.DurationSec,
		Resolution:     in.Resolution,
		Seed:           in.Seed,
		FrameChaining:  in.FrameChaining,
		OutputDir:      r.OutputDir,
		SubjectRefs:    subjects,
		BackgroundRefs: backgrounds,
		PollInterval:   s.cfg.PollInterval,
		RetryDelay:     s.cfg.RetryDelay,
	}

	orch, err := orchestrator.New(adapter, s.media, settings,
		orchestrator.WithLogger(logger),
		orchestrator.WithObserver(orchestrator.MultiObserver{
			orchestrator.NewLogObserver(logger),
			s.observer(r),
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	tasks, err := buildTasks(in.Scenes)
	if err != nil {
		return nil, err
	}
	if err := orch.Load(tasks); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return orch, nil
}

func buildTasks(scenes []SceneInput) ([]*scene.Task, error) {
	tasks := make([]*scene.Task, 0, len(scenes))
	for i, sc := range scenes {
		sceneID := sc.ID
		if sceneID == 0 {
			sceneID = i + 1
		}
		if strings.TrimSpace(sc.Prompt) == "" && strings.TrimSpace(sc.EnhancedPrompt) == "" {
			return nil, fmt.Errorf("%w: scene %d has no prompt", ErrInvalidInput, sceneID)
		}
		t, err := scene.New(sceneID, sc.Prompt, sc.EnhancedPrompt)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// observer mirrors orchestrator events into the run and persists it.
func (s *Service) observer(r *Run) orchestrator.Observer {
	return orchestrator.ObserverFunc(func(e orchestrator.Event) {
		switch e.Kind {
		case orchestrator.EventLog:
			r.AppendLog(e.SceneID, e.Message)
		case orchestrator.EventProgress:
			r.UpdateScene(e.Scene)
		default:
			return
		}
		if err := s.repo.Save(s.baseCtx, r); err != nil {
			s.logger.Warn("failed to save run progress",
				slog.String("run_id", r.ID),
				slog.String("error", err.Error()),
			)
		}
	})
}

// finish waits for the orchestrator, runs post-processing and records the
// final status.
func (s *Service) finish(r *Run, orch *orchestrator.Orchestrator, temps []string, logger *slog.Logger) {
	defer s.wg.Done()
	defer s.forget(r.ID)

	res := orch.Wait()
	r.SetScenes(orch.Snapshot())

	ctx := context.Background()
	var postErr error
	switch {
	case res.Stopped:
		logger.Info("run stopped, skipping post-processing")
	default:
		postErr = s.postProcess(ctx, r, logger)
	}

	s.cleanup(ctx, temps)

	var err error
	switch {
	case postErr != nil:
		err = r.Fail(postErr.Error())
	case res.Stopped:
		err = r.MarkStopped()
	default:
		err = r.Complete()
	}
	if err != nil {
		logger.Error("failed to finalize run", slog.String("error", err.Error()))
	}
	if err := s.repo.Save(ctx, r); err != nil {
		logger.Error("failed to save run", slog.String("error", err.Error()))
	}

	logger.Info("run finished",
		slog.String("status", string(r.GetStatus())),
		slog.String("summary", res.Summary.String()),
	)
}

// postProcess joins and publishes completed scene videos as requested.
func (s *Service) postProcess(ctx context.Context, r *Run, logger *slog.Logger) error {
	snap := r.Clone()
	videos := r.CompletedVideos()
	if len(videos) == 0 {
		if snap.Join || snap.PushToS3 {
			logger.Info("no completed scenes, nothing to join or publish")
		}
		return nil
	}

	var filmPath string
	if snap.Join {
		filmPath = filepath.Join(snap.OutputDir, FilmName)
		if err := s.media.JoinVideos(ctx, videos, filmPath); err != nil {
			return fmt.Errorf("join videos: %w", err)
		}
		r.SetFilm(filmPath, "")
		r.AppendLog(0, fmt.Sprintf("Joined %d scenes -> %s", len(videos), filmPath))
	}

	if !snap.PushToS3 {
		return nil
	}

	for _, sc := range snap.Scenes {
		if sc.State != scene.StateCompleted || sc.LocalVideoPath == "" {
			continue
		}
		key := fmt.Sprintf("runs/%s/%d%s", snap.ID, sc.ID, filepath.Ext(sc.LocalVideoPath))
		url, err := storage.PublishFile(ctx, s.store, key, sc.LocalVideoPath)
		if err != nil {
			return fmt.Errorf("publish scene %d: %w", sc.ID, err)
		}
		r.SetSceneURL(sc.ID, url)
		logger.Info("scene published", slog.Int("scene_id", sc.ID), slog.String("url", url))
	}

	if filmPath != "" {
		url, err := storage.PublishFile(ctx, s.store, fmt.Sprintf("runs/%s/%s", snap.ID, FilmName), filmPath)
		if err != nil {
			return fmt.Errorf("publish film: %w", err)
		}
		r.SetFilm(filmPath, url)
	}
	return nil
}

// Get returns a snapshot of a run.
func (s *Service) Get(ctx context.Context, runID string) (*Run, error) {
	return s.repo.FindByID(ctx, runID)
}

// List returns snapshots of all runs, newest first.
func (s *Service) List(ctx context.Context) ([]*Run, error) {
	return s.repo.List(ctx)
}

// Stop asks a running run to stop. The run reaches STOPPED once its worker
// notices; the returned snapshot may still show RUNNING.
func (s *Service) Stop(ctx context.Context, runID string) (*Run, error) {
	s.mu.Lock()
	a, ok := s.active[runID]
	s.mu.Unlock()

	if !ok {
		if _, err := s.repo.FindByID(ctx, runID); err != nil {
			return nil, err
		}
		return nil, ErrRunNotActive
	}

	a.orch.Stop()
	a.run.AppendLog(0, "Stop requested")
	return a.run.Clone(), nil
}

// Estimate returns the USD cost of a prospective run without starting it.
func (s *Service) Estimate(in EstimateInput) (float64, error) {
	if in.SceneCount <= 0 {
		return 0, ErrNoScenes
	}

	settings := orchestrator.Settings{
		DurationSec: in.DurationSec,
		Resolution:  in.Resolution,
		OutputDir:   ".",
	}
	if err := settings.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	adapter, err := s.factory(provider.Options{Name: s.providerName(in.Provider), Model: in.Model})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	duration := in.DurationSec
	if duration == 0 {
		duration = orchestrator.DefaultDurationSec
	}
	resolution := in.Resolution
	if resolution == "" {
		resolution = provider.Resolution720p
	}
	return adapter.EstimateUnitCost(duration, resolution) * float64(in.SceneCount), nil
}

// Shutdown stops every active run and waits for their workers to finish or
// for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for _, a := range s.active {
		a.orch.Stop()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Service) providerName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return s.cfg.DefaultProvider
	}
	return name
}

func (s *Service) forget(runID string) {
	s.mu.Lock()
	delete(s.active, runID)
	s.mu.Unlock()
}

func (s *Service) cleanup(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}
	if err := s.store.CleanupTemp(ctx, paths); err != nil {
		s.logger.Warn("failed to clean up reference images", slog.String("error", err.Error()))
	}
}
