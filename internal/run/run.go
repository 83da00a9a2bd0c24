// Package run provides the Run aggregate: one orchestrated pass over a scene
// list started through the HTTP API, with its scene snapshots, log tail and
// published artifacts. It also holds the repository port and the service
// that creates, observes and stops runs.
package run

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/maauso/scenechain/internal/run/id"
	"github.com/maauso/scenechain/internal/scene"
)

// Status represents the current state of a Run.
type Status string

const (
	// StatusQueued indicates the run was accepted and has not started yet.
	StatusQueued Status = "QUEUED"
	// StatusRunning indicates the orchestrator is driving the scenes.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates every scene was driven to a terminal state.
	// Individual scenes may still have failed; see Summary.
	StatusCompleted Status = "COMPLETED"
	// StatusStopped indicates the run was stopped before the list was exhausted.
	StatusStopped Status = "STOPPED"
	// StatusFailed indicates the run could not start or its post-processing failed.
	StatusFailed Status = "FAILED"
)

// MaxLogLines bounds the log tail kept on a run.
const MaxLogLines = 200

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("run: invalid state transition")

var validTransitions = map[Status][]Status{
	StatusQueued:    {StatusRunning, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusStopped, StatusFailed},
	StatusCompleted: {},
	StatusStopped:   {},
	StatusFailed:    {},
}

func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// LogEntry is one progress line emitted during a run.
type LogEntry struct {
	Time    time.Time
	SceneID int
	Message string
}

// Run is the aggregate for one orchestrated pass.
type Run struct {
	mu sync.RWMutex

	// ID is the unique identifier for this run.
	ID string
	// Provider is the backend name.
	Provider string
	// Model is the provider model override, if any.
	Model string
	// Status is the current run state.
	Status Status
	// Scenes are snapshots of the scene tasks, in drive order.
	Scenes []*scene.Task
	// Logs is the most recent MaxLogLines progress lines.
	Logs []LogEntry
	// Summary counts scenes by outcome.
	Summary scene.Summary
	// EstimatedCost is the USD estimate computed before the run started.
	EstimatedCost float64
	// OutputDir is where scene videos and frames are written.
	OutputDir string
	// PushToS3 publishes completed scene videos when the run ends.
	PushToS3 bool
	// Join concatenates completed scene videos into FilmPath when the run ends.
	Join bool
	// FilmPath is the joined video, if one was produced.
	FilmPath string
	// FilmURL is the published joined video, if any.
	FilmURL string
	// SceneURLs maps scene IDs to published video URLs.
	SceneURLs map[int]string
	// Error describes why the run failed.
	Error string
	// CreatedAt is when the run was created.
	CreatedAt time.Time
	// UpdatedAt is when the run was last updated.
	UpdatedAt time.Time
	// StartedAt is when the orchestrator started.
	StartedAt time.Time
	// CompletedAt is when the run reached a terminal state.
	CompletedAt time.Time
}

// New creates a queued Run with a generated ID.
func New(providerName string) *Run {
	return NewWithID(id.Generate(), providerName)
}

// NewWithID creates a queued Run with the specified ID.
func NewWithID(runID, providerName string) *Run {
	now := time.Now()
	return &Run{
		ID:        runID,
		Provider:  providerName,
		Status:    StatusQueued,
		SceneURLs: make(map[int]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the run status.
// Returns ErrInvalidTransition if the transition is not allowed.
func (r *Run) TransitionTo(status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !canTransition(r.Status, status) {
		return ErrInvalidTransition
	}

	r.Status = status
	r.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		r.StartedAt = r.UpdatedAt
	case StatusCompleted, StatusStopped, StatusFailed:
		r.CompletedAt = r.UpdatedAt
	}

	return nil
}

// Start transitions the run from QUEUED to RUNNING.
func (r *Run) Start() error {
	return r.TransitionTo(StatusRunning)
}

// Complete transitions the run to COMPLETED.
func (r *Run) Complete() error {
	return r.TransitionTo(StatusCompleted)
}

// MarkStopped transitions the run to STOPPED.
func (r *Run) MarkStopped() error {
	return r.TransitionTo(StatusStopped)
}

// Fail transitions the run to FAILED with an error message.
func (r *Run) Fail(errMsg string) error {
	r.mu.Lock()
	r.Error = errMsg
	r.mu.Unlock()
	return r.TransitionTo(StatusFailed)
}

// GetStatus returns the current run status (thread-safe).
func (r *Run) GetStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

// IsTerminal returns true if the run is in a terminal state.
func (r *Run) IsTerminal() bool {
	s := r.GetStatus()
	return s == StatusCompleted || s == StatusStopped || s == StatusFailed
}

// SetScenes replaces the scene snapshots and recomputes the summary.
func (r *Run) SetScenes(tasks []*scene.Task) {
	clones := make([]*scene.Task, len(tasks))
	for i, t := range tasks {
		clones[i] = t.Clone()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.Scenes = clones
	r.Summary = scene.Summarize(clones)
	r.UpdatedAt = time.Now()
}

// UpdateScene replaces the snapshot with the same scene ID.
// Unknown IDs are ignored.
func (r *Run) UpdateScene(t *scene.Task) {
	if t == nil {
		return
	}
	snap := t.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.Scenes {
		if s.ID == snap.ID {
			r.Scenes[i] = snap
			r.Summary = scene.Summarize(r.Scenes)
			r.UpdatedAt = time.Now()
			return
		}
	}
}

// AppendLog adds a progress line, dropping the oldest beyond MaxLogLines.
func (r *Run) AppendLog(sceneID int, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Logs = append(r.Logs, LogEntry{Time: time.Now(), SceneID: sceneID, Message: msg})
	if over := len(r.Logs) - MaxLogLines; over > 0 {
		r.Logs = append([]LogEntry(nil), r.Logs[over:]...)
	}
	r.UpdatedAt = time.Now()
}

// SetSceneURL records where a scene video was published.
func (r *Run) SetSceneURL(sceneID int, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SceneURLs == nil {
		r.SceneURLs = make(map[int]string)
	}
	r.SceneURLs[sceneID] = url
	r.UpdatedAt = time.Now()
}

// SetFilm records the joined video path and optional published URL.
func (r *Run) SetFilm(path, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FilmPath = path
	r.FilmURL = url
	r.UpdatedAt = time.Now()
}

// CompletedVideos returns the local video paths of completed scenes in scene order.
func (r *Run) CompletedVideos() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	done := make([]*scene.Task, 0, len(r.Scenes))
	for _, s := range r.Scenes {
		if s.State == scene.StateCompleted && s.LocalVideoPath != "" {
			done = append(done, s)
		}
	}
	sort.SliceStable(done, func(i, j int) bool { return done[i].ID < done[j].ID })

	paths := make([]string, len(done))
	for i, s := range done {
		paths[i] = s.LocalVideoPath
	}
	return paths
}

// Clone creates a deep copy of the run for safe reads.
func (r *Run) Clone() *Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scenes := make([]*scene.Task, len(r.Scenes))
	for i, s := range r.Scenes {
		scenes[i] = s.Clone()
	}
	logs := make([]LogEntry, len(r.Logs))
	copy(logs, r.Logs)
	urls := make(map[int]string, len(r.SceneURLs))
	for k, v := range r.SceneURLs {
		urls[k] = v
	}

	return &Run{
		ID:            r.ID,
		Provider:      r.Provider,
		Model:         r.Model,
		Status:        r.Status,
		Scenes:        scenes,
		Logs:          logs,
		Summary:       r.Summary,
		EstimatedCost: r.EstimatedCost,
		OutputDir:     r.OutputDir,
		PushToS3:      r.PushToS3,
		Join:          r.Join,
		FilmPath:      r.FilmPath,
		FilmURL:       r.FilmURL,
		SceneURLs:     urls,
		Error:         r.Error,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
	}
}
