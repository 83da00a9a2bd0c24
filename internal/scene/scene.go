// Package scene provides the Task entity for a single generated scene.
// It includes the lifecycle state machine a scene moves through while the
// orchestrator drives it from submission to a downloaded video.
package scene

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the lifecycle state of a scene.
type State string

const (
	// StatePending indicates the scene has not been driven yet in this run.
	StatePending State = "pending"
	// StateSubmitting indicates a generation request is being sent to the provider.
	StateSubmitting State = "submitting"
	// StateProcessing indicates the provider accepted the job and is generating.
	StateProcessing State = "processing"
	// StateDownloading indicates the provider reported success and the video is being fetched.
	StateDownloading State = "downloading"
	// StateCompleted indicates the video was written to LocalVideoPath.
	StateCompleted State = "completed"
	// StateFailed indicates the last attempt failed. It is terminal once retries are exhausted.
	StateFailed State = "failed"
)

// Static errors for scene operations.
var (
	// ErrInvalidTransition is returned when an invalid state transition is attempted.
	ErrInvalidTransition = errors.New("scene: invalid state transition")
	// ErrInvalidID is returned when a scene ID is not positive.
	ErrInvalidID = errors.New("scene: ID must be positive")
	// ErrUnknownState is returned when a state name cannot be parsed.
	ErrUnknownState = errors.New("scene: unknown state")
	// ErrEmptyJobID is returned when a submission is recorded without a remote job ID.
	ErrEmptyJobID = errors.New("scene: remote job ID is empty")
	// ErrEmptyVideoURI is returned when a download is started without a video URI.
	ErrEmptyVideoURI = errors.New("scene: remote video URI is empty")
	// ErrEmptyVideoPath is returned when a scene is completed without a local path.
	ErrEmptyVideoPath = errors.New("scene: local video path is empty")
)

// validTransitions defines which state transitions are allowed.
// failed -> submitting is the retry edge; the attempt ceiling is enforced by the orchestrator.
var validTransitions = map[State][]State{
	StatePending:     {StateSubmitting},
	StateSubmitting:  {StateProcessing, StateFailed},
	StateProcessing:  {StateDownloading, StateFailed},
	StateDownloading: {StateCompleted, StateFailed},
	StateCompleted:   {},
	StateFailed:      {StateSubmitting},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseState converts a state name into a State.
// An empty name is treated as pending.
func ParseState(name string) (State, error) {
	if name == "" {
		return StatePending, nil
	}
	s := State(name)
	if _, ok := validTransitions[s]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownState, name)
	}
	return s, nil
}

// Task is the unit of work for one scene.
// Only the orchestrator driving a run mutates a Task; readers use Clone.
type Task struct {
	mu sync.RWMutex

	// ID is the caller-assigned ordering key, unique within a run.
	ID int
	// OriginalPrompt is the raw user-authored scene text.
	OriginalPrompt string
	// EffectivePrompt is the prompt sent to the provider.
	EffectivePrompt string
	// State is the current lifecycle state.
	State State
	// RemoteJobID is the provider job ID of the current attempt.
	RemoteJobID string
	// RemoteVideoURI is the provider download locator, set on reported success.
	RemoteVideoURI string
	// LocalVideoPath is where the finished video was written.
	LocalVideoPath string
	// LastError describes the most recent failure.
	LastError string
	// AttemptCount is the number of submissions made so far.
	AttemptCount int
	// UpdatedAt is when the task last changed.
	UpdatedAt time.Time
}

// New creates a pending Task. EffectivePrompt defaults to the original prompt
// when enhanced is empty.
func New(id int, original, enhanced string) (*Task, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidID, id)
	}
	if enhanced == "" {
		enhanced = original
	}
	return &Task{
		ID:              id,
		OriginalPrompt:  original,
		EffectivePrompt: enhanced,
		State:           StatePending,
		UpdatedAt:       time.Now(),
	}, nil
}

// NewCompleted creates a Task that finished in an earlier run.
// Resumed runs skip it and may chain from its video.
func NewCompleted(id int, original, enhanced, videoPath string) (*Task, error) {
	if videoPath == "" {
		return nil, ErrEmptyVideoPath
	}
	t, err := New(id, original, enhanced)
	if err != nil {
		return nil, err
	}
	t.State = StateCompleted
	t.LocalVideoPath = videoPath
	return t, nil
}

// transitionLocked changes the state. Callers must hold mu.
func (t *Task) transitionLocked(to State) error {
	if !canTransition(t.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, to)
	}
	t.State = to
	t.UpdatedAt = time.Now()
	return nil
}

// BeginAttempt moves the task into submitting for a new attempt.
// The previous job ID, video URI and error are cleared and AttemptCount is incremented.
func (t *Task) BeginAttempt() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.transitionLocked(StateSubmitting); err != nil {
		return err
	}
	t.AttemptCount++
	t.RemoteJobID = ""
	t.RemoteVideoURI = ""
	t.LastError = ""
	return nil
}

// MarkSubmitted records the provider job ID and moves to processing.
func (t *Task) MarkSubmitted(jobID string) error {
	if jobID == "" {
		return ErrEmptyJobID
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.transitionLocked(StateProcessing); err != nil {
		return err
	}
	t.RemoteJobID = jobID
	return nil
}

// MarkDownloading records the video URI reported by the provider and moves to downloading.
func (t *Task) MarkDownloading(videoURI string) error {
	if videoURI == "" {
		return ErrEmptyVideoURI
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.transitionLocked(StateDownloading); err != nil {
		return err
	}
	t.RemoteVideoURI = videoURI
	return nil
}

// Complete records the local video path and moves to completed.
func (t *Task) Complete(videoPath string) error {
	if videoPath == "" {
		return ErrEmptyVideoPath
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.transitionLocked(StateCompleted); err != nil {
		return err
	}
	t.LocalVideoPath = videoPath
	return nil
}

// Fail moves the task to failed with an error message.
func (t *Task) Fail(errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.transitionLocked(StateFailed); err != nil {
		return err
	}
	t.LastError = errMsg
	return nil
}

// ResetForRun prepares a task at the start of a run. Completed tasks are left
// untouched; any other state returns to pending with a fresh attempt budget.
// It reports whether the task was already completed.
func (t *Task) ResetForRun() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State == StateCompleted && t.LocalVideoPath != "" {
		return true
	}
	t.State = StatePending
	t.RemoteJobID = ""
	t.RemoteVideoURI = ""
	t.LocalVideoPath = ""
	t.LastError = ""
	t.AttemptCount = 0
	t.UpdatedAt = time.Now()
	return false
}

// GetState returns the current state (thread-safe).
func (t *Task) GetState() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.State
}

// Clone creates a copy of the task for safe reads.
func (t *Task) Clone() *Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return &Task{
		ID:              t.ID,
		OriginalPrompt:  t.OriginalPrompt,
		EffectivePrompt: t.EffectivePrompt,
		State:           t.State,
		RemoteJobID:     t.RemoteJobID,
		RemoteVideoURI:  t.RemoteVideoURI,
		LocalVideoPath:  t.LocalVideoPath,
		LastError:       t.LastError,
		AttemptCount:    t.AttemptCount,
		UpdatedAt:       t.UpdatedAt,
	}
}

// Summary counts scenes by outcome.
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// Summarize counts completed, failed and remaining tasks.
func Summarize(tasks []*Task) Summary {
	s := Summary{Total: len(tasks)}
	for _, t := range tasks {
		switch t.GetState() {
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		default:
			s.Remaining++
		}
	}
	return s
}

// String renders the summary the way the run log reports it.
func (s Summary) String() string {
	return fmt.Sprintf("%d of %d scenes completed, %d failed", s.Completed, s.Total, s.Failed)
}
