package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/scenechain/internal/provider"
	"github.com/maauso/scenechain/internal/scene"
)

// submission records one call to a Submit method.
type submission struct {
	prompt string
	image  string
}

// fakeAdapter is a scripted provider. Jobs are keyed back to the prompt that
// created them so behavior can be scripted per scene.
type fakeAdapter struct {
	mu           sync.Mutex
	imageSupport bool
	submissions  []submission
	jobs         map[string]string
	polls        map[string]int
	uris         map[string]string

	// submitErr returns an error for the n-th submission (1-based) of prompt.
	submitErr func(prompt string, n int) error
	// status returns the result of the n-th poll (1-based) of a job for prompt and attempt.
	status func(prompt string, attempt, n int) (provider.StatusResult, error)
	// downloadErr fails every download of prompt when non-nil.
	downloadErr func(prompt string) error
	// blankJobID makes the n-th submission of prompt succeed without a job ID.
	blankJobID func(prompt string, n int) bool
	// blankPath makes downloads succeed without returning a path.
	blankPath bool
}

func newFakeAdapter(imageSupport bool) *fakeAdapter {
	return &fakeAdapter{
		imageSupport: imageSupport,
		jobs:         make(map[string]string),
		polls:        make(map[string]int),
		uris:         make(map[string]string),
	}
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) SupportsImageConditioning() bool { return f.imageSupport }

func (f *fakeAdapter) EstimateUnitCost(durationSec int, resolution string) float64 {
	if resolution == provider.Resolution1080p {
		return float64(durationSec) * 0.10
	}
	return float64(durationSec) * 0.05
}

func (f *fakeAdapter) SubmitTextToVideo(_ context.Context, prompt string, _ int, _ string, _ int64) (string, error) {
	return f.record(prompt, "")
}

func (f *fakeAdapter) SubmitImageToVideo(_ context.Context, prompt, imagePath string, _ int, _ string, _ int64) (string, error) {
	return f.record(prompt, imagePath)
}

func (f *fakeAdapter) record(prompt, image string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submissions = append(f.submissions, submission{prompt: prompt, image: image})
	n := f.countLocked(prompt)
	if f.submitErr != nil {
		if err := f.submitErr(prompt, n); err != nil {
			return "", provider.NewSubmissionError("fake", err)
		}
	}
	if f.blankJobID != nil && f.blankJobID(prompt, n) {
		return "", nil
	}
	jobID := fmt.Sprintf("job-%s-%d", strings.ReplaceAll(prompt, " ", "-"), n)
	f.jobs[jobID] = prompt
	return jobID, nil
}

func (f *fakeAdapter) countLocked(prompt string) int {
	n := 0
	for _, s := range f.submissions {
		if s.prompt == prompt {
			n++
		}
	}
	return n
}

func (f *fakeAdapter) CheckStatus(_ context.Context, jobID string) (provider.StatusResult, error) {
	f.mu.Lock()
	f.polls[jobID]++
	n := f.polls[jobID]
	prompt := f.jobs[jobID]
	var attempt int
	_, _ = fmt.Sscanf(jobID[strings.LastIndex(jobID, "-")+1:], "%d", &attempt)
	status := f.status
	f.mu.Unlock()

	res := provider.StatusResult{Status: provider.StatusCompleted, VideoURI: "https://videos/" + jobID + ".mp4"}
	var err error
	if status != nil {
		res, err = status(prompt, attempt, n)
	}
	if res.VideoURI != "" {
		f.mu.Lock()
		f.uris[res.VideoURI] = prompt
		f.mu.Unlock()
	}
	return res, err
}

func (f *fakeAdapter) DownloadVideo(_ context.Context, videoURI, destPath string) (string, error) {
	f.mu.Lock()
	prompt := f.uris[videoURI]
	downloadErr := f.downloadErr
	blankPath := f.blankPath
	f.mu.Unlock()

	if downloadErr != nil {
		if err := downloadErr(prompt); err != nil {
			return "", provider.NewDownloadError("fake", videoURI, err)
		}
	}
	if err := os.WriteFile(destPath, []byte(videoURI), 0o600); err != nil {
		return "", provider.NewDownloadError("fake", videoURI, err)
	}
	if blankPath {
		return "", nil
	}
	return destPath, nil
}

func (f *fakeAdapter) submissionsFor(prompt string) []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []submission
	for _, s := range f.submissions {
		if s.prompt == prompt {
			out = append(out, s)
		}
	}
	return out
}

// mockFrames is a testify mock for ReferenceFrameProvider.
type mockFrames struct {
	mock.Mock
}

func (m *mockFrames) ExtractLastFrame(ctx context.Context, videoPath string) (string, error) {
	args := m.Called(ctx, videoPath)
	return args.String(0), args.Error(1)
}

// stubFrames names frames after the video without touching ffmpeg.
type stubFrames struct{}

func (stubFrames) ExtractLastFrame(_ context.Context, videoPath string) (string, error) {
	return videoPath + ".frame.png", nil
}

// recorder collects observer events.
type recorder struct {
	mu     sync.Mutex
	events []Event
	onLog  func(msg string)
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	onLog := r.onLog
	r.mu.Unlock()

	if e.Kind == EventLog && onLog != nil {
		onLog(e.Message)
	}
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Kind == EventLog {
			out = append(out, e.Message)
		}
	}
	return out
}

func testSettings(t *testing.T) Settings {
	t.Helper()
	s := DefaultSettings(t.TempDir())
	s.PollInterval = time.Millisecond
	s.RetryDelay = time.Millisecond
	return s
}

func newScenes(t *testing.T, n int) []*scene.Task {
	t.Helper()
	tasks := make([]*scene.Task, n)
	for i := range tasks {
		task, err := scene.New(i+1, fmt.Sprintf("scene %d", i+1), "")
		require.NoError(t, err)
		tasks[i] = task
	}
	return tasks
}

func newTestOrchestrator(t *testing.T, a provider.Adapter, frames ReferenceFrameProvider, s Settings, rec *recorder) *Orchestrator {
	t.Helper()
	o, err := New(a, frames, s, WithObserver(rec))
	require.NoError(t, err)
	return o
}

func TestNew_Validation(t *testing.T) {
	a := newFakeAdapter(true)

	_, err := New(nil, stubFrames{}, testSettings(t))
	require.ErrorIs(t, err, ErrAdapterRequired)

	bad := testSettings(t)
	bad.Resolution = "4k"
	_, err = New(a, stubFrames{}, bad)
	require.ErrorIs(t, err, ErrInvalidSettings)

	noDir := testSettings(t)
	noDir.OutputDir = ""
	_, err = New(a, stubFrames{}, noDir)
	require.ErrorIs(t, err, ErrInvalidSettings)

	_, err = New(a, nil, testSettings(t))
	require.ErrorIs(t, err, ErrFramesRequired)

	noChain := testSettings(t)
	noChain.FrameChaining = false
	_, err = New(a, nil, noChain)
	require.NoError(t, err)
}

func TestSettings_Defaults(t *testing.T) {
	o, err := New(newFakeAdapter(false), nil, Settings{OutputDir: t.TempDir()})
	require.NoError(t, err)

	s := o.Settings()
	assert.Equal(t, DefaultDurationSec, s.DurationSec)
	assert.Equal(t, provider.Resolution720p, s.Resolution)
	assert.Equal(t, DefaultPollInterval, s.PollInterval)
	assert.Equal(t, DefaultRetryDelay, s.RetryDelay)
}

func TestLoad_RejectsDuplicatesAndNil(t *testing.T) {
	o := newTestOrchestrator(t, newFakeAdapter(false), stubFrames{}, testSettings(t), &recorder{})

	a, _ := scene.New(1, "a", "")
	b, _ := scene.New(1, "b", "")
	assert.ErrorIs(t, o.Load([]*scene.Task{a, b}), ErrDuplicateSceneID)
	assert.ErrorIs(t, o.Load([]*scene.Task{a, nil}), ErrNilScene)
	assert.NoError(t, o.Load([]*scene.Task{a}))
}

func TestRun_EverySceneEndsTerminal(t *testing.T) {
	a := newFakeAdapter(true)
	a.status = func(prompt string, _, _ int) (provider.StatusResult, error) {
		if prompt == "scene 2" {
			return provider.StatusResult{Status: provider.StatusFailed, Error: "content policy"}, nil
		}
		return provider.StatusResult{Status: provider.StatusCompleted, VideoURI: "https://videos/" + strings.ReplaceAll(prompt, " ", "-")}, nil
	}
	a.downloadErr = func(prompt string) error {
		if prompt == "scene 4" {
			return errors.New("connection reset")
		}
		return nil
	}

	rec := &recorder{}
	s := testSettings(t)
	o := newTestOrchestrator(t, a, stubFrames{}, s, rec)
	tasks := newScenes(t, 4)
	require.NoError(t, o.Load(tasks))

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Stopped)

	for _, task := range o.Snapshot() {
		assert.Contains(t, []scene.State{scene.StateCompleted, scene.StateFailed}, task.State, "scene %d", task.ID)
		assert.LessOrEqual(t, task.AttemptCount, MaxAttempts, "scene %d", task.ID)
	}

	snap := o.Snapshot()
	assert.Equal(t, scene.StateCompleted, snap[0].State)
	assert.Equal(t, VideoPath(s.OutputDir, 1), snap[0].LocalVideoPath)
	assert.FileExists(t, snap[0].LocalVideoPath)
	assert.Equal(t, scene.StateFailed, snap[1].State)
	assert.Equal(t, "content policy", snap[1].LastError)
	assert.Equal(t, scene.StateCompleted, snap[2].State)
	assert.Equal(t, scene.StateFailed, snap[3].State)
	assert.Contains(t, snap[3].LastError, "download failed")

	assert.Equal(t, scene.Summary{Total: 4, Completed: 2, Failed: 2}, res.Summary)
	assert.Equal(t, 1, rec.count(EventDone))
	assert.Equal(t, scene.StateCompleted, tasks[0].GetState(), "caller's tasks are updated in place")
}

func TestRun_ReportedFailureRetriedOnceThenAdvances(t *testing.T) {
	a := newFakeAdapter(false)
	a.status = func(prompt string, _, _ int) (provider.StatusResult, error) {
		if prompt == "scene 2" {
			return provider.StatusResult{Status: provider.StatusFailed, Error: "boom"}, nil
		}
		return provider.StatusResult{Status: provider.StatusCompleted, VideoURI: "https://videos/" + strings.ReplaceAll(prompt, " ", "-")}, nil
	}

	rec := &recorder{}
	o := newTestOrchestrator(t, a, stubFrames{}, testSettings(t), rec)
	require.NoError(t, o.Load(newScenes(t, 3)))

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, a.submissionsFor("scene 2"), 2, "one retry beyond the first attempt")
	assert.Len(t, a.submissionsFor("scene 3"), 1, "the run continues after a failed scene")

	snap := o.Snapshot()
	assert.Equal(t, scene.StateFailed, snap[1].State)
	assert.Equal(t, 2, snap[1].AttemptCount)
	assert.Equal(t, scene.StateCompleted, snap[2].State)
	assert.Contains(t, rec.logs(), "Scene 2: Retrying (1/1)...")
}

func TestRun_RetrySucceeds(t *testing.T) {
	a := newFakeAdapter(false)
	a.status = func(_ string, attempt, _ int) (provider.StatusResult, error) {
		if attempt == 1 {
			return provider.StatusResult{Status: provider.StatusFailed}, nil
		}
		return provider.StatusResult{Status: provider.StatusCompleted, VideoURI: "https://videos/ok"}, nil
	}

	o := newTestOrchestrator(t, a, stubFrames{}, testSettings(t), &recorder{})
	require.NoError(t, o.Load(newScenes(t, 1)))
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	snap := o.Snapshot()[0]
	assert.Equal(t, scene.StateCompleted, snap.State)
	assert.Equal(t, 2, snap.AttemptCount)
	assert.Empty(t, snap.LastError, "error is cleared when a new attempt starts")
	assert.Equal(t, "job-scene-1-2", snap.RemoteJobID, "job ID is replaced on retry")
}

func TestRun_SubmissionErrorRetried(t *testing.T) {
	a := newFakeAdapter(false)
	a.submitErr = func(_ string, n int) error {
		if n == 1 {
			return errors.New("401 unauthorized")
		}
		return nil
	}

	rec := &recorder{}
	o := newTestOrchestrator(t, a, stubFrames{}, testSettings(t), rec)
	require.NoError(t, o.Load(newScenes(t, 1)))
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, scene.StateCompleted, o.Snapshot()[0].State)
	assert.Len(t, a.submissionsFor("scene 1"), 2)
	assert.Contains(t, strings.Join(rec.logs(), "\n"), "Scene 1: Submit FAILED")
}

func TestRun_PollErrorsKeepPolling(t *testing.T) {
	a := newFakeAdapter(false)
	a.status = func(_ string, _, n int) (provider.StatusResult, error) {
		switch n {
		case 1:
			return provider.StatusResult{}, provider.NewPollError("fake", "job", errors.New("timeout"))
		case 2:
			return provider.StatusResult{Status: provider.StatusPending}, nil
		default:
			return provider.StatusResult{Status: provider.StatusCompleted, VideoURI: "https://videos/x"}, nil
		}
	}

	rec := &recorder{}
	o := newTestOrchestrator(t, a, stubFrames{}, testSettings(t), rec)
	require.NoError(t, o.Load(newScenes(t, 1)))
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	snap := o.Snapshot()[0]
	assert.Equal(t, scene.StateCompleted, snap.State)
	assert.Equal(t, 1, snap.AttemptCount, "poll errors do not consume the retry budget")

	logs := strings.Join(rec.logs(), "\n")
	assert.Contains(t, logs, "Scene 1: Poll error")
	assert.Contains(t, logs, "Scene 1: Still processing... (poll #2)")
}

func TestRun_CompletedWithoutVideoFailsAndRetries(t *testing.T) {
	a := newFakeAdapter(false)
	a.status = func(_ string, _, _ int) (provider.StatusResult, error) {
		return provider.StatusResult{Status: provider.StatusCompleted}, nil
	}

	o := newTestOrchestrator(t, a, stubFrames{}, testSettings(t), &recorder{})
	require.NoError(t, o.Load(newScenes(t, 1)))
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	snap := o.Snapshot()[0]
	assert.Equal(t, scene.StateFailed, snap.State)
	assert.Equal(t, errNoVideoInResponse, snap.LastError)
	assert.Equal(t, MaxAttempts, snap.AttemptCount)
}

func TestRun_DownloadFailureNotRetried(t *testing.T) {
	a := newFakeAdapter(false)
	a.downloadErr = func(string) error { return errors.New("disk full") }

	o := newTestOrchestrator(t, a, stubFrames{}, testSettings(t), &recorder{})
	require.NoError(t, o.Load(newScenes(t, 2)))
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, a.submissionsFor("scene 1"), 1)
	assert.Len(t, a.submissionsFor("scene 2"), 1)
	snap := o.Snapshot()[0]
	assert.Equal(t, scene.StateFailed, snap.State)
	assert.NotEmpty(t, snap.RemoteJobID)
	assert.Empty(t, snap.LocalVideoPath)
}

func TestRun_EmptyJobIDFailsScene(t *testing.T) {
	tests := []struct {
		name      string
		blank     func(prompt string, n int) bool
		wantState scene.State
		wantSubs  int
	}{
		{"retried after one empty id", func(_ string, n int) bool { return n == 1 }, scene.StateCompleted, 2},
		{"fails after every attempt", func(string, int) bool { return true }, scene.StateFailed, MaxAttempts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newFakeAdapter(false)
			a.blankJobID = func(prompt string, n int) bool { return prompt == "scene 1" && tt.blank(prompt, n) }

			rec := &recorder{}
			o := newTestOrchestrator(t, a, stubFrames{}, testSettings(t), rec)
			require.NoError(t, o.Load(newScenes(t, 2)))
			res, err := o.Run(context.Background())
			require.NoError(t, err)

			snap := o.Snapshot()
			assert.Equal(t, tt.wantState, snap[0].State)
			assert.Len(t, a.submissionsFor("scene 1"), tt.wantSubs)
			assert.Equal(t, scene.StateCompleted, snap[1].State, "the run advances past the scene")
			assert.Zero(t, res.Summary.Remaining, "no scene is left mid-flight")
			assert.Contains(t, strings.Join(rec.logs(), "\n"), "Scene 1: Submit FAILED")
			if tt.wantState == scene.StateFailed {
				assert.Contains(t, snap[0].LastError, provider.ErrNoJobIDReturned.Error())
			}
		})
	}
}

func TestRun_EmptyDownloadPathFailsScene(t *testing.T) {
	a := newFakeAdapter(false)
	a.blankPath = true

	rec := &recorder{}
	o := newTestOrchestrator(t, a, stubFrames{}, testSettings(t), rec)
	require.NoError(t, o.Load(newScenes(t, 2)))
	res, err := o.Run(context.Background())
	require.NoError(t, err)

	for _, snap := range o.Snapshot() {
		assert.Equal(t, scene.StateFailed, snap.State)
		assert.Empty(t, snap.LocalVideoPath)
		assert.Contains(t, snap.LastError, "download failed")
	}
	assert.Len(t, a.submissionsFor("scene 1"), 1, "download failures are not retried")
	assert.Equal(t, 2, res.Summary.Failed)
	assert.Zero(t, res.Summary.Remaining)

	logs := strings.Join(rec.logs(), "\n")
	assert.Contains(t, logs, "Scene 1: Download FAILED")
	assert.NotContains(t, logs, "Downloaded ->")
}

func TestStart_StopBeforeStartIsKept(t *testing.T) {
	a := newFakeAdapter(false)
	rec := &recorder{}
	o := newTestOrchestrator(t, a, stubFrames{}, testSettings(t), rec)
	require.NoError(t, o.Load(newScenes(t, 2)))

	o.Stop()
	require.NoError(t, o.Start(context.Background()))
	res := o.Wait()
	assert.True(t, res.Stopped)
	assert.Empty(t, a.submissionsFor("scene 1"))
	assert.Equal(t, 2, res.Summary.Remaining)

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Stopped, "the stop is spent by the run it stopped")
	assert.Equal(t, 2, res.Summary.Completed)
}

func TestRun_ChainedFrameOutranksReferences(t *testing.T) {
	a := newFakeAdapter(true)
	s := testSettings(t)
	s.SubjectRefs = []string{"/refs/hero.png", "/refs/hero2.png"}
	s.BackgroundRefs = []string{"/refs/city.png"}

	frames := &mockFrames{}
	frames.On("ExtractLastFrame", mock.Anything, VideoPath(s.OutputDir, 1)).Return("/frames/1.png", nil).Once()
	frames.On("ExtractLastFrame", mock.Anything, VideoPath(s.OutputDir, 2)).Return("/frames/2.png", nil).Once()
	frames.On("ExtractLastFrame", mock.Anything, VideoPath(s.OutputDir, 3)).Return("/frames/3.png", nil).Once()

	rec := &recorder{}
	o := newTestOrchestrator(t, a, frames, s, rec)
	require.NoError(t, o.Load(newScenes(t, 3)))
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/refs/hero.png", a.submissionsFor("scene 1")[0].image, "first scene falls back to the subject reference")
	assert.Equal(t, "/frames/1.png", a.submissionsFor("scene 2")[0].image)
	assert.Equal(t, "/frames/2.png", a.submissionsFor("scene 3")[0].image)
	frames.AssertExpectations(t)

	logs := rec.logs()
	assert.Contains(t, logs, "Scene 1: Submitting (image-to-video, subject reference)...")
	assert.Contains(t, logs, "Scene 2: Submitting (image-to-video, frame chaining)...")
	assert.Contains(t, logs, "Scene 1: Extracted last frame for chaining")
}

func TestRun_ChainingDisabledNeverChains(t *testing.T) {
	a := newFakeAdapter(true)
	s := testSettings(t)
	s.FrameChaining = false
	s.BackgroundRefs = []string{"/refs/city.png"}

	o := newTestOrchestrator(t, a, nil, s, &recorder{})
	require.NoError(t, o.Load(newScenes(t, 3)))
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		subs := a.submissionsFor(fmt.Sprintf("scene %d", i))
		require.Len(t, subs, 1)
		assert.Equal(t, "/refs/city.png", subs[0].image)
	}
}

func TestRun_ExtractionFailureDegradesNextSceneOnly(t *testing.T) {
	a := newFakeAdapter(true)
	s := testSettings(t)
	s.SubjectRefs = []string{"/refs/hero.png"}

	frames := &mockFrames{}
	frames.On("ExtractLastFrame", mock.Anything, VideoPath(s.OutputDir, 1)).Return("", errors.New("ffmpeg missing"))
	frames.On("ExtractLastFrame", mock.Anything, VideoPath(s.OutputDir, 2)).Return("/frames/2.png", nil)
	frames.On("ExtractLastFrame", mock.Anything, VideoPath(s.OutputDir, 3)).Return("/frames/3.png", nil)

	rec := &recorder{}
	o := newTestOrchestrator(t, a, frames, s, rec)
	require.NoError(t, o.Load(newScenes(t, 3)))
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/refs/hero.png", a.submissionsFor("scene 2")[0].image)
	assert.Equal(t, "/frames/2.png", a.submissionsFor("scene 3")[0].image)
	assert.Equal(t, scene.Summary{Total: 3, Completed: 3}, o.Summary())
	assert.Contains(t, strings.Join(rec.logs(), "\n"), "Scene 1: Frame extraction failed")
}

func TestSelectReference(t *testing.T) {
	tests := []struct {
		name      string
		support   bool
		chaining  bool
		chained   string
		subject   []string
		bg        []string
		wantPath  string
		wantLabel string
	}{
		{"no image support", false, true, "/f.png", []string{"/s.png"}, nil, "", "text-to-video"},
		{"chained frame", true, true, "/f.png", []string{"/s.png"}, []string{"/b.png"}, "/f.png", "image-to-video, frame chaining"},
		{"chaining off ignores frame", true, false, "/f.png", []string{"/s.png"}, nil, "/s.png", "image-to-video, subject reference"},
		{"background fallback", true, true, "", nil, []string{"/b.png"}, "/b.png", "image-to-video, background reference"},
		{"nothing", true, true, "", nil, nil, "", "text-to-video"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings(t)
			s.FrameChaining = tt.chaining
			s.SubjectRefs = tt.subject
			s.BackgroundRefs = tt.bg
			o := newTestOrchestrator(t, newFakeAdapter(tt.support), stubFrames{}, s, &recorder{})

			path, label := o.selectReference(tt.chained)
			assert.Equal(t, tt.wantPath, path)
			assert.Equal(t, tt.wantLabel, label)
		})
	}
}

func TestRun_StopMidPollKeepsSceneState(t *testing.T) {
	a := newFakeAdapter(false)
	a.status = func(_ string, _, _ int) (provider.StatusResult, error) {
		return provider.StatusResult{Status: provider.StatusProcessing}, nil
	}

	rec := &recorder{}
	o := newTestOrchestrator(t, a, stubFrames{}, testSettings(t), rec)
	rec.onLog = func(msg string) {
		if msg == "Scene 1: Still processing... (poll #2)" {
			o.Stop()
		}
	}
	require.NoError(t, o.Load(newScenes(t, 2)))

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Stopped)

	snap := o.Snapshot()
	assert.Equal(t, scene.StateProcessing, snap[0].State, "in-flight scene is not forced into failed")
	assert.NotEmpty(t, snap[0].RemoteJobID)
	assert.Equal(t, scene.StatePending, snap[1].State)
	assert.Empty(t, a.submissionsFor("scene 2"))
	assert.Equal(t, 1, rec.count(EventDone))
	assert.Contains(t, rec.logs(), "Generation stopped by user.")
}

func TestRun_StopDuringRetryPause(t *testing.T) {
	a := newFakeAdapter(false)
	a.status = func(_ string, _, _ int) (provider.StatusResult, error) {
		return provider.StatusResult{Status: provider.StatusFailed, Error: "nope"}, nil
	}

	s := testSettings(t)
	s.RetryDelay = time.Hour
	rec := &recorder{}
	o := newTestOrchestrator(t, a, stubFrames{}, s, rec)
	rec.onLog = func(msg string) {
		if msg == "Scene 1: Retrying (1/1)..." {
			o.Stop()
		}
	}
	require.NoError(t, o.Load(newScenes(t, 2)))

	done := make(chan Result)
	go func() {
		res, _ := o.Run(context.Background())
		done <- res
	}()

	select {
	case res := <-done:
		assert.True(t, res.Stopped)
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not interrupt the retry pause")
	}
	assert.Len(t, a.submissionsFor("scene 1"), 1)
	assert.Equal(t, scene.StateFailed, o.Snapshot()[0].State)
}

func TestRun_ContextCancelStops(t *testing.T) {
	a := newFakeAdapter(false)
	a.status = func(_ string, _, _ int) (provider.StatusResult, error) {
		return provider.StatusResult{Status: provider.StatusProcessing}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{onLog: func(msg string) {
		if strings.HasPrefix(msg, "Scene 1: Still processing") {
			cancel()
		}
	}}
	o := newTestOrchestrator(t, a, stubFrames{}, testSettings(t), rec)
	require.NoError(t, o.Load(newScenes(t, 2)))

	res, err := o.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, scene.StateProcessing, o.Snapshot()[0].State)
	assert.Equal(t, 1, rec.count(EventDone))
}

func TestRun_ResumeChainsFromLastCompletedScene(t *testing.T) {
	a := newFakeAdapter(true)
	s := testSettings(t)
	s.SubjectRefs = []string{"/refs/hero.png"}

	var tasks []*scene.Task
	frames := &mockFrames{}
	for i := 1; i <= 3; i++ {
		path := VideoPath(s.OutputDir, i)
		require.NoError(t, os.WriteFile(path, []byte("mp4"), 0o600))
		task, err := scene.NewCompleted(i, fmt.Sprintf("scene %d", i), "", path)
		require.NoError(t, err)
		tasks = append(tasks, task)
		frames.On("ExtractLastFrame", mock.Anything, path).Return(fmt.Sprintf("/frames/%d.png", i), nil).Once()
	}
	frames.On("ExtractLastFrame", mock.Anything, VideoPath(s.OutputDir, 4)).Return("/frames/4.png", nil).Once()

	pending, err := scene.New(4, "scene 4", "")
	require.NoError(t, err)
	tasks = append(tasks, pending)

	o := newTestOrchestrator(t, a, frames, s, &recorder{})
	require.NoError(t, o.Load(tasks))
	res, err := o.Run(context.Background())
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		assert.Empty(t, a.submissionsFor(fmt.Sprintf("scene %d", i)), "completed scene %d is not re-submitted", i)
	}
	subs := a.submissionsFor("scene 4")
	require.Len(t, subs, 1)
	assert.Equal(t, "/frames/3.png", subs[0].image)
	assert.Equal(t, scene.Summary{Total: 4, Completed: 4}, res.Summary)
	frames.AssertExpectations(t)
}

func TestRun_ResumeResetsUnfinishedScenes(t *testing.T) {
	a := newFakeAdapter(false)
	s := testSettings(t)
	s.FrameChaining = false

	stale, err := scene.New(1, "scene 1", "")
	require.NoError(t, err)
	require.NoError(t, stale.BeginAttempt())
	require.NoError(t, stale.MarkSubmitted("old-job"))
	require.NoError(t, stale.Fail("crashed"))
	require.NoError(t, stale.BeginAttempt())

	o := newTestOrchestrator(t, a, nil, s, &recorder{})
	require.NoError(t, o.Load([]*scene.Task{stale}))
	_, err = o.Run(context.Background())
	require.NoError(t, err)

	snap := o.Snapshot()[0]
	assert.Equal(t, scene.StateCompleted, snap.State)
	assert.Equal(t, 1, snap.AttemptCount, "attempt budget is fresh for the new run")
}

func TestRun_ResumeMissingVideoFallsBack(t *testing.T) {
	a := newFakeAdapter(true)
	s := testSettings(t)
	s.SubjectRefs = []string{"/refs/hero.png"}

	done, err := scene.NewCompleted(1, "scene 1", "", filepath.Join(s.OutputDir, "gone.mp4"))
	require.NoError(t, err)
	next, err := scene.New(2, "scene 2", "")
	require.NoError(t, err)

	o := newTestOrchestrator(t, a, stubFrames{}, s, &recorder{})
	require.NoError(t, o.Load([]*scene.Task{done, next}))
	_, err = o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/refs/hero.png", a.submissionsFor("scene 2")[0].image)
}

func TestEstimateCost(t *testing.T) {
	a := newFakeAdapter(false)
	s := testSettings(t)
	o := newTestOrchestrator(t, a, stubFrames{}, s, &recorder{})

	tasks := newScenes(t, 5)
	require.NoError(t, tasks[0].BeginAttempt())
	require.NoError(t, tasks[0].Fail("x"))
	require.NoError(t, o.Load(tasks))

	assert.InDelta(t, 5*a.EstimateUnitCost(8, provider.Resolution720p), o.EstimateCost(), 1e-9)
	assert.InDelta(t, 2.0, o.EstimateCost(), 1e-9)

	s.Resolution = provider.Resolution1080p
	o2 := newTestOrchestrator(t, a, stubFrames{}, s, &recorder{})
	require.NoError(t, o2.Load(tasks))
	assert.InDelta(t, 4.0, o2.EstimateCost(), 1e-9)
}

func TestStart_RejectsConcurrentRun(t *testing.T) {
	a := newFakeAdapter(false)
	a.status = func(_ string, _, _ int) (provider.StatusResult, error) {
		return provider.StatusResult{Status: provider.StatusProcessing}, nil
	}

	rec := &recorder{}
	o := newTestOrchestrator(t, a, stubFrames{}, testSettings(t), rec)
	require.NoError(t, o.Load(newScenes(t, 1)))

	require.NoError(t, o.Start(context.Background()))
	assert.True(t, o.Running())
	assert.ErrorIs(t, o.Start(context.Background()), ErrAlreadyRunning)
	_, err := o.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.ErrorIs(t, o.Load(newScenes(t, 1)), ErrAlreadyRunning)

	o.Stop()
	res := o.Wait()
	assert.True(t, res.Stopped)
	assert.False(t, o.Running())
	assert.Equal(t, 1, rec.count(EventDone))
}

func TestRun_EmptyListCompletes(t *testing.T) {
	rec := &recorder{}
	o := newTestOrchestrator(t, newFakeAdapter(false), stubFrames{}, testSettings(t), rec)

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scene.Summary{}, res.Summary)
	assert.Equal(t, 1, rec.count(EventDone))
	assert.Zero(t, o.EstimateCost())
}

func TestRun_ProgressAfterEveryTransition(t *testing.T) {
	rec := &recorder{}
	o := newTestOrchestrator(t, newFakeAdapter(false), stubFrames{}, testSettings(t), rec)
	require.NoError(t, o.Load(newScenes(t, 1)))
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	var states []scene.State
	rec.mu.Lock()
	for _, e := range rec.events {
		if e.Kind == EventProgress {
			states = append(states, e.Scene.State)
		}
	}
	rec.mu.Unlock()

	assert.Equal(t, []scene.State{
		scene.StateSubmitting,
		scene.StateProcessing,
		scene.StateDownloading,
		scene.StateCompleted,
	}, states)
}
