package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/maauso/scenechain/internal/provider"
	"github.com/maauso/scenechain/internal/scene"
)

type outcome int

const (
	outcomeDone outcome = iota
	outcomeStopped
)

type pollKind int

const (
	pollCompleted pollKind = iota
	pollFailed
	pollStopped
)

type pollResult struct {
	kind     pollKind
	videoURI string
	errMsg   string
}

// VideoPath returns where a scene's video is written.
func VideoPath(outputDir string, sceneID int) string {
	return filepath.Join(outputDir, strconv.Itoa(sceneID)+".mp4")
}

// processScene drives one scene until it is completed, terminally failed or
// the run is stopped.
func (o *Orchestrator) processScene(ctx context.Context, t *scene.Task, chainedFrame string) outcome {
	id := t.ID
	prompt := t.Clone().EffectivePrompt

	for {
		if !o.transition(t, t.BeginAttempt) {
			return outcomeDone
		}

		ref, mode := o.selectReference(chainedFrame)
		o.logf(id, "Scene %d: Submitting (%s)...", id, mode)

		jobID, err := o.submit(ctx, prompt, ref)
		if err != nil && ctx.Err() != nil {
			return outcomeStopped
		}
		if err == nil {
			err = o.record(t, func() error { return t.MarkSubmitted(jobID) })
		}
		if err != nil {
			o.logf(id, "Scene %d: Submit FAILED - %v", id, err)
			o.transition(t, func() error { return t.Fail(err.Error()) })
			if retry, stopped := o.nextAttempt(ctx, t); !retry {
				return stoppedOr(stopped)
			}
			continue
		}
		o.logf(id, "Scene %d: Processing (job %s)", id, shortJobID(jobID))

		res := o.poll(ctx, t, jobID)
		switch res.kind {
		case pollStopped:
			return outcomeStopped
		case pollFailed:
			o.logf(id, "Scene %d: FAILED - %s", id, res.errMsg)
			o.transition(t, func() error { return t.Fail(res.errMsg) })
			if retry, stopped := o.nextAttempt(ctx, t); !retry {
				return stoppedOr(stopped)
			}
			continue
		}

		o.logf(id, "Scene %d: Generation complete! Downloading...", id)
		return o.download(ctx, t, res.videoURI)
	}
}

func stoppedOr(stopped bool) outcome {
	if stopped {
		return outcomeStopped
	}
	return outcomeDone
}

// submit starts the remote job. An adapter that reports success without a
// job ID is treated as a failed submission.
func (o *Orchestrator) submit(ctx context.Context, prompt, ref string) (string, error) {
	s := o.settings

	var (
		jobID string
		err   error
	)
	if ref != "" {
		jobID, err = o.adapter.SubmitImageToVideo(ctx, prompt, ref, s.DurationSec, s.Resolution, s.Seed)
	} else {
		jobID, err = o.adapter.SubmitTextToVideo(ctx, prompt, s.DurationSec, s.Resolution, s.Seed)
	}
	if err == nil && jobID == "" {
		err = provider.NewSubmissionError(o.adapter.Name(), provider.ErrNoJobIDReturned)
	}
	return jobID, err
}

// nextAttempt reports whether the failed scene gets another submission. It
// waits out the retry delay first; stopped is true if the run was stopped
// during the pause.
func (o *Orchestrator) nextAttempt(ctx context.Context, t *scene.Task) (retry, stopped bool) {
	attempts := t.Clone().AttemptCount
	if attempts >= MaxAttempts {
		o.logf(t.ID, "Scene %d: Giving up after %d attempts", t.ID, attempts)
		return false, false
	}

	o.logf(t.ID, "Scene %d: Retrying (%d/%d)...", t.ID, attempts, MaxAttempts-1)
	if !o.sleep(ctx, o.settings.RetryDelay) {
		return false, true
	}
	return true, false
}

// poll checks the job every PollInterval until it reaches a result.
// Poll errors are logged and the loop continues.
func (o *Orchestrator) poll(ctx context.Context, t *scene.Task, jobID string) pollResult {
	emptyCompletions := 0

	for n := 1; ; n++ {
		if o.shouldStop(ctx) || !o.sleep(ctx, o.settings.PollInterval) {
			return pollResult{kind: pollStopped}
		}

		status, err := o.adapter.CheckStatus(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return pollResult{kind: pollStopped}
			}
			o.logf(t.ID, "Scene %d: Poll error: %v", t.ID, err)
			continue
		}

		switch status.Status {
		case provider.StatusCompleted:
			if status.VideoURI != "" {
				return pollResult{kind: pollCompleted, videoURI: status.VideoURI}
			}
			emptyCompletions++
			if emptyCompletions >= maxEmptyCompletions {
				return pollResult{kind: pollFailed, errMsg: errNoVideoInResponse}
			}
			o.logf(t.ID, "Scene %d: Reported complete without a video (poll #%d)", t.ID, n)
		case provider.StatusFailed:
			msg := status.Error
			if msg == "" {
				msg = "Unknown error"
			}
			return pollResult{kind: pollFailed, errMsg: msg}
		default:
			emptyCompletions = 0
			o.logf(t.ID, "Scene %d: Still processing... (poll #%d)", t.ID, n)
		}
	}
}

// download fetches the finished video. A failed download is terminal for the scene.
func (o *Orchestrator) download(ctx context.Context, t *scene.Task, videoURI string) outcome {
	if !o.transition(t, func() error { return t.MarkDownloading(videoURI) }) {
		return outcomeDone
	}

	path, err := o.adapter.DownloadVideo(ctx, videoURI, VideoPath(o.settings.OutputDir, t.ID))
	if err != nil && ctx.Err() != nil {
		return outcomeStopped
	}
	if err == nil && path == "" {
		err = provider.NewDownloadError(o.adapter.Name(), videoURI, scene.ErrEmptyVideoPath)
	}
	if err == nil {
		err = o.record(t, func() error { return t.Complete(path) })
	}
	if err != nil {
		o.logf(t.ID, "Scene %d: Download FAILED - %v", t.ID, err)
		o.transition(t, func() error { return t.Fail(fmt.Sprintf("download failed: %v", err)) })
		return outcomeDone
	}

	o.logf(t.ID, "Scene %d: Downloaded -> %s", t.ID, path)
	return outcomeDone
}

// shortJobID trims long provider job IDs for log lines.
func shortJobID(id string) string {
	const limit = 20
	if len(id) <= limit {
		return id
	}
	return id[:limit] + "..."
}
