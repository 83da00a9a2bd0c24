// Package provider defines the common contract for video generation backends.
// Kling, MiniMax, Runway and Veo adapters implement Adapter so the orchestrator
// can drive any of them without knowing which one it talks to.
package provider

import "context"

// Status represents the status of a remote generation job.
type Status string

// Common job statuses across providers.
const (
	StatusPending    Status = "pending"    // Job accepted but not started
	StatusProcessing Status = "processing" // Job is generating
	StatusCompleted  Status = "completed"  // Job finished successfully
	StatusFailed     Status = "failed"     // Job failed on the provider side
)

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Resolution tags accepted by the adapters.
const (
	Resolution720p  = "720p"
	Resolution1080p = "1080p"
)

// StatusResult contains the result of a single status check.
type StatusResult struct {
	Status   Status // Current job status
	VideoURI string // Download locator (only when Status is StatusCompleted)
	Error    string // Provider-reported failure detail (only when Status is StatusFailed)
}

// Adapter defines the interface for video generation providers.
//
// Submissions return a non-empty job ID or a *SubmissionError. CheckStatus is a
// single non-blocking poll; a provider-reported failure is returned as
// StatusFailed, and only transport or protocol problems produce a *PollError.
// DownloadVideo returns a *DownloadError unless the complete file is at destPath.
type Adapter interface {
	// Name returns the provider name, e.g. "kling".
	Name() string

	// SubmitTextToVideo starts a text-conditioned generation job.
	SubmitTextToVideo(ctx context.Context, prompt string, durationSec int, resolution string, seed int64) (jobID string, err error)

	// SubmitImageToVideo starts a generation job conditioned on a local image.
	// It is only called when SupportsImageConditioning returns true.
	SubmitImageToVideo(ctx context.Context, prompt, imagePath string, durationSec int, resolution string, seed int64) (jobID string, err error)

	// CheckStatus polls the job once.
	CheckStatus(ctx context.Context, jobID string) (StatusResult, error)

	// DownloadVideo fetches the finished video into destPath and returns destPath.
	DownloadVideo(ctx context.Context, videoURI, destPath string) (string, error)

	// SupportsImageConditioning reports whether SubmitImageToVideo may be used.
	SupportsImageConditioning() bool

	// EstimateUnitCost returns the estimated USD cost of one clip. It performs no I/O.
	EstimateUnitCost(durationSec int, resolution string) float64
}

// ClampDuration bounds a requested duration to what a provider accepts.
func ClampDuration(d, lo, hi int) int {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
