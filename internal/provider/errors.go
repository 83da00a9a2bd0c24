package provider

import (
	"errors"
	"fmt"
)

// Static errors shared by all adapters.
var (
	// ErrAPIKeyRequired is returned when an adapter is constructed without credentials.
	ErrAPIKeyRequired = errors.New("provider: API key is required")
	// ErrNoJobIDReturned is returned when a submit response carries no job ID.
	ErrNoJobIDReturned = errors.New("provider: no job ID returned")
	// ErrJobIDRequired is returned when a status check is made without a job ID.
	ErrJobIDRequired = errors.New("provider: job ID is required")
	// ErrVideoURIRequired is returned when a download is requested without a URI.
	ErrVideoURIRequired = errors.New("provider: video URI is required")
	// ErrImageConditioningUnsupported is returned by adapters without image support.
	ErrImageConditioningUnsupported = errors.New("provider: image conditioning not supported")
)

// SubmissionError reports a failure while creating a remote job: transport,
// authentication, or a rejected request.
type SubmissionError struct {
	Provider string
	Err      error
}

// NewSubmissionError wraps err as a SubmissionError for the named provider.
func NewSubmissionError(provider string, err error) *SubmissionError {
	return &SubmissionError{Provider: provider, Err: err}
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s: submit: %v", e.Provider, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// PollError reports a transport or protocol failure during a status check.
// A provider-reported job failure is not a PollError.
type PollError struct {
	Provider string
	JobID    string
	Err      error
}

// NewPollError wraps err as a PollError for the named provider and job.
func NewPollError(provider, jobID string, err error) *PollError {
	return &PollError{Provider: provider, JobID: jobID, Err: err}
}

func (e *PollError) Error() string {
	return fmt.Sprintf("%s: poll %s: %v", e.Provider, e.JobID, e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}

// DownloadError reports a transport or filesystem failure while saving a video.
type DownloadError struct {
	Provider string
	URI      string
	Err      error
}

// NewDownloadError wraps err as a DownloadError for the named provider and URI.
func NewDownloadError(provider, uri string, err error) *DownloadError {
	return &DownloadError{Provider: provider, URI: uri, Err: err}
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s: download: %v", e.Provider, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}
