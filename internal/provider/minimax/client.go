package minimax

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/maauso/scenechain/internal/provider"
	"github.com/maauso/scenechain/internal/provider/restapi"
)

// Name is the provider name used in configuration and logs.
const Name = "minimax"

// DefaultBaseURL is the MiniMax API root.
const DefaultBaseURL = "https://api.minimaxi.chat/v1"

// ErrAPIError is returned when MiniMax answers with a non-zero base_resp code.
var ErrAPIError = errors.New("minimax: api error")

// Client is the MiniMax implementation of provider.Adapter.
type Client struct {
	rest  *restapi.Client
	model string
}

type settings struct {
	baseURL  string
	model    string
	restOpts []restapi.Option
}

// ClientOption is a function that configures a Client.
type ClientOption func(*settings)

// WithBaseURL sets a custom base URL for the MiniMax API.
func WithBaseURL(url string) ClientOption {
	return func(s *settings) {
		s.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(s *settings) {
		s.restOpts = append(s.restOpts, restapi.WithHTTPClient(c))
	}
}

// WithRetry sets the retry budget for transient HTTP failures.
func WithRetry(maxRetries int, backoff time.Duration) ClientOption {
	return func(s *settings) {
		s.restOpts = append(s.restOpts, restapi.WithMaxRetries(maxRetries), restapi.WithBaseBackoff(backoff))
	}
}

// WithModel sets the MiniMax model (default "T2V-01").
func WithModel(model string) ClientOption {
	return func(s *settings) {
		if model != "" {
			s.model = model
		}
	}
}

// NewClient creates a new MiniMax client authenticated with apiKey.
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w", Name, provider.ErrAPIKeyRequired)
	}

	s := settings{
		baseURL: DefaultBaseURL,
		model:   "T2V-01",
	}
	for _, opt := range opts {
		opt(&s)
	}

	restOpts := append([]restapi.Option{restapi.WithBearerToken(apiKey)}, s.restOpts...)
	return &Client{
		rest:  restapi.New(Name, s.baseURL, restOpts...),
		model: s.model,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return Name
}

// SupportsImageConditioning reports that MiniMax accepts a first-frame image.
func (c *Client) SupportsImageConditioning() bool {
	return true
}

// SubmitTextToVideo creates a generation task. MiniMax picks its own duration
// and resolution for the configured model.
func (c *Client) SubmitTextToVideo(ctx context.Context, prompt string, _ int, _ string, _ int64) (string, error) {
	return c.submit(ctx, generationRequest{Model: c.model, Prompt: prompt})
}

// SubmitImageToVideo creates a generation task with imagePath as the first frame.
func (c *Client) SubmitImageToVideo(ctx context.Context, prompt, imagePath string, _ int, _ string, _ int64) (string, error) {
	img, err := provider.LoadImage(imagePath)
	if err != nil {
		return "", provider.NewSubmissionError(Name, err)
	}
	return c.submit(ctx, generationRequest{
		Model:           c.model,
		Prompt:          prompt,
		FirstFrameImage: img.DataURI(),
	})
}

func (c *Client) submit(ctx context.Context, req generationRequest) (string, error) {
	var resp generationResponse
	if err := c.rest.Do(ctx, http.MethodPost, "/video_generation", nil, req, &resp); err != nil {
		return "", provider.NewSubmissionError(Name, err)
	}
	if resp.BaseResp.StatusCode != 0 {
		return "", provider.NewSubmissionError(Name, fmt.Errorf("%w: code %d: %s", ErrAPIError, resp.BaseResp.StatusCode, resp.BaseResp.StatusMsg))
	}
	if resp.TaskID == "" {
		return "", provider.NewSubmissionError(Name, provider.ErrNoJobIDReturned)
	}
	return resp.TaskID, nil
}

// CheckStatus polls the task once. On success the file ID is resolved to a
// download URL with a second request.
func (c *Client) CheckStatus(ctx context.Context, jobID string) (provider.StatusResult, error) {
	if jobID == "" {
		return provider.StatusResult{}, provider.NewPollError(Name, jobID, provider.ErrJobIDRequired)
	}

	var resp queryResponse
	query := url.Values{"task_id": {jobID}}
	if err := c.rest.Do(ctx, http.MethodGet, "/query/video_generation", query, nil, &resp); err != nil {
		return provider.StatusResult{}, provider.NewPollError(Name, jobID, err)
	}

	switch resp.Status {
	case statusSuccess:
		if resp.FileID == "" {
			return provider.StatusResult{Status: provider.StatusFailed, Error: "No file_id returned"}, nil
		}
		downloadURL, err := c.retrieveDownloadURL(ctx, resp.FileID)
		if err != nil {
			return provider.StatusResult{}, provider.NewPollError(Name, jobID, err)
		}
		return provider.StatusResult{Status: provider.StatusCompleted, VideoURI: downloadURL}, nil
	case statusFail:
		msg := resp.BaseResp.StatusMsg
		if msg == "" {
			msg = "Unknown"
		}
		return provider.StatusResult{Status: provider.StatusFailed, Error: msg}, nil
	case statusQueueing, statusPreparing:
		return provider.StatusResult{Status: provider.StatusPending}, nil
	default:
		return provider.StatusResult{Status: provider.StatusProcessing}, nil
	}
}

func (c *Client) retrieveDownloadURL(ctx context.Context, fileID string) (string, error) {
	var resp retrieveResponse
	query := url.Values{"file_id": {fileID}}
	if err := c.rest.Do(ctx, http.MethodGet, "/files/retrieve", query, nil, &resp); err != nil {
		return "", fmt.Errorf("retrieve file %s: %w", fileID, err)
	}
	return resp.File.DownloadURL, nil
}

// DownloadVideo fetches the video from the signed download URL.
func (c *Client) DownloadVideo(ctx context.Context, videoURI, destPath string) (string, error) {
	if videoURI == "" {
		return "", provider.NewDownloadError(Name, videoURI, provider.ErrVideoURIRequired)
	}
	if err := c.rest.Download(ctx, videoURI, destPath, nil); err != nil {
		return "", provider.NewDownloadError(Name, videoURI, err)
	}
	return destPath, nil
}

// EstimateUnitCost returns a flat per-clip estimate.
func (c *Client) EstimateUnitCost(_ int, _ string) float64 {
	return 0.05
}

// Compile-time check that Client implements provider.Adapter.
var _ provider.Adapter = (*Client)(nil)
