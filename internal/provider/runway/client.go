package runway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maauso/scenechain/internal/provider"
	"github.com/maauso/scenechain/internal/provider/restapi"
)

// Name is the provider name used in configuration and logs.
const Name = "runway"

// DefaultBaseURL is the Runway developer API root.
const DefaultBaseURL = "https://api.dev.runwayml.com/v1"

// costPerSecond is the Gen-4 Turbo list price.
const costPerSecond = 0.05

// Client is the Runway implementation of provider.Adapter.
type Client struct {
	rest  *restapi.Client
	model string
	ratio string
}

type settings struct {
	baseURL  string
	model    string
	ratio    string
	restOpts []restapi.Option
}

// ClientOption is a function that configures a Client.
type ClientOption func(*settings)

// WithBaseURL sets a custom base URL for the Runway API.
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

// WithModel sets the Runway model (default "gen4_turbo").
func WithModel(model string) ClientOption {
	return func(s *settings) {
		if model != "" {
			s.model = model
		}
	}
}

// WithRatio sets the output ratio in Runway's "W:H" pixel form (default "1280:720").
func WithRatio(ratio string) ClientOption {
	return func(s *settings) {
		if ratio != "" {
			s.ratio = ratio
		}
	}
}

// NewClient creates a new Runway client authenticated with apiKey.
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w", Name, provider.ErrAPIKeyRequired)
	}

	s := settings{
		baseURL: DefaultBaseURL,
		model:   "gen4_turbo",
		ratio:   "1280:720",
	}
	for _, opt := range opts {
		opt(&s)
	}

	restOpts := append([]restapi.Option{
		restapi.WithBearerToken(apiKey),
		restapi.WithHeader("X-Runway-Version", APIVersion),
	}, s.restOpts...)

	return &Client{
		rest:  restapi.New(Name, s.baseURL, restOpts...),
		model: s.model,
		ratio: s.ratio,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return Name
}

// SupportsImageConditioning reports that Runway accepts a prompt image.
func (c *Client) SupportsImageConditioning() bool {
	return true
}

// SubmitTextToVideo creates a text_to_video task.
func (c *Client) SubmitTextToVideo(ctx context.Context, prompt string, durationSec int, _ string, seed int64) (string, error) {
	return c.submit(ctx, "/text_to_video", c.newRequest(prompt, durationSec, seed))
}

// SubmitImageToVideo creates an image_to_video task with imagePath as the prompt image.
func (c *Client) SubmitImageToVideo(ctx context.Context, prompt, imagePath string, durationSec int, _ string, seed int64) (string, error) {
	img, err := provider.LoadImage(imagePath)
	if err != nil {
		return "", provider.NewSubmissionError(Name, err)
	}
	req := c.newRequest(prompt, durationSec, seed)
	req.PromptImage = img.DataURI()
	return c.submit(ctx, "/image_to_video", req)
}

func (c *Client) newRequest(prompt string, durationSec int, seed int64) generationRequest {
	req := generationRequest{
		Model:      c.model,
		PromptText: truncatePrompt(prompt),
		Duration:   provider.ClampDuration(durationSec, 5, 10),
		Ratio:      c.ratio,
	}
	if seed > 0 {
		req.Seed = seed
	}
	return req
}

func (c *Client) submit(ctx context.Context, path string, req generationRequest) (string, error) {
	var resp generationResponse
	if err := c.rest.Do(ctx, http.MethodPost, path, nil, req, &resp); err != nil {
		return "", provider.NewSubmissionError(Name, err)
	}
	if resp.ID == "" {
		return "", provider.NewSubmissionError(Name, provider.ErrNoJobIDReturned)
	}
	return resp.ID, nil
}

// CheckStatus polls the task once.
func (c *Client) CheckStatus(ctx context.Context, jobID string) (provider.StatusResult, error) {
	if jobID == "" {
		return provider.StatusResult{}, provider.NewPollError(Name, jobID, provider.ErrJobIDRequired)
	}

	var resp taskResponse
	if err := c.rest.Do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(jobID), nil, nil, &resp); err != nil {
		return provider.StatusResult{}, provider.NewPollError(Name, jobID, err)
	}

	switch strings.ToUpper(resp.Status) {
	case statusSucceeded:
		return provider.StatusResult{Status: provider.StatusCompleted, VideoURI: resp.firstOutputURL()}, nil
	case statusFailed:
		msg := resp.Failure
		if msg == "" {
			msg = "Unknown error"
		}
		return provider.StatusResult{Status: provider.StatusFailed, Error: msg}, nil
	case statusPending, statusThrottled:
		return provider.StatusResult{Status: provider.StatusPending}, nil
	default:
		return provider.StatusResult{Status: provider.StatusProcessing}, nil
	}
}

// DownloadVideo fetches the video from Runway's signed output URL.
func (c *Client) DownloadVideo(ctx context.Context, videoURI, destPath string) (string, error) {
	if videoURI == "" {
		return "", provider.NewDownloadError(Name, videoURI, provider.ErrVideoURIRequired)
	}
	if err := c.rest.Download(ctx, videoURI, destPath, nil); err != nil {
		return "", provider.NewDownloadError(Name, videoURI, err)
	}
	return destPath, nil
}

// EstimateUnitCost prices a clip per second of output.
func (c *Client) EstimateUnitCost(durationSec int, _ string) float64 {
	return float64(durationSec) * costPerSecond
}

// Compile-time check that Client implements provider.Adapter.
var _ provider.Adapter = (*Client)(nil)
