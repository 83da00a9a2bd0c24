package kling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/maauso/scenechain/internal/provider"
	"github.com/maauso/scenechain/internal/provider/restapi"
)

// Name is the provider name used in configuration and logs.
const Name = "kling"

// DefaultBaseURL is the Kling API root.
const DefaultBaseURL = "https://api.klingapi.com/v1"

// ErrAPIError is returned when Kling answers with a non-zero business code.
var ErrAPIError = errors.New("kling: api error")

// Client is the Kling implementation of provider.Adapter.
type Client struct {
	rest           *restapi.Client
	model          string
	aspectRatio    string
	negativePrompt string
}

type settings struct {
	baseURL        string
	model          string
	aspectRatio    string
	negativePrompt string
	restOpts       []restapi.Option
}

// ClientOption is a function that configures a Client.
type ClientOption func(*settings)

// WithBaseURL sets a custom base URL for the Kling API.
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

// WithModel sets the Kling model name (default "kling-v1").
func WithModel(model string) ClientOption {
	return func(s *settings) {
		if model != "" {
			s.model = model
		}
	}
}

// WithAspectRatio sets the output aspect ratio (default "16:9").
func WithAspectRatio(ratio string) ClientOption {
	return func(s *settings) {
		if ratio != "" {
			s.aspectRatio = ratio
		}
	}
}

// WithNegativePrompt sets content the model should avoid.
func WithNegativePrompt(p string) ClientOption {
	return func(s *settings) {
		s.negativePrompt = p
	}
}

// NewClient creates a new Kling client authenticated with apiKey.
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w", Name, provider.ErrAPIKeyRequired)
	}

	s := settings{
		baseURL:     DefaultBaseURL,
		model:       "kling-v1",
		aspectRatio: "16:9",
	}
	for _, opt := range opts {
		opt(&s)
	}

	restOpts := append([]restapi.Option{restapi.WithBearerToken(apiKey)}, s.restOpts...)
	return &Client{
		rest:           restapi.New(Name, s.baseURL, restOpts...),
		model:          s.model,
		aspectRatio:    s.aspectRatio,
		negativePrompt: s.negativePrompt,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return Name
}

// SupportsImageConditioning reports that Kling accepts a first-frame image.
func (c *Client) SupportsImageConditioning() bool {
	return true
}

// SubmitTextToVideo creates a text2video task.
func (c *Client) SubmitTextToVideo(ctx context.Context, prompt string, durationSec int, resolution string, _ int64) (string, error) {
	return c.submit(ctx, kindText2Video, c.newRequest(prompt, durationSec, resolution))
}

// SubmitImageToVideo creates an image2video task using imagePath as the first frame.
func (c *Client) SubmitImageToVideo(ctx context.Context, prompt, imagePath string, durationSec int, resolution string, _ int64) (string, error) {
	img, err := provider.LoadImage(imagePath)
	if err != nil {
		return "", provider.NewSubmissionError(Name, err)
	}
	req := c.newRequest(prompt, durationSec, resolution)
	req.Image = img.Base64()
	return c.submit(ctx, kindImage2Video, req)
}

func (c *Client) newRequest(prompt string, durationSec int, resolution string) createRequest {
	mode := "std"
	if resolution == provider.Resolution1080p {
		mode = "pro"
	}
	return createRequest{
		ModelName:      c.model,
		Prompt:         prompt,
		NegativePrompt: c.negativePrompt,
		CfgScale:       0.5,
		Mode:           mode,
		Duration:       strconv.Itoa(provider.ClampDuration(durationSec, 5, 10)),
		AspectRatio:    c.aspectRatio,
	}
}

func (c *Client) submit(ctx context.Context, kind string, req createRequest) (string, error) {
	var resp envelope[createData]
	if err := c.rest.Do(ctx, http.MethodPost, "/videos/"+kind, nil, req, &resp); err != nil {
		return "", provider.NewSubmissionError(Name, err)
	}
	if resp.Code != 0 {
		return "", provider.NewSubmissionError(Name, fmt.Errorf("%w: code %d: %s", ErrAPIError, resp.Code, resp.Message))
	}
	if resp.Data.TaskID == "" {
		return "", provider.NewSubmissionError(Name, provider.ErrNoJobIDReturned)
	}
	return kind + ":" + resp.Data.TaskID, nil
}

// splitJobID recovers the task kind and Kling task ID. IDs without a kind are
// treated as text2video tasks.
func splitJobID(jobID string) (kind, taskID string) {
	if k, id, ok := strings.Cut(jobID, ":"); ok && (k == kindText2Video || k == kindImage2Video) {
		return k, id
	}
	return kindText2Video, jobID
}

// CheckStatus polls the task once.
func (c *Client) CheckStatus(ctx context.Context, jobID string) (provider.StatusResult, error) {
	if jobID == "" {
		return provider.StatusResult{}, provider.NewPollError(Name, jobID, provider.ErrJobIDRequired)
	}
	kind, taskID := splitJobID(jobID)

	var resp envelope[taskData]
	if err := c.rest.Do(ctx, http.MethodGet, "/videos/"+kind+"/"+taskID, nil, nil, &resp); err != nil {
		return provider.StatusResult{}, provider.NewPollError(Name, jobID, err)
	}
	if resp.Code != 0 {
		return provider.StatusResult{}, provider.NewPollError(Name, jobID, fmt.Errorf("%w: code %d: %s", ErrAPIError, resp.Code, resp.Message))
	}

	switch resp.Data.TaskStatus {
	case statusSucceed:
		result := provider.StatusResult{Status: provider.StatusCompleted}
		if len(resp.Data.TaskResult.Videos) > 0 {
			result.VideoURI = resp.Data.TaskResult.Videos[0].URL
		}
		return result, nil
	case statusFailed:
		msg := resp.Data.TaskStatusMsg
		if msg == "" {
			msg = "Unknown"
		}
		return provider.StatusResult{Status: provider.StatusFailed, Error: msg}, nil
	case statusSubmitted:
		return provider.StatusResult{Status: provider.StatusPending}, nil
	default:
		return provider.StatusResult{Status: provider.StatusProcessing}, nil
	}
}

// DownloadVideo fetches the video from Kling's CDN.
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
