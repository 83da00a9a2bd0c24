package veo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"google.golang.org/genai"

	"github.com/maauso/scenechain/internal/provider"
	"github.com/maauso/scenechain/internal/provider/restapi"
)

// Name is the provider name used in configuration and logs.
const Name = "veo"

const (
	geminiHost    = "generativelanguage.googleapis.com"
	gcsPublicHost = "https://storage.googleapis.com/"
)

// errNotVideo is returned when a Gemini file download yields something other
// than a video, typically an API error body.
var errNotVideo = errors.New("veo: downloaded file is not a video")

// Client is the Veo implementation of provider.Adapter.
type Client struct {
	genai          *genai.Client
	fetch          *restapi.Client
	apiHost        string
	model          string
	aspectRatio    string
	negativePrompt string
	generateAudio  bool
	subjectRefs    []string
	backgroundRefs []string
}

type settings struct {
	baseURL        string
	httpClient     *http.Client
	model          string
	aspectRatio    string
	negativePrompt string
	generateAudio  bool
	subjectRefs    []string
	backgroundRefs []string
}

// ClientOption is a function that configures a Client.
type ClientOption func(*settings)

// WithBaseURL points the SDK at a different Gemini API root.
func WithBaseURL(url string) ClientOption {
	return func(s *settings) {
		s.baseURL = url
	}
}

// WithHTTPClient sets the HTTP client used by the SDK and for public downloads.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(s *settings) {
		s.httpClient = c
	}
}

// WithModel selects a model by alias, e.g. "veo-3.1-fast". Unknown aliases
// fall back to DefaultModel.
func WithModel(alias string) ClientOption {
	return func(s *settings) {
		if alias != "" {
			s.model = alias
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

// WithGenerateAudio toggles audio generation on Veo 3.1 models (default on).
func WithGenerateAudio(on bool) ClientOption {
	return func(s *settings) {
		s.generateAudio = on
	}
}

// WithReferenceImages sets subject and background reference images. They are
// sent only to Veo 3.1 models.
func WithReferenceImages(subject, background []string) ClientOption {
	return func(s *settings) {
		s.subjectRefs = subject
		s.backgroundRefs = background
	}
}

// NewClient creates a new Veo client authenticated with a Gemini API key.
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w", Name, provider.ErrAPIKeyRequired)
	}

	s := settings{
		model:         DefaultModel,
		aspectRatio:   "16:9",
		generateAudio: true,
	}
	for _, opt := range opts {
		opt(&s)
	}

	modelID, ok := models[s.model]
	if !ok {
		modelID = models[DefaultModel]
	}

	gc, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  s.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: s.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: create genai client: %w", Name, err)
	}

	apiHost := geminiHost
	if u, err := url.Parse(s.baseURL); err == nil && u.Host != "" {
		apiHost = u.Host
	}

	var fetchOpts []restapi.Option
	if s.httpClient != nil {
		fetchOpts = append(fetchOpts, restapi.WithHTTPClient(s.httpClient))
	}

	return &Client{
		genai:          gc,
		fetch:          restapi.New(Name, "", fetchOpts...),
		apiHost:        apiHost,
		model:          modelID,
		aspectRatio:    s.aspectRatio,
		negativePrompt: s.negativePrompt,
		generateAudio:  s.generateAudio,
		subjectRefs:    s.subjectRefs,
		backgroundRefs: s.backgroundRefs,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return Name
}

// Model returns the resolved Gemini model ID.
func (c *Client) Model() string {
	return c.model
}

// SupportsImageConditioning reports that Veo accepts a first-frame image.
func (c *Client) SupportsImageConditioning() bool {
	return true
}

func (c *Client) isVeo31() bool {
	return strings.Contains(c.model, "3.1")
}

// SubmitTextToVideo starts a generation operation from the prompt alone.
func (c *Client) SubmitTextToVideo(ctx context.Context, prompt string, durationSec int, resolution string, seed int64) (string, error) {
	return c.submit(ctx, prompt, nil, durationSec, resolution, seed)
}

// SubmitImageToVideo starts a generation operation with imagePath as the first frame.
func (c *Client) SubmitImageToVideo(ctx context.Context, prompt, imagePath string, durationSec int, resolution string, seed int64) (string, error) {
	img, err := loadImage(imagePath)
	if err != nil {
		return "", provider.NewSubmissionError(Name, err)
	}
	return c.submit(ctx, prompt, img, durationSec, resolution, seed)
}

func (c *Client) submit(ctx context.Context, prompt string, image *genai.Image, durationSec int, resolution string, seed int64) (string, error) {
	cfg, err := c.videosConfig(durationSec, resolution, seed)
	if err != nil {
		return "", provider.NewSubmissionError(Name, err)
	}

	op, err := c.genai.Models.GenerateVideos(ctx, c.model, prompt, image, cfg)
	if err != nil {
		return "", provider.NewSubmissionError(Name, err)
	}
	if op == nil || op.Name == "" {
		return "", provider.NewSubmissionError(Name, provider.ErrNoJobIDReturned)
	}
	return op.Name, nil
}

// videosConfig builds the per-request configuration. The SDK refuses seed and
// generateAudio on the Gemini backend, so both travel in the request body as
// extra prediction parameters.
func (c *Client) videosConfig(durationSec int, resolution string, seed int64) (*genai.GenerateVideosConfig, error) {
	duration := int32(durationSec) // #nosec G115 - durations are clamped to a few seconds upstream
	cfg := &genai.GenerateVideosConfig{
		NumberOfVideos:   1,
		AspectRatio:      c.aspectRatio,
		DurationSeconds:  &duration,
		NegativePrompt:   c.negativePrompt,
		PersonGeneration: personGenerationAllowAll,
	}
	if resolution != "" && resolution != provider.Resolution720p && !strings.Contains(c.model, "2.0") {
		cfg.Resolution = resolution
	}

	extra := map[string]any{}
	if seed > 0 {
		extra["seed"] = seed
	}
	if c.isVeo31() {
		extra["generateAudio"] = c.generateAudio

		refs, err := c.referenceImages()
		if err != nil {
			return nil, err
		}
		cfg.ReferenceImages = refs
	}
	if len(extra) > 0 {
		cfg.HTTPOptions = &genai.HTTPOptions{ExtraBody: map[string]any{"parameters": extra}}
	}
	return cfg, nil
}

// referenceImages loads up to two subject images followed by background
// images, three in total.
func (c *Client) referenceImages() ([]*genai.VideoGenerationReferenceImage, error) {
	var refs []*genai.VideoGenerationReferenceImage
	add := func(path string, kind genai.VideoGenerationReferenceType) error {
		img, err := loadImage(path)
		if err != nil {
			return err
		}
		refs = append(refs, &genai.VideoGenerationReferenceImage{Image: img, ReferenceType: kind})
		return nil
	}

	for i, path := range c.subjectRefs {
		if i == maxSubjectRefs {
			break
		}
		if err := add(path, referenceSubject); err != nil {
			return nil, err
		}
	}
	for _, path := range c.backgroundRefs {
		if len(refs) == maxTotalRefs {
			break
		}
		if err := add(path, referenceBackground); err != nil {
			return nil, err
		}
	}
	return refs, nil
}

func loadImage(path string) (*genai.Image, error) {
	img, err := provider.LoadImage(path)
	if err != nil {
		return nil, err
	}
	return &genai.Image{ImageBytes: img.Data, MIMEType: img.MIMEType}, nil
}

// CheckStatus fetches the operation once.
func (c *Client) CheckStatus(ctx context.Context, jobID string) (provider.StatusResult, error) {
	if jobID == "" {
		return provider.StatusResult{}, provider.NewPollError(Name, jobID, provider.ErrJobIDRequired)
	}

	op, err := c.genai.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: jobID}, nil)
	if err != nil {
		return provider.StatusResult{}, provider.NewPollError(Name, jobID, err)
	}
	return statusOf(op), nil
}

func statusOf(op *genai.GenerateVideosOperation) provider.StatusResult {
	if !op.Done {
		return provider.StatusResult{Status: provider.StatusProcessing}
	}
	if op.Error != nil {
		return provider.StatusResult{
			Status: provider.StatusFailed,
			Error:  fmt.Sprintf("code %v: %v", op.Error["code"], op.Error["message"]),
		}
	}
	if op.Response != nil {
		for _, v := range op.Response.GeneratedVideos {
			if v != nil && v.Video != nil && v.Video.URI != "" {
				return provider.StatusResult{Status: provider.StatusCompleted, VideoURI: v.Video.URI}
			}
		}
	}
	return provider.StatusResult{Status: provider.StatusFailed, Error: "No video in response"}
}

// publicTarget maps a video URI that does not live in the Gemini file store
// to a plain URL. gs:// URIs go through the public GCS endpoint.
func (c *Client) publicTarget(videoURI string) (string, bool) {
	if strings.HasPrefix(videoURI, "gs://") {
		return gcsPublicHost + strings.TrimPrefix(videoURI, "gs://"), true
	}

	u, err := url.Parse(videoURI)
	if err != nil || u.Host == "" || u.Host == geminiHost || u.Host == c.apiHost {
		return "", false
	}
	return videoURI, true
}

// DownloadVideo fetches a generated video. Gemini file URIs are downloaded
// through the SDK; anything else is fetched without credentials.
func (c *Client) DownloadVideo(ctx context.Context, videoURI, destPath string) (string, error) {
	if videoURI == "" {
		return "", provider.NewDownloadError(Name, videoURI, provider.ErrVideoURIRequired)
	}

	if target, ok := c.publicTarget(videoURI); ok {
		if err := c.fetch.Download(ctx, target, destPath, nil); err != nil {
			return "", provider.NewDownloadError(Name, videoURI, err)
		}
		return destPath, nil
	}

	data, err := c.genai.Files.Download(ctx, genai.NewDownloadURIFromVideo(&genai.Video{URI: videoURI}), nil)
	if err != nil {
		return "", provider.NewDownloadError(Name, videoURI, err)
	}
	if err := writeVideo(destPath, data); err != nil {
		return "", provider.NewDownloadError(Name, videoURI, err)
	}
	return destPath, nil
}

// writeVideo stores data at destPath through a sibling temporary file so a
// failed write never leaves a partial video behind.
func writeVideo(destPath string, data []byte) error {
	if len(data) == 0 {
		return restapi.ErrEmptyDownload
	}
	if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "video/") {
		return fmt.Errorf("%w: got %s", errNotVideo, mt.String())
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	out, err := os.CreateTemp(dir, filepath.Base(destPath)+".part-*")
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	tmpName := out.Name()

	if _, err := out.Write(data); err != nil {
		_ = out.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write output file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close output file: %w", err)
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("move output file: %w", err)
	}
	return nil
}

// EstimateUnitCost prices a clip per second according to the model tier.
func (c *Client) EstimateUnitCost(durationSec int, _ string) float64 {
	var perSecond float64
	switch {
	case strings.Contains(c.model, "fast"):
		perSecond = 0.15
	case strings.Contains(c.model, "quality"):
		perSecond = 0.75
	case c.isVeo31():
		perSecond = 0.40
	default:
		perSecond = 0.50
	}
	return float64(durationSec) * perSecond
}

// Compile-time check that Client implements provider.Adapter.
var _ provider.Adapter = (*Client)(nil)
