// Package server provides the HTTP API for SceneChain.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// SceneRequest is one scene of a run request.
type SceneRequest struct {
	// ID orders the scene; omitted IDs are assigned by position.
	ID int `json:"id" validate:"min=0"`
	// Prompt is the user-authored scene text.
	Prompt string `json:"prompt" validate:"max=8000"`
	// EnhancedPrompt, when set, is sent to the provider instead of Prompt.
	EnhancedPrompt string `json:"enhanced_prompt" validate:"max=8000"`
}

// CreateRunRequest is the HTTP request body for starting a run.
// Scenes come either from Scenes or from Script.
type CreateRunRequest struct {
	Provider       string `json:"provider" validate:"omitempty,oneof=kling minimax runway veo"`
	Model          string `json:"model"`
	AspectRatio    string `json:"aspect_ratio" validate:"omitempty,oneof=16:9 9:16 1:1 4:3 3:4"`
	NegativePrompt string `json:"negative_prompt"`
	GenerateAudio  *bool  `json:"generate_audio"`

	Scenes []SceneRequest `json:"scenes" validate:"omitempty,max=500,dive"`
	// Script is scene text in "Scene N – ..." or one-scene-per-line form.
	Script string `json:"script"`

	DurationSec   int    `json:"duration_sec" validate:"omitempty,min=1,max=60"`
	Resolution    string `json:"resolution" validate:"omitempty,oneof=720p 1080p"`
	Seed          int64  `json:"seed" validate:"min=0"`
	FrameChaining *bool  `json:"frame_chaining"`

	// SubjectImages and BackgroundImages are base64 images or data URIs.
	SubjectImages    []string `json:"subject_images" validate:"max=3,dive,required"`
	BackgroundImages []string `json:"background_images" validate:"max=3,dive,required"`

	// PushToS3 uploads completed scene videos when the run ends.
	PushToS3 bool `json:"push_to_s3"`
	// Join concatenates completed scene videos into one film.
	Join bool `json:"join"`
}

// EstimateRequest is the HTTP request body for a cost estimate.
type EstimateRequest struct {
	Provider    string `json:"provider" validate:"omitempty,oneof=kling minimax runway veo"`
	Model       string `json:"model"`
	DurationSec int    `json:"duration_sec" validate:"omitempty,min=1,max=60"`
	Resolution  string `json:"resolution" validate:"omitempty,oneof=720p 1080p"`
	SceneCount  int    `json:"scene_count" validate:"required,min=1,max=500"`
}

// EstimateResponse is the HTTP response for a cost estimate.
type EstimateResponse struct {
	Provider   string  `json:"provider,omitempty"`
	SceneCount int     `json:"scene_count"`
	CostUSD    float64 `json:"cost_usd"`
}

// CreateRunResponse is the HTTP response after starting a run.
type CreateRunResponse struct {
	// ID is the unique identifier for the created run.
	ID string `json:"id"`
	// Status is the run status right after creation.
	Status string `json:"status"`
	// Scenes is the number of scenes queued.
	Scenes int `json:"scenes"`
	// EstimatedCost is the USD estimate for the whole run.
	EstimatedCost float64 `json:"estimated_cost"`
}

// SummaryResponse counts scenes by outcome.
type SummaryResponse struct {
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Remaining int    `json:"remaining"`
	Text      string `json:"text"`
}

// SceneResponse is the state of one scene.
type SceneResponse struct {
	ID              int    `json:"id"`
	OriginalPrompt  string `json:"original_prompt"`
	EffectivePrompt string `json:"effective_prompt"`
	State           string `json:"state"`
	AttemptCount    int    `json:"attempt_count"`
	RemoteJobID     string `json:"remote_job_id,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	VideoPath       string `json:"video_path,omitempty"`
	VideoURL        string `json:"video_url,omitempty"`
}

// LogLineResponse is one progress line.
type LogLineResponse struct {
	Time    time.Time `json:"time"`
	SceneID int       `json:"scene_id,omitempty"`
	Message string    `json:"message"`
}

// RunResponse is the HTTP response for getting run details.
type RunResponse struct {
	ID            string            `json:"id"`
	Provider      string            `json:"provider"`
	Model         string            `json:"model,omitempty"`
	Status        string            `json:"status"`
	Summary       SummaryResponse   `json:"summary"`
	EstimatedCost float64           `json:"estimated_cost"`
	Scenes        []SceneResponse   `json:"scenes"`
	Logs          []LogLineResponse `json:"logs"`
	FilmPath      string            `json:"film_path,omitempty"`
	FilmURL       string            `json:"film_url,omitempty"`
	Error         string            `json:"error,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// RunListItem is one entry of GET /runs.
type RunListItem struct {
	ID        string          `json:"id"`
	Provider  string          `json:"provider"`
	Status    string          `json:"status"`
	Summary   SummaryResponse `json:"summary"`
	CreatedAt time.Time       `json:"created_at"`
}

// RunListResponse is the HTTP response for listing runs.
type RunListResponse struct {
	Runs []RunListItem `json:"runs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Providers lists the backends with an API key configured.
	Providers []string `json:"providers,omitempty"`
}
