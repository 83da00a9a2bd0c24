// Package kling provides the Kling AI video generation adapter.
package kling

// Task kinds. Kling serves status under the same path family the task was created on.
const (
	kindText2Video  = "text2video"
	kindImage2Video = "image2video"
)

// Kling task statuses.
const (
	statusSubmitted  = "submitted"
	statusProcessing = "processing"
	statusSucceed    = "succeed"
	statusFailed     = "failed"
)

// createRequest is the body for /videos/text2video and /videos/image2video.
type createRequest struct {
	ModelName      string  `json:"model_name"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Image          string  `json:"image,omitempty"`
	CfgScale       float64 `json:"cfg_scale"`
	Mode           string  `json:"mode"`
	Duration       string  `json:"duration"`
	AspectRatio    string  `json:"aspect_ratio,omitempty"`
}

// envelope wraps every Kling response.
type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type createData struct {
	TaskID string `json:"task_id"`
}

type taskData struct {
	TaskID        string     `json:"task_id"`
	TaskStatus    string     `json:"task_status"`
	TaskStatusMsg string     `json:"task_status_msg"`
	TaskResult    taskResult `json:"task_result"`
}

type taskResult struct {
	Videos []video `json:"videos"`
}

type video struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Duration string `json:"duration"`
}
