// Package minimax provides the MiniMax Hailuo video generation adapter.
package minimax

// MiniMax task statuses.
const (
	statusQueueing   = "Queueing"
	statusPreparing  = "Preparing"
	statusProcessing = "Processing"
	statusSuccess    = "Success"
	statusFail       = "Fail"
)

// generationRequest is the body for /video_generation.
type generationRequest struct {
	Model           string `json:"model"`
	Prompt          string `json:"prompt"`
	FirstFrameImage string `json:"first_frame_image,omitempty"`
}

// baseResp carries MiniMax's business status on every response.
type baseResp struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
}

type generationResponse struct {
	TaskID   string   `json:"task_id"`
	BaseResp baseResp `json:"base_resp"`
}

type queryResponse struct {
	TaskID   string   `json:"task_id"`
	Status   string   `json:"status"`
	FileID   string   `json:"file_id"`
	BaseResp baseResp `json:"base_resp"`
}

type retrieveResponse struct {
	File struct {
		FileID      string `json:"file_id"`
		DownloadURL string `json:"download_url"`
	} `json:"file"`
	BaseResp baseResp `json:"base_resp"`
}
