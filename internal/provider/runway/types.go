// Package runway provides the Runway Gen-4 video generation adapter.
package runway

import "encoding/json"

// APIVersion is sent in the X-Runway-Version header on every request.
const APIVersion = "2024-11-06"

// Runway task statuses.
const (
	statusPending   = "PENDING"
	statusThrottled = "THROTTLED"
	statusRunning   = "RUNNING"
	statusSucceeded = "SUCCEEDED"
	statusFailed    = "FAILED"
)

// maxPromptRunes is the longest promptText Runway accepts.
const maxPromptRunes = 1000

type generationRequest struct {
	Model       string `json:"model"`
	PromptImage string `json:"promptImage,omitempty"`
	PromptText  string `json:"promptText"`
	Duration    int    `json:"duration"`
	Ratio       string `json:"ratio"`
	Seed        int64  `json:"seed,omitempty"`
}

type generationResponse struct {
	ID string `json:"id"`
}

type taskResponse struct {
	ID      string            `json:"id"`
	Status  string            `json:"status"`
	Output  []json.RawMessage `json:"output"`
	Failure string            `json:"failure"`
}

// firstOutputURL returns the first output entry. Runway returns plain URL
// strings; objects with a url field are accepted too.
func (t taskResponse) firstOutputURL() string {
	if len(t.Output) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(t.Output[0], &s); err == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(t.Output[0], &obj); err == nil {
		return obj.URL
	}
	return ""
}

// truncatePrompt cuts p to maxPromptRunes runes.
func truncatePrompt(p string) string {
	r := []rune(p)
	if len(r) <= maxPromptRunes {
		return p
	}
	return string(r[:maxPromptRunes])
}
