package provider

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngHeader is enough of a PNG file for content sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{"pending not terminal", StatusPending, false},
		{"processing not terminal", StatusProcessing, false},
		{"completed is terminal", StatusCompleted, true},
		{"failed is terminal", StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("Status.IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClampDuration(t *testing.T) {
	assert.Equal(t, 5, ClampDuration(3, 5, 10))
	assert.Equal(t, 8, ClampDuration(8, 5, 10))
	assert.Equal(t, 10, ClampDuration(12, 5, 10))
}

func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")

	var subErr *SubmissionError
	err := error(NewSubmissionError("kling", cause))
	require.ErrorAs(t, err, &subErr)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "kling: submit: connection reset", err.Error())

	var pollErr *PollError
	err = NewPollError("runway", "task-1", cause)
	require.ErrorAs(t, err, &pollErr)
	assert.Equal(t, "task-1", pollErr.JobID)
	assert.ErrorIs(t, err, cause)

	var dlErr *DownloadError
	err = NewDownloadError("veo", "https://x/y.mp4", cause)
	require.ErrorAs(t, err, &dlErr)
	assert.ErrorIs(t, err, cause)
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ref.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o600))

	img, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, "data:image/png;base64,"+img.Base64(), img.DataURI())
}

func TestLoadImage_NotAnImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("just text"), 0o600))

	_, err := LoadImage(path)
	assert.ErrorIs(t, err, ErrNotAnImage)
}

func TestLoadImage_Missing(t *testing.T) {
	_, err := LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}
