// Package media provides the ffmpeg-backed video operations used around a
// generation run: last-frame extraction for chaining and joining scene clips.
package media

import "context"

// Processor defines the video operations a run needs.
type Processor interface {
	// ExtractLastFrame writes the final frame of videoPath as a PNG next to the
	// video and returns the image path.
	ExtractLastFrame(ctx context.Context, videoPath string) (string, error)

	// JoinVideos concatenates multiple video files into a single output file.
	// It first attempts a fast copy (no re-encoding) and falls back to re-encoding
	// with libx264/aac if the copy fails due to incompatible codecs.
	JoinVideos(ctx context.Context, videoPaths []string, output string) error
}
