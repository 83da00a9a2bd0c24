package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Static errors for media operations.
var (
	// ErrNoVideoPaths is returned when no video paths are provided for joining.
	ErrNoVideoPaths = errors.New("no video paths provided")
	// ErrNoFrameWritten is returned when ffmpeg exits cleanly but produced no image.
	ErrNoFrameWritten = errors.New("ffmpeg wrote no frame")
	// ErrVideoNotFound is returned when the source video does not exist.
	ErrVideoNotFound = errors.New("video file not found")
)

// lastFrameSuffix is appended to the video's base name for the chained frame.
const lastFrameSuffix = "_lastframe.png"

// FFmpegProcessor implements Processor using the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegProcessor(ffmpegPath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath}
}

// LastFramePath returns where the last frame of videoPath is written:
// the video path without its extension plus "_lastframe.png".
func LastFramePath(videoPath string) string {
	return strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + lastFrameSuffix
}

// ExtractLastFrame seeks half a second before the end of videoPath and writes
// one high-quality frame to LastFramePath(videoPath), overwriting any previous
// extraction. Every failure is reported as an *ExtractionError.
func (p *FFmpegProcessor) ExtractLastFrame(ctx context.Context, videoPath string) (string, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return "", &ExtractionError{VideoPath: videoPath, Err: fmt.Errorf("%w: %w", ErrVideoNotFound, err)}
	}

	out := LastFramePath(videoPath)
	args := []string{
		"-sseof", "-0.5", // Seek relative to end of input
		"-i", videoPath,
		"-frames:v", "1", // Single frame
		"-q:v", "2", // High quality
		"-y",
		out,
	}
	if err := p.runFFmpeg(ctx, args); err != nil {
		return "", &ExtractionError{VideoPath: videoPath, Err: err}
	}

	info, err := os.Stat(out)
	if err != nil || info.Size() == 0 {
		return "", &ExtractionError{VideoPath: videoPath, Err: ErrNoFrameWritten}
	}
	return out, nil
}

// joinPasses are tried in order until one succeeds. Stream copy is fast but
// needs identical codecs; providers differ, so re-encoding is the fallback.
var joinPasses = []struct {
	name  string
	codec []string
}{
	{name: "stream copy", codec: []string{"-c", "copy"}},
	{name: "re-encode", codec: []string{
		"-c:v", "libx264", "-preset", "fast", "-crf", "23",
		"-c:a", "aac", "-b:a", "128k",
	}},
}

// JoinVideos concatenates videoPaths, in order, into output. A single input
// is copied as is.
func (p *FFmpegProcessor) JoinVideos(ctx context.Context, videoPaths []string, output string) error {
	if len(videoPaths) == 0 {
		return ErrNoVideoPaths
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if len(videoPaths) == 1 {
		return copyFile(videoPaths[0], output)
	}

	listFile, err := writeConcatList(output, videoPaths)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(listFile) }()

	var errs []error
	for _, pass := range joinPasses {
		args := append([]string{"-y", "-f", "concat", "-safe", "0", "-i", listFile}, pass.codec...)
		err := p.runFFmpeg(ctx, append(args, output))
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("join cancelled: %w", ctx.Err())
		}
		errs = append(errs, fmt.Errorf("%s: %w", pass.name, err))
	}
	_ = os.Remove(output)
	return errors.Join(errs...)
}

// writeConcatList writes the concat demuxer input next to output. Paths are
// absolute and single-quoted.
func writeConcatList(output string, videoPaths []string) (string, error) {
	var b strings.Builder
	for _, path := range videoPaths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", path, err)
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}

	f, err := os.CreateTemp(filepath.Dir(output), ".concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create concat list: %w", err)
	}
	_, werr := f.WriteString(b.String())
	if err := errors.Join(werr, f.Close()); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write concat list: %w", err)
	}
	return f.Name(), nil
}

// copyFile streams src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 - src is a completed scene video
	if err != nil {
		return fmt.Errorf("open source video: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) // #nosec G304 - dst is inside the run's output directory
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	_, cerr := io.Copy(out, in)
	if err := errors.Join(cerr, out.Close()); err != nil {
		return fmt.Errorf("copy video: %w", err)
	}
	return nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath comes from configuration, not request input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// ExtractionError reports a failed last-frame extraction. It never fails a
// scene; callers log it and fall back to the reference image pools.
type ExtractionError struct {
	VideoPath string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract last frame from %s: %v", e.VideoPath, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
