// Package video samples still frames from video files with ffmpeg.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/imaging"
	"github.com/kozaktomas/findandseek/internal/logging"
)

// ErrNoFrames is returned when not a single frame could be extracted.
var ErrNoFrames = errors.New("no frames extracted from video")

type FrameExtractor struct {
	ffmpegPath  string
	ffprobePath string // empty when ffprobe is not installed
	logger      *zap.Logger

	// OnProgress, when set, is called after every attempted frame.
	OnProgress func(done, total int)
}

// NewFrameExtractor locates ffmpeg (required) and ffprobe (optional) in PATH.
func NewFrameExtractor(logger *zap.Logger) (*FrameExtractor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, _ := exec.LookPath("ffprobe")

	return &FrameExtractor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		logger:      logging.OrNop(logger),
	}, nil
}

// ExtractFrames returns up to count JPEG frames taken at evenly spaced timestamps,
// scaled to fit within size x size (0 keeps the original size). count is capped at
// constants.MaxFrames. Frames that fail to extract are skipped.
func (fe *FrameExtractor) ExtractFrames(ctx context.Context, videoPath string, count, size int) ([][]byte, error) {
	if count <= 0 || count > constants.MaxFrames {
		count = constants.MaxFrames
	}
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("video file not accessible: %w", err)
	}

	duration, err := fe.duration(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get video duration: %w", err)
	}
	fe.logger.Debug("sampling video", zap.String("path", videoPath), zap.Float64("duration", duration), zap.Int("frames", count))

	frames := make([][]byte, 0, count)
	for i, ts := range Timestamps(duration, count) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame, err := fe.extractFrame(ctx, videoPath, ts, size)
		if fe.OnProgress != nil {
			fe.OnProgress(i+1, count)
		}
		if err != nil {
			fe.logger.Warn("failed to extract frame", zap.Int("frame", i), zap.Float64("timestamp", ts), zap.Error(err))
			continue
		}
		frames = append(frames, frame)
	}

	if len(frames) == 0 {
		return nil, fmt.Errorf("%w (attempted %d frames)", ErrNoFrames, count)
	}
	return frames, nil
}

// Timestamps spreads count sampling points evenly inside (0, duration), never at the very
// first or last instant where frames are often black.
func Timestamps(duration float64, count int) []float64 {
	if duration <= 0 || count <= 0 {
		return nil
	}
	interval := duration / float64(count+1)
	out := make([]float64, count)
	for i := range out {
		out[i] = interval * float64(i+1)
	}
	return out
}

func (fe *FrameExtractor) duration(ctx context.Context, videoPath string) (float64, error) {
	// Try ffprobe first for more reliable duration detection
	if fe.ffprobePath != "" {
		cmd := exec.CommandContext(ctx, fe.ffprobePath,
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			videoPath)

		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		if err := cmd.Run(); err == nil {
			if d, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64); err == nil && d > 0 {
				return d, nil
			}
		}
	}

	// Fallback to parsing ffmpeg output
	cmd := exec.CommandContext(ctx, fe.ffmpegPath, "-i", videoPath, "-f", "null", "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return ParseDuration(stderr.String())
}

// ParseDuration reads the "Duration: HH:MM:SS.ss," line printed by ffmpeg.
func ParseDuration(output string) (float64, error) {
	const prefix = "Duration: "
	start := strings.Index(output, prefix)
	if start == -1 {
		return 0, errors.New("duration not found in ffmpeg output")
	}
	start += len(prefix)
	end := strings.Index(output[start:], ",")
	if end == -1 {
		return 0, errors.New("invalid duration format")
	}

	value := output[start : start+end]
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid duration format: %s", value)
	}

	var total float64
	for i, unit := range []float64{3600, 60, 1} {
		n, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %s", value)
		}
		total += n * unit
	}
	if total <= 0 {
		return 0, fmt.Errorf("invalid video duration: %s", value)
	}
	return total, nil
}

func (fe *FrameExtractor) extractFrame(ctx context.Context, videoPath string, timestamp float64, size int) ([]byte, error) {
	args := []string{
		"-ss", fmt.Sprintf("%.2f", timestamp),
		"-i", videoPath,
		"-vframes", "1",
	}
	if size > 0 {
		args = append(args, "-vf",
			fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease", size, size))
	}
	args = append(args, "-q:v", "2", "-f", "mjpeg", "pipe:1")

	cmd := exec.CommandContext(ctx, fe.ffmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed at %.2fs: %w: %s", timestamp, err, lastLine(stderr.String()))
	}

	// Re-encode to validate the frame and normalize quality.
	img, err := imaging.Decode(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	return imaging.EncodeJPEG(img, constants.JPEGQuality)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i != -1 {
		return s[i+1:]
	}
	return s
}
