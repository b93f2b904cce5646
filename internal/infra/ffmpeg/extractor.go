package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rhsieh91/sife-net/internal/domain/port"
	"go.uber.org/zap"
)

// Extractor dumps video frames as zero-padded, lexically sortable stills (00001.jpg, ...).
type Extractor struct {
	fps    int
	format string
	logger *zap.Logger
}

// NewExtractor samples at fps frames per second; fps <= 0 keeps the native frame rate.
func NewExtractor(fps int, format string, logger *zap.Logger) *Extractor {
	if format == "" {
		format = "jpg"
	}
	return &Extractor{fps: fps, format: strings.TrimPrefix(format, "."), logger: logger}
}

func (e *Extractor) ExtractFrames(ctx context.Context, videoPath string, outputDir string) (*port.FrameExtractionResult, error) {
	duration, err := e.getVideoDuration(ctx, videoPath)
	if err != nil {
		e.logger.Warn("could not get video duration", zap.String("video", videoPath), zap.Error(err))
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", e.args(videoPath, outputDir)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg error: %w, output: %s", err, string(output))
	}

	frames, err := filepath.Glob(filepath.Join(outputDir, "*."+e.format))
	if err != nil {
		return nil, fmt.Errorf("glob frames: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames extracted from %s", videoPath)
	}
	sort.Strings(frames)

	e.logger.Debug("frames extracted",
		zap.String("video", videoPath),
		zap.Int("count", len(frames)),
		zap.Float64("video_duration", duration),
	)

	return &port.FrameExtractionResult{
		FramePaths:    frames,
		FrameCount:    len(frames),
		VideoDuration: duration,
	}, nil
}

func (e *Extractor) args(videoPath, outputDir string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-i", videoPath}
	if e.fps > 0 {
		args = append(args, "-vf", fmt.Sprintf("fps=%d", e.fps))
	}
	if e.format == "jpg" || e.format == "jpeg" {
		args = append(args, "-q:v", "2")
	}
	return append(args, "-y", filepath.Join(outputDir, "%05d."+e.format))
}

func (e *Extractor) getVideoDuration(ctx context.Context, videoPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}
