package ffmpeg

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rhsieh91/sife-net/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExtractorArgs(t *testing.T) {
	e := NewExtractor(12, ".jpg", zap.NewNop())
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-i", "in.mp4",
		"-vf", "fps=12", "-q:v", "2", "-y", filepath.Join("out", "%05d.jpg"),
	}, e.args("in.mp4", "out"))

	native := NewExtractor(0, "png", zap.NewNop())
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-i", "in.mp4", "-y", filepath.Join("out", "%05d.png"),
	}, native.args("in.mp4", "out"))
}

func TestExtractFramesWithFFmpeg(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ffmpeg test in short mode")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	ctx := context.Background()
	dir := t.TempDir()
	video := filepath.Join(dir, "clip.mp4")
	gen := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=duration=2:size=64x48:rate=8",
		"-pix_fmt", "yuv420p", "-y", video)
	out, err := gen.CombinedOutput()
	require.NoError(t, err, string(out))

	frameDir := filepath.Join(dir, "rgb", "clip")
	res, err := NewExtractor(4, "jpg", zap.NewNop()).ExtractFrames(ctx, video, frameDir)
	require.NoError(t, err)
	assert.InDelta(t, 8, res.FrameCount, 1)
	assert.Equal(t, filepath.Join(frameDir, "00001.jpg"), res.FramePaths[0])

	// the directory reads back in the layout the dataset expects
	names, err := dataset.FrameNames(frameDir)
	require.NoError(t, err)
	assert.Len(t, names, res.FrameCount)
}
