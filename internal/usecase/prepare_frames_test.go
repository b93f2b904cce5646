package usecase

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rhsieh91/sife-net/internal/domain/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExtractor struct {
	t     *testing.T
	mu    sync.Mutex
	calls []string
}

func (f *fakeExtractor) ExtractFrames(_ context.Context, videoPath, outputDir string) (*port.FrameExtractionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, filepath.Base(videoPath))
	f.mu.Unlock()
	require.NoError(f.t, os.MkdirAll(outputDir, 0o755))
	if strings.Contains(videoPath, "corrupt") {
		// ffmpeg got through a few frames before the stream broke
		writeJPEG(f.t, filepath.Join(outputDir, "00001.jpg"), color.RGBA{10, 20, 30, 255})
		return nil, errors.New("ffmpeg error: exit status 1")
	}
	paths := []string{filepath.Join(outputDir, "00001.jpg"), filepath.Join(outputDir, "00002.jpg")}
	for _, p := range paths {
		writeJPEG(f.t, p, color.RGBA{10, 20, 30, 255})
	}
	return &port.FrameExtractionResult{FramePaths: paths, FrameCount: len(paths)}, nil
}

func TestPrepareFrames(t *testing.T) {
	videoDir, root := t.TempDir(), t.TempDir()
	for _, name := range []string{"46GP8.mp4", "N11GT.webm", "corrupt.mp4", "notes.txt", "DONE1.mp4"} {
		require.NoError(t, os.WriteFile(filepath.Join(videoDir, name), []byte("x"), 0o644))
	}
	// DONE1 already has frames from an earlier pass
	require.NoError(t, os.MkdirAll(filepath.Join(root, "DONE1"), 0o755))
	writeJPEG(t, filepath.Join(root, "DONE1", "00001.jpg"), color.RGBA{0, 0, 0, 255})

	ext := &fakeExtractor{t: t}
	report, err := NewPrepareFramesUseCase(ext, zap.NewNop(), 2).Execute(context.Background(), videoDir, root)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Extracted)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 4, report.Frames)
	require.Contains(t, report.Failed, "corrupt")
	assert.ElementsMatch(t, []string{"46GP8.mp4", "N11GT.webm", "corrupt.mp4"}, ext.calls)

	_, err = os.Stat(filepath.Join(root, "N11GT", "00002.jpg"))
	assert.NoError(t, err)
}

func TestPrepareFramesMissingVideoDir(t *testing.T) {
	_, err := NewPrepareFramesUseCase(&fakeExtractor{t: t}, zap.NewNop(), 1).
		Execute(context.Background(), filepath.Join(t.TempDir(), "nope"), t.TempDir())
	assert.Error(t, err)
}

func TestPrepareFramesRetriesPartialExtraction(t *testing.T) {
	videoDir, root := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(videoDir, "corrupt.mp4"), []byte("x"), 0o644))

	ext := &fakeExtractor{t: t}
	uc := NewPrepareFramesUseCase(ext, zap.NewNop(), 1)

	for pass := 0; pass < 2; pass++ {
		report, err := uc.Execute(context.Background(), videoDir, root)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Skipped, "pass %d", pass)
		assert.Contains(t, report.Failed, "corrupt")

		_, err = os.Stat(filepath.Join(root, "corrupt"))
		assert.True(t, os.IsNotExist(err), "pass %d", pass)
	}
	assert.Equal(t, []string{"corrupt.mp4", "corrupt.mp4"}, ext.calls)
}
