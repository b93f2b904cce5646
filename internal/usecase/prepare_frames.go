package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rhsieh91/sife-net/internal/dataset"
	"github.com/rhsieh91/sife-net/internal/domain/port"
	"github.com/rhsieh91/sife-net/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var videoExts = map[string]bool{".mp4": true, ".webm": true, ".avi": true, ".mkv": true, ".mov": true}

// PrepareFramesUseCase turns a directory of videos into the <root>/<video-id>/ frame layout
// VideoFolder reads.
type PrepareFramesUseCase struct {
	extractor port.FrameExtractor
	logger    *zap.Logger
	workers   int
}

type PrepareReport struct {
	Extracted int
	Skipped   int
	Frames    int
	Failed    map[string]error
}

func NewPrepareFramesUseCase(extractor port.FrameExtractor, logger *zap.Logger, workers int) *PrepareFramesUseCase {
	if workers < 1 {
		workers = 1
	}
	return &PrepareFramesUseCase{extractor: extractor, logger: logger, workers: workers}
}

// Execute extracts every video in videoDir whose frame directory under root is missing or empty.
// A failing video does not stop the others; failures are collected in the report.
func (uc *PrepareFramesUseCase) Execute(ctx context.Context, videoDir, root string) (*PrepareReport, error) {
	ctx, span := otel.Tracer("usecase").Start(ctx, "PrepareFramesUseCase.Execute")
	defer span.End()

	videos, err := listVideos(videoDir)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("videos", len(videos)))
	uc.logger.Info("preparing frames", zap.Int("videos", len(videos)), zap.String("root", root))

	report := &PrepareReport{Failed: make(map[string]error)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan string)

	for w := 0; w < uc.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for video := range jobs {
				id := strings.TrimSuffix(filepath.Base(video), filepath.Ext(video))
				frames, skipped, err := uc.prepare(ctx, video, filepath.Join(root, id))

				mu.Lock()
				switch {
				case err != nil:
					report.Failed[id] = err
				case skipped:
					report.Skipped++
				default:
					report.Extracted++
					report.Frames += frames
				}
				mu.Unlock()
			}
		}()
	}

	start := time.Now()
feed:
	for _, v := range videos {
		select {
		case jobs <- v:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	metrics.RunDuration.WithLabelValues("prepare").Observe(time.Since(start).Seconds())

	uc.logger.Info("frames prepared",
		zap.Int("extracted", report.Extracted),
		zap.Int("skipped", report.Skipped),
		zap.Int("frames", report.Frames),
		zap.Int("failed", len(report.Failed)),
	)
	return report, ctx.Err()
}

func (uc *PrepareFramesUseCase) prepare(ctx context.Context, video, outDir string) (int, bool, error) {
	if _, err := dataset.FrameNames(outDir); err == nil {
		return 0, true, nil
	} else if !errors.Is(err, dataset.ErrNoFrames) && !errors.Is(err, os.ErrNotExist) {
		return 0, false, err
	}

	res, err := uc.extractor.ExtractFrames(ctx, video, outDir)
	if err != nil {
		uc.logger.Warn("frame extraction failed", zap.String("video", video), zap.Error(err))
		// a partial directory would be taken as prepared on the next pass
		if rmErr := os.RemoveAll(outDir); rmErr != nil {
			uc.logger.Error("failed to remove partial frames", zap.String("dir", outDir), zap.Error(rmErr))
		}
		return 0, false, err
	}
	metrics.FramesExtractedTotal.Add(float64(res.FrameCount))
	return res.FrameCount, false, nil
}

func listVideos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	var videos []string
	for _, e := range entries {
		if !e.IsDir() && videoExts[strings.ToLower(filepath.Ext(e.Name()))] {
			videos = append(videos, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(videos)
	return videos, nil
}
