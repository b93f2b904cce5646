// Command prepare extracts JPEG frames from a directory of videos into <root>/<video-id>/.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/rhsieh91/sife-net/internal/infra/config"
	"github.com/rhsieh91/sife-net/internal/infra/ffmpeg"
	"github.com/rhsieh91/sife-net/internal/usecase"
	"github.com/rhsieh91/sife-net/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	videos := flag.String("videos", "", "directory of source videos")
	root := flag.String("root", cfg.DataRoot, "output root, one frame folder per video")
	fps := flag.Int("fps", cfg.FFmpegFPS, "frames per second to extract, 0 keeps the native rate")
	workers := flag.Int("workers", cfg.WorkerCount, "parallel ffmpeg processes")
	flag.Parse()
	if *videos == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s --videos <dir> [--root <dir>] [--fps n] [--workers n]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	log, err := logger.NewConsole(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	extractor := ffmpeg.NewExtractor(*fps, cfg.FFmpegFormat, log)
	report, err := usecase.NewPrepareFramesUseCase(extractor, log, *workers).Execute(ctx, *videos, *root)
	fatalOnErr(err, "prepare frames")

	failed := make([]string, 0, len(report.Failed))
	for id := range report.Failed {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		log.Error("video failed", zap.String("video_id", id), zap.Error(report.Failed[id]))
	}
	if len(failed) > 0 {
		os.Exit(1)
	}
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
