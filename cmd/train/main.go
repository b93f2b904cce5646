// Command train runs a single training session on local frame folders, or hands it to the worker
// fleet with --enqueue.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rhsieh91/sife-net/internal/domain/entity"
	"github.com/rhsieh91/sife-net/internal/infra/config"
	"github.com/rhsieh91/sife-net/internal/infra/curves"
	"github.com/rhsieh91/sife-net/internal/infra/metrics"
	"github.com/rhsieh91/sife-net/internal/infra/rabbitmq"
	"github.com/rhsieh91/sife-net/internal/infra/tracing"
	"github.com/rhsieh91/sife-net/internal/train"
	"github.com/rhsieh91/sife-net/internal/usecase"
	"github.com/rhsieh91/sife-net/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	opts, err := parseFlags(filepath.Base(os.Args[0]), os.Args[1:], cfg, os.Stderr)
	if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.LogFormat, opts.logLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.enqueue {
		fatalOnErr(enqueue(ctx, cfg, opts, log), "enqueue run")
		return
	}

	if opts.tracing {
		tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint)
		if err != nil {
			log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
		}
	}
	if opts.metricsPort > 0 {
		srv := metrics.StartMetricsServer(ctx, opts.metricsPort, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	fmt.Println("LR =", opts.params.LearningRate)
	fmt.Println("BATCH_SIZE =", opts.params.BatchSize)
	fmt.Println("EPOCHS =", opts.params.Epochs)
	fmt.Println("SAVE_DIR =", opts.saveDir)

	sess, err := usecase.NewSession(opts.data, opts.params)
	fatalOnErr(err, "build training session")
	fmt.Printf("Size of training set = %d\n", sess.TrainSet.Len())
	fmt.Printf("Size of validation set = %d\n", sess.ValSet.Len())

	tcfg := train.Config{Epochs: opts.params.Epochs, SaveDir: opts.saveDir}
	if opts.resume != "" {
		tcfg.StartEpoch, tcfg.StartIteration, err = sess.Resume(opts.resume)
		fatalOnErr(err, "resume")
		log.Info("resuming", zap.String("checkpoint", opts.resume), zap.Int("epoch", tcfg.StartEpoch))
	}

	writers := train.MultiWriter{metrics.GaugeWriter{}}
	var plots *curves.CurveWriter
	if opts.plots {
		plots = curves.NewCurveWriter(filepath.Join(opts.saveDir, "curves"))
		writers = append(writers, plots)
	}

	trainer := train.New(sess.Net, sess.Opt, sess.TrainLoader, sess.ValLoader, log, tcfg,
		train.WithScheduler(sess.Sched),
		train.WithScalarWriter(writers),
	)
	summary, err := trainer.Run(ctx)
	fatalOnErr(err, "train")

	log.Info("training finished",
		zap.Int("iterations", summary.Iterations),
		zap.Float64("best_train_action", summary.Best.TrainAction),
		zap.Float64("best_train_scene", summary.Best.TrainScene),
		zap.Float64("best_val_action", summary.Best.ValAction),
		zap.Float64("best_val_scene", summary.Best.ValScene),
		zap.Int("checkpoints", len(summary.Checkpoints)),
	)
	if plots != nil {
		log.Info("curves written", zap.Strings("files", plots.Files()))
	}
}

func newLogger(format, level string) (*zap.Logger, error) {
	if format == "console" {
		return logger.NewConsole(level)
	}
	return logger.New(level)
}

// enqueue publishes the run as a TrainingRequestMessage for cmd/worker.
func enqueue(ctx context.Context, cfg *config.Config, opts *options, log *zap.Logger) error {
	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer conn.Close()

	pub, err := rabbitmq.NewPublisher(conn, cfg.RabbitMQExchange)
	if err != nil {
		return err
	}
	defer pub.Close()

	req := newRequest(opts)
	if err := req.Validate(); err != nil {
		return err
	}
	if err := rabbitmq.NewRequestPublisher(pub, cfg.RabbitMQRequestQueue).PublishRequest(ctx, req); err != nil {
		return fmt.Errorf("publish request: %w", err)
	}
	log.Info("training run enqueued", zap.String("run_id", req.RunID.String()), zap.String("queue", cfg.RabbitMQRequestQueue))
	fmt.Println("RUN_ID =", req.RunID)
	return nil
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}

// newRequest carries every data option of the command line so the worker trains exactly what a
// local run would.
func newRequest(opts *options) entity.TrainingRequestMessage {
	return entity.TrainingRequestMessage{
		RunID:          uuid.New(),
		LearningRate:   opts.params.LearningRate,
		BatchSize:      opts.params.BatchSize,
		Epochs:         opts.params.Epochs,
		TrainCSV:       opts.data.TrainCSV,
		ValCSV:         opts.data.ValCSV,
		ActionsCSV:     opts.data.ActionsCSV,
		ScenesCSV:      opts.data.ScenesCSV,
		Root:           opts.data.Root,
		ClipSize:       opts.data.ClipSize,
		NClips:         opts.data.NClips,
		StepSize:       opts.data.StepSize,
		Delimiter:      string(opts.data.Delimiter),
		FrameSize:      opts.data.FrameSize,
		Crop:           opts.data.Crop,
		LoadWorkers:    opts.data.LoadWorkers,
		NumActions:     opts.data.NumActions,
		NumScenes:      opts.data.NumScenes,
		Optimizer:      opts.data.Optimizer,
		Seed:           opts.data.Seed,
		RequesterEmail: opts.email,
	}
}
