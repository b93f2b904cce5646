package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rhsieh91/sife-net/internal/domain/port"
	"github.com/rhsieh91/sife-net/internal/infra/config"
	"github.com/rhsieh91/sife-net/internal/infra/curves"
	"github.com/rhsieh91/sife-net/internal/infra/email"
	"github.com/rhsieh91/sife-net/internal/infra/metrics"
	miniostorage "github.com/rhsieh91/sife-net/internal/infra/minio"
	"github.com/rhsieh91/sife-net/internal/infra/postgres"
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

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting sife-net training worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if Jaeger unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(context.Background())
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:         cfg.MinIOEndpoint,
		AccessKey:        cfg.MinIOAccessKey,
		SecretKey:        cfg.MinIOSecretKey,
		UseSSL:           cfg.MinIOUseSSL,
		CheckpointBucket: cfg.MinIOCheckpointBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBucket(ctx), "ensure minio bucket")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")

	statusPub := rabbitmq.NewStatusPublisher(pub, cfg.RabbitMQStatusQueue)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	repo := postgres.NewRunRepository(pool)
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)

	// every run's curves go to Prometheus, Postgres and PNG charts next to its checkpoints
	scalars := func(runID uuid.UUID, saveDir string) port.ScalarWriter {
		return train.MultiWriter{
			metrics.GaugeWriter{},
			postgres.NewScalarRepository(pool, runID, 0),
			curves.NewCurveWriter(filepath.Join(saveDir, "curves")),
		}
	}

	uc := usecase.NewRunTrainingUseCase(
		repo, storage, statusPub, dlqPub, notifier, scalars,
		log,
		usecase.RunTrainingConfig{
			Defaults: usecase.DataConfig{
				ClipSize:    cfg.ClipSize,
				NClips:      cfg.NClips,
				StepSize:    cfg.StepSize,
				FrameSize:   cfg.FrameSize,
				LoadWorkers: cfg.LoadWorkers,
				NumActions:  cfg.NumActions,
				NumScenes:   cfg.NumScenes,
				Optimizer:   cfg.Optimizer,
			},
			SaveRoot:   cfg.SaveRoot,
			TempDir:    cfg.TempDir,
			MaxRetries: cfg.MaxRetries,
		},
	)

	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, log)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitMQURL,
		Queue:       cfg.RabbitMQRequestQueue,
		Exchange:    cfg.RabbitMQExchange,
		DLQ:         cfg.RabbitMQDLQ,
		StatusQueue: cfg.RabbitMQStatusQueue,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.WorkerCount,
		BaseDelayMs: cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("training worker started, consuming requests", zap.String("queue", cfg.RabbitMQRequestQueue))

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("training worker stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
