package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rhsieh91/sife-net/internal/domain/entity"
	"github.com/rhsieh91/sife-net/internal/domain/port"
	"github.com/rhsieh91/sife-net/internal/infra/metrics"
	"github.com/rhsieh91/sife-net/internal/train"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ScalarSink builds the scalar writer for one run.
type ScalarSink func(runID uuid.UUID, saveDir string) port.ScalarWriter

type RunTrainingUseCase struct {
	repo      port.RunRepository
	store     port.CheckpointStore
	publisher port.StatusPublisher
	dlq       port.DLQPublisher
	notifier  port.FailureNotifier
	scalars   ScalarSink
	logger    *zap.Logger
	defaults  DataConfig
	saveRoot  string
	tempDir   string
	maxRetry  int
}

type RunTrainingConfig struct {
	// Defaults fills the dataset fields a request leaves empty.
	Defaults   DataConfig
	SaveRoot   string
	TempDir    string
	MaxRetries int
}

func NewRunTrainingUseCase(
	repo port.RunRepository,
	store port.CheckpointStore,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	scalars ScalarSink,
	logger *zap.Logger,
	cfg RunTrainingConfig,
) *RunTrainingUseCase {
	return &RunTrainingUseCase{
		repo:      repo,
		store:     store,
		publisher: publisher,
		dlq:       dlq,
		notifier:  notifier,
		scalars:   scalars,
		logger:    logger,
		defaults:  cfg.Defaults,
		saveRoot:  cfg.SaveRoot,
		tempDir:   cfg.TempDir,
		maxRetry:  cfg.MaxRetries,
	}
}

// Execute handles one training request. A nil return acks the message: the run either finished or
// failed permanently. An error asks the consumer to retry later.
func (uc *RunTrainingUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	ctx, span := otel.Tracer("usecase").Start(ctx, "RunTrainingUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.TrainingRequestMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		metrics.RunsTotal.WithLabelValues("invalid").Inc()
		return nil
	}
	if err := msg.Validate(); err != nil {
		uc.logger.Error("invalid training request", zap.Error(err), zap.String("run_id", msg.RunID.String()))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "validation_error: "+err.Error())
		metrics.RunsTotal.WithLabelValues("invalid").Inc()
		return nil
	}

	span.SetAttributes(
		attribute.String("run.id", msg.RunID.String()),
		attribute.Float64("run.lr", msg.LearningRate),
		attribute.Int("run.batch_size", msg.BatchSize),
	)
	log := uc.logger.With(zap.String("run_id", msg.RunID.String()))

	run, err := uc.repo.FindByID(ctx, msg.RunID)
	if errors.Is(err, port.ErrRunNotFound) {
		saveDir := filepath.Join(uc.saveRoot, msg.RunID.String(), SaveDirName(msg.LearningRate, msg.BatchSize)) + string(os.PathSeparator)
		run = entity.NewRun(msg.Hyperparams(), saveDir, uc.maxRetry)
		run.ID = msg.RunID
		if err := uc.repo.Create(ctx, run); err != nil {
			log.Error("failed to create run record", zap.Error(err))
			return fmt.Errorf("create run: %w", err)
		}
	} else if err != nil {
		log.Error("failed to look up run", zap.Error(err))
		return fmt.Errorf("find run: %w", err)
	}

	if run.Status == entity.RunStatusComplete {
		log.Info("run already completed, dropping duplicate request")
		return nil
	}
	if !run.CanRetry() {
		log.Warn("run exhausted retries, sending to DLQ")
		return uc.handlePermanentFailure(ctx, run, msg, rawMsg, "max retries exceeded")
	}

	run.MarkRunning()
	if err := uc.repo.Update(ctx, run); err != nil {
		log.Error("failed to update run to RUNNING", zap.Error(err))
		return fmt.Errorf("update run: %w", err)
	}
	uc.publishStatus(ctx, run, log)

	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	if err := uc.trainingPipeline(ctx, run, msg, rawMsg, log); err != nil {
		return err
	}

	metrics.RunDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())
	return nil
}

func (uc *RunTrainingUseCase) trainingPipeline(
	ctx context.Context,
	run *entity.Run,
	msg entity.TrainingRequestMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	buildStart := time.Now()
	_, spanBuild := tracer.Start(ctx, "build_session")
	sess, err := NewSession(uc.dataConfig(msg), run.Params)
	spanBuild.End()
	if err != nil {
		log.Error("failed to build training session", zap.Error(err))
		return uc.handleRetryableFailure(ctx, run, msg, rawMsg, "build_session: "+err.Error(), log)
	}
	metrics.RunDuration.WithLabelValues("build").Observe(time.Since(buildStart).Seconds())
	log.Info("training session ready",
		zap.Int("train_size", sess.TrainSet.Len()),
		zap.Int("val_size", sess.ValSet.Len()),
	)

	cfg := train.Config{
		Epochs:              run.Params.Epochs,
		SaveDir:             run.SaveDir,
		CheckpointKeyPrefix: run.ID.String(),
	}
	if run.CheckpointKey != "" {
		start, iter, err := uc.resume(ctx, sess, run)
		if err != nil {
			log.Error("failed to resume from checkpoint", zap.String("checkpoint_key", run.CheckpointKey), zap.Error(err))
			return uc.handleRetryableFailure(ctx, run, msg, rawMsg, "resume: "+err.Error(), log)
		}
		cfg.StartEpoch, cfg.StartIteration = start, iter
		log.Info("resuming run", zap.Int("epoch", start), zap.Int("iteration", iter))
	}

	opts := []train.Option{
		train.WithInitialBest(run.Best),
		train.WithScheduler(sess.Sched),
		train.WithCheckpointStore(uc.store),
		train.WithEpochCallback(func(ctx context.Context, r train.EpochReport) error {
			run.MarkEpoch(r.Epoch, r.Iterations, r.Best, r.LastLoss)
			if r.CheckpointKey != "" {
				run.CheckpointKey = r.CheckpointKey
			}
			if err := uc.repo.Update(ctx, run); err != nil {
				return fmt.Errorf("update run progress: %w", err)
			}
			uc.publishStatus(ctx, run, log)
			return nil
		}),
	}
	if uc.scalars != nil {
		opts = append(opts, train.WithScalarWriter(uc.scalars(run.ID, run.SaveDir)))
	}

	trainStart := time.Now()
	summary, err := train.New(sess.Net, sess.Opt, sess.TrainLoader, sess.ValLoader, log, cfg, opts...).Run(ctx)
	if err != nil {
		log.Error("training failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, run, msg, rawMsg, "train: "+err.Error(), log)
	}
	metrics.RunDuration.WithLabelValues("train").Observe(time.Since(trainStart).Seconds())

	key := summary.CheckpointKey
	if key == "" {
		key = run.CheckpointKey
	}
	run.MarkEpoch(run.Params.Epochs-1, summary.Iterations, summary.Best, summary.LastLoss)
	run.MarkCompleted(key)
	if err := uc.repo.Update(ctx, run); err != nil {
		log.Error("failed to update run to COMPLETED", zap.Error(err))
		return fmt.Errorf("update run completed: %w", err)
	}

	uc.publishStatus(ctx, run, log)
	metrics.RunsTotal.WithLabelValues("completed").Inc()

	log.Info("run completed successfully",
		zap.Int("iterations", summary.Iterations),
		zap.Float64("best_val_action", summary.Best.ValAction),
		zap.Float64("best_val_scene", summary.Best.ValScene),
		zap.String("checkpoint_key", key),
	)
	return nil
}

// resume pulls the run's latest checkpoint into the temp dir and loads it.
func (uc *RunTrainingUseCase) resume(ctx context.Context, sess *Session, run *entity.Run) (int, int, error) {
	workDir := filepath.Join(uc.tempDir, run.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return 0, 0, fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	local := filepath.Join(workDir, path.Base(run.CheckpointKey))
	if err := uc.store.DownloadCheckpoint(ctx, run.CheckpointKey, local); err != nil {
		return 0, 0, err
	}
	return sess.Resume(local)
}

func (uc *RunTrainingUseCase) dataConfig(msg entity.TrainingRequestMessage) DataConfig {
	cfg := uc.defaults
	cfg.TrainCSV = msg.TrainCSV
	cfg.ValCSV = msg.ValCSV
	cfg.ActionsCSV = msg.ActionsCSV
	cfg.ScenesCSV = msg.ScenesCSV
	cfg.Root = msg.Root
	if msg.ClipSize > 0 {
		cfg.ClipSize = msg.ClipSize
	}
	if msg.NClips != 0 {
		cfg.NClips = msg.NClips
	}
	if msg.StepSize > 0 {
		cfg.StepSize = msg.StepSize
	}
	if msg.Delimiter != "" {
		cfg.Delimiter, _ = utf8.DecodeRuneInString(msg.Delimiter)
	}
	if msg.FrameSize > 0 {
		cfg.FrameSize = msg.FrameSize
	}
	if msg.Crop > 0 {
		cfg.Crop = msg.Crop
	}
	if msg.LoadWorkers > 0 {
		cfg.LoadWorkers = msg.LoadWorkers
	}
	if msg.NumActions > 0 {
		cfg.NumActions = msg.NumActions
	}
	if msg.NumScenes > 0 {
		cfg.NumScenes = msg.NumScenes
	}
	if msg.Optimizer != "" {
		cfg.Optimizer = msg.Optimizer
	}
	if msg.Seed != 0 {
		cfg.Seed = msg.Seed
	}
	return cfg
}

func (uc *RunTrainingUseCase) handleRetryableFailure(
	ctx context.Context,
	run *entity.Run,
	msg entity.TrainingRequestMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	// the run context may be the reason we are here; bookkeeping still has to land
	ctx = context.WithoutCancel(ctx)

	run.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, run)

	if !run.CanRetry() {
		return uc.handlePermanentFailure(ctx, run, msg, rawMsg, errMsg)
	}

	metrics.RetryTotal.WithLabelValues(strconv.Itoa(run.Attempt)).Inc()
	uc.publishStatus(ctx, run, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", run.Attempt, run.MaxAttempts, errMsg)
}

func (uc *RunTrainingUseCase) handlePermanentFailure(
	ctx context.Context,
	run *entity.Run,
	msg entity.TrainingRequestMessage,
	rawMsg []byte,
	errMsg string,
) error {
	run.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, run)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	uc.publishStatus(ctx, run, uc.logger)

	metrics.RunsTotal.WithLabelValues("dlq").Inc()

	if msg.RequesterEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.RequesterEmail, run.ID.String(), errMsg)
	}

	return nil
}

func (uc *RunTrainingUseCase) publishStatus(ctx context.Context, run *entity.Run, log *zap.Logger) {
	data, _ := json.Marshal(entity.NewRunStatusMessage(run))
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
