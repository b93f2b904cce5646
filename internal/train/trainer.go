// Package train runs the epoch loop: a training pass and a validation pass per epoch, accuracy
// bookkeeping, and checkpoints whenever a best accuracy improves.
package train

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rhsieh91/sife-net/internal/checkpoint"
	"github.com/rhsieh91/sife-net/internal/dataset"
	"github.com/rhsieh91/sife-net/internal/domain/entity"
	"github.com/rhsieh91/sife-net/internal/domain/port"
	"github.com/rhsieh91/sife-net/internal/infra/metrics"
	"github.com/rhsieh91/sife-net/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultLogEvery = 10

type Config struct {
	Epochs  int
	SaveDir string
	// LogEvery is the iteration interval for loss log lines; 0 means every 10.
	LogEvery int
	// StartEpoch and StartIteration resume a run from a checkpoint.
	StartEpoch     int
	StartIteration int
	// CheckpointKeyPrefix namespaces uploaded checkpoints, usually the run id.
	CheckpointKeyPrefix string
}

// EpochReport is handed to the epoch callback after both phases finished.
type EpochReport struct {
	Epoch      int
	Iterations int
	Train      entity.PhaseResult
	Val        entity.PhaseResult
	Best       entity.Best
	LastLoss   float64
	Checkpoint string

	// CheckpointKey is the object key of the latest uploaded checkpoint, if any.
	CheckpointKey string
}

type Summary struct {
	Best          entity.Best
	Iterations    int
	LastLoss      float64
	Checkpoints   []string
	CheckpointKey string
}

type Trainer struct {
	net       model.Network
	opt       model.Optimizer
	sched     model.Scheduler
	loaders   map[entity.Phase]*dataset.Loader
	writer    port.ScalarWriter
	store     port.CheckpointStore
	onEpoch   func(context.Context, EpochReport) error
	logger    *zap.Logger
	cfg       Config
	nIter     int
	lastLoss  float64
	best      entity.Best
	summary   Summary
	temporals map[[2]int]model.TemporalMean
}

// Option configures optional collaborators.
type Option func(*Trainer)

func WithScheduler(s model.Scheduler) Option { return func(t *Trainer) { t.sched = s } }

func WithScalarWriter(w port.ScalarWriter) Option { return func(t *Trainer) { t.writer = w } }

// WithCheckpointStore uploads every saved checkpoint under Config.CheckpointKeyPrefix.
func WithCheckpointStore(s port.CheckpointStore) Option { return func(t *Trainer) { t.store = s } }

// WithInitialBest seeds the best-accuracy trackers, so a resumed run only checkpoints on real
// improvements.
func WithInitialBest(b entity.Best) Option { return func(t *Trainer) { t.best = b } }

func WithEpochCallback(fn func(context.Context, EpochReport) error) Option {
	return func(t *Trainer) { t.onEpoch = fn }
}

func New(net model.Network, opt model.Optimizer, trainLoader, valLoader *dataset.Loader, logger *zap.Logger, cfg Config, opts ...Option) *Trainer {
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = defaultLogEvery
	}
	t := &Trainer{
		net:       net,
		opt:       opt,
		loaders:   map[entity.Phase]*dataset.Loader{entity.PhaseTrain: trainLoader, entity.PhaseVal: valLoader},
		writer:    Discard{},
		logger:    logger,
		cfg:       cfg,
		nIter:     cfg.StartIteration,
		best:      entity.NewBest(),
		temporals: make(map[[2]int]model.TemporalMean),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Run trains for the configured number of epochs. Cancelling ctx stops at the next batch.
func (t *Trainer) Run(ctx context.Context) (*Summary, error) {
	ctx, span := otel.Tracer("train").Start(ctx, "Trainer.Run")
	defer span.End()
	defer func() {
		if err := t.writer.Close(); err != nil {
			t.logger.Warn("failed to close scalar writer", zap.Error(err))
		}
	}()

	for e := t.cfg.StartEpoch; e < t.cfg.Epochs; e++ {
		t.logger.Info(fmt.Sprintf("Epoch %d/%d", e, t.cfg.Epochs), zap.Int("epoch", e), zap.Float64("lr", t.opt.LR()))

		report := EpochReport{Epoch: e}
		for _, phase := range []entity.Phase{entity.PhaseTrain, entity.PhaseVal} {
			res, err := t.runPhase(ctx, e, phase)
			if err != nil {
				return nil, fmt.Errorf("epoch %d %s: %w", e, phase, err)
			}
			path, err := t.track(ctx, res)
			if err != nil {
				return nil, err
			}
			if path != "" {
				report.Checkpoint = path
			}
			if phase == entity.PhaseTrain {
				report.Train = res
			} else {
				report.Val = res
			}
		}

		if t.sched != nil {
			t.sched.Step()
		}

		report.Iterations, report.Best, report.LastLoss = t.nIter, t.best, t.lastLoss
		report.CheckpointKey = t.summary.CheckpointKey
		if t.onEpoch != nil {
			if err := t.onEpoch(ctx, report); err != nil {
				return nil, fmt.Errorf("epoch %d callback: %w", e, err)
			}
		}
	}

	t.summary.Best, t.summary.Iterations, t.summary.LastLoss = t.best, t.nIter, t.lastLoss
	return &t.summary, nil
}

func (t *Trainer) runPhase(ctx context.Context, epoch int, phase entity.Phase) (entity.PhaseResult, error) {
	ctx, span := otel.Tracer("train").Start(ctx, "phase",
		trace.WithAttributes(attribute.Int("epoch", epoch), attribute.String("phase", string(phase))))
	defer span.End()

	log := t.logger.With(zap.String("phase", string(phase)), zap.Int("epoch", epoch))
	log.Info(strings.Repeat("-", 10) + " " + strings.ToUpper(phaseTitle(phase)) + " " + strings.Repeat("-", 10))
	start := time.Now()

	loader := t.loaders[phase]
	res := entity.PhaseResult{Epoch: epoch, Phase: phase, DatasetSize: loader.Dataset.Len()}

	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	batches, errc := loader.Batches(phaseCtx)
	for b := range batches {
		correctA, correctS, err := t.step(ctx, b, phase == entity.PhaseTrain, log)
		if err != nil {
			return res, err
		}
		res.CorrectActions += correctA
		res.CorrectScenes += correctS
	}
	select {
	case err := <-errc:
		return res, err
	default:
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.ActionAccuracy = float64(res.CorrectActions) / float64(res.DatasetSize)
	res.SceneAccuracy = float64(res.CorrectScenes) / float64(res.DatasetSize)
	log.Info("phase finished",
		zap.Int("num_correct_actions", res.CorrectActions),
		zap.Int("num_correct_scenes", res.CorrectScenes),
		zap.Int("dataset_size", res.DatasetSize),
		zap.Float64("action_accuracy", res.ActionAccuracy),
		zap.Float64("scene_accuracy", res.SceneAccuracy),
	)
	metrics.RunDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())

	t.scalar(ctx, "Accuracy/"+string(phase)+"_action", res.ActionAccuracy, epoch)
	t.scalar(ctx, "Accuracy/"+string(phase)+"_scene", res.SceneAccuracy, epoch)
	return res, nil
}

func phaseTitle(p entity.Phase) string {
	if p == entity.PhaseTrain {
		return "training"
	}
	return "validation"
}

// step runs one batch and returns how many action and scene predictions were right.
func (t *Trainer) step(ctx context.Context, b dataset.Batch, training bool, log *zap.Logger) (int, int, error) {
	out, err := t.net.Forward(b.Inputs, training)
	if err != nil {
		return 0, 0, fmt.Errorf("forward: %w", err)
	}

	// per-frame logits are upsampled to the clip length and averaged into one prediction per clip
	pools := make([]model.TemporalMean, b.Size())
	clipLogits := make([][]float64, b.Size())
	for i, frame := range out.FrameLogits {
		pools[i] = t.temporal(len(frame[0]), b.Inputs[i].T)
		clipLogits[i] = pools[i].Apply(frame)
	}

	correctA := countEqual(model.Argmax(clipLogits), b.ActionIdx)
	correctS := countEqual(model.Argmax(out.SceneLogits), b.SceneIdx)
	if !training {
		return correctA, correctS, nil
	}

	actionLoss, dAction, err := model.CrossEntropy(clipLogits, b.ActionIdx)
	if err != nil {
		return 0, 0, fmt.Errorf("action loss: %w", err)
	}
	sceneLoss, dScene, err := model.CrossEntropy(out.SceneLogits, b.SceneIdx)
	if err != nil {
		return 0, 0, fmt.Errorf("scene loss: %w", err)
	}
	loss := actionLoss + sceneLoss

	t.scalar(ctx, "Loss/train_action", actionLoss, t.nIter)
	t.scalar(ctx, "Loss/train_scene", sceneLoss, t.nIter)
	t.scalar(ctx, "Loss/train_total", loss, t.nIter)

	t.opt.ZeroGrad()
	dFrame := make([][][]float64, b.Size())
	for i := range dFrame {
		dFrame[i] = pools[i].Backward(dAction[i])
	}
	if err := t.net.Backward(out, dFrame, dScene); err != nil {
		return 0, 0, fmt.Errorf("backward: %w", err)
	}
	t.opt.Step()

	if t.nIter%t.cfg.LogEvery == 0 {
		log.Info("train loss",
			zap.Int("iter", t.nIter),
			zap.Float64("action_loss", actionLoss),
			zap.Float64("scene_loss", sceneLoss),
			zap.Float64("total_loss", loss),
		)
	}
	t.lastLoss = loss
	t.nIter++
	metrics.TrainIterationsTotal.Inc()
	return correctA, correctS, nil
}

func (t *Trainer) temporal(chunks, frames int) model.TemporalMean {
	key := [2]int{chunks, frames}
	tm, ok := t.temporals[key]
	if !ok {
		tm = model.NewTemporalMean(chunks, frames)
		t.temporals[key] = tm
	}
	return tm
}

// track updates the best accuracies for a finished phase and saves a checkpoint when any of them
// improved. It returns the checkpoint path, or "" when nothing improved.
func (t *Trainer) track(ctx context.Context, res entity.PhaseResult) (string, error) {
	bestAction, bestScene := &t.best.TrainAction, &t.best.TrainScene
	if res.Phase == entity.PhaseVal {
		bestAction, bestScene = &t.best.ValAction, &t.best.ValScene
	}

	var triggers []string
	if res.ActionAccuracy > *bestAction {
		*bestAction = res.ActionAccuracy
		triggers = append(triggers, string(res.Phase)+"_action")
		t.logger.Info("new best action accuracy", zap.String("phase", string(res.Phase)), zap.Float64("accuracy", *bestAction))
	}
	if res.SceneAccuracy > *bestScene {
		*bestScene = res.SceneAccuracy
		triggers = append(triggers, string(res.Phase)+"_scene")
		t.logger.Info("new best scene accuracy", zap.String("phase", string(res.Phase)), zap.Float64("accuracy", *bestScene))
	}
	if len(triggers) == 0 {
		return "", nil
	}
	return t.save(ctx, res.Epoch, triggers)
}

func (t *Trainer) save(ctx context.Context, epoch int, triggers []string) (string, error) {
	path, err := checkpoint.Save(&checkpoint.Checkpoint{
		Epoch:          epoch,
		Iteration:      t.nIter,
		Loss:           t.lastLoss,
		ModelState:     model.State(t.net),
		OptimizerState: t.opt.State(),
	}, t.cfg.SaveDir)
	if err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}
	for _, tr := range triggers {
		metrics.CheckpointsSavedTotal.WithLabelValues(tr).Inc()
	}
	t.summary.Checkpoints = append(t.summary.Checkpoints, path)
	t.logger.Info("checkpoint saved", zap.String("path", path), zap.Strings("triggers", triggers))

	if t.store != nil {
		key := filepath.Base(path)
		if t.cfg.CheckpointKeyPrefix != "" {
			key = t.cfg.CheckpointKeyPrefix + "/" + key
		}
		if err := t.store.UploadCheckpoint(ctx, key, path); err != nil {
			return "", fmt.Errorf("upload checkpoint: %w", err)
		}
		t.summary.CheckpointKey = key
	}
	return path, nil
}

func (t *Trainer) scalar(ctx context.Context, tag string, v float64, step int) {
	if err := t.writer.AddScalar(ctx, tag, v, step); err != nil {
		t.logger.Warn("failed to record scalar", zap.String("tag", tag), zap.Error(err))
	}
}

func countEqual(a, b []int) int {
	n := 0
	for i := range a {
		if a[i] == b[i] {
			n++
		}
	}
	return n
}
