package usecase

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/rhsieh91/sife-net/internal/checkpoint"
	"github.com/rhsieh91/sife-net/internal/dataset"
	"github.com/rhsieh91/sife-net/internal/domain/entity"
	"github.com/rhsieh91/sife-net/internal/model"
)

var (
	lrMilestones = []int{10, 20}
	lrGamma      = 0.1
)

// DataConfig describes where a run reads clips from and how they are sampled.
type DataConfig struct {
	TrainCSV   string
	ValCSV     string
	ActionsCSV string
	// ScenesCSV is empty for datasets without scene labels.
	ScenesCSV string
	Root      string
	Delimiter rune

	ClipSize  int
	NClips    int
	StepSize  int
	FrameSize int
	// Crop center-crops resized frames to a square; 0 disables it.
	Crop        int
	LoadWorkers int

	NumActions int
	NumScenes  int
	Optimizer  string
	Seed       int64
}

// Session is everything a Trainer needs for one run.
type Session struct {
	TrainSet    *dataset.VideoFolder
	ValSet      *dataset.VideoFolder
	TrainLoader *dataset.Loader
	ValLoader   *dataset.Loader
	Net         model.Network
	Opt         model.Optimizer
	Sched       *model.MultiStepLR
	Params      entity.Hyperparams
}

// SaveDirName is the checkpoint directory of a run, e.g. checkpoints_lr0.001_bs8/.
func SaveDirName(lr float64, batchSize int) string {
	return "checkpoints_lr" + strconv.FormatFloat(lr, 'g', -1, 64) + "_bs" + strconv.Itoa(batchSize) + "/"
}

func NewSession(cfg DataConfig, params entity.Hyperparams) (*Session, error) {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	trainAnn, err := dataset.LoadAnnotations(cfg.files(cfg.TrainCSV))
	if err != nil {
		return nil, fmt.Errorf("load train annotations: %w", err)
	}
	valAnn, err := dataset.LoadAnnotations(cfg.files(cfg.ValCSV))
	if err != nil {
		return nil, fmt.Errorf("load val annotations: %w", err)
	}

	numActions, numScenes := cfg.NumActions, cfg.NumScenes
	if numActions <= 0 {
		numActions = trainAnn.Actions.Len()
	}
	if numScenes <= 0 {
		numScenes = trainAnn.Scenes.Len()
	}
	if trainAnn.Actions.Len() > numActions {
		return nil, fmt.Errorf("%d action labels do not fit %d action outputs", trainAnn.Actions.Len(), numActions)
	}
	if trainAnn.Scenes.Len() > numScenes {
		return nil, fmt.Errorf("%d scene labels do not fit %d scene outputs", trainAnn.Scenes.Len(), numScenes)
	}

	var transform dataset.Compose
	if cfg.FrameSize > 0 {
		transform = append(transform, dataset.Resize{H: cfg.FrameSize, W: cfg.FrameSize})
	}
	if cfg.Crop > 0 {
		transform = append(transform, dataset.CenterCrop{Size: cfg.Crop})
	}

	trainSet, err := dataset.NewVideoFolder(trainAnn, dataset.VideoFolderConfig{
		Sampler:   cfg.sampler(false, rand.New(rand.NewSource(seed))),
		Transform: transform,
	})
	if err != nil {
		return nil, fmt.Errorf("train set: %w", err)
	}
	valSet, err := dataset.NewVideoFolder(valAnn, dataset.VideoFolderConfig{
		Sampler:   cfg.sampler(true, nil),
		Transform: transform,
	})
	if err != nil {
		return nil, fmt.Errorf("val set: %w", err)
	}

	net, err := model.NewPooledSIFE(model.PooledSIFEConfig{NumActions: numActions, NumScenes: numScenes, Seed: seed})
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	opt, err := model.NewOptimizer(cfg.Optimizer, net.Params(), params.LearningRate)
	if err != nil {
		return nil, err
	}

	return &Session{
		TrainSet: trainSet,
		ValSet:   valSet,
		TrainLoader: &dataset.Loader{
			Dataset: trainSet, BatchSize: params.BatchSize, Shuffle: true,
			NumWorkers: cfg.LoadWorkers, Name: string(entity.PhaseTrain), Rand: rand.New(rand.NewSource(seed + 1)),
		},
		ValLoader: &dataset.Loader{
			Dataset: valSet, BatchSize: params.BatchSize,
			NumWorkers: cfg.LoadWorkers, Name: string(entity.PhaseVal),
		},
		Net:    net,
		Opt:    opt,
		Sched:  model.NewMultiStepLR(opt, lrMilestones, lrGamma),
		Params: params,
	}, nil
}

// Resume loads a checkpoint into the session and returns the epoch and iteration to continue
// from. The epoch the checkpoint was taken in is not repeated.
func (s *Session) Resume(path string) (epoch, iteration int, err error) {
	ckpt, err := checkpoint.Load(path)
	if err != nil {
		return 0, 0, err
	}
	if err := checkpoint.Restore(ckpt, s.Net, s.Opt); err != nil {
		return 0, 0, fmt.Errorf("restore %s: %w", path, err)
	}
	s.Sched.Resume(s.Params.LearningRate, ckpt.Epoch+1)
	return ckpt.Epoch + 1, ckpt.Iteration, nil
}

func (cfg DataConfig) files(input string) dataset.AnnotationFiles {
	return dataset.AnnotationFiles{
		Input:          input,
		Actions:        cfg.ActionsCSV,
		Scenes:         cfg.ScenesCSV,
		Root:           cfg.Root,
		Delimiter:      cfg.Delimiter,
		ValidateLabels: true,
	}
}

func (cfg DataConfig) sampler(isVal bool, rng *rand.Rand) dataset.Sampler {
	return dataset.Sampler{
		ClipSize: cfg.ClipSize,
		NClips:   cfg.NClips,
		StepSize: cfg.StepSize,
		IsVal:    isVal,
		Rand:     rng,
	}
}
