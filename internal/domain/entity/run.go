package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusPending  RunStatus = "PENDING"
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusComplete RunStatus = "COMPLETED"
	RunStatusFailed   RunStatus = "FAILED"
)

// Hyperparams are the knobs a training run is launched with.
type Hyperparams struct {
	LearningRate float64 `json:"lr"`
	BatchSize    int     `json:"batch_size"`
	Epochs       int     `json:"epochs"`
}

func (h Hyperparams) Validate() error {
	var errs []error
	if h.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("lr must be positive, got %g", h.LearningRate))
	}
	if h.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", h.BatchSize))
	}
	if h.Epochs <= 0 {
		errs = append(errs, fmt.Errorf("epochs must be positive, got %d", h.Epochs))
	}
	return errors.Join(errs...)
}

// Best holds the best accuracy seen per phase and task. Every tracker starts at -1.
type Best struct {
	TrainAction float64 `json:"best_train_action"`
	TrainScene  float64 `json:"best_train_scene"`
	ValAction   float64 `json:"best_val_action"`
	ValScene    float64 `json:"best_val_scene"`
}

func NewBest() Best {
	return Best{TrainAction: -1, TrainScene: -1, ValAction: -1, ValScene: -1}
}

type Run struct {
	ID            uuid.UUID
	Params        Hyperparams
	SaveDir       string
	Status        RunStatus
	Epoch         int
	Iterations    int
	Best          Best
	LastLoss      float64
	CheckpointKey string
	Attempt       int
	MaxAttempts   int
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

func NewRun(params Hyperparams, saveDir string, maxAttempts int) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:          uuid.New(),
		Params:      params,
		SaveDir:     saveDir,
		Status:      RunStatusPending,
		Best:        NewBest(),
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (r *Run) MarkRunning() {
	r.Status = RunStatusRunning
	r.Attempt++
	r.ErrorMessage = ""
	r.UpdatedAt = time.Now().UTC()
}

// MarkEpoch records progress after an epoch finished both phases.
func (r *Run) MarkEpoch(epoch, iterations int, best Best, loss float64) {
	r.Epoch = epoch
	r.Iterations = iterations
	r.Best = best
	r.LastLoss = loss
	r.UpdatedAt = time.Now().UTC()
}

func (r *Run) MarkCompleted(checkpointKey string) {
	now := time.Now().UTC()
	r.Status = RunStatusComplete
	r.CheckpointKey = checkpointKey
	r.UpdatedAt = now
	r.CompletedAt = &now
}

func (r *Run) MarkFailed(errMsg string) {
	r.Status = RunStatusFailed
	r.ErrorMessage = errMsg
	r.UpdatedAt = time.Now().UTC()
}

func (r *Run) CanRetry() bool {
	return r.Attempt < r.MaxAttempts
}
