package entity

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// TrainingRequestMessage is the inbound message from the training.requests queue.
type TrainingRequestMessage struct {
	RunID          uuid.UUID `json:"run_id"`
	LearningRate   float64   `json:"lr"`
	BatchSize      int       `json:"batch_size"`
	Epochs         int       `json:"epochs"`
	TrainCSV       string    `json:"train_csv"`
	ValCSV         string    `json:"val_csv"`
	ActionsCSV     string    `json:"actions_csv"`
	ScenesCSV      string    `json:"scenes_csv,omitempty"`
	Root           string    `json:"root"`
	ClipSize       int       `json:"clip_size,omitempty"`
	NClips         int       `json:"nclips,omitempty"`
	StepSize       int       `json:"step_size,omitempty"`
	// Delimiter is the annotation CSV separator; empty means ','.
	Delimiter      string    `json:"delimiter,omitempty"`
	FrameSize      int       `json:"frame_size,omitempty"`
	Crop           int       `json:"crop,omitempty"`
	LoadWorkers    int       `json:"load_workers,omitempty"`
	NumActions     int       `json:"num_actions,omitempty"`
	NumScenes      int       `json:"num_scenes,omitempty"`
	Optimizer      string    `json:"optimizer,omitempty"`
	Seed           int64     `json:"seed,omitempty"`
	RequesterEmail string    `json:"requester_email,omitempty"`
}

// Hyperparams extracts the launch parameters of the request.
func (m TrainingRequestMessage) Hyperparams() Hyperparams {
	return Hyperparams{LearningRate: m.LearningRate, BatchSize: m.BatchSize, Epochs: m.Epochs}
}

// Validate reports problems that no amount of retrying would fix.
func (m TrainingRequestMessage) Validate() error {
	var errs []error
	if m.RunID == uuid.Nil {
		errs = append(errs, errors.New("run_id is required"))
	}
	if err := m.Hyperparams().Validate(); err != nil {
		errs = append(errs, err)
	}
	if m.TrainCSV == "" || m.ValCSV == "" || m.ActionsCSV == "" || m.Root == "" {
		errs = append(errs, errors.New("train_csv, val_csv, actions_csv and root are required"))
	}
	if m.Delimiter != "" && utf8.RuneCountInString(m.Delimiter) != 1 {
		errs = append(errs, fmt.Errorf("delimiter must be a single character, got %q", m.Delimiter))
	}
	switch m.Optimizer {
	case "", "adam", "sgd":
	default:
		errs = append(errs, fmt.Errorf("unknown optimizer %q", m.Optimizer))
	}
	if m.FrameSize < 0 || m.Crop < 0 || m.LoadWorkers < 0 || m.NumActions < 0 || m.NumScenes < 0 {
		errs = append(errs, errors.New("frame_size, crop, load_workers, num_actions and num_scenes must not be negative"))
	}
	return errors.Join(errs...)
}

// RunStatusMessage is the outbound message published to the training.status queue.
type RunStatusMessage struct {
	RunID         uuid.UUID `json:"run_id"`
	Status        RunStatus `json:"status"`
	Epoch         int       `json:"epoch"`
	Iterations    int       `json:"iterations"`
	Best          Best      `json:"best"`
	LastLoss      float64   `json:"last_loss,omitempty"`
	CheckpointKey string    `json:"checkpoint_key,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Attempt       int       `json:"attempt"`
	MaxAttempts   int       `json:"max_attempts"`
}

func NewRunStatusMessage(r *Run) RunStatusMessage {
	return RunStatusMessage{
		RunID:         r.ID,
		Status:        r.Status,
		Epoch:         r.Epoch,
		Iterations:    r.Iterations,
		Best:          r.Best,
		LastLoss:      r.LastLoss,
		CheckpointKey: r.CheckpointKey,
		ErrorMessage:  r.ErrorMessage,
		Attempt:       r.Attempt,
		MaxAttempts:   r.MaxAttempts,
	}
}
