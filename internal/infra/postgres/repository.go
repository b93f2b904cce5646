package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rhsieh91/sife-net/internal/domain/entity"
	"github.com/rhsieh91/sife-net/internal/domain/port"
)

type RunRepository struct {
	pool *pgxpool.Pool
}

func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

func (r *RunRepository) Create(ctx context.Context, run *entity.Run) error {
	query := `
		INSERT INTO training_runs (
			id, lr, batch_size, epochs, save_dir, status, epoch, iterations,
			best_train_action, best_train_scene, best_val_action, best_val_scene,
			last_loss, checkpoint_key, attempt, max_attempts, error_message,
			created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`

	_, err := r.pool.Exec(ctx, query,
		run.ID, run.Params.LearningRate, run.Params.BatchSize, run.Params.Epochs,
		run.SaveDir, string(run.Status), run.Epoch, run.Iterations,
		run.Best.TrainAction, run.Best.TrainScene, run.Best.ValAction, run.Best.ValScene,
		run.LastLoss, run.CheckpointKey, run.Attempt, run.MaxAttempts, run.ErrorMessage,
		run.CreatedAt, run.UpdatedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *RunRepository) Update(ctx context.Context, run *entity.Run) error {
	query := `
		UPDATE training_runs SET
			status=$2, epoch=$3, iterations=$4,
			best_train_action=$5, best_train_scene=$6, best_val_action=$7, best_val_scene=$8,
			last_loss=$9, checkpoint_key=$10, attempt=$11, error_message=$12,
			updated_at=$13, completed_at=$14
		WHERE id=$1`

	tag, err := r.pool.Exec(ctx, query,
		run.ID, string(run.Status), run.Epoch, run.Iterations,
		run.Best.TrainAction, run.Best.TrainScene, run.Best.ValAction, run.Best.ValScene,
		run.LastLoss, run.CheckpointKey, run.Attempt, run.ErrorMessage,
		run.UpdatedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run %s: %w", run.ID, port.ErrRunNotFound)
	}
	return nil
}

func (r *RunRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Run, error) {
	query := `
		SELECT id, lr, batch_size, epochs, save_dir, status, epoch, iterations,
			best_train_action, best_train_scene, best_val_action, best_val_scene,
			last_loss, checkpoint_key, attempt, max_attempts, error_message,
			created_at, updated_at, completed_at
		FROM training_runs WHERE id=$1`

	run := &entity.Run{}
	var status string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.Params.LearningRate, &run.Params.BatchSize, &run.Params.Epochs,
		&run.SaveDir, &status, &run.Epoch, &run.Iterations,
		&run.Best.TrainAction, &run.Best.TrainScene, &run.Best.ValAction, &run.Best.ValScene,
		&run.LastLoss, &run.CheckpointKey, &run.Attempt, &run.MaxAttempts, &run.ErrorMessage,
		&run.CreatedAt, &run.UpdatedAt, &run.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("find run %s: %w", id, port.ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find run by id: %w", err)
	}
	run.Status = entity.RunStatus(status)
	return run, nil
}
