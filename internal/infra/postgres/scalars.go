package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultFlushEvery = 100

// ScalarRepository stores one run's training curves in training_scalars. Rows are buffered and
// written with COPY once FlushEvery of them are pending, and on Close.
type ScalarRepository struct {
	pool       *pgxpool.Pool
	runID      uuid.UUID
	flushEvery int

	mu      sync.Mutex
	pending [][]any
}

func NewScalarRepository(pool *pgxpool.Pool, runID uuid.UUID, flushEvery int) *ScalarRepository {
	if flushEvery <= 0 {
		flushEvery = defaultFlushEvery
	}
	return &ScalarRepository{pool: pool, runID: runID, flushEvery: flushEvery}
}

func (r *ScalarRepository) AddScalar(ctx context.Context, tag string, value float64, step int) error {
	r.mu.Lock()
	r.pending = append(r.pending, []any{r.runID, tag, step, value, time.Now().UTC()})
	full := len(r.pending) >= r.flushEvery
	r.mu.Unlock()

	if full {
		return r.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered rows. Rows that fail to copy stay buffered.
func (r *ScalarRepository) Flush(ctx context.Context) error {
	r.mu.Lock()
	rows := r.pending
	r.pending = nil
	r.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"training_scalars"},
		[]string{"run_id", "tag", "step", "value", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		// keep the rows for the next flush, ahead of anything buffered meanwhile
		r.mu.Lock()
		r.pending = append(rows, r.pending...)
		r.mu.Unlock()
		return fmt.Errorf("copy scalars: %w", err)
	}
	return nil
}

func (r *ScalarRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.Flush(ctx)
}
