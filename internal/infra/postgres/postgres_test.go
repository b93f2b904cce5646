package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rhsieh91/sife-net/internal/domain/entity"
	"github.com/rhsieh91/sife-net/internal/domain/port"
	"github.com/rhsieh91/sife-net/internal/infra/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func startPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("training"),
		tcpostgres.WithUsername("sife"),
		tcpostgres.WithPassword("sife"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.RunMigrations(connStr))
	// a second run finds nothing to do
	require.NoError(t, postgres.RunMigrations(connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestRunRepositoryLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	pool := startPostgres(t, ctx)
	repo := postgres.NewRunRepository(pool)

	_, err := repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, port.ErrRunNotFound)

	run := entity.NewRun(entity.Hyperparams{LearningRate: 1e-3, BatchSize: 8, Epochs: 30}, "checkpoints_lr0.001_bs8/", 3)
	require.NoError(t, repo.Create(ctx, run))

	run.MarkRunning()
	run.MarkEpoch(4, 1200, entity.Best{TrainAction: 0.5, TrainScene: 0.25, ValAction: 0.4, ValScene: 0.2}, 1.75)
	run.MarkCompleted(run.ID.String() + "/04001200.ckpt")
	require.NoError(t, repo.Update(ctx, run))

	got, err := repo.FindByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusComplete, got.Status)
	assert.Equal(t, run.Params, got.Params)
	assert.Equal(t, run.Best, got.Best)
	assert.Equal(t, 1200, got.Iterations)
	assert.Equal(t, 1, got.Attempt)
	assert.Equal(t, run.CheckpointKey, got.CheckpointKey)
	require.NotNil(t, got.CompletedAt)

	missing := entity.NewRun(run.Params, "x/", 1)
	assert.ErrorIs(t, repo.Update(ctx, missing), port.ErrRunNotFound)
}

type point struct {
	Step  int
	Value float64
}

func series(t *testing.T, ctx context.Context, pool *pgxpool.Pool, runID uuid.UUID, tag string) []point {
	t.Helper()
	rows, err := pool.Query(ctx,
		`SELECT step, value FROM training_scalars WHERE run_id=$1 AND tag=$2 ORDER BY step, recorded_at`,
		runID, tag)
	require.NoError(t, err)
	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (point, error) {
		var p point
		err := row.Scan(&p.Step, &p.Value)
		return p, err
	})
	require.NoError(t, err)
	return points
}

func TestScalarRepositoryBuffersAndFlushes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	pool := startPostgres(t, ctx)

	run := entity.NewRun(entity.Hyperparams{LearningRate: 0.1, BatchSize: 2, Epochs: 1}, "s/", 1)
	require.NoError(t, postgres.NewRunRepository(pool).Create(ctx, run))

	scalars := postgres.NewScalarRepository(pool, run.ID, 3)
	for step, v := range []float64{2.5, 2.0, 1.5, 1.25} {
		require.NoError(t, scalars.AddScalar(ctx, "Loss/train_total", v, step))
	}

	// three rows hit the flush threshold, the fourth is still buffered
	assert.Len(t, series(t, ctx, pool, run.ID, "Loss/train_total"), 3)

	require.NoError(t, scalars.Close())
	points := series(t, ctx, pool, run.ID, "Loss/train_total")
	require.Len(t, points, 4)
	assert.Equal(t, point{Step: 3, Value: 1.25}, points[3])
}

func TestScalarRepositoryKeepsRowsWhenCopyFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	pool := startPostgres(t, ctx)

	run := entity.NewRun(entity.Hyperparams{LearningRate: 0.1, BatchSize: 2, Epochs: 1}, "s/", 1)
	require.NoError(t, postgres.NewRunRepository(pool).Create(ctx, run))

	scalars := postgres.NewScalarRepository(pool, run.ID, 2)
	require.NoError(t, scalars.AddScalar(ctx, "Accuracy/val_action", 0.25, 0))

	dead, stop := context.WithCancel(ctx)
	stop()
	// the second row fills the buffer and the flush fails on the cancelled context
	require.Error(t, scalars.AddScalar(dead, "Accuracy/val_action", 0.5, 1))
	assert.Empty(t, series(t, ctx, pool, run.ID, "Accuracy/val_action"))

	require.NoError(t, scalars.AddScalar(ctx, "Accuracy/val_action", 0.75, 2))
	require.NoError(t, scalars.Close())
	assert.Equal(t, []point{{0, 0.25}, {1, 0.5}, {2, 0.75}}, series(t, ctx, pool, run.ID, "Accuracy/val_action"))
}
