package usecase

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rhsieh91/sife-net/internal/checkpoint"
	"github.com/rhsieh91/sife-net/internal/domain/entity"
	"github.com/rhsieh91/sife-net/internal/domain/port"
	"github.com/rhsieh91/sife-net/internal/infra/curves"
	"github.com/rhsieh91/sife-net/internal/infra/email"
	miniostorage "github.com/rhsieh91/sife-net/internal/infra/minio"
	"github.com/rhsieh91/sife-net/internal/infra/postgres"
	"github.com/rhsieh91/sife-net/internal/infra/rabbitmq"
	"github.com/rhsieh91/sife-net/internal/train"
	"github.com/rhsieh91/sife-net/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

func TestWorkerTrainsRequestEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("training"),
		tcpostgres.WithUsername("sife"),
		tcpostgres.WithPassword("sife"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	defer pgContainer.Terminate(ctx)

	pgConnStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.RunMigrations(pgConnStr))

	rmqContainer, err := tcrabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	require.NoError(t, err)
	defer rmqContainer.Terminate(ctx)

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	defer minioContainer.Terminate(ctx)

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:         minioEndpoint,
		AccessKey:        "minioadmin",
		SecretKey:        "minioadmin",
		CheckpointBucket: "checkpoints",
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBucket(ctx))

	pool, err := pgxpool.New(ctx, pgConnStr)
	require.NoError(t, err)
	defer pool.Close()

	rmqConn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, "sife.training")
	require.NoError(t, err)

	log, _ := logger.New("debug")
	c := writeCorpus(t)
	uc := NewRunTrainingUseCase(
		postgres.NewRunRepository(pool),
		storage,
		rabbitmq.NewStatusPublisher(pub, "training.status"),
		rabbitmq.NewDLQPublisher(pub, "training.requests.dlq"),
		email.NewSMTPNotifier("localhost", 1025, "test@test.local", log),
		func(runID uuid.UUID, saveDir string) port.ScalarWriter {
			return train.MultiWriter{
				postgres.NewScalarRepository(pool, runID, 0),
				curves.NewCurveWriter(filepath.Join(saveDir, "curves")),
			}
		},
		log,
		RunTrainingConfig{Defaults: c.dataConfig(), SaveRoot: t.TempDir(), TempDir: t.TempDir(), MaxRetries: 3},
	)

	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         rmqURL,
		Queue:       "training.requests",
		Exchange:    "sife.training",
		DLQ:         "training.requests.dlq",
		StatusQueue: "training.status",
		Prefetch:    1,
		WorkerCount: 1,
		BaseDelayMs: 100,
	}, uc.Execute, log)
	require.NoError(t, err)
	defer consumer.Close()

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()
	go func() { _ = consumer.Start(consumerCtx) }()

	runID := uuid.New()
	require.NoError(t, rabbitmq.NewRequestPublisher(pub, "training.requests").PublishRequest(ctx, c.request(runID, 2)))

	statusCh, err := rmqConn.Channel()
	require.NoError(t, err)
	defer statusCh.Close()
	statusMsgs, err := statusCh.Consume("training.status", "", true, false, false, false, nil)
	require.NoError(t, err)

	var final entity.RunStatusMessage
	deadline := time.After(2 * time.Minute)
	for final.Status != entity.RunStatusComplete {
		select {
		case d := <-statusMsgs:
			require.NoError(t, json.Unmarshal(d.Body, &final))
			require.NotEqual(t, entity.RunStatusFailed, final.Status, final.ErrorMessage)
		case <-deadline:
			t.Fatal("timeout waiting for run to complete")
		}
	}

	assert.Equal(t, runID, final.RunID)
	assert.Equal(t, 4, final.Iterations)
	require.NotEmpty(t, final.CheckpointKey)

	local := filepath.Join(t.TempDir(), "final.ckpt")
	require.NoError(t, storage.DownloadCheckpoint(ctx, final.CheckpointKey, local))
	ckpt, err := checkpoint.Load(local)
	require.NoError(t, err)
	assert.Equal(t, runID.String()+"/"+checkpoint.Path("", ckpt.Epoch, ckpt.Iteration), final.CheckpointKey)

	var dbStatus string
	var scalars int
	require.NoError(t, pool.QueryRow(ctx, "SELECT status FROM training_runs WHERE id=$1", runID).Scan(&dbStatus))
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT count(*) FROM training_scalars WHERE run_id=$1 AND tag='Loss/train_total'", runID,
	).Scan(&scalars))
	assert.Equal(t, "COMPLETED", dbStatus)
	assert.Equal(t, 4, scalars)

	consumerCancel()
}
