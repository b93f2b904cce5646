package minio_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniostorage "github.com/rhsieh91/sife-net/internal/infra/minio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
)

func TestCheckpointRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	defer minioContainer.Terminate(ctx)

	endpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:         endpoint,
		AccessKey:        "minioadmin",
		SecretKey:        "minioadmin",
		CheckpointBucket: "checkpoints",
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBucket(ctx))
	require.NoError(t, storage.EnsureBucket(ctx))

	dir := t.TempDir()
	src := filepath.Join(dir, "00000010.ckpt")
	require.NoError(t, os.WriteFile(src, []byte("weights"), 0o644))

	require.NoError(t, storage.UploadCheckpoint(ctx, "run-7/00000010.ckpt", src))

	dst := filepath.Join(dir, "restored.ckpt")
	require.NoError(t, storage.DownloadCheckpoint(ctx, "run-7/00000010.ckpt", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	assert.Error(t, storage.DownloadCheckpoint(ctx, "run-7/missing.ckpt", filepath.Join(dir, "x")))
}
