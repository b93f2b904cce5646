package minio

import (
	"context"
	"fmt"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const checkpointContentType = "application/octet-stream"

// Storage keeps training checkpoints in a single bucket, keyed by <run_id>/<file>.
type Storage struct {
	client *miniogo.Client
	bucket string
}

type StorageConfig struct {
	Endpoint         string
	AccessKey        string
	SecretKey        string
	UseSSL           bool
	CheckpointBucket string
}

func NewStorage(cfg StorageConfig) (*Storage, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Storage{client: client, bucket: cfg.CheckpointBucket}, nil
}

func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, miniogo.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *Storage) UploadCheckpoint(ctx context.Context, objectKey, localPath string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, objectKey, localPath, miniogo.PutObjectOptions{
		ContentType: checkpointContentType,
	})
	if err != nil {
		return fmt.Errorf("upload checkpoint %s: %w", objectKey, err)
	}
	return nil
}

func (s *Storage) DownloadCheckpoint(ctx context.Context, objectKey, destPath string) error {
	if err := s.client.FGetObject(ctx, s.bucket, objectKey, destPath, miniogo.GetObjectOptions{}); err != nil {
		return fmt.Errorf("download checkpoint %s: %w", objectKey, err)
	}
	return nil
}
