package port

import "context"

// CheckpointStore keeps a remote copy of checkpoint files.
type CheckpointStore interface {
	UploadCheckpoint(ctx context.Context, objectKey string, localPath string) error
	DownloadCheckpoint(ctx context.Context, objectKey string, destPath string) error
}
