package port

import "context"

type FailureNotifier interface {
	NotifyFailure(ctx context.Context, email string, runID string, errorMsg string) error
}
