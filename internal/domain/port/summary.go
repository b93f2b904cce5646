package port

import "context"

// ScalarWriter records named training curves, one value per step.
type ScalarWriter interface {
	AddScalar(ctx context.Context, tag string, value float64, step int) error
	Close() error
}
