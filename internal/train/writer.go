package train

import (
	"context"
	"errors"

	"github.com/rhsieh91/sife-net/internal/domain/port"
)

// Discard drops every scalar.
type Discard struct{}

func (Discard) AddScalar(context.Context, string, float64, int) error { return nil }
func (Discard) Close() error                                          { return nil }

// MultiWriter fans scalars out to several writers. A failing writer does not stop the others.
type MultiWriter []port.ScalarWriter

func (m MultiWriter) AddScalar(ctx context.Context, tag string, value float64, step int) error {
	var errs []error
	for _, w := range m {
		if err := w.AddScalar(ctx, tag, value, step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiWriter) Close() error {
	var errs []error
	for _, w := range m {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
