package port

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rhsieh91/sife-net/internal/domain/entity"
)

type RunRepository interface {
	Create(ctx context.Context, run *entity.Run) error
	Update(ctx context.Context, run *entity.Run) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Run, error)
}

var ErrRunNotFound = errors.New("run not found")
