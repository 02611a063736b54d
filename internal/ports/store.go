package ports

import (
	"context"

	"github.com/yudai-dev/yudai/internal/domain"
)

type RunStore interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	UpdateRun(ctx context.Context, run *domain.Run) error
	DeleteRun(ctx context.Context, id string) error
	ListRuns(ctx context.Context) ([]*domain.Run, error)
}

// TrajectoryStore keeps the serialized trajectory document of a run.
type TrajectoryStore interface {
	SaveTrajectory(ctx context.Context, runID string, data []byte) error
	GetTrajectory(ctx context.Context, runID string) ([]byte, error)
}
