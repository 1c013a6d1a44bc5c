package ports

import (
	"context"
	"time"

	"github.com/meshforge/studio/internal/domain"
)

type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	GetAll(ctx context.Context, limit int) ([]domain.Job, error)
	Update(ctx context.Context, job *domain.Job) error
	// DeleteFinishedBefore removes terminal jobs completed before cutoff and
	// returns their ids.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// ArtifactStore keeps the files produced for finished jobs.
type ArtifactStore interface {
	Write(ctx context.Context, jobID string, kind domain.ArtifactKind, data []byte) (int64, error)
	Path(jobID string, kind domain.ArtifactKind) (string, error)
	Remove(jobID string) error
}
