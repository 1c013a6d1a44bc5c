package ports

import (
	"context"

	"github.com/meshforge/studio/internal/domain"
)

// ==================== CLIENT SIDE ====================

// JobFetcher pulls the current state of one job.
type JobFetcher interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
}

// JobAPI is the slice of the generation REST API the controller drives.
type JobAPI interface {
	JobFetcher
	CreateTextJob(ctx context.Context, req domain.TextRequest) (*domain.GenerationResponse, error)
	CreateImageJob(ctx context.Context, req domain.ImageRequest) (*domain.GenerationResponse, error)
	CancelJob(ctx context.Context, jobID string) error
}

type Notifier interface {
	Notify(n domain.Notification)
}

// ==================== SERVER SIDE ====================

type JobService interface {
	SubmitText(ctx context.Context, req domain.TextRequest) (*domain.Job, error)
	SubmitImage(ctx context.Context, req domain.ImageRequest) (*domain.Job, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, limit int) (*domain.JobList, error)
	CancelJob(ctx context.Context, id string) (*domain.Job, error)
	Subscribe(jobID string) (<-chan domain.Event, func())
	Health(ctx context.Context) domain.HealthResponse
}

type PromptEnhancer interface {
	Enhance(ctx context.Context, req domain.PromptEnhanceRequest) (*domain.PromptEnhanceResponse, error)
}
