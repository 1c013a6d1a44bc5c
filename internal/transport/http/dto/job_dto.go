package dto

import (
	"github.com/meshforge/studio/internal/domain"
)

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

type CancelResponse struct {
	JobID   string           `json:"job_id"`
	Status  domain.JobStatus `json:"status"`
	Message string           `json:"message"`
}

// GenerationResponseFrom acknowledges a freshly queued job.
func GenerationResponseFrom(job *domain.Job, resolution domain.Resolution) domain.GenerationResponse {
	return domain.GenerationResponse{
		JobID:         job.JobID,
		Status:        job.Status,
		CreatedAt:     job.CreatedAt,
		EstimatedTime: resolution.EstimatedSeconds(),
		WebsocketURL:  "/ws/jobs/" + job.JobID,
	}
}

// ValidateListLimit clamps the page size of GET /jobs.
func ValidateListLimit(limit int) int {
	switch {
	case limit <= 0:
		return 10
	case limit > 100:
		return 100
	}
	return limit
}
