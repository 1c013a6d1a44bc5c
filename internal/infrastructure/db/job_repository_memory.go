package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meshforge/studio/internal/core/ports"
	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/infrastructure/logger"
)

// MemoryJobRepository keeps jobs in process memory for development runs
// without a database. Records are copied on the way in and out.
type MemoryJobRepository struct {
	mu     sync.RWMutex
	jobs   map[string]*domain.Job
	order  []string
	logger *logger.Logger
}

func NewMemoryJobRepository(log *logger.Logger) ports.JobRepository {
	return &MemoryJobRepository{
		jobs:   make(map[string]*domain.Job),
		logger: log,
	}
}

func (r *MemoryJobRepository) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.JobID]; exists {
		return fmt.Errorf("job: %s already exists", job.JobID)
	}
	r.jobs[job.JobID] = job.Clone()
	r.order = append(r.order, job.JobID)
	r.logger.Debugw("job_repo_create_ok", "job_id", job.JobID, "status", job.Status)
	return nil
}

func (r *MemoryJobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, exists := r.jobs[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

// GetAll returns jobs newest first.
func (r *MemoryJobRepository) GetAll(ctx context.Context, limit int) ([]domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.order)
	if limit > 0 && limit < n {
		n = limit
	}
	jobs := make([]domain.Job, 0, n)
	for i := len(r.order) - 1; i >= 0 && len(jobs) < n; i-- {
		jobs = append(jobs, *r.jobs[r.order[i]].Clone())
	}
	return jobs, nil
}

func (r *MemoryJobRepository) Update(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.JobID]; !exists {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, job.JobID)
	}
	r.jobs[job.JobID] = job.Clone()
	return nil
}

func (r *MemoryJobRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	kept := r.order[:0]
	for _, id := range r.order {
		job := r.jobs[id]
		if job.IsDone() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed = append(removed, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	if len(removed) > 0 {
		r.logger.Debugw("job_repo_prune_ok", "count", len(removed))
	}
	return removed, nil
}
