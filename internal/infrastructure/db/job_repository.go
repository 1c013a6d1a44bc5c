package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meshforge/studio/internal/core/ports"
	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type jobRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepository(db *gorm.DB, log *logger.Logger) ports.JobRepository {
	return &jobRepository{db: db, log: log}
}

func (r *jobRepository) Create(ctx context.Context, job *domain.Job) error {
	m, err := jobToModel(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		r.log.Errorw("job_repo_create_failed", "job_id", job.JobID, "error", err)
		return err
	}
	r.log.Infow("job_repo_create_ok", "job_id", job.JobID, "status", job.Status)
	return nil
}

func (r *jobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var m JobModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		r.log.Errorw("job_repo_get_failed", "job_id", id, "error", err)
		return nil, err
	}
	return modelToJob(&m)
}

func (r *jobRepository) GetAll(ctx context.Context, limit int) ([]domain.Job, error) {
	var models []JobModel
	q := r.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		r.log.Errorw("job_repo_list_failed", "error", err)
		return nil, err
	}

	jobs := make([]domain.Job, 0, len(models))
	for i := range models {
		job, err := modelToJob(&models[i])
		if err != nil {
			r.log.Warnw("job_repo_list_skip_corrupt", "job_id", models[i].ID, "error", err)
			continue
		}
		jobs = append(jobs, *job)
	}
	r.log.Debugw("job_repo_list_ok", "count", len(jobs))
	return jobs, nil
}

func (r *jobRepository) Update(ctx context.Context, job *domain.Job) error {
	m, err := jobToModel(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	// Select("*") so zeroed progress and cleared JSON columns are written too.
	res := r.db.WithContext(ctx).Model(&JobModel{ID: job.JobID}).Select("*").Omit("created_at").Updates(m)
	if res.Error != nil {
		r.log.Errorw("job_repo_update_failed", "job_id", job.JobID, "error", res.Error)
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, job.JobID)
	}
	r.log.Debugw("job_repo_update_ok", "job_id", job.JobID, "status", job.Status, "progress", job.Progress)
	return nil
}

var terminalStatuses = []string{
	string(domain.JobStatusCompleted),
	string(domain.JobStatusFailed),
	string(domain.JobStatusCancelled),
}

func (r *jobRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&JobModel{}).
			Where("status IN ? AND completed_at < ?", terminalStatuses, cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Where("id IN ?", ids).Delete(&JobModel{}).Error
	})
	if err != nil {
		r.log.Errorw("job_repo_prune_failed", "cutoff", cutoff, "error", err)
		return nil, err
	}
	if len(ids) > 0 {
		r.log.Infow("job_repo_prune_ok", "count", len(ids), "cutoff", cutoff)
	}
	return ids, nil
}
