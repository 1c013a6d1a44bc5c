package services

import (
	"context"
	"time"

	"github.com/meshforge/studio/internal/core/ports"
	"github.com/meshforge/studio/internal/infrastructure/logger"
)

const defaultCleanupInterval = 10 * time.Minute

type CleanupConfig struct {
	Repository ports.JobRepository
	Artifacts  ports.ArtifactStore
	Logger     *logger.Logger
	Retention  time.Duration
	Interval   time.Duration
}

// CleanupService prunes finished jobs and their artifacts once they are
// older than the retention window.
type CleanupService struct {
	repo      ports.JobRepository
	artifacts ports.ArtifactStore
	logger    *logger.Logger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

func NewCleanupService(cfg CleanupConfig) *CleanupService {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	return &CleanupService{
		repo:      cfg.Repository,
		artifacts: cfg.Artifacts,
		logger:    cfg.Logger.Named("cleanup"),
		retention: cfg.Retention,
		interval:  interval,
		now:       time.Now,
	}
}

// Run sweeps every interval until ctx is done. A zero retention disables it.
func (s *CleanupService) Run(ctx context.Context) {
	if s.retention <= 0 {
		s.logger.Infow("cleanup_disabled")
		return
	}
	s.logger.Infow("cleanup_started", "retention", s.retention, "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Errorw("cleanup_sweep_failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Infow("cleanup_stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep removes jobs that finished before now-retention and returns how many
// were pruned. Artifact removal failures are logged and do not stop the sweep.
func (s *CleanupService) Sweep(ctx context.Context) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.retention)
	ids, err := s.repo.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.artifacts.Remove(id); err != nil {
			s.logger.Warnw("cleanup_artifacts_failed", "job_id", id, "error", err)
		}
	}
	if len(ids) > 0 {
		s.logger.Infow("cleanup_sweep_ok", "pruned", len(ids), "cutoff", cutoff)
	}
	return len(ids), nil
}
