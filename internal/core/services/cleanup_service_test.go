package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meshforge/studio/internal/core/services"
	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/infrastructure/db"
	"github.com/meshforge/studio/internal/infrastructure/logger"
	"github.com/meshforge/studio/internal/infrastructure/storage"
	"go.uber.org/zap/zaptest"
)

func TestCleanupService_SweepPrunesExpiredJobs(t *testing.T) {
	ctx := context.Background()
	log := logger.Wrap(zaptest.NewLogger(t))
	repo := db.NewMemoryJobRepository(log)
	artifacts, err := storage.NewFileArtifactStore(t.TempDir(), log)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	jobs := []*domain.Job{
		{JobID: "old-done", Status: domain.JobStatusCompleted, CompletedAt: domain.NewTimestamp(now.Add(-3 * time.Hour))},
		{JobID: "old-failed", Status: domain.JobStatusFailed, CompletedAt: domain.NewTimestamp(now.Add(-2 * time.Hour))},
		{JobID: "fresh-done", Status: domain.JobStatusCompleted, CompletedAt: domain.NewTimestamp(now.Add(-10 * time.Minute))},
		{JobID: "running", Status: domain.JobStatusProcessing, StartedAt: domain.NewTimestamp(now.Add(-5 * time.Hour))},
	}
	for _, job := range jobs {
		job.CreatedAt = domain.NewTimestamp(now.Add(-6 * time.Hour))
		if err := repo.Create(ctx, job); err != nil {
			t.Fatal(err)
		}
		if _, err := artifacts.Write(ctx, job.JobID, domain.ArtifactGLB, []byte("glTF")); err != nil {
			t.Fatal(err)
		}
	}

	cleanup := services.NewCleanupService(services.CleanupConfig{
		Repository: repo,
		Artifacts:  artifacts,
		Logger:     log,
		Retention:  time.Hour,
	})
	n, err := cleanup.Sweep(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Sweep = %d, %v; want 2", n, err)
	}

	for _, id := range []string{"old-done", "old-failed"} {
		if _, err := repo.GetByID(ctx, id); !errors.Is(err, domain.ErrJobNotFound) {
			t.Errorf("%s still stored: %v", id, err)
		}
		if _, err := artifacts.Path(id, domain.ArtifactGLB); !errors.Is(err, domain.ErrArtifactNotFound) {
			t.Errorf("%s artifact still present: %v", id, err)
		}
	}
	for _, id := range []string{"fresh-done", "running"} {
		if _, err := repo.GetByID(ctx, id); err != nil {
			t.Errorf("%s pruned: %v", id, err)
		}
	}
	if list, _ := repo.GetAll(ctx, 0); len(list) != 2 {
		t.Errorf("remaining jobs = %d, want 2", len(list))
	}

	if n, err := cleanup.Sweep(ctx); err != nil || n != 0 {
		t.Errorf("second Sweep = %d, %v", n, err)
	}
}

func TestCleanupService_ZeroRetentionKeepsEverything(t *testing.T) {
	log := logger.Wrap(zaptest.NewLogger(t))
	repo := db.NewMemoryJobRepository(log)
	if err := repo.Create(context.Background(), &domain.Job{
		JobID:       "ancient",
		Status:      domain.JobStatusCompleted,
		CompletedAt: domain.NewTimestamp(time.Now().Add(-1000 * time.Hour)),
	}); err != nil {
		t.Fatal(err)
	}
	cleanup := services.NewCleanupService(services.CleanupConfig{Repository: repo, Logger: log})

	if n, err := cleanup.Sweep(context.Background()); n != 0 || err != nil {
		t.Errorf("Sweep = %d, %v", n, err)
	}

	done := make(chan struct{})
	go func() {
		cleanup.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run with zero retention did not return")
	}
}
