package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/meshforge/studio/internal/core/ports"
	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/infrastructure/logger"
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// FileArtifactStore keeps artifacts under one output directory using the
// backend's layout: {id}.glb, {id}.ply and preview/{id}.png.
type FileArtifactStore struct {
	dir    string
	logger *logger.Logger
}

func NewFileArtifactStore(dir string, log *logger.Logger) (*FileArtifactStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, "preview"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &FileArtifactStore{dir: abs, logger: log}, nil
}

func (s *FileArtifactStore) Dir() string {
	return s.dir
}

func (s *FileArtifactStore) location(jobID string, kind domain.ArtifactKind) (string, error) {
	if !jobIDPattern.MatchString(jobID) {
		return "", fmt.Errorf("%w: job id %q", domain.ErrArtifactInvalid, jobID)
	}
	switch kind {
	case domain.ArtifactGLB:
		return filepath.Join(s.dir, jobID+".glb"), nil
	case domain.ArtifactPLY:
		return filepath.Join(s.dir, jobID+".ply"), nil
	case domain.ArtifactPreview:
		return filepath.Join(s.dir, "preview", jobID+".png"), nil
	}
	return "", fmt.Errorf("%w: kind %q", domain.ErrArtifactInvalid, kind)
}

func (s *FileArtifactStore) Write(ctx context.Context, jobID string, kind domain.ArtifactKind, data []byte) (int64, error) {
	path, err := s.location(jobID, kind)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Errorw("artifact_write_failed", "job_id", jobID, "kind", kind, "error", err)
		return 0, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		s.logger.Errorw("artifact_rename_failed", "job_id", jobID, "kind", kind, "error", err)
		return 0, fmt.Errorf("failed to store artifact: %w", err)
	}
	s.logger.Debugw("artifact_write_ok", "job_id", jobID, "kind", kind, "bytes", len(data))
	return int64(len(data)), nil
}

// Path returns the on-disk location of an existing artifact.
func (s *FileArtifactStore) Path(jobID string, kind domain.ArtifactKind) (string, error) {
	path, err := s.location(jobID, kind)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s %s", domain.ErrArtifactNotFound, jobID, kind)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s %s", domain.ErrArtifactNotFound, jobID, kind)
	}
	return path, nil
}

// Remove deletes every artifact of jobID. Missing files are not an error.
func (s *FileArtifactStore) Remove(jobID string) error {
	var errs []error
	for _, kind := range []domain.ArtifactKind{domain.ArtifactGLB, domain.ArtifactPLY, domain.ArtifactPreview} {
		path, err := s.location(jobID, kind)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warnw("artifact_remove_failed", "job_id", jobID, "error", err)
		return fmt.Errorf("failed to remove artifacts: %w", err)
	}
	s.logger.Debugw("artifact_remove_ok", "job_id", jobID)
	return nil
}

var _ ports.ArtifactStore = (*FileArtifactStore)(nil)
