package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/meshforge/studio/internal/domain"
)

// ==================== JSONB TYPES ====================

type JSONB map[string]any

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan JSONB: invalid type")
	}
	return json.Unmarshal(raw, j)
}

func toJSONB(v any) (JSONB, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, nil
	}
	var out JSONB
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (j JSONB) decode(out any) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// ==================== ENTITIES ====================

type JobModel struct {
	ID            string    `gorm:"primaryKey;size:64"`
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
	Status        string `gorm:"size:20;not null;default:'queued'"`
	Progress      int    `gorm:"not null;default:0"`
	Stage         string `gorm:"size:64"`
	StageProgress int    `gorm:"not null;default:0"`
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Input         JSONB `gorm:"type:jsonb"`
	Result        JSONB `gorm:"type:jsonb"`
	Error         JSONB `gorm:"type:jsonb"`
}

func (JobModel) TableName() string {
	return "generation_jobs"
}

func jobToModel(job *domain.Job) (*JobModel, error) {
	m := &JobModel{
		ID:            job.JobID,
		Status:        string(job.Status),
		Progress:      job.Progress,
		Stage:         job.Stage,
		StageProgress: job.StageProgress,
		StartedAt:     timeOf(job.StartedAt),
		CompletedAt:   timeOf(job.CompletedAt),
	}
	if job.CreatedAt != nil {
		m.CreatedAt = job.CreatedAt.Time
	}

	var err error
	if job.Input != nil {
		if m.Input, err = toJSONB(job.Input); err != nil {
			return nil, err
		}
	}
	if job.Result != nil {
		if m.Result, err = toJSONB(job.Result); err != nil {
			return nil, err
		}
	}
	if job.Error != nil {
		if m.Error, err = toJSONB(job.Error); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func modelToJob(m *JobModel) (*domain.Job, error) {
	job := &domain.Job{
		JobID:         m.ID,
		Status:        domain.JobStatus(m.Status),
		Progress:      m.Progress,
		Stage:         m.Stage,
		StageProgress: m.StageProgress,
		StartedAt:     stampOf(m.StartedAt),
		CompletedAt:   stampOf(m.CompletedAt),
	}
	if !m.CreatedAt.IsZero() {
		job.CreatedAt = domain.NewTimestamp(m.CreatedAt)
	}
	if m.Input != nil {
		job.Input = &domain.JobInput{}
		if err := m.Input.decode(job.Input); err != nil {
			return nil, err
		}
	}
	if m.Result != nil {
		job.Result = &domain.JobResult{}
		if err := m.Result.decode(job.Result); err != nil {
			return nil, err
		}
	}
	if m.Error != nil {
		job.Error = &domain.JobError{}
		if err := m.Error.decode(job.Error); err != nil {
			return nil, err
		}
	}
	return job, nil
}

func timeOf(ts *domain.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	t := ts.Time
	return &t
}

func stampOf(t *time.Time) *domain.Timestamp {
	if t == nil {
		return nil
	}
	return domain.NewTimestamp(*t)
}
