package jobsync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/meshforge/studio/internal/domain"
)

// wireEvent is the loosely-typed inbound payload. Optional fields are
// pointers so validation can tell "absent" from "zero".
type wireEvent struct {
	Type          string            `json:"type"`
	JobID         string            `json:"job_id"`
	Timestamp     string            `json:"timestamp"`
	Status        string            `json:"status"`
	CurrentStatus string            `json:"current_status"`
	Progress      *int              `json:"progress"`
	Stage         *string           `json:"stage"`
	StageProgress *int              `json:"stage_progress"`
	Message       string            `json:"message"`
	Result        *domain.JobResult `json:"result"`
	Error         *wireError        `json:"error"`
}

type wireError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

type pingMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

func anomaly(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolAnomaly, fmt.Sprintf(format, args...))
}

// decodeEvent validates one inbound message for the job the channel was
// opened for. It returns either a fully-formed event or an error wrapping
// ErrProtocolAnomaly; it never returns a partially populated event.
func decodeEvent(data []byte, jobID string, now time.Time) (domain.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.Event{}, anomaly("malformed json: %v", err)
	}

	kind := domain.EventKind(w.Type)
	if !kind.Valid() {
		return domain.Event{}, anomaly("unknown event type %q", w.Type)
	}
	if w.JobID != "" && w.JobID != jobID {
		return domain.Event{}, anomaly("event for job %q on channel for %q", w.JobID, jobID)
	}

	ev := domain.Event{
		Kind:      kind,
		JobID:     jobID,
		Timestamp: now,
		Message:   w.Message,
	}
	if w.Timestamp != "" {
		ts, err := domain.ParseTimestamp(w.Timestamp)
		if err != nil {
			return domain.Event{}, anomaly("bad timestamp: %v", err)
		}
		ev.Timestamp = ts
	}

	switch kind {
	case domain.EventProgressUpdate:
		if w.Progress == nil {
			return domain.Event{}, anomaly("progress_update without progress")
		}
		if err := fillProgress(&ev, w); err != nil {
			return domain.Event{}, err
		}
		if w.Status != "" {
			status := domain.JobStatus(w.Status)
			if status != domain.JobStatusQueued && status != domain.JobStatusProcessing {
				return domain.Event{}, anomaly("progress_update with status %q", w.Status)
			}
			ev.Status = status
		}

	case domain.EventStatusUpdate, domain.EventConnected:
		raw := w.Status
		if raw == "" {
			raw = w.CurrentStatus
		}
		if raw == "" && kind == domain.EventStatusUpdate {
			return domain.Event{}, anomaly("status_update without status")
		}
		if raw != "" {
			status := domain.JobStatus(raw)
			if !status.Valid() {
				return domain.Event{}, anomaly("unknown status %q", raw)
			}
			ev.Status = status
		}
		if err := fillProgress(&ev, w); err != nil {
			return domain.Event{}, err
		}

	case domain.EventStageComplete:
		if w.Stage != nil {
			ev.Stage = *w.Stage
		}

	case domain.EventCompletion:
		if w.Result == nil {
			return domain.Event{}, anomaly("completion without result")
		}
		ev.Status = domain.JobStatusCompleted
		ev.Progress = 100
		ev.Result = w.Result.Clone()

	case domain.EventError:
		if w.Error == nil || w.Error.Message == "" {
			return domain.Event{}, anomaly("error event without error message")
		}
		code := w.Error.Code
		if code == "" {
			code = "UNKNOWN"
		}
		ev.Status = domain.JobStatusFailed
		ev.Error = &domain.JobError{Code: code, Message: w.Error.Message, Recoverable: w.Error.Recoverable}
	}

	return ev, nil
}

func fillProgress(ev *domain.Event, w wireEvent) error {
	if w.Progress != nil {
		if *w.Progress < 0 || *w.Progress > 100 {
			return anomaly("progress %d out of range", *w.Progress)
		}
		ev.Progress = *w.Progress
	}
	if w.StageProgress != nil {
		if *w.StageProgress < 0 || *w.StageProgress > 100 {
			return anomaly("stage_progress %d out of range", *w.StageProgress)
		}
		ev.StageProgress = *w.StageProgress
	}
	if w.Stage != nil {
		ev.Stage = *w.Stage
	}
	return nil
}

func encodePing(now time.Time) []byte {
	data, _ := json.Marshal(pingMessage{Type: "ping", Timestamp: now.UTC().Format(time.RFC3339Nano)})
	return data
}

// eventFromJob translates a polled job record into the event the push
// channel would have delivered. ok is false when the record carries nothing
// deliverable (e.g. completed without a result yet).
func eventFromJob(job *domain.Job, jobID string, now time.Time) (domain.Event, bool, error) {
	if job == nil {
		return domain.Event{}, false, anomaly("empty job record")
	}
	if job.JobID != "" && job.JobID != jobID {
		return domain.Event{}, false, anomaly("polled job %q while tracking %q", job.JobID, jobID)
	}

	ev := domain.Event{JobID: jobID, Timestamp: now, Status: job.Status}
	switch job.Status {
	case domain.JobStatusQueued, domain.JobStatusProcessing:
		ev.Kind = domain.EventProgressUpdate
		ev.Progress = clampPercent(job.Progress)
		ev.Stage = job.Stage
		ev.StageProgress = clampPercent(job.StageProgress)
	case domain.JobStatusCompleted:
		if job.Result == nil {
			return domain.Event{}, false, nil
		}
		ev.Kind = domain.EventCompletion
		ev.Progress = 100
		ev.Result = job.Result.Clone()
	case domain.JobStatusFailed:
		ev.Kind = domain.EventError
		if job.Error != nil {
			e := *job.Error
			ev.Error = &e
		} else {
			ev.Error = &domain.JobError{Code: "JOB_FAILED", Message: "Job failed"}
		}
	case domain.JobStatusCancelled:
		ev.Kind = domain.EventStatusUpdate
	default:
		return domain.Event{}, false, anomaly("unknown status %q", job.Status)
	}
	return ev, true, nil
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
