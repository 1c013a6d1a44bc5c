package dto

import (
	"encoding/json"
	"time"

	"github.com/meshforge/studio/internal/domain"
)

// The backend emits zone-less UTC timestamps with microseconds.
const wireTimeLayout = "2006-01-02T15:04:05.000000"

// EventMessage is the JSON frame pushed to /ws/jobs/:id subscribers.
type EventMessage struct {
	Type          domain.EventKind  `json:"type"`
	JobID         string            `json:"job_id,omitempty"`
	Timestamp     string            `json:"timestamp"`
	Status        domain.JobStatus  `json:"status,omitempty"`
	CurrentStatus domain.JobStatus  `json:"current_status,omitempty"`
	Progress      *int              `json:"progress,omitempty"`
	Stage         *string           `json:"stage,omitempty"`
	StageProgress *int              `json:"stage_progress,omitempty"`
	Message       string            `json:"message,omitempty"`
	Result        *domain.JobResult `json:"result,omitempty"`
	Error         *domain.JobError  `json:"error,omitempty"`
}

// ClientMessage is what subscribers may send: ping, get_status or subscribe.
type ClientMessage struct {
	Type string `json:"type"`
}

func NewEventMessage(ev domain.Event) EventMessage {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := EventMessage{
		Type:      ev.Kind,
		JobID:     ev.JobID,
		Timestamp: ts.UTC().Format(wireTimeLayout),
		Message:   ev.Message,
	}

	switch ev.Kind {
	case domain.EventConnected:
		msg.CurrentStatus = ev.Status
		msg.Progress = intPtr(ev.Progress)
	case domain.EventStatusUpdate:
		msg.Status = ev.Status
		msg.Progress = intPtr(ev.Progress)
		msg.StageProgress = intPtr(ev.StageProgress)
		if ev.Stage != "" {
			msg.Stage = &ev.Stage
		}
	case domain.EventProgressUpdate:
		msg.Progress = intPtr(ev.Progress)
		msg.Stage = &ev.Stage
		msg.StageProgress = intPtr(ev.StageProgress)
	case domain.EventStageComplete:
		msg.Stage = &ev.Stage
	case domain.EventCompletion:
		msg.Status = domain.JobStatusCompleted
		msg.Result = ev.Result
	case domain.EventError:
		msg.Error = ev.Error
	case domain.EventPong:
		msg.JobID = ""
	}
	return msg
}

func (m EventMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ErrorMessage is an error frame that is not tied to a job's outcome, such
// as a reply to an unparseable client message.
func ErrorMessage(jobID, code, message string, now time.Time) EventMessage {
	return EventMessage{
		Type:      domain.EventError,
		JobID:     jobID,
		Timestamp: now.UTC().Format(wireTimeLayout),
		Error:     &domain.JobError{Code: code, Message: message},
	}
}

// ConnectedEvent greets a new subscriber with the job's current state.
func ConnectedEvent(job *domain.Job, now time.Time) domain.Event {
	return domain.Event{
		Kind:      domain.EventConnected,
		JobID:     job.JobID,
		Timestamp: now,
		Status:    job.Status,
		Progress:  job.Progress,
	}
}

// StatusEvent answers get_status.
func StatusEvent(job *domain.Job, now time.Time) domain.Event {
	return domain.Event{
		Kind:          domain.EventStatusUpdate,
		JobID:         job.JobID,
		Timestamp:     now,
		Status:        job.Status,
		Progress:      job.Progress,
		Stage:         job.Stage,
		StageProgress: job.StageProgress,
	}
}

// OutcomeEvent replays the terminal event of a finished job for subscribers
// that connect after it ended.
func OutcomeEvent(job *domain.Job, now time.Time) (domain.Event, bool) {
	ev := domain.Event{JobID: job.JobID, Timestamp: now, Status: job.Status, Progress: job.Progress}
	switch job.Status {
	case domain.JobStatusCompleted:
		if job.Result == nil {
			return domain.Event{}, false
		}
		ev.Kind = domain.EventCompletion
		ev.Progress = 100
		ev.Result = job.Result
	case domain.JobStatusFailed:
		ev.Kind = domain.EventError
		ev.Error = job.Error
		if ev.Error == nil {
			ev.Error = &domain.JobError{Code: "PROCESSING_ERROR", Message: "Job failed"}
		}
	case domain.JobStatusCancelled:
		ev.Kind = domain.EventStatusUpdate
	default:
		return domain.Event{}, false
	}
	return ev, true
}

func intPtr(v int) *int {
	return &v
}
