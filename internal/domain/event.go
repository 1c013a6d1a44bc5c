package domain

import "time"

// EventKind discriminates the status events delivered for a job, whether they
// arrive over the push channel or are synthesised by the polling fallback.
type EventKind string

const (
	EventConnected      EventKind = "connected"
	EventStatusUpdate   EventKind = "status_update"
	EventProgressUpdate EventKind = "progress_update"
	EventStageComplete  EventKind = "stage_complete"
	EventCompletion     EventKind = "completion"
	EventError          EventKind = "error"
	EventPong           EventKind = "pong"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventConnected, EventStatusUpdate, EventProgressUpdate, EventStageComplete,
		EventCompletion, EventError, EventPong:
		return true
	}
	return false
}

// Event is a validated, transport-agnostic status event. Only the fields that
// belong to Kind are populated.
type Event struct {
	Kind          EventKind
	JobID         string
	Timestamp     time.Time
	Status        JobStatus
	Progress      int
	Stage         string
	StageProgress int
	Message       string
	Result        *JobResult
	Error         *JobError
}

// IsTerminal reports whether the event ends status tracking for its job.
// A status_update announcing cancellation counts, since nothing follows it.
func (e Event) IsTerminal() bool {
	switch e.Kind {
	case EventCompletion, EventError:
		return true
	case EventStatusUpdate:
		return e.Status == JobStatusCancelled
	}
	return false
}
