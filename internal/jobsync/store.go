package jobsync

import (
	"sync"
	"time"

	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/infrastructure/logger"
)

// State is what observers of the store see. Job is a private copy.
type State struct {
	Job        *domain.Job
	InProgress bool
	Error      string
}

type Observer func(State)

// Store owns the single tracked job record. All mutations go through it;
// events for another job or for a job that already finished are dropped.
// Observers are called in mutation order and must not mutate the store.
type Store struct {
	log *logger.Logger
	now func() time.Time

	mu        sync.Mutex
	state     State
	observers map[int]Observer
	nextObs   int

	// issued is bumped under mu; delivered and notifyCond are guarded by
	// notifyMu. Observers never run with mu held, so they may read the store.
	issued     uint64
	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	delivered  uint64
}

func NewStore(log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Store{
		log:       log.Named("store"),
		now:       time.Now,
		observers: make(map[int]Observer),
	}
	s.notifyCond = sync.NewCond(&s.notifyMu)
	return s
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	st := s.state
	st.Job = s.state.Job.Clone()
	return st
}

// Subscribe registers fn for every subsequent state change and returns a
// function that removes it.
func (s *Store) Subscribe(fn Observer) func() {
	s.mu.Lock()
	s.nextObs++
	id := s.nextObs
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// commitLocked publishes the current state. It must be called with mu held
// and releases it. Each commit takes a ticket under mu and waits for its
// turn after unlocking, so deliveries keep mutation order.
func (s *Store) commitLocked() {
	st := s.snapshotLocked()
	observers := make([]Observer, 0, len(s.observers))
	for i := 1; i <= s.nextObs; i++ {
		if fn, ok := s.observers[i]; ok {
			observers = append(observers, fn)
		}
	}
	s.issued++
	ticket := s.issued
	s.mu.Unlock()

	s.notifyMu.Lock()
	for s.delivered+1 != ticket {
		s.notifyCond.Wait()
	}
	defer func() {
		s.delivered = ticket
		s.notifyCond.Broadcast()
		s.notifyMu.Unlock()
	}()

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Errorw("store_observer_panic", "panic", r)
				}
			}()
			fn(st)
		}()
	}
}

// ==================== WHOLE-RECORD OPERATIONS ====================

// SetCurrentJob replaces the tracked record and clears any stale error.
func (s *Store) SetCurrentJob(job *domain.Job) {
	s.mu.Lock()
	s.state.Job = job.Clone()
	s.state.Error = ""
	if job != nil {
		s.log.Infow("store_job_tracked", "job_id", job.JobID, "status", job.Status)
	}
	s.commitLocked()
}

func (s *Store) SetInProgress(v bool) {
	s.mu.Lock()
	if s.state.InProgress == v {
		s.mu.Unlock()
		return
	}
	s.state.InProgress = v
	s.commitLocked()
}

// SetError records a user-visible error that is not a job failure, such as
// a rejected submission.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.state.Error = msg
	s.commitLocked()
}

func (s *Store) Reset() {
	s.mu.Lock()
	s.state = State{}
	s.log.Infow("store_reset")
	s.commitLocked()
}

// ==================== TRANSITIONS ====================

// mutate applies fn to the tracked record if jobID is the tracked job and
// it has not reached a terminal status. It reports whether fn ran.
func (s *Store) mutate(op, jobID string, fn func(st *State, job *domain.Job) bool) bool {
	s.mu.Lock()
	job := s.state.Job
	switch {
	case job == nil:
		s.mu.Unlock()
		s.log.Debugw("store_event_dropped", "op", op, "job_id", jobID, "reason", "no_job")
		return false
	case jobID != "" && job.JobID != jobID:
		tracked := job.JobID
		s.mu.Unlock()
		s.log.Warnw("store_event_dropped", "op", op, "job_id", jobID, "tracked_job_id", tracked, "reason", "foreign_job")
		return false
	case job.Status.IsTerminal():
		status := job.Status
		s.mu.Unlock()
		s.log.Warnw("store_event_dropped", "op", op, "job_id", jobID, "status", status, "reason", "terminal")
		return false
	}

	if !fn(&s.state, job) {
		s.mu.Unlock()
		return false
	}
	s.commitLocked()
	return true
}

func (s *Store) markStarted(job *domain.Job) {
	if job.StartedAt == nil {
		job.StartedAt = domain.NewTimestamp(s.now())
	}
}

func (s *Store) markFinished(job *domain.Job) {
	job.CompletedAt = domain.NewTimestamp(s.now())
}

// ApplyProgress records the latest progress of a running job. An empty
// status means processing.
func (s *Store) ApplyProgress(jobID string, status domain.JobStatus, progress int, stage string, stageProgress int) bool {
	return s.mutate("progress", jobID, func(_ *State, job *domain.Job) bool {
		switch status {
		case "":
			status = domain.JobStatusProcessing
		case domain.JobStatusQueued, domain.JobStatusProcessing:
		default:
			s.log.Warnw("store_event_dropped", "op", "progress", "job_id", jobID, "status", status, "reason", "bad_status")
			return false
		}
		job.Status = status
		if status == domain.JobStatusProcessing {
			s.markStarted(job)
		}
		job.Progress = clampPercent(progress)
		job.Stage = stage
		job.StageProgress = clampPercent(stageProgress)
		return true
	})
}

// ApplyStatus handles non-terminal status announcements. Stage is only
// overwritten when one is given.
func (s *Store) ApplyStatus(jobID string, status domain.JobStatus, progress int, stage string, stageProgress int) bool {
	return s.mutate("status", jobID, func(_ *State, job *domain.Job) bool {
		if status != domain.JobStatusQueued && status != domain.JobStatusProcessing {
			s.log.Debugw("store_status_ignored", "job_id", jobID, "status", status)
			return false
		}
		job.Status = status
		if status == domain.JobStatusProcessing {
			s.markStarted(job)
		}
		job.Progress = clampPercent(progress)
		if stage != "" {
			job.Stage = stage
			job.StageProgress = clampPercent(stageProgress)
		}
		return true
	})
}

func (s *Store) ApplyCompletion(jobID string, result *domain.JobResult) bool {
	return s.mutate("completion", jobID, func(st *State, job *domain.Job) bool {
		job.Status = domain.JobStatusCompleted
		job.Progress = 100
		job.StageProgress = 100
		job.Result = result.Clone()
		job.Error = nil
		s.markFinished(job)
		st.InProgress = false
		st.Error = ""
		s.log.Infow("store_job_completed", "job_id", job.JobID)
		return true
	})
}

func (s *Store) ApplyFailure(jobID string, jobErr *domain.JobError) bool {
	return s.mutate("failure", jobID, func(st *State, job *domain.Job) bool {
		if jobErr == nil {
			jobErr = &domain.JobError{Code: "UNKNOWN", Message: "Generation failed"}
		}
		e := *jobErr
		job.Status = domain.JobStatusFailed
		job.Error = &e
		job.Result = nil
		s.markFinished(job)
		st.InProgress = false
		st.Error = e.Message
		s.log.Infow("store_job_failed", "job_id", job.JobID, "code", e.Code, "message", e.Message)
		return true
	})
}

// ApplyCancelled records an explicit cancellation.
func (s *Store) ApplyCancelled(jobID string) bool {
	return s.mutate("cancel", jobID, func(st *State, job *domain.Job) bool {
		job.Status = domain.JobStatusCancelled
		s.markFinished(job)
		st.InProgress = false
		s.log.Infow("store_job_cancelled", "job_id", job.JobID)
		return true
	})
}
