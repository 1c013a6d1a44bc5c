package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meshforge/studio/internal/config"
	"github.com/meshforge/studio/internal/core/ports"
	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/infrastructure/logger"
)

const (
	defaultQueueSize = 128
	apiPrefix        = "/api/v1"
)

// Stages the simulated pipeline walks through, in order.
var pipelineStages = []string{
	"initializing",
	"generating_sparse_structure",
	"generating_slat",
	"exporting",
}

var artifactKinds = []domain.ArtifactKind{domain.ArtifactGLB, domain.ArtifactPLY, domain.ArtifactPreview}

type JobServiceConfig struct {
	Repository ports.JobRepository
	Artifacts  ports.ArtifactStore
	Enhancer   ports.PromptEnhancer
	Logger     *logger.Logger
	Simulator  config.SimulatorConfig
	QueueSize  int
	// Backend names the repository in health reports ("memory", "postgres").
	Backend string
}

// JobService accepts generation jobs, runs them through a simulated pipeline
// on a fixed worker pool and fans their status events out to subscribers.
type JobService struct {
	repo      ports.JobRepository
	artifacts ports.ArtifactStore
	enhancer  ports.PromptEnhancer
	logger    *logger.Logger
	sim       config.SimulatorConfig
	backend   string
	hub       *eventHub
	now       func() time.Time

	queue chan string

	// mu serialises every read-modify-write of a job record together with
	// the event it publishes, so subscribers see events in commit order.
	mu      sync.Mutex
	running map[string]context.CancelFunc
	closed  bool

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

func NewJobService(cfg JobServiceConfig) *JobService {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	sim := cfg.Simulator
	if sim.Workers <= 0 {
		sim.Workers = 1
	}
	if sim.StepsPerStage <= 0 {
		sim.StepsPerStage = 1
	}
	backend := cfg.Backend
	if backend == "" {
		backend = "memory"
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("jobs")

	ctx, stop := context.WithCancel(context.Background())
	s := &JobService{
		repo:      cfg.Repository,
		artifacts: cfg.Artifacts,
		enhancer:  cfg.Enhancer,
		logger:    log,
		sim:       sim,
		backend:   backend,
		hub:       newEventHub(log),
		now:       time.Now,
		queue:     make(chan string, queueSize),
		running:   make(map[string]context.CancelFunc),
		ctx:       ctx,
		stop:      stop,
	}

	for i := 0; i < sim.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	log.Infow("job_service_started", "workers", sim.Workers, "step_delay", sim.StepDelay, "steps_per_stage", sim.StepsPerStage)
	return s
}

// Close stops accepting jobs, interrupts running ones and waits for the
// workers to exit. Interrupted jobs stay in whatever state they reached.
func (s *JobService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()
	s.logger.Infow("job_service_stopped")
}

// ==================== SUBMISSION ====================

func (s *JobService) SubmitText(ctx context.Context, req domain.TextRequest) (*domain.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, domain.GenerationRequest{Text: &req}.Input())
}

func (s *JobService) SubmitImage(ctx context.Context, req domain.ImageRequest) (*domain.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, domain.GenerationRequest{Image: &req}.Input())
}

func (s *JobService) enqueue(ctx context.Context, input *domain.JobInput) (*domain.Job, error) {
	job := &domain.Job{
		JobID:     uuid.NewString(),
		Status:    domain.JobStatusQueued,
		CreatedAt: domain.NewTimestamp(s.now()),
		Input:     input,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrServiceDown
	}
	// Only enqueue sends, and it holds mu, so the send below cannot block.
	if len(s.queue) == cap(s.queue) {
		s.logger.Warnw("job_queue_full", "capacity", cap(s.queue))
		return nil, ErrQueueFull
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to store job: %w", err)
	}
	s.queue <- job.JobID

	s.logger.Infow("job_enqueued", "job_id", job.JobID, "type", input.Type, "queue_len", len(s.queue))
	return job.Clone(), nil
}

// ==================== QUERIES ====================

func (s *JobService) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *JobService) ListJobs(ctx context.Context, limit int) (*domain.JobList, error) {
	jobs, err := s.repo.GetAll(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &domain.JobList{
		Jobs:      jobs,
		Total:     len(jobs),
		QueueSize: len(s.queue),
	}, nil
}

func (s *JobService) Subscribe(jobID string) (<-chan domain.Event, func()) {
	return s.hub.subscribe(jobID)
}

func (s *JobService) Health(ctx context.Context) domain.HealthResponse {
	s.mu.Lock()
	processing := len(s.running)
	closed := s.closed
	s.mu.Unlock()

	status := "healthy"
	workers := "healthy"
	if closed {
		status = "degraded"
		workers = "stopped"
	}
	available := s.sim.Workers - processing
	if available < 0 || closed {
		available = 0
	}

	return domain.HealthResponse{
		Status: status,
		Services: map[string]string{
			"api":        "healthy",
			"repository": s.backend,
			"workers":    workers,
			"enhancer":   "static",
		},
		Queue: domain.QueueHealth{
			Pending:          len(s.queue),
			Processing:       processing,
			WorkersAvailable: available,
		},
	}
}

// ==================== CANCELLATION ====================

func (s *JobService) CancelJob(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.IsDone() {
		return job, fmt.Errorf("%w: cannot cancel job in status %s", ErrJobFinished, job.Status)
	}

	now := s.now()
	job.Status = domain.JobStatusCancelled
	job.CompletedAt = domain.NewTimestamp(now)
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}
	if cancel, ok := s.running[id]; ok {
		cancel()
	}

	s.hub.publish(domain.Event{
		Kind:          domain.EventStatusUpdate,
		JobID:         id,
		Timestamp:     now,
		Status:        domain.JobStatusCancelled,
		Progress:      job.Progress,
		Stage:         job.Stage,
		StageProgress: job.StageProgress,
		Message:       "Job cancelled",
	})
	s.logger.Infow("job_cancelled", "job_id", id, "progress", job.Progress)
	return job, nil
}

// ==================== PIPELINE ====================

func (s *JobService) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case id := <-s.queue:
			s.process(id)
		}
	}
}

// transition applies fn to the stored job and publishes the event it
// returns. Jobs that already reached a terminal state are left alone.
func (s *JobService) transition(id string, fn func(job *domain.Job, now time.Time) domain.Event) bool {
	// Writes must land even when the job's own context was just cancelled.
	ctx := context.WithoutCancel(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Errorw("job_load_failed", "job_id", id, "error", err)
		return false
	}
	if job.IsDone() {
		return false
	}

	now := s.now()
	ev := fn(job, now)
	if err := s.repo.Update(ctx, job); err != nil {
		s.logger.Errorw("job_update_failed", "job_id", id, "error", err)
		return false
	}
	ev.JobID = id
	ev.Timestamp = now
	s.hub.publish(ev)
	return true
}

func (s *JobService) process(id string) {
	jobCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	s.mu.Lock()
	s.running[id] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
	}()

	job, err := s.repo.GetByID(jobCtx, id)
	if err != nil {
		s.logger.Errorw("job_load_failed", "job_id", id, "error", err)
		return
	}
	if job.IsDone() {
		s.logger.Infow("job_skipped", "job_id", id, "status", job.Status)
		return
	}

	enhanced := s.enhance(jobCtx, job.Input)

	started := s.transition(id, func(job *domain.Job, now time.Time) domain.Event {
		job.Status = domain.JobStatusProcessing
		job.StartedAt = domain.NewTimestamp(now)
		job.Progress = 0
		job.Stage = pipelineStages[0]
		job.StageProgress = 0
		if enhanced != "" && job.Input != nil {
			job.Input.EnhancedPrompt = enhanced
		}
		return domain.Event{Kind: domain.EventStatusUpdate, Status: domain.JobStatusProcessing, Stage: job.Stage}
	})
	if !started {
		return
	}
	s.logger.Infow("job_started", "job_id", id)

	failAt := -1
	if s.shouldFail(job.Input) {
		failAt = len(pipelineStages) / 2
	}

	steps := s.sim.StepsPerStage
	for i, stage := range pipelineStages {
		if i == failAt {
			s.fail(id, "PROCESSING_ERROR", fmt.Sprintf("simulated failure: input matches %q", s.sim.FailKeyword))
			return
		}
		for k := 1; k <= steps; k++ {
			if !s.sleep(jobCtx) {
				s.logger.Infow("job_interrupted", "job_id", id, "stage", stage)
				return
			}
			stageProgress := k * 100 / steps
			progress := min((i*100+stageProgress)/len(pipelineStages), 99)
			ok := s.transition(id, func(job *domain.Job, now time.Time) domain.Event {
				job.Progress = progress
				job.Stage = stage
				job.StageProgress = stageProgress
				return domain.Event{
					Kind:          domain.EventProgressUpdate,
					Status:        domain.JobStatusProcessing,
					Progress:      progress,
					Stage:         stage,
					StageProgress: stageProgress,
					Message:       fmt.Sprintf("Stage: %s (%d%%)", stage, stageProgress),
				}
			})
			if !ok {
				return
			}
		}
		s.transition(id, func(job *domain.Job, now time.Time) domain.Event {
			return domain.Event{Kind: domain.EventStageComplete, Stage: stage, Message: stage + " complete"}
		})
	}

	s.complete(jobCtx, id)
}

func (s *JobService) complete(ctx context.Context, id string) {
	result := &domain.JobResult{FileSizes: make(map[string]int64, len(artifactKinds))}
	for _, kind := range artifactKinds {
		data, err := placeholderArtifact(kind, id)
		if err == nil {
			var n int64
			n, err = s.artifacts.Write(ctx, id, kind, data)
			result.FileSizes[string(kind)] = n
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(id, "EXPORT_FAILED", fmt.Sprintf("failed to export %s: %v", kind, err))
			return
		}
	}
	result.GLBURL = apiPrefix + "/download/" + id + ".glb"
	result.PLYURL = apiPrefix + "/download/" + id + ".ply"
	result.PreviewURL = apiPrefix + "/download/preview/" + id + ".png"

	ok := s.transition(id, func(job *domain.Job, now time.Time) domain.Event {
		job.Status = domain.JobStatusCompleted
		job.Progress = 100
		job.Stage = "completed"
		job.StageProgress = 100
		job.CompletedAt = domain.NewTimestamp(now)
		job.Result = result.Clone()
		return domain.Event{
			Kind:     domain.EventCompletion,
			Status:   domain.JobStatusCompleted,
			Progress: 100,
			Result:   result.Clone(),
		}
	})
	if ok {
		s.logger.Infow("job_completed", "job_id", id)
	}
}

func (s *JobService) fail(id, code, message string) {
	jobErr := &domain.JobError{Code: code, Message: message}
	ok := s.transition(id, func(job *domain.Job, now time.Time) domain.Event {
		job.Status = domain.JobStatusFailed
		job.CompletedAt = domain.NewTimestamp(now)
		e := *jobErr
		job.Error = &e
		return domain.Event{Kind: domain.EventError, Status: domain.JobStatusFailed, Error: jobErr}
	})
	if ok {
		s.logger.Warnw("job_failed", "job_id", id, "code", code, "message", message)
	}
}

func (s *JobService) enhance(ctx context.Context, input *domain.JobInput) string {
	if s.enhancer == nil || input == nil || input.Prompt == "" {
		return ""
	}
	if want, _ := input.Parameters["enhance_prompt"].(bool); !want {
		return ""
	}
	provider, _ := input.Parameters["llm_provider"].(string)
	resp, err := s.enhancer.Enhance(ctx, domain.PromptEnhanceRequest{
		Prompt:   input.Prompt,
		Provider: domain.LLMProvider(provider),
	})
	if err != nil {
		// Generation goes ahead with the original prompt.
		s.logger.Warnw("job_prompt_enhance_failed", "error", err)
		return ""
	}
	return resp.EnhancedPrompt
}

func (s *JobService) shouldFail(input *domain.JobInput) bool {
	kw := strings.ToLower(strings.TrimSpace(s.sim.FailKeyword))
	if kw == "" || input == nil {
		return false
	}
	return strings.Contains(strings.ToLower(input.Prompt), kw) ||
		strings.Contains(strings.ToLower(input.ImageFilename), kw)
}

func (s *JobService) sleep(ctx context.Context) bool {
	if s.sim.StepDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.sim.StepDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var _ ports.JobService = (*JobService)(nil)
