package jobsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meshforge/studio/internal/core/ports"
	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/infrastructure/logger"
)

// StatusChannel is the part of *Channel the controller depends on.
type StatusChannel interface {
	Connect(jobID string) error
	Disconnect()
	AddHandler(h Handler) HandlerID
	OnUnreachable(fn func(jobID string, err error))
}

type ControllerConfig struct {
	API        ports.JobAPI
	Store      *Store
	NewChannel func() StatusChannel
	Notifier   ports.Notifier
	Logger     *logger.Logger
	Clock      Clock
}

// Controller submits generation requests and wires the resulting job's
// status channel into the store. At most one channel is alive at a time.
type Controller struct {
	api        ports.JobAPI
	store      *Store
	newChannel func() StatusChannel
	notifier   ports.Notifier
	log        *logger.Logger
	clock      Clock

	// opMu serialises Submit, Cancel, Refresh and Reset.
	opMu sync.Mutex

	chMu    sync.Mutex
	channel StatusChannel
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Store == nil {
		cfg.Store = NewStore(cfg.Logger)
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	return &Controller{
		api:        cfg.API,
		store:      cfg.Store,
		newChannel: cfg.NewChannel,
		notifier:   cfg.Notifier,
		log:        cfg.Logger.Named("controller"),
		clock:      cfg.Clock,
	}
}

func (c *Controller) Store() *Store {
	return c.store
}

// Submit creates a job on the backend, starts tracking it and returns the
// backend's acknowledgement. A rejected submission is recorded in the
// store and returned; it is never retried here.
func (c *Controller) Submit(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResponse, error) {
	if err := req.Validate(); err != nil {
		c.store.SetError(err.Error())
		return nil, err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.store.SetInProgress(true)

	var (
		resp *domain.GenerationResponse
		err  error
	)
	if req.Kind() == domain.InputTypeImage {
		resp, err = c.api.CreateImageJob(ctx, *req.Image)
	} else {
		resp, err = c.api.CreateTextJob(ctx, *req.Text)
	}
	if err == nil && (resp == nil || resp.JobID == "") {
		err = fmt.Errorf("%w: backend returned no job id", ErrProtocolAnomaly)
	}
	if err != nil {
		c.store.SetError(err.Error())
		c.store.SetInProgress(false)
		c.notify(domain.NotificationError, "", err.Error(), domain.ErrorNotificationDuration)
		c.log.Warnw("submit_failed", "kind", req.Kind(), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	c.disposeChannel()

	createdAt := resp.CreatedAt
	if createdAt == nil {
		createdAt = domain.NewTimestamp(c.clock.Now())
	}
	c.store.SetCurrentJob(&domain.Job{
		JobID:     resp.JobID,
		Status:    domain.JobStatusQueued,
		Progress:  0,
		CreatedAt: createdAt,
		Input:     req.Input(),
	})
	c.store.SetInProgress(true)
	c.log.Infow("job_submitted", "job_id", resp.JobID, "kind", req.Kind(), "estimated_time", resp.EstimatedTime)

	if c.newChannel == nil {
		return resp, nil
	}
	ch := c.newChannel()
	ch.AddHandler(func(ev domain.Event) { c.route(ch, ev) })
	ch.OnUnreachable(func(jobID string, err error) { c.unreachable(ch, jobID, err) })

	c.chMu.Lock()
	c.channel = ch
	c.chMu.Unlock()

	if err := ch.Connect(resp.JobID); err != nil {
		c.releaseChannel(ch)
		c.store.SetError(err.Error())
		c.store.SetInProgress(false)
		c.log.Errorw("channel_connect_failed", "job_id", resp.JobID, "error", err)
		return resp, nil
	}
	return resp, nil
}

// Cancel asks the backend to cancel the tracked job and stops following it.
func (c *Controller) Cancel(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	job := c.store.Snapshot().Job
	if job == nil {
		return ErrNoActiveJob
	}
	if job.IsDone() {
		return ErrJobFinished
	}

	if err := c.api.CancelJob(ctx, job.JobID); err != nil {
		c.store.SetError(err.Error())
		c.log.Warnw("cancel_failed", "job_id", job.JobID, "error", err)
		return fmt.Errorf("controller: cancel job %s: %w", job.JobID, err)
	}

	c.disposeChannel()
	if c.store.ApplyCancelled(job.JobID) {
		c.notify(domain.NotificationInfo, job.JobID, "Generation cancelled", domain.SuccessNotificationDuration)
	}
	return nil
}

// Refresh fetches the tracked job once and applies it through the same
// guarded transitions the channel uses.
func (c *Controller) Refresh(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	current := c.store.Snapshot().Job
	if current == nil {
		return ErrNoActiveJob
	}
	job, err := c.api.GetJob(ctx, current.JobID)
	if err != nil {
		return fmt.Errorf("controller: refresh job %s: %w", current.JobID, err)
	}

	ev, ok, err := eventFromJob(job, current.JobID, c.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	c.apply(ev)
	if ev.IsTerminal() {
		c.disposeChannel()
	}
	return nil
}

// Reset stops tracking and clears the store for an unrelated session.
func (c *Controller) Reset() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.disposeChannel()
	c.store.Reset()
}

// Close releases the active channel, if any.
func (c *Controller) Close() {
	c.disposeChannel()
}

// ==================== ROUTING ====================

func (c *Controller) isCurrent(ch StatusChannel) bool {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	return c.channel == ch
}

func (c *Controller) route(ch StatusChannel, ev domain.Event) {
	if !c.isCurrent(ch) {
		c.log.Debugw("event_from_stale_channel", "job_id", ev.JobID, "kind", ev.Kind)
		return
	}
	c.apply(ev)
	if ev.IsTerminal() {
		c.releaseChannel(ch)
	}
}

func (c *Controller) apply(ev domain.Event) {
	switch ev.Kind {
	case domain.EventProgressUpdate:
		c.store.ApplyProgress(ev.JobID, ev.Status, ev.Progress, ev.Stage, ev.StageProgress)

	case domain.EventConnected, domain.EventStatusUpdate:
		if ev.Status == domain.JobStatusCancelled {
			if c.store.ApplyCancelled(ev.JobID) {
				c.notify(domain.NotificationInfo, ev.JobID, "Generation cancelled", domain.SuccessNotificationDuration)
			}
			return
		}
		if ev.Status != "" {
			c.store.ApplyStatus(ev.JobID, ev.Status, ev.Progress, ev.Stage, ev.StageProgress)
		}

	case domain.EventCompletion:
		if c.store.ApplyCompletion(ev.JobID, ev.Result) {
			c.notify(domain.NotificationSuccess, ev.JobID, "3D model generated successfully!", domain.SuccessNotificationDuration)
		}

	case domain.EventError:
		if c.store.ApplyFailure(ev.JobID, ev.Error) {
			msg := "Generation failed"
			if ev.Error != nil && ev.Error.Message != "" {
				msg = ev.Error.Message
			}
			c.notify(domain.NotificationError, ev.JobID, msg, domain.ErrorNotificationDuration)
		}

	case domain.EventStageComplete:
		c.log.Infow("stage_complete", "job_id", ev.JobID, "stage", ev.Stage)

	case domain.EventPong:
		c.log.Debugw("pong", "job_id", ev.JobID)
	}
}

func (c *Controller) unreachable(ch StatusChannel, jobID string, err error) {
	if !c.isCurrent(ch) {
		return
	}
	c.log.Errorw("job_status_unreachable", "job_id", jobID, "error", err)
	c.store.SetError(err.Error())
	c.store.SetInProgress(false)
	c.notify(domain.NotificationError, jobID, "Lost contact with the generation service", domain.ErrorNotificationDuration)
	c.releaseChannel(ch)
}

// releaseChannel disconnects ch and forgets it if it is still current.
func (c *Controller) releaseChannel(ch StatusChannel) {
	c.chMu.Lock()
	if c.channel == ch {
		c.channel = nil
	}
	c.chMu.Unlock()
	ch.Disconnect()
}

func (c *Controller) disposeChannel() {
	c.chMu.Lock()
	ch := c.channel
	c.channel = nil
	c.chMu.Unlock()
	if ch != nil {
		ch.Disconnect()
	}
}

func (c *Controller) notify(level domain.NotificationLevel, jobID, msg string, d time.Duration) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(domain.Notification{Level: level, JobID: jobID, Message: msg, Duration: d})
}
