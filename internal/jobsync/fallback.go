package jobsync

import (
	"fmt"
	"time"
)

// poller is the pull-based fallback for a channel whose push connection
// could not be kept up. It polls immediately, then every PollInterval, and
// stops itself once it has delivered a terminal event. Its fields are
// guarded by the owning channel's mutex.
type poller struct {
	ch    *Channel
	epoch uint64

	done   bool
	timer  Timer
	lastOK time.Time
	polls  int
}

func newPoller(ch *Channel, epoch uint64) *poller {
	return &poller{ch: ch, epoch: epoch, lastOK: ch.opts.Clock.Now()}
}

func (p *poller) startLocked() {
	p.timer = p.ch.opts.Clock.AfterFunc(0, p.tick)
}

func (p *poller) scheduleLocked() {
	p.timer = p.ch.opts.Clock.AfterFunc(p.ch.opts.PollInterval, p.tick)
}

func (p *poller) stopLocked() {
	p.done = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *poller) tick() {
	c := p.ch

	c.mu.Lock()
	if !c.ownsLocked(p.epoch, p) {
		c.mu.Unlock()
		return
	}
	p.timer = nil
	p.polls++
	poll := p.polls
	ctx := c.ctx
	jobID := c.jobID
	c.mu.Unlock()

	job, err := c.opts.Fetcher.GetJob(ctx, jobID)
	now := c.opts.Clock.Now()

	if err != nil {
		c.mu.Lock()
		if !c.ownsLocked(p.epoch, p) {
			c.mu.Unlock()
			return
		}
		if c.opts.LivenessTimeout > 0 && now.Sub(p.lastOK) >= c.opts.LivenessTimeout {
			conn, cancel, onUnreachable := c.giveUpLocked()
			c.mu.Unlock()

			release(conn, cancel)
			c.log.Errorw("poll_liveness_expired", "job_id", jobID, "polls", poll, "error", err)
			if onUnreachable != nil {
				onUnreachable(jobID, fmt.Errorf("%w: %w", ErrStatusUnreachable, err))
			}
			return
		}
		p.scheduleLocked()
		c.mu.Unlock()
		c.log.Warnw("poll_failed", "job_id", jobID, "poll", poll, "error", err)
		return
	}

	c.mu.Lock()
	if !c.ownsLocked(p.epoch, p) {
		c.mu.Unlock()
		return
	}
	p.lastOK = now
	c.mu.Unlock()

	ev, ok, err := eventFromJob(job, jobID, now)
	switch {
	case err != nil:
		c.log.Warnw("poll_protocol_anomaly", "job_id", jobID, "error", err)
	case !ok:
		c.log.Debugw("poll_nothing_to_deliver", "job_id", jobID, "status", job.Status)
	default:
		c.log.Debugw("poll_event", "job_id", jobID, "poll", poll, "kind", ev.Kind, "progress", ev.Progress)
		c.emit(p.epoch, p, ev)
	}

	c.mu.Lock()
	if c.ownsLocked(p.epoch, p) {
		p.scheduleLocked()
	}
	c.mu.Unlock()
}
