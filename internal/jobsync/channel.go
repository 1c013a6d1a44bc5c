package jobsync

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/meshforge/studio/internal/core/ports"
	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/infrastructure/logger"
)

const (
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectDelay       = 2 * time.Second
	DefaultMaxReconnectAttempts = 3
	DefaultPollInterval         = 2 * time.Second
	DefaultLivenessTimeout      = 10 * time.Minute
)

// Handler receives validated status events for the channel's job.
type Handler func(ev domain.Event)

type HandlerID uint64

// Mode reports which transport currently feeds a channel.
type Mode string

const (
	ModeIdle    Mode = "idle"
	ModePush    Mode = "push"
	ModePolling Mode = "polling"
	ModeDone    Mode = "done"
)

type Options struct {
	// BaseURL is the ws(s) root; the job stream lives at {BaseURL}/ws/jobs/{id}.
	BaseURL string
	Dialer  Dialer
	// Fetcher backs the polling fallback.
	Fetcher ports.JobFetcher
	Clock   Clock
	Logger  *logger.Logger

	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	PollInterval         time.Duration
	// LivenessTimeout bounds how long the fallback keeps polling without a
	// single successful response. Zero disables the bound.
	LivenessTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Clock == nil {
		o.Clock = RealClock()
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.LivenessTimeout < 0 {
		o.LivenessTimeout = 0
	}
}

// Channel follows a single job over a push connection, keeping it alive with
// heartbeats, reopening it when it drops, and handing over to HTTP polling
// once reconnection is exhausted. Every deferred callback carries the epoch
// it was scheduled under; Connect and Disconnect bump the epoch, which makes
// all older callbacks no-ops.
type Channel struct {
	opts Options
	log  *logger.Logger

	mu       sync.Mutex
	epoch    uint64
	jobID    string
	ctx      context.Context
	cancel   context.CancelFunc
	conn     Conn
	attempts int
	terminal bool
	fallback bool

	heartbeat Timer
	reconnect Timer
	poller    *poller

	handlers      map[HandlerID]Handler
	order         []HandlerID
	nextID        HandlerID
	onUnreachable func(jobID string, err error)
}

func NewChannel(opts Options) *Channel {
	opts.setDefaults()
	return &Channel{
		opts:     opts,
		log:      opts.Logger.Named("channel"),
		terminal: true,
		handlers: make(map[HandlerID]Handler),
	}
}

// Connect starts following jobID. Anything the channel was doing for a
// previous job is stopped first. Registered handlers are kept.
func (c *Channel) Connect(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return errors.New("channel: job id is required")
	}
	if c.opts.Dialer == nil && c.opts.Fetcher == nil {
		return errors.New("channel: neither dialer nor fetcher configured")
	}

	c.mu.Lock()
	if c.jobID != "" && c.jobID != jobID {
		c.log.Infow("channel_switch_job", "from_job_id", c.jobID, "to_job_id", jobID)
	}
	conn, cancel := c.resetLocked()
	c.jobID = jobID
	c.attempts = 0
	c.terminal = false
	c.fallback = false
	c.ctx, c.cancel = context.WithCancel(context.Background())
	epoch := c.epoch
	c.reconnect = c.opts.Clock.AfterFunc(0, func() { c.open(epoch) })
	c.mu.Unlock()

	release(conn, cancel)
	c.log.Infow("channel_connect", "job_id", jobID)
	return nil
}

// Disconnect stops all activity, drops every handler and closes the
// connection. It may be called any number of times, from any goroutine,
// including from inside a handler.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	wasActive := !c.terminal
	jobID := c.jobID
	conn, cancel := c.resetLocked()
	c.terminal = true
	c.jobID = ""
	c.handlers = make(map[HandlerID]Handler)
	c.order = nil
	c.onUnreachable = nil
	c.mu.Unlock()

	release(conn, cancel)
	if wasActive {
		c.log.Infow("channel_disconnect", "job_id", jobID)
	}
}

func (c *Channel) AddHandler(h Handler) HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.handlers[id] = h
	c.order = append(c.order, id)
	return id
}

func (c *Channel) RemoveHandler(id HandlerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[id]; !ok {
		return
	}
	delete(c.handlers, id)
	for i, hid := range c.order {
		if hid == id {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
}

// OnUnreachable registers fn to be called once if the fallback gives up
// because the backend stayed unreachable for the whole liveness window.
func (c *Channel) OnUnreachable(fn func(jobID string, err error)) {
	c.mu.Lock()
	c.onUnreachable = fn
	c.mu.Unlock()
}

func (c *Channel) JobID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobID
}

func (c *Channel) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.jobID == "":
		return ModeIdle
	case c.terminal:
		return ModeDone
	case c.fallback:
		return ModePolling
	}
	return ModePush
}

// ==================== LIFECYCLE ====================

// resetLocked invalidates every outstanding callback and detaches the
// connection and context, which the caller releases after unlocking.
func (c *Channel) resetLocked() (Conn, context.CancelFunc) {
	c.epoch++
	c.stopTimersLocked()
	c.poller = nil
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.cancel = nil
	return conn, cancel
}

func (c *Channel) stopTimersLocked() {
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.poller != nil {
		c.poller.stopLocked()
	}
}

func release(conn Conn, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Channel) activeLocked(epoch uint64) bool {
	return epoch == c.epoch && !c.terminal
}

// ownsLocked reports whether src (a Conn or the poller) is still the live
// event source for epoch.
func (c *Channel) ownsLocked(epoch uint64, src any) bool {
	if !c.activeLocked(epoch) {
		return false
	}
	switch s := src.(type) {
	case *poller:
		return c.poller == s && !s.done
	case Conn:
		return c.conn != nil && c.conn == s
	}
	return false
}

func (c *Channel) streamURL(jobID string) string {
	return strings.TrimRight(c.opts.BaseURL, "/") + "/ws/jobs/" + url.PathEscape(jobID)
}

// ==================== PUSH ====================

func (c *Channel) open(epoch uint64) {
	c.mu.Lock()
	if !c.activeLocked(epoch) || c.fallback || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.reconnect = nil
	if c.opts.Dialer == nil {
		c.startFallbackLocked(epoch)
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	ctx := c.ctx
	jobID := c.jobID
	c.mu.Unlock()

	conn, err := c.opts.Dialer.Dial(ctx, c.streamURL(jobID))

	c.mu.Lock()
	if !c.activeLocked(epoch) {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.log.Warnw("channel_dial_failed", "job_id", jobID, "attempt", attempt, "error", err)
		c.closedLocked(epoch)
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.scheduleHeartbeatLocked(epoch, conn)
	c.mu.Unlock()

	c.log.Infow("channel_open", "job_id", jobID, "attempt", attempt)
	go c.readLoop(epoch, jobID, conn)
}

func (c *Channel) readLoop(epoch uint64, jobID string, conn Conn) {
	healthy := false
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			c.mu.Lock()
			if c.ownsLocked(epoch, conn) {
				c.log.Warnw("channel_connection_lost", "job_id", jobID, "error", err)
				c.conn = nil
				c.closedLocked(epoch)
			}
			c.mu.Unlock()
			return
		}

		ev, err := decodeEvent(data, jobID, c.opts.Clock.Now())
		if err != nil {
			c.log.Warnw("channel_protocol_anomaly", "job_id", jobID, "error", err)
			continue
		}
		if !healthy {
			healthy = true
			c.markHealthy(epoch, conn)
		}
		c.emit(epoch, conn, ev)
	}
}

// markHealthy resets the reconnect budget once a connection has carried a
// valid message, so only consecutive failures count toward the fallback.
func (c *Channel) markHealthy(epoch uint64, conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ownsLocked(epoch, conn) {
		c.attempts = 0
	}
}

// closedLocked handles a connection that failed to open or dropped while
// the channel is still active: retry after the backoff while attempts
// remain, otherwise fall back to polling.
func (c *Channel) closedLocked(epoch uint64) {
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
	if c.fallback {
		return
	}
	if c.attempts < c.opts.MaxReconnectAttempts {
		c.log.Infow("channel_reconnect_scheduled",
			"job_id", c.jobID,
			"attempt", c.attempts+1,
			"max_attempts", c.opts.MaxReconnectAttempts,
			"delay", c.opts.ReconnectDelay,
		)
		c.reconnect = c.opts.Clock.AfterFunc(c.opts.ReconnectDelay, func() { c.open(epoch) })
		return
	}
	c.startFallbackLocked(epoch)
}

func (c *Channel) scheduleHeartbeatLocked(epoch uint64, conn Conn) {
	c.heartbeat = c.opts.Clock.AfterFunc(c.opts.HeartbeatInterval, func() { c.beat(epoch, conn) })
}

func (c *Channel) beat(epoch uint64, conn Conn) {
	c.mu.Lock()
	if !c.ownsLocked(epoch, conn) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := conn.WriteMessage(encodePing(c.opts.Clock.Now())); err != nil {
		c.log.Debugw("channel_heartbeat_failed", "error", err)
	}

	c.mu.Lock()
	if c.ownsLocked(epoch, conn) {
		c.scheduleHeartbeatLocked(epoch, conn)
	}
	c.mu.Unlock()
}

// ==================== DELIVERY ====================

// emit hands ev to the registered handlers if src is still the live source.
// Terminal events first mark the channel done and stop every timer, then
// reach all handlers, and only then is the connection closed.
func (c *Channel) emit(epoch uint64, src any, ev domain.Event) {
	c.mu.Lock()
	if !c.ownsLocked(epoch, src) {
		c.mu.Unlock()
		c.log.Debugw("channel_stale_event_dropped", "job_id", ev.JobID, "kind", ev.Kind)
		return
	}

	if !ev.IsTerminal() {
		ids := append([]HandlerID(nil), c.order...)
		c.mu.Unlock()
		for _, id := range ids {
			c.mu.Lock()
			h, ok := c.handlers[id]
			live := c.ownsLocked(epoch, src)
			c.mu.Unlock()
			if !live {
				return
			}
			if ok {
				c.invoke(h, ev)
			}
		}
		return
	}

	c.terminal = true
	c.stopTimersLocked()
	handlers := make([]Handler, 0, len(c.order))
	for _, id := range c.order {
		handlers = append(handlers, c.handlers[id])
	}
	conn, cancel := c.conn, c.cancel
	c.conn, c.cancel = nil, nil
	c.mu.Unlock()

	c.log.Infow("channel_terminal_event", "job_id", ev.JobID, "kind", ev.Kind)
	for _, h := range handlers {
		c.invoke(h, ev)
	}
	release(conn, cancel)
}

func (c *Channel) invoke(h Handler, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorw("channel_handler_panic", "job_id", ev.JobID, "kind", ev.Kind, "panic", fmt.Sprint(r))
		}
	}()
	h(ev)
}

// ==================== FALLBACK ====================

func (c *Channel) startFallbackLocked(epoch uint64) {
	if c.fallback || c.opts.Fetcher == nil {
		if c.opts.Fetcher == nil {
			c.log.Errorw("channel_fallback_unavailable", "job_id", c.jobID)
		}
		return
	}
	c.fallback = true
	c.poller = newPoller(c, epoch)
	c.log.Warnw("channel_fallback_polling",
		"job_id", c.jobID,
		"attempts", c.attempts,
		"interval", c.opts.PollInterval,
	)
	c.poller.startLocked()
}

// giveUpLocked ends tracking after the fallback exhausted its liveness
// window. The caller releases the returned resources and reports err.
func (c *Channel) giveUpLocked() (Conn, context.CancelFunc, func(string, error)) {
	c.terminal = true
	c.stopTimersLocked()
	conn, cancel := c.conn, c.cancel
	c.conn, c.cancel = nil, nil
	return conn, cancel, c.onUnreachable
}
