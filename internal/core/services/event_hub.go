package services

import (
	"sync"

	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/infrastructure/logger"
)

const subscriberBuffer = 64

type subscriber struct {
	ch     chan domain.Event
	closed bool
}

// eventHub fans job events out to every socket watching that job. Slow
// subscribers lose progress events instead of blocking the simulator. A
// subscriber that cannot take a terminal event is closed, so its socket
// drops and the client reconnects to read the outcome.
type eventHub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	logger *logger.Logger
}

func newEventHub(log *logger.Logger) *eventHub {
	return &eventHub{
		subs:   make(map[string]map[*subscriber]struct{}),
		logger: log,
	}
}

func (h *eventHub) subscribe(jobID string) (<-chan domain.Event, func()) {
	sub := &subscriber{ch: make(chan domain.Event, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*subscriber]struct{})
	}
	h.subs[jobID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.removeLocked(jobID, sub)
		})
	}
}

func (h *eventHub) publish(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[ev.JobID] {
		select {
		case sub.ch <- ev:
		default:
			if ev.IsTerminal() {
				h.logger.Warnw("hub_subscriber_evicted", "job_id", ev.JobID, "type", ev.Kind)
				h.removeLocked(ev.JobID, sub)
				continue
			}
			h.logger.Warnw("hub_subscriber_lagging", "job_id", ev.JobID, "type", ev.Kind)
		}
	}
}

func (h *eventHub) removeLocked(jobID string, sub *subscriber) {
	if set, ok := h.subs[jobID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, jobID)
		}
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

func (h *eventHub) count(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}
