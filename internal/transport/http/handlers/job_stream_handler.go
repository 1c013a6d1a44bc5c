package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/meshforge/studio/internal/core/ports"
	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/infrastructure/logger"
	"github.com/meshforge/studio/internal/transport/http/dto"
)

const streamWriteWait = 10 * time.Second

// JobStreamHandler pushes status events for one job over /ws/jobs/:id.
type JobStreamHandler struct {
	service ports.JobService
	logger  *logger.Logger
}

func NewJobStreamHandler(service ports.JobService, logger *logger.Logger) *JobStreamHandler {
	return &JobStreamHandler{service: service, logger: logger}
}

func (h *JobStreamHandler) Handle(c *websocket.Conn) {
	jobID := c.Params("id")

	// Subscribe before reading the job so no transition falls in between.
	events, unsubscribe := h.service.Subscribe(jobID)
	defer unsubscribe()

	job, err := h.service.GetJob(context.Background(), jobID)
	if err != nil {
		h.logger.Warnw("stream_job_not_found", "job_id", jobID, "error", err)
		h.write(c, dto.ErrorMessage(jobID, "JOB_NOT_FOUND", "Job not found", time.Now()))
		return
	}

	h.logger.Infow("stream_open", "job_id", jobID, "status", job.Status, "remote", c.RemoteAddr().String())
	if !h.write(c, dto.NewEventMessage(dto.ConnectedEvent(job, time.Now()))) {
		return
	}
	if ev, done := dto.OutcomeEvent(job, time.Now()); done {
		if !h.write(c, dto.NewEventMessage(ev)) {
			return
		}
	}

	// The connection allows one concurrent reader and one writer: reads run
	// on their own goroutine, writes only on this one.
	inbound := make(chan []byte)
	readDone := make(chan struct{})
	stop := make(chan struct{})
	// The conn is recycled once Handle returns, so the reader must be gone
	// by then.
	defer func() {
		close(stop)
		_ = c.Close()
		<-readDone
	}()
	go func() {
		defer close(readDone)
		for {
			_, p, err := c.ReadMessage()
			if err != nil {
				return
			}
			select {
			case inbound <- p:
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !h.write(c, dto.NewEventMessage(ev)) {
				return
			}
		case p := <-inbound:
			if !h.reply(c, jobID, p) {
				return
			}
		case <-readDone:
			h.logger.Infow("stream_closed", "job_id", jobID)
			return
		}
	}
}

func (h *JobStreamHandler) reply(c *websocket.Conn, jobID string, p []byte) bool {
	var msg dto.ClientMessage
	if err := json.Unmarshal(p, &msg); err != nil {
		return h.write(c, dto.ErrorMessage("", "INVALID_JSON", "Invalid JSON message", time.Now()))
	}

	switch msg.Type {
	case "ping":
		return h.write(c, dto.NewEventMessage(domain.Event{Kind: domain.EventPong, Timestamp: time.Now()}))
	case "get_status":
		job, err := h.service.GetJob(context.Background(), jobID)
		if err != nil {
			h.logger.Warnw("stream_get_status_failed", "job_id", jobID, "error", err)
			return true
		}
		return h.write(c, dto.NewEventMessage(dto.StatusEvent(job, time.Now())))
	case "subscribe":
		return true
	}
	h.logger.Debugw("stream_unknown_message", "job_id", jobID, "type", msg.Type)
	return true
}

func (h *JobStreamHandler) write(c *websocket.Conn, msg dto.EventMessage) bool {
	data, err := msg.Marshal()
	if err != nil {
		h.logger.Errorw("stream_encode_failed", "type", msg.Type, "error", err)
		return true
	}
	_ = c.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Infow("stream_write_failed", "job_id", msg.JobID, "error", err)
		return false
	}
	return true
}
