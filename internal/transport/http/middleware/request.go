package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/meshforge/studio/internal/infrastructure/logger"
)

const RequestIDKey = "request_id"

// RequestID reuses the caller's request id from header when present and
// echoes it on the response.
func RequestID(header string) fiber.Handler {
	if header == "" {
		header = fiber.HeaderXRequestID
	}
	return func(c *fiber.Ctx) error {
		reqID := c.Get(header)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals(RequestIDKey, reqID)
		c.Set(header, reqID)
		return c.Next()
	}
}

func AccessLog(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		routePath := ""
		if c.Route() != nil {
			routePath = c.Route().Path
		}
		log.Infow("http_access",
			"method", c.Method(),
			"path", c.Path(),
			"route", routePath,
			"query", string(c.Request().URI().QueryString()),
			"status", c.Response().StatusCode(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.IP(),
			"user_agent", string(c.Request().Header.UserAgent()),
			"request_id", c.Locals(RequestIDKey),
			"req_bytes", len(c.Request().Body()),
			"resp_bytes", len(c.Response().Body()),
		)
		return err
	}
}
