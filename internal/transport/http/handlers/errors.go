package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/meshforge/studio/internal/core/services"
	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/infrastructure/logger"
	"github.com/meshforge/studio/internal/transport/http/dto"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrArtifactNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrArtifactInvalid),
		errors.Is(err, services.ErrPromptEmpty),
		errors.Is(err, services.ErrJobFinished):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrQueueFull), errors.Is(err, services.ErrServiceDown):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// respondError logs err under event and writes it as {"error": ...}. Client
// mistakes log at warn, everything else at error.
func respondError(c *fiber.Ctx, log *logger.Logger, event string, err error, keysAndValues ...any) error {
	status := statusFor(err)
	kv := append([]any{"status", status, "error", err}, keysAndValues...)
	if status >= fiber.StatusInternalServerError && status != fiber.StatusServiceUnavailable {
		log.Errorw(event, kv...)
	} else {
		log.Warnw(event, kv...)
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error()})
}
