package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/meshforge/studio/internal/core/ports"
	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/infrastructure/logger"
	"github.com/meshforge/studio/internal/transport/http/dto"
)

type PromptHandler struct {
	enhancer ports.PromptEnhancer
	logger   *logger.Logger
}

func NewPromptHandler(enhancer ports.PromptEnhancer, logger *logger.Logger) *PromptHandler {
	return &PromptHandler{enhancer: enhancer, logger: logger}
}

func (h *PromptHandler) Enhance(c *fiber.Ctx) error {
	var req domain.PromptEnhanceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid request body",
		})
	}
	resp, err := h.enhancer.Enhance(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.logger, "prompt_enhance_failed", err)
	}
	return c.JSON(resp)
}

type HealthHandler struct {
	service ports.JobService
}

func NewHealthHandler(service ports.JobService) *HealthHandler {
	return &HealthHandler{service: service}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(h.service.Health(c.UserContext()))
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	if h.service.Health(c.UserContext()).Status != "healthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "alive"})
}

type DownloadHandler struct {
	artifacts ports.ArtifactStore
	logger    *logger.Logger
}

func NewDownloadHandler(artifacts ports.ArtifactStore, logger *logger.Logger) *DownloadHandler {
	return &DownloadHandler{artifacts: artifacts, logger: logger}
}

// Model serves /download/{id}.glb and /download/{id}.ply.
func (h *DownloadHandler) Model(c *fiber.Ctx) error {
	file := c.Params("file")
	var kind domain.ArtifactKind
	switch {
	case strings.HasSuffix(file, ".glb"):
		kind = domain.ArtifactGLB
	case strings.HasSuffix(file, ".ply"):
		kind = domain.ArtifactPLY
	default:
		return respondError(c, h.logger, "download_bad_name", domain.ErrArtifactInvalid, "file", file)
	}
	return h.send(c, strings.TrimSuffix(file, "."+string(kind)), kind, true)
}

// Preview serves /download/preview/{id}.png.
func (h *DownloadHandler) Preview(c *fiber.Ctx) error {
	file := c.Params("file")
	if !strings.HasSuffix(file, ".png") {
		return respondError(c, h.logger, "download_bad_name", domain.ErrArtifactInvalid, "file", file)
	}
	return h.send(c, strings.TrimSuffix(file, ".png"), domain.ArtifactPreview, false)
}

func (h *DownloadHandler) send(c *fiber.Ctx, jobID string, kind domain.ArtifactKind, attachment bool) error {
	path, err := h.artifacts.Path(jobID, kind)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "file not found"})
		}
		return respondError(c, h.logger, "download_failed", err, "job_id", jobID, "kind", kind)
	}
	h.logger.Debugw("download_serve", "job_id", jobID, "kind", kind)
	if attachment {
		return c.Download(path, c.Params("file"))
	}
	return c.SendFile(path)
}
