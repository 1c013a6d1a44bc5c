package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/meshforge/studio/internal/core/ports"
	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/infrastructure/logger"
	"github.com/meshforge/studio/internal/transport/http/dto"
)

type JobHandler struct {
	service ports.JobService
	logger  *logger.Logger
}

func NewJobHandler(service ports.JobService, logger *logger.Logger) *JobHandler {
	return &JobHandler{service: service, logger: logger}
}

func (h *JobHandler) GenerateText(c *fiber.Ctx) error {
	var req domain.TextRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("generate_text_body_parse_failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid request body",
		})
	}

	h.logger.Infow("generate_text_request", "prompt_len", len(req.Prompt), "resolution", req.Resolution, "enhance", req.EnhancePrompt)
	job, err := h.service.SubmitText(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.logger, "generate_text_failed", err)
	}

	h.logger.Infow("generate_text_queued", "job_id", job.JobID)
	return c.Status(fiber.StatusCreated).JSON(dto.GenerationResponseFrom(job, req.Resolution))
}

func (h *JobHandler) GenerateImage(c *fiber.Ctx) error {
	req, err := parseImageForm(c)
	if err != nil {
		h.logger.Warnw("generate_image_form_invalid", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: err.Error(),
		})
	}

	h.logger.Infow("generate_image_request", "filename", req.Filename, "bytes", len(req.Data), "resolution", req.Resolution)
	job, err := h.service.SubmitImage(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.logger, "generate_image_failed", err, "filename", req.Filename)
	}

	h.logger.Infow("generate_image_queued", "job_id", job.JobID)
	return c.Status(fiber.StatusCreated).JSON(dto.GenerationResponseFrom(job, req.Resolution))
}

func parseImageForm(c *fiber.Ctx) (domain.ImageRequest, error) {
	var req domain.ImageRequest

	fh, err := c.FormFile("file")
	if err != nil {
		return req, fmt.Errorf("file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return req, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()
	if req.Data, err = io.ReadAll(f); err != nil {
		return req, fmt.Errorf("failed to read upload: %w", err)
	}
	req.Filename = fh.Filename
	req.ContentType = fh.Header.Get("Content-Type")
	if req.ContentType == "application/octet-stream" {
		req.ContentType = ""
	}

	if v := c.FormValue("enhance_prompt"); v != "" {
		if req.EnhancePrompt, err = strconv.ParseBool(v); err != nil {
			return req, fmt.Errorf("enhance_prompt must be a boolean")
		}
	}
	req.LLMProvider = domain.LLMProvider(c.FormValue("llm_provider"))
	req.Resolution = domain.Resolution(c.FormValue("resolution"))
	if v := c.FormValue("seed"); v != "" {
		seed, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("seed must be an integer")
		}
		req.Seed = &seed
	}
	for name, dst := range map[string]**domain.SamplerParams{
		"sparse_structure_sampler_params": &req.SparseStructureSamplerParams,
		"slat_sampler_params":             &req.SlatSamplerParams,
	} {
		v := c.FormValue(name)
		if v == "" {
			continue
		}
		var p domain.SamplerParams
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return req, fmt.Errorf("%s must be a JSON object", name)
		}
		*dst = &p
	}
	return req, nil
}

func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	id := c.Params("id")
	job, err := h.service.GetJob(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, "job_get_failed", err, "job_id", id)
	}
	return c.JSON(job)
}

func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	limit := dto.ValidateListLimit(c.QueryInt("limit", 10))
	list, err := h.service.ListJobs(c.UserContext(), limit)
	if err != nil {
		return respondError(c, h.logger, "jobs_list_failed", err)
	}
	h.logger.Debugw("jobs_list_success", "count", list.Total)
	return c.JSON(list)
}

func (h *JobHandler) CancelJob(c *fiber.Ctx) error {
	id := c.Params("id")
	h.logger.Infow("job_cancel_request", "job_id", id)
	job, err := h.service.CancelJob(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, "job_cancel_failed", err, "job_id", id)
	}
	return c.JSON(dto.CancelResponse{
		JobID:   job.JobID,
		Status:  job.Status,
		Message: "Job cancelled successfully",
	})
}
