package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

type Resolution string

const (
	ResolutionLow    Resolution = "low"
	ResolutionMedium Resolution = "medium"
	ResolutionHigh   Resolution = "high"
)

type LLMProvider string

const (
	LLMProviderOllama LLMProvider = "ollama"
	LLMProviderGroq   LLMProvider = "groq"
)

const MaxPromptLength = 1000

type SamplerParams struct {
	Steps       int     `json:"steps"`
	CfgStrength float64 `json:"cfg_strength"`
}

// GenerationOptions are the knobs shared by text and image submissions.
type GenerationOptions struct {
	EnhancePrompt                bool           `json:"enhance_prompt"`
	LLMProvider                  LLMProvider    `json:"llm_provider,omitempty"`
	Seed                         *int           `json:"seed,omitempty"`
	Resolution                   Resolution     `json:"resolution,omitempty"`
	SparseStructureSamplerParams *SamplerParams `json:"sparse_structure_sampler_params,omitempty"`
	SlatSamplerParams            *SamplerParams `json:"slat_sampler_params,omitempty"`
}

type TextRequest struct {
	Prompt string `json:"prompt"`
	GenerationOptions
}

type ImageRequest struct {
	Filename    string
	ContentType string
	Data        []byte
	GenerationOptions
}

// GenerationRequest carries exactly one of Text or Image.
type GenerationRequest struct {
	Text  *TextRequest
	Image *ImageRequest
}

func (r GenerationRequest) Kind() InputType {
	if r.Image != nil {
		return InputTypeImage
	}
	return InputTypeText
}

// Input builds the echo of the request stored on the job record.
func (r GenerationRequest) Input() *JobInput {
	if r.Image != nil {
		return &JobInput{
			Type:          InputTypeImage,
			ImageFilename: r.Image.Filename,
			Parameters:    r.Image.GenerationOptions.Parameters(),
		}
	}
	if r.Text != nil {
		return &JobInput{
			Type:       InputTypeText,
			Prompt:     r.Text.Prompt,
			Parameters: r.Text.GenerationOptions.Parameters(),
		}
	}
	return nil
}

func (r GenerationRequest) Validate() error {
	switch {
	case r.Text != nil && r.Image != nil:
		return fmt.Errorf("%w: text and image are mutually exclusive", ErrInvalidRequest)
	case r.Text != nil:
		return r.Text.Validate()
	case r.Image != nil:
		return r.Image.Validate()
	}
	return fmt.Errorf("%w: no input given", ErrInvalidRequest)
}

func (r *TextRequest) Validate() error {
	prompt := strings.TrimSpace(r.Prompt)
	if prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(r.Prompt) > MaxPromptLength {
		return fmt.Errorf("%w: prompt exceeds %d characters", ErrInvalidRequest, MaxPromptLength)
	}
	return r.GenerationOptions.Validate()
}

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

func (r *ImageRequest) Validate() error {
	if len(r.Data) == 0 {
		return fmt.Errorf("%w: image is empty", ErrInvalidRequest)
	}
	if r.Filename == "" {
		return fmt.Errorf("%w: image filename is required", ErrInvalidRequest)
	}
	if r.ContentType == "" {
		r.ContentType = ContentTypeForFilename(r.Filename)
	}
	if !allowedImageTypes[r.ContentType] {
		return fmt.Errorf("%w: unsupported image type %q", ErrInvalidRequest, r.ContentType)
	}
	return r.GenerationOptions.Validate()
}

func (o GenerationOptions) Validate() error {
	switch o.Resolution {
	case "", ResolutionLow, ResolutionMedium, ResolutionHigh:
	default:
		return fmt.Errorf("%w: unknown resolution %q", ErrInvalidRequest, o.Resolution)
	}
	switch o.LLMProvider {
	case "", LLMProviderOllama, LLMProviderGroq:
	default:
		return fmt.Errorf("%w: unknown llm provider %q", ErrInvalidRequest, o.LLMProvider)
	}
	for name, p := range map[string]*SamplerParams{
		"sparse_structure_sampler_params": o.SparseStructureSamplerParams,
		"slat_sampler_params":             o.SlatSamplerParams,
	} {
		if p == nil {
			continue
		}
		if p.Steps < 1 || p.Steps > 50 {
			return fmt.Errorf("%w: %s.steps must be within 1..50", ErrInvalidRequest, name)
		}
		if p.CfgStrength < 0 || p.CfgStrength > 20 {
			return fmt.Errorf("%w: %s.cfg_strength must be within 0..20", ErrInvalidRequest, name)
		}
	}
	return nil
}

// Parameters flattens the options into the loose map echoed on JobInput.
func (o GenerationOptions) Parameters() map[string]any {
	params := map[string]any{
		"enhance_prompt": o.EnhancePrompt,
	}
	if o.Resolution != "" {
		params["resolution"] = string(o.Resolution)
	}
	if o.LLMProvider != "" {
		params["llm_provider"] = string(o.LLMProvider)
	}
	if o.Seed != nil {
		params["seed"] = *o.Seed
	}
	if o.SparseStructureSamplerParams != nil {
		params["sparse_structure_sampler_params"] = *o.SparseStructureSamplerParams
	}
	if o.SlatSamplerParams != nil {
		params["slat_sampler_params"] = *o.SlatSamplerParams
	}
	return params
}

func ContentTypeForFilename(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	}
	return "application/octet-stream"
}

// EstimatedSeconds mirrors the backend's per-resolution time estimate.
func (r Resolution) EstimatedSeconds() int {
	switch r {
	case ResolutionLow:
		return 60
	case ResolutionHigh:
		return 180
	}
	return 120
}

// ==================== RESPONSES ====================

type GenerationResponse struct {
	JobID         string     `json:"job_id"`
	Status        JobStatus  `json:"status"`
	CreatedAt     *Timestamp `json:"created_at"`
	EstimatedTime int        `json:"estimated_time"`
	WebsocketURL  string     `json:"websocket_url"`
}

type PromptEnhanceRequest struct {
	Prompt   string      `json:"prompt"`
	Provider LLMProvider `json:"provider"`
	Model    string      `json:"model,omitempty"`
}

type PromptEnhanceResponse struct {
	OriginalPrompt string `json:"original_prompt"`
	EnhancedPrompt string `json:"enhanced_prompt"`
	Provider       string `json:"provider"`
	ModelUsed      string `json:"model_used"`
}

type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
	Queue    QueueHealth       `json:"queue"`
}

type QueueHealth struct {
	Pending          int `json:"pending"`
	Processing       int `json:"processing"`
	WorkersAvailable int `json:"workers_available"`
}

type JobList struct {
	Jobs      []Job `json:"jobs"`
	Total     int   `json:"total"`
	QueueSize int   `json:"queue_size"`
}
