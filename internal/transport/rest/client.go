package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/infrastructure/logger"
)

const apiPrefix = "/api/v1"

// RequestError is a rejected REST call: the backend answered with a
// non-2xx status.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *RequestError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}

type ClientConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
	Logger     *logger.Logger
}

// Client talks to the generation backend's REST API.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	logger     *logger.Logger
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "meshforge-studio"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		userAgent:  ua,
		httpClient: httpClient,
		logger:     log.Named("rest"),
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// ==================== GENERATION ====================

func (c *Client) CreateTextJob(ctx context.Context, req domain.TextRequest) (*domain.GenerationResponse, error) {
	var resp domain.GenerationResponse
	if err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/generate/text-to-3d", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CreateImageJob(ctx context.Context, req domain.ImageRequest) (*domain.GenerationResponse, error) {
	body, contentType, err := encodeImageForm(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	var resp domain.GenerationResponse
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/generate/image-to-3d", body, contentType, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func encodeImageForm(req domain.ImageRequest) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	contentType := req.ContentType
	if contentType == "" {
		contentType = domain.ContentTypeForFilename(req.Filename)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, req.Filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"enhance_prompt": strconv.FormatBool(req.EnhancePrompt),
	}
	if req.LLMProvider != "" {
		fields["llm_provider"] = string(req.LLMProvider)
	}
	if req.Resolution != "" {
		fields["resolution"] = string(req.Resolution)
	}
	if req.Seed != nil {
		fields["seed"] = strconv.Itoa(*req.Seed)
	}
	for name, p := range map[string]*domain.SamplerParams{
		"sparse_structure_sampler_params": req.SparseStructureSamplerParams,
		"slat_sampler_params":             req.SlatSamplerParams,
	} {
		if p == nil {
			continue
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, "", err
		}
		fields[name] = string(raw)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// ==================== JOBS ====================

func (c *Client) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	if err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	return c.doJSON(ctx, http.MethodDelete, apiPrefix+"/jobs/"+url.PathEscape(jobID), nil, nil)
}

func (c *Client) ListJobs(ctx context.Context, limit int) (*domain.JobList, error) {
	path := apiPrefix + "/jobs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var list domain.JobList
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// ==================== MISC ====================

func (c *Client) EnhancePrompt(ctx context.Context, req domain.PromptEnhanceRequest) (*domain.PromptEnhanceResponse, error) {
	var resp domain.PromptEnhanceResponse
	if err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/prompts/enhance", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Health(ctx context.Context) (*domain.HealthResponse, error) {
	var resp domain.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, apiPrefix+"/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Download streams one artifact of a finished job into w and returns the
// number of bytes written.
func (c *Client) Download(ctx context.Context, jobID string, kind domain.ArtifactKind, w io.Writer) (int64, error) {
	path := DownloadPath(jobID, kind)
	if path == "" {
		return 0, fmt.Errorf("unknown artifact kind %q", kind)
	}
	resp, err := c.send(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, c.requestError(http.MethodGet, path, resp)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read artifact: %w", err)
	}
	return n, nil
}

// DownloadPath is the API path of an artifact, relative to the base URL.
func DownloadPath(jobID string, kind domain.ArtifactKind) string {
	id := url.PathEscape(jobID)
	switch kind {
	case domain.ArtifactGLB:
		return apiPrefix + "/download/" + id + ".glb"
	case domain.ArtifactPLY:
		return apiPrefix + "/download/" + id + ".ply"
	case domain.ArtifactPreview:
		return apiPrefix + "/download/preview/" + id + ".png"
	}
	return ""
}

// DownloadURL is the absolute address of an artifact.
func DownloadURL(baseURL, jobID string, kind domain.ArtifactKind) string {
	path := DownloadPath(jobID, kind)
	if path == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + path
}

// ==================== PLUMBING ====================

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	start := time.Now()
	resp, err := c.send(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Debugw("api_response",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.requestError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response from %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warnw("api_network_error", "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("%s %s: request failed: %w", method, path, err)
	}
	return resp, nil
}

// requestError builds a RequestError, taking the message from either the
// {"detail": ...} or {"error": ...} body shape.
func (c *Client) requestError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	detail := ""
	if json.Unmarshal(raw, &body) == nil {
		var s string
		switch {
		case len(body.Detail) > 0 && json.Unmarshal(body.Detail, &s) == nil:
			detail = s
		case len(body.Detail) > 0:
			detail = string(body.Detail)
		default:
			detail = body.Error
		}
	}
	if detail == "" {
		detail = strings.TrimSpace(string(raw))
	}
	c.logger.Warnw("api_bad_status", "method", method, "path", path, "status", resp.StatusCode, "detail", detail)
	return &RequestError{Method: method, Path: path, StatusCode: resp.StatusCode, Detail: detail}
}
