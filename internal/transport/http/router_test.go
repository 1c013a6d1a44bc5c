package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/meshforge/studio/internal/config"
	"github.com/meshforge/studio/internal/core/services"
	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/infrastructure/db"
	"github.com/meshforge/studio/internal/infrastructure/logger"
	"github.com/meshforge/studio/internal/infrastructure/storage"
	transporthttp "github.com/meshforge/studio/internal/transport/http"
	"go.uber.org/zap/zaptest"
)

const testToken = "secret"

type apiFixture struct {
	app       *fiber.App
	artifacts *storage.FileArtifactStore
}

func testConfig(token string) *config.Config {
	return &config.Config{
		Features: config.FeaturesConfig{RequestIDHeader: "X-Request-ID"},
		Auth:     config.AuthConfig{APIToken: token},
	}
}

func newAPI(t *testing.T, log *logger.Logger, sim config.SimulatorConfig) apiFixture {
	t.Helper()
	cfg := testConfig(testToken)
	artifacts, err := storage.NewFileArtifactStore(t.TempDir(), log)
	if err != nil {
		t.Fatal(err)
	}
	enhancer := services.NewStaticEnhancer()
	jobs := services.NewJobService(services.JobServiceConfig{
		Repository: db.NewMemoryJobRepository(log),
		Artifacts:  artifacts,
		Enhancer:   enhancer,
		Logger:     log,
		Simulator:  sim,
	})
	t.Cleanup(jobs.Close)

	app := transporthttp.NewApp(cfg, log)
	transporthttp.SetupRoutes(app, transporthttp.RouterConfig{
		Jobs:      jobs,
		Enhancer:  enhancer,
		Artifacts: artifacts,
		Logger:    log,
		Config:    cfg,
	})
	return apiFixture{app: app, artifacts: artifacts}
}

func (f apiFixture) do(t *testing.T, method, path string, body any, token string) (int, []byte, nethttp.Header) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data, resp.Header
}

func errorText(t *testing.T, data []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("error body %q: %v", data, err)
	}
	return body.Error
}

func TestRoutes_AuthAndHealth(t *testing.T) {
	f := newAPI(t, logger.Wrap(zaptest.NewLogger(t)), config.SimulatorConfig{StepDelay: time.Hour})

	status, data, _ := f.do(t, nethttp.MethodPost, "/api/v1/generate/text-to-3d", domain.TextRequest{Prompt: "x"}, "")
	if status != fiber.StatusUnauthorized || errorText(t, data) != "unauthorized" {
		t.Errorf("no token: %d %s", status, data)
	}
	status, _, _ = f.do(t, nethttp.MethodGet, "/api/v1/jobs", nil, "wrong")
	if status != fiber.StatusUnauthorized {
		t.Errorf("wrong token: %d", status)
	}

	status, data, hdr := f.do(t, nethttp.MethodGet, "/api/v1/health", nil, "")
	if status != fiber.StatusOK {
		t.Fatalf("health: %d %s", status, data)
	}
	var health domain.HealthResponse
	if err := json.Unmarshal(data, &health); err != nil || health.Status != "healthy" || health.Queue.WorkersAvailable != 1 {
		t.Errorf("health = %+v, %v", health, err)
	}
	if hdr.Get("X-Request-ID") == "" {
		t.Error("response carries no request id")
	}

	for _, path := range []string{"/api/v1/health/ready", "/api/v1/health/live"} {
		if status, _, _ := f.do(t, nethttp.MethodGet, path, nil, ""); status != fiber.StatusOK {
			t.Errorf("%s: %d", path, status)
		}
	}
	if status, _, _ := f.do(t, nethttp.MethodGet, "/ws/jobs/abc", nil, testToken); status != fiber.StatusUpgradeRequired {
		t.Errorf("plain GET on websocket route: %d", status)
	}
}

func TestRoutes_JobLifecycle(t *testing.T) {
	f := newAPI(t, logger.Wrap(zaptest.NewLogger(t)), config.SimulatorConfig{StepDelay: time.Hour, Workers: 1})

	status, data, _ := f.do(t, nethttp.MethodPost, "/api/v1/generate/text-to-3d", domain.TextRequest{
		Prompt:            "a wooden chair",
		GenerationOptions: domain.GenerationOptions{Resolution: domain.ResolutionLow},
	}, testToken)
	if status != fiber.StatusCreated {
		t.Fatalf("create: %d %s", status, data)
	}
	var created domain.GenerationResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatal(err)
	}
	if created.JobID == "" || created.Status != domain.JobStatusQueued || created.EstimatedTime != 60 ||
		created.WebsocketURL != "/ws/jobs/"+created.JobID {
		t.Errorf("created = %+v", created)
	}

	status, data, _ = f.do(t, nethttp.MethodGet, "/api/v1/jobs/"+created.JobID, nil, testToken)
	var job domain.Job
	if status != fiber.StatusOK || json.Unmarshal(data, &job) != nil || job.JobID != created.JobID || job.Input.Prompt != "a wooden chair" {
		t.Errorf("get: %d %s", status, data)
	}

	status, data, _ = f.do(t, nethttp.MethodGet, "/api/v1/jobs?limit=5", nil, testToken)
	var list domain.JobList
	if status != fiber.StatusOK || json.Unmarshal(data, &list) != nil || list.Total != 1 {
		t.Errorf("list: %d %s", status, data)
	}

	status, data, _ = f.do(t, nethttp.MethodDelete, "/api/v1/jobs/"+created.JobID, nil, testToken)
	if status != fiber.StatusOK {
		t.Errorf("cancel: %d %s", status, data)
	}
	status, data, _ = f.do(t, nethttp.MethodDelete, "/api/v1/jobs/"+created.JobID, nil, testToken)
	if status != fiber.StatusBadRequest {
		t.Errorf("second cancel: %d %s", status, data)
	}

	status, data, _ = f.do(t, nethttp.MethodGet, "/api/v1/jobs/nope", nil, testToken)
	if status != fiber.StatusNotFound || errorText(t, data) == "" {
		t.Errorf("missing job: %d %s", status, data)
	}

	status, data, _ = f.do(t, nethttp.MethodPost, "/api/v1/generate/text-to-3d", domain.TextRequest{Prompt: " "}, testToken)
	if status != fiber.StatusBadRequest {
		t.Errorf("blank prompt: %d %s", status, data)
	}
}

func TestRoutes_PromptEnhance(t *testing.T) {
	f := newAPI(t, logger.Wrap(zaptest.NewLogger(t)), config.SimulatorConfig{StepDelay: time.Hour})

	status, data, _ := f.do(t, nethttp.MethodPost, "/api/v1/prompts/enhance", domain.PromptEnhanceRequest{Prompt: "robot", Provider: domain.LLMProviderGroq}, testToken)
	var resp domain.PromptEnhanceResponse
	if status != fiber.StatusOK || json.Unmarshal(data, &resp) != nil || resp.Provider != "groq" || resp.EnhancedPrompt == "" {
		t.Errorf("enhance: %d %s", status, data)
	}
	status, _, _ = f.do(t, nethttp.MethodPost, "/api/v1/prompts/enhance", domain.PromptEnhanceRequest{}, testToken)
	if status != fiber.StatusBadRequest {
		t.Errorf("empty prompt: %d", status)
	}
}

func TestRoutes_Downloads(t *testing.T) {
	f := newAPI(t, logger.Wrap(zaptest.NewLogger(t)), config.SimulatorConfig{StepDelay: time.Hour})
	if _, err := f.artifacts.Write(context.Background(), "job1", domain.ArtifactPLY, []byte("ply\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.artifacts.Write(context.Background(), "job1", domain.ArtifactPreview, []byte("png")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/api/v1/download/job1.ply", fiber.StatusOK, "ply\n"},
		{"/api/v1/download/preview/job1.png", fiber.StatusOK, "png"},
		{"/api/v1/download/job1.glb", fiber.StatusNotFound, ""},
		{"/api/v1/download/job1.obj", fiber.StatusBadRequest, ""},
		{"/api/v1/download/preview/job1.jpg", fiber.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		status, data, _ := f.do(t, nethttp.MethodGet, tt.path, nil, "")
		if status != tt.status {
			t.Errorf("GET %s = %d %s, want %d", tt.path, status, data, tt.status)
			continue
		}
		if tt.body != "" && string(data) != tt.body {
			t.Errorf("GET %s body = %q", tt.path, data)
		}
	}
}
