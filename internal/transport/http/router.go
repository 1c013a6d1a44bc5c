package http

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/meshforge/studio/internal/config"
	"github.com/meshforge/studio/internal/core/ports"
	"github.com/meshforge/studio/internal/infrastructure/logger"
	"github.com/meshforge/studio/internal/transport/http/handlers"
	httpmw "github.com/meshforge/studio/internal/transport/http/middleware"
)

type RouterConfig struct {
	Jobs      ports.JobService
	Enhancer  ports.PromptEnhancer
	Artifacts ports.ArtifactStore
	Logger    *logger.Logger
	Config    *config.Config
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
	jobHandler := handlers.NewJobHandler(cfg.Jobs, cfg.Logger)
	streamHandler := handlers.NewJobStreamHandler(cfg.Jobs, cfg.Logger.Named("stream"))
	promptHandler := handlers.NewPromptHandler(cfg.Enhancer, cfg.Logger)
	healthHandler := handlers.NewHealthHandler(cfg.Jobs)
	downloadHandler := handlers.NewDownloadHandler(cfg.Artifacts, cfg.Logger)

	auth := httpmw.APITokenAuth(cfg.Config)

	// Job status push channel
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	app.Get("/ws/jobs/:id", auth, websocket.New(streamHandler.Handle))

	// API v1 routes
	api := app.Group("/api/v1")

	health := api.Group("/health")
	health.Get("/", healthHandler.Health)
	health.Get("/ready", healthHandler.Ready)
	health.Get("/live", healthHandler.Live)

	generate := api.Group("/generate", auth)
	generate.Post("/text-to-3d", jobHandler.GenerateText)
	generate.Post("/image-to-3d", jobHandler.GenerateImage)

	jobs := api.Group("/jobs", auth)
	jobs.Get("/", jobHandler.ListJobs)
	jobs.Get("/:id", jobHandler.GetJob)
	jobs.Delete("/:id", jobHandler.CancelJob)

	prompts := api.Group("/prompts", auth)
	prompts.Post("/enhance", promptHandler.Enhance)

	// Artifact links are handed to viewers as plain URLs, so they stay public.
	download := api.Group("/download")
	download.Get("/preview/:file", downloadHandler.Preview)
	download.Get("/:file", downloadHandler.Model)
}
