package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/meshforge/studio/internal/config"
	"github.com/meshforge/studio/internal/core/ports"
	"github.com/meshforge/studio/internal/core/services"
	"github.com/meshforge/studio/internal/infrastructure/db"
	"github.com/meshforge/studio/internal/infrastructure/logger"
	"github.com/meshforge/studio/internal/infrastructure/storage"
	transporthttp "github.com/meshforge/studio/internal/transport/http"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	var (
		database *gorm.DB
		repo     ports.JobRepository
		backend  = "memory"
	)
	if cfg.Database.Enabled {
		database, err = db.NewPostgresConnection(cfg.Database)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		log.Info("database connection established")

		if err := db.RunMigrations(database); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		log.Info("database migrations completed")
		repo = db.NewJobRepository(database, log.Named("db"))
		backend = "postgres"
	} else {
		repo = db.NewMemoryJobRepository(log.Named("db"))
		log.Info("database disabled; jobs are kept in memory")
	}

	artifacts, err := storage.NewFileArtifactStore(cfg.Simulator.OutputDir, log.Named("artifacts"))
	if err != nil {
		log.Fatalf("failed to prepare output dir: %v", err)
	}

	enhancer := services.NewStaticEnhancer()
	jobService := services.NewJobService(services.JobServiceConfig{
		Repository: repo,
		Artifacts:  artifacts,
		Enhancer:   enhancer,
		Logger:     log,
		Simulator:  cfg.Simulator,
		Backend:    backend,
	})

	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	cleanup := services.NewCleanupService(services.CleanupConfig{
		Repository: repo,
		Artifacts:  artifacts,
		Logger:     log,
		Retention:  cfg.Simulator.Retention,
		Interval:   cfg.Simulator.CleanupInterval,
	})
	go cleanup.Run(cleanupCtx)

	app := transporthttp.NewApp(cfg, log)
	transporthttp.SetupRoutes(app, transporthttp.RouterConfig{
		Jobs:      jobService,
		Enhancer:  enhancer,
		Artifacts: artifacts,
		Logger:    log,
		Config:    cfg,
	})

	addr := cfg.Server.Address()
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		log.Fatalf("server failed to start: %v", err)
	}

	go func() {
		if err := app.Listener(ln); err != nil {
			log.Fatalf("server failed to start: %v", err)
		}
	}()

	log.Infof("devserver listening on %s (artifacts in %s)", addr, artifacts.Dir())
	log.Infof("point the client at api.base_url=http://%s", addr)

	gracefulShutdown(app, jobService, stopCleanup, database, log)
}

func gracefulShutdown(app *fiber.App, jobs *services.JobService, stopCleanup context.CancelFunc, database *gorm.DB, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Errorf("server forced to shutdown: %v", err)
	}

	stopCleanup()
	jobs.Close()

	if err := db.Close(database); err != nil {
		log.Errorf("failed to close database connection: %v", err)
	}

	log.Info("server exited gracefully")
}
