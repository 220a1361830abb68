// codetrail records local development activity: file changes of watched
// projects, prompts and AI conversations pushed by editor hooks, and the
// LLM-backed summaries and correlations built on top of them.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codetrail/codetrail/pkg/api"
	"github.com/codetrail/codetrail/pkg/arch"
	"github.com/codetrail/codetrail/pkg/config"
	"github.com/codetrail/codetrail/pkg/correlate"
	"github.com/codetrail/codetrail/pkg/events"
	"github.com/codetrail/codetrail/pkg/llm"
	"github.com/codetrail/codetrail/pkg/models"
	"github.com/codetrail/codetrail/pkg/queue"
	"github.com/codetrail/codetrail/pkg/services"
	"github.com/codetrail/codetrail/pkg/store"
	"github.com/codetrail/codetrail/pkg/version"
	"github.com/codetrail/codetrail/pkg/watch"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)
	logger.Info("Starting "+version.Full(),
		"port", cfg.Port,
		"db_path", cfg.DBPath,
		"workers", cfg.WorkerCount,
		"llm_enabled", cfg.LLMEnabled())

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("Could not open store", "db_path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Error closing store", "error", err)
		}
	}()

	var client llm.Client = llm.Noop{}
	if cfg.LLMEnabled() {
		client = llm.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel, logger)
		logger.Info("OpenAI client initialized", "model", cfg.OpenAIModel, "matching_model", cfg.OpenAIMatchingModel)
	} else {
		logger.Info("OPENAI_API_KEY not set, LLM features disabled")
	}

	hub := events.NewHub(cfg.StreamBuffer, logger)
	pool := queue.NewPool(cfg.WorkerCount, logger)

	eventSvc := services.NewEventService(st, hub, pool, nil, logger)
	tracker := arch.NewTracker(st, eventSvc, client, cfg.OpenAIModel, logger)
	eventSvc.AttachTracker(tracker)

	correlator := correlate.New(st, eventSvc, client, cfg.OpenAIMatchingModel,
		time.Duration(cfg.MatchWindowSeconds)*time.Second, logger)

	supervisor := watch.NewSupervisor(eventSvc, cfg.IgnoreParts, cfg.MaxBytes,
		time.Duration(cfg.DebounceMS)*time.Millisecond, logger)

	projectSvc := services.NewProjectService(st, supervisor, tracker, logger)
	aiSvc := services.NewAIService(st, pool, correlator, logger)
	insightSvc := services.NewInsightService(st, eventSvc, client, cfg.OpenAIModel,
		cfg.RepoPath, cfg.SummaryEventLimit, cfg.SummaryCharLimit, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootstrapProject(ctx, cfg, projectSvc, logger)

	if err := supervisor.Boot(ctx, st); err != nil {
		logger.Error("Watcher boot failed", "error", err)
	}

	server := api.NewServer(api.Config{
		Port:        cfg.Port,
		CORSEnabled: cfg.CORSEnabled,
		CORSOrigins: cfg.CORSOrigins,
	}, st, projectSvc, eventSvc, aiSvc, insightSvc, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	supervisor.Shutdown()
	pool.Stop()
	hub.Close()
	logger.Info("Shutdown complete")
}

// bootstrapProject registers REPO_PATH as a watched project on first
// start. An already registered path is left alone.
func bootstrapProject(ctx context.Context, cfg config.Config, projects *services.ProjectService, logger *slog.Logger) {
	if cfg.RepoPath == "" {
		return
	}

	abs, err := filepath.Abs(cfg.RepoPath)
	if err != nil {
		logger.Warn("Could not resolve REPO_PATH", "repo_path", cfg.RepoPath, "error", err)
		return
	}

	p, err := projects.Create(ctx, models.Project{
		Name:   filepath.Base(abs),
		Path:   abs,
		Active: true,
	})
	switch {
	case err == nil:
		logger.Info("Bootstrap project registered", "project_id", p.ID, "path", abs)
	case errors.Is(err, store.ErrConflict):
		logger.Debug("Bootstrap project already registered", "path", abs)
	default:
		logger.Warn("Could not register bootstrap project", "path", abs, "error", err)
	}
}
