// Package api is the HTTP surface: project and event CRUD, the ingest
// endpoints used by editor hooks, the AI conversation API, the insight
// endpoints, and the websocket event stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codetrail/codetrail/pkg/services"
	"github.com/codetrail/codetrail/pkg/store"
	"github.com/codetrail/codetrail/pkg/version"
)

// Config carries the server-level knobs the API needs.
type Config struct {
	Port        int
	CORSEnabled bool
	CORSOrigins []string
}

// Server wires the services into a gin router.
type Server struct {
	cfg      Config
	store    *store.Store
	projects *services.ProjectService
	events   *services.EventService
	ai       *services.AIService
	insights *services.InsightService
	logger   *slog.Logger

	router *gin.Engine
	httpd  *http.Server
}

func NewServer(cfg Config, st *store.Store, projects *services.ProjectService, events *services.EventService, ai *services.AIService, insights *services.InsightService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		store:    st,
		projects: projects,
		events:   events,
		ai:       ai,
		insights: insights,
		logger:   logger.With("component", "api"),
		router:   router,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.router
	if s.cfg.CORSEnabled {
		r.Use(corsMiddleware(s.cfg.CORSOrigins))
	}

	r.GET("/health", s.handleHealth)

	r.POST("/projects", s.handleCreateProject)
	r.GET("/projects", s.handleListProjects)
	r.GET("/projects/:id", s.handleGetProject)
	r.PATCH("/projects/:id", s.handleUpdateProject)
	r.DELETE("/projects/:id", s.handleDeleteProject)
	r.GET("/projects/:id/config", s.handleGetProjectConfig)
	r.PUT("/projects/:id/config", s.handlePutProjectConfig)
	r.GET("/projects/:id/technical-doc", s.handleTechnicalDoc)
	r.POST("/projects/:id/technical-doc/refresh", s.handleRefreshTechnicalDoc)

	r.GET("/events", s.handleListEvents)
	r.GET("/events/stream", s.handleEventStream)
	r.GET("/events/export", s.handleExportEvents)

	r.POST("/prompt", s.handlePrompt)
	r.POST("/copilot", s.handleCopilot)
	r.POST("/error", s.handleError)

	// The stats route must be registered before the parameterized
	// conversation routes so "stats" is never parsed as an id.
	r.GET("/ai-chat/stats", s.handleAIStats)
	r.POST("/ai-chat", s.handleIngestConversation)
	r.GET("/ai-chat", s.handleListConversations)
	r.GET("/ai-chat/:id", s.handleGetConversation)
	r.GET("/ai-chat/:id/timeline", s.handleConversationTimeline)
	r.POST("/ai-chat/:id/match", s.handleRematchConversation)

	r.POST("/summary/run", s.handleRunSummary)
	r.GET("/summary/latest", s.handleLatestSummary)
	r.POST("/analyze-change", s.handleAnalyzeChange)
	r.POST("/implications", s.handleImplications)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpd = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "port", s.cfg.Port)
	if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpd == nil {
		return nil
	}
	return s.httpd.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	total, err := s.store.CountEvents(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Full(), "events": total})
}
