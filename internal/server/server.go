package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kevingruber/h5p-cache/internal/config"
	"github.com/kevingruber/h5p-cache/internal/editor"
	"github.com/kevingruber/h5p-cache/internal/handler"
	"github.com/kevingruber/h5p-cache/internal/middleware"
	"github.com/kevingruber/h5p-cache/internal/player"
	"github.com/kevingruber/h5p-cache/internal/storage"
)

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators the routes are wired to.
type Dependencies struct {
	Store    storage.ObjectStore
	Syncer   handler.Syncer
	Renderer player.Renderer
	Editor   editor.Editor
	Entries  handler.EntryLister
	// Lock is probed by /health when the lock is remote. Optional.
	Lock Pinger
}

// Server represents the HTTP server.
type Server struct {
	cfg     *config.Config
	router  *gin.Engine
	deps    Dependencies
	logger  zerolog.Logger
	metrics *middleware.Metrics
}

// New creates a new server instance.
func New(cfg *config.Config, deps Dependencies, logger zerolog.Logger) (*Server, error) {
	// Set Gin mode based on environment and log level
	if cfg.IsDev() || cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		router: gin.New(),
		deps:   deps,
		logger: logger,
	}

	// Initialize metrics if enabled
	if cfg.Metrics.Enabled {
		metrics, err := middleware.NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		s.metrics = metrics
	}

	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() error {
	// Recovery middleware
	s.router.Use(gin.Recovery())

	// Logging middleware
	s.router.Use(middleware.RequestLogger(s.logger))

	// Metrics middleware
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware())
	}

	// Health endpoints
	s.router.GET("/ping", s.handlePing)
	s.router.GET("/health", s.handleHealth)

	// Metrics endpoint
	if s.cfg.Metrics.Enabled {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	localizer := handler.Localizer{Language: s.cfg.Player.Language}

	playHandler, err := handler.NewPlayHandler(s.deps.Syncer, s.deps.Renderer, localizer, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize play handler: %w", err)
	}
	editorHandler := handler.NewEditorHandler(s.deps.Editor, localizer, s.logger)
	adminHandler := handler.NewAdminHandler(s.deps.Store, s.deps.Entries, s.deps.Syncer, s.cfg.MaxArchiveSizeBytes(), s.logger)

	// Content routes identify the user when credentials are sent
	content := s.router.Group("", middleware.Identify(s.cfg.Auth.Users))

	content.GET("/s3/:objectName/:contentId", playHandler.PlayFromStore)
	content.GET(s.cfg.Player.BasePath+"/:contentId", playHandler.Play)

	content.GET("/edit/:contentId", editorHandler.Edit)
	content.GET("/new", editorHandler.New)
	content.POST("/edit/:contentId", editorHandler.Update)
	content.POST("/new", editorHandler.Create)
	content.GET("/delete/:contentId", editorHandler.Delete)

	// Diagnostics require a configured user
	admin := content.Group("/admin", middleware.RequireUser())
	admin.GET("/buckets", adminHandler.ListBuckets)
	admin.GET("/objects", adminHandler.ListObjects)
	admin.PUT("/objects/*key", adminHandler.PutObject)
	admin.DELETE("/objects/*key", adminHandler.DeleteObject)
	admin.GET("/cache", adminHandler.ListCache)
	admin.DELETE("/cache/:contentId", adminHandler.PurgeCache)

	return nil
}

// handlePing is a simple health check endpoint.
func (s *Server) handlePing(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

// handleHealth performs a detailed health check including storage connectivity.
func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()

	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Error().Err(err).Msg("health check failed: storage unreachable")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"storage": "unreachable",
			"error":   err.Error(),
		})
		return
	}

	body := gin.H{
		"status":  "healthy",
		"storage": "connected",
	}

	if s.deps.Lock != nil {
		if err := s.deps.Lock.Ping(ctx); err != nil {
			s.logger.Error().Err(err).Msg("health check failed: lock unreachable")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"storage": "connected",
				"lock":    "unreachable",
				"error":   err.Error(),
			})
			return
		}
		body["lock"] = "connected"
	}

	c.JSON(http.StatusOK, body)
}

// Run starts the HTTP server.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	// Channel to capture server errors
	errCh := make(chan error, 1)

	go func() {
		if s.cfg.Server.TLS.Enabled {
			s.logger.Info().
				Str("addr", addr).
				Str("mode", "https").
				Msg("starting server with TLS")
			if err := srv.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		} else {
			s.logger.Info().
				Str("addr", addr).
				Str("mode", "http").
				Msg("starting server")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Router returns the Gin router for testing purposes.
func (s *Server) Router() *gin.Engine {
	return s.router
}
