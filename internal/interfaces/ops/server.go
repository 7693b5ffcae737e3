// Package ops serves the worker's health probes, Prometheus metrics and an
// HTTP entry point to the pipeline.
package ops

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/infrastructure/monitoring/logging"
	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/pkg/errors"
)

// ServerConfig configures the ops server.
type ServerConfig struct {
	Addr    string
	Mode    string // gin mode
	Version string
}

// Server is the ops HTTP server.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
	logger logging.Logger
}

// ServerOption configures a Server.
type ServerOption func(*serverParts)

type serverParts struct {
	health   *HealthHandler
	metrics  http.Handler
	pipeline Pipeline
	limiter  RateLimiter
}

// WithHealth serves /healthz and /readyz.
func WithHealth(h *HealthHandler) ServerOption {
	return func(p *serverParts) { p.health = h }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(p *serverParts) { p.metrics = h }
}

// WithPipeline serves POST /v1/process and /v1/batch.
func WithPipeline(pl Pipeline) ServerOption {
	return func(p *serverParts) { p.pipeline = pl }
}

// WithRateLimit limits the /v1 routes per client IP.
func WithRateLimit(l RateLimiter) ServerOption {
	return func(p *serverParts) { p.limiter = l }
}

// NewServer builds the router.
func NewServer(cfg ServerConfig, logger logging.Logger, opts ...ServerOption) *Server {
	logger = logging.OrNop(logger)
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9090"
	}

	var parts serverParts
	for _, o := range opts {
		o(&parts)
	}
	if parts.health == nil {
		parts.health = NewHealthHandler(cfg.Version, nil)
	}

	engine := gin.New()
	engine.Use(Recovery(logger), RequestLogging(logger, DefaultLoggingConfig()))
	engine.GET("/healthz", parts.health.Liveness)
	engine.GET("/readyz", parts.health.Readiness)
	if parts.metrics != nil {
		engine.GET("/metrics", gin.WrapH(parts.metrics))
	}
	if parts.pipeline != nil {
		ph := NewProcessHandler(parts.pipeline)
		v1 := engine.Group("/v1")
		if parts.limiter != nil {
			v1.Use(RateLimit(parts.limiter))
		}
		{
			v1.POST("/process", ph.Process)
			v1.POST("/batch", ph.Batch)
		}
	}
	engine.NoRoute(func(c *gin.Context) {
		writeError(c, errors.New(errors.ErrCodeNotFound, "route not found"))
	})

	return &Server{
		engine: engine,
		logger: logger,
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      5 * time.Minute,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", logging.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, errors.ErrCodeInternal, "ops server failed")
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "ops server shutdown failed")
	}
	s.logger.Info("ops server stopped")
	return nil
}
