// Package http serves the engine's admin endpoints: liveness, readiness,
// index status and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/lexcounsel/memengine/internal/logging"
	"github.com/lexcounsel/memengine/internal/secrets"
	"github.com/lexcounsel/memengine/internal/vectorstore"
)

// Engine is the part of the engine the admin server reports on.
type Engine interface {
	Ready() bool
	Stats(ctx context.Context) (*vectorstore.IndexStats, error)
}

// Server provides the admin HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	engine   Engine
	scrubber secrets.Scrubber
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Gatherer backs /metrics. Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// MeterProvider receives the request instruments. Default: otel global.
	MeterProvider metric.MeterProvider
}

// NewServer creates a new admin server.
func NewServer(engine Engine, scrubber secrets.Scrubber, logger *logging.Logger, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("scrubber cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9464,
		}
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(newRequestMetrics(cfg.MeterProvider, logger).middleware)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			ctx := logging.WithRequestID(c.Request().Context(), c.Response().Header().Get(echo.HeaderXRequestID))

			logger.Debug(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		engine:   engine,
		scrubber: scrubber,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/ready", s.handleReady)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/scrub", s.handleScrub)
}

// HealthResponse is the response body for GET /health and GET /ready.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady reports 503 until the engine has verified its index.
func (s *Server) handleReady(c echo.Context) error {
	if !s.engine.Ready() {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "initializing"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ready"})
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	resp := StatusResponse{Status: "ok", Ready: s.engine.Ready()}

	stats, err := s.engine.Stats(ctx)
	switch {
	case errors.Is(err, vectorstore.ErrIndexNotFound):
		resp.Status = "degraded"
		var notFound *vectorstore.IndexNotFoundError
		if errors.As(err, &notFound) {
			resp.Hint = notFound.Command()
		}
	case err != nil:
		s.logger.Warn(ctx, "index stats unavailable", zap.Error(err))
		resp.Status = "degraded"
	default:
		resp.Index = &IndexStatus{
			Dimension:  stats.Dimension,
			TotalCount: stats.TotalCount,
			Namespaces: -1,
		}
		if stats.Namespaces != nil {
			resp.Index.Namespaces = len(stats.Namespaces)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleScrub previews what credential scrubbing would remove from content.
func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	result := s.scrubber.Scrub(req.Content)
	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       result.Text,
		FindingsCount: result.Total,
		ByRule:        result.ByRule,
	})
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting admin server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down admin server")
	return s.echo.Shutdown(ctx)
}
