package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"gopilot/config"
	"gopilot/internal/observability"
	"gopilot/internal/upstream"
)

// Server wraps the Echo server.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Options wires the optional subsystems into the router. Nil fields disable
// the corresponding routes.
type Options struct {
	Metrics *observability.Metrics
	Agent   AgentService
	Logger  *slog.Logger
}

// New creates the HTTP server and registers all routes.
func New(cfg *config.Config, invoker *upstream.Invoker, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handler := NewHandler(cfg, invoker, opts.Agent)

	// Global middleware stack (order matters)
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(c.Request().Context(), level, "request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(cfg.Server.BodySizeLimit))

	if opts.Metrics != nil {
		e.Use(requestMetrics(opts.Metrics))
	}

	// Public routes
	e.GET("/healthz", handler.Health)
	if cfg.Metrics.Enabled && opts.Metrics != nil {
		// Normalize the path to prevent traversal via configuration.
		e.GET(path.Clean(cfg.Metrics.Endpoint), echo.WrapHandler(opts.Metrics.Handler()))
	}

	// API routes
	e.GET("/v1/models", handler.ListModels)
	e.POST("/v1/chat/completions", handler.ChatCompletion)
	e.POST("/vertex/predict", handler.VertexPredict)
	e.POST("/tools/:name/invoke", handler.InvokeTool)
	if opts.Agent != nil {
		e.POST("/agent/query", handler.AgentQuery)
	}

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// requestMetrics counts each request once the handler has committed its
// response.
func requestMetrics(m *observability.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			m.ObserveRequest(c.Path(), c.Response().Status)
			return err
		}
	}
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler, allowing Server to be used with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
