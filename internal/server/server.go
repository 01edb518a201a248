// Package server exposes the engine over HTTP (echo) with OpenAPI request
// validation, server-sent progress events, Prometheus metrics and an optional
// gRPC health endpoint.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"teamflow/internal/agent"
	"teamflow/internal/engine"
	"teamflow/internal/events"
	"teamflow/internal/logger"
	"teamflow/internal/metrics"
	"teamflow/internal/store"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Backend is what the API serves
type Backend struct {
	Engine  *engine.Engine
	Agents  *agent.Registry
	Store   store.Store
	Bus     *events.Bus
	Metrics *metrics.Collector
}

// Config contains server configuration
type Config struct {
	Port        int
	GRPCPort    int
	APIKey      string
	RateLimit   float64
	CORSOrigins []string
}

// Server represents the HTTP API server
type Server struct {
	echo      *echo.Echo
	port      int
	apiKey    string
	config    Config
	startTime time.Time
	server    *http.Server
	handlers  *Handlers
	metrics   *metrics.Collector
	grpc      *GRPCServer
}

// NewServer creates a new HTTP API server for the given backend
func NewServer(backend Backend, config Config) (*Server, error) {
	if backend.Engine == nil || backend.Store == nil {
		return nil, fmt.Errorf("engine and store are required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	server := &Server{
		echo:      e,
		port:      config.Port,
		apiKey:    config.APIKey,
		config:    config,
		startTime: time.Now(),
		metrics:   backend.Metrics,
	}

	server.handlers = NewHandlers(backend, server.startTime)

	doc, err := LoadSpec()
	if err != nil {
		return nil, err
	}
	validator, err := requestValidator(doc)
	if err != nil {
		return nil, err
	}

	server.setupMiddleware(validator)
	RegisterHandlers(server.echo, server.handlers)

	if config.GRPCPort > 0 {
		server.grpc = NewGRPCServer(config.GRPCPort, config.APIKey)
	}

	return server, nil
}

// setupMiddleware configures Echo middleware
func (s *Server) setupMiddleware(validator echo.MiddlewareFunc) {
	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"*"},
	}))

	if s.config.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(s.config.RateLimit))))
	}

	s.echo.Use(s.requestLogger())
	s.echo.Use(middleware.Recover())

	// API Key authentication middleware (optional)
	if s.apiKey != "" {
		s.echo.Use(s.apiKeyMiddleware)
	}

	s.echo.Use(validator)
}

// requestLogger logs every request through zap and feeds the HTTP metrics
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		BeforeNextFunc: func(c echo.Context) {
			req := c.Request()
			lgr := logger.FromContext(req.Context()).With(zap.String("method", req.Method), zap.String("uri", req.RequestURI))
			c.SetRequest(req.WithContext(logger.WithLogger(req.Context(), lgr)))
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if s.metrics != nil {
				s.metrics.RecordHTTPRequest(v.Method, routeLabel(c), v.Status, v.Latency)
			}
			lgr := logger.FromContext(c.Request().Context())
			fields := []zap.Field{zap.Int("status", v.Status), zap.Duration("latency", v.Latency)}
			if v.Error != nil {
				lgr.Warn("Request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			lgr.Debug("Request served", fields...)
			return nil
		},
	})
}

// routeLabel keeps metric cardinality bounded by using the route template
func routeLabel(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}

// apiKeyMiddleware validates API key if configured. Probes and metrics
// scraping stay open.
func (s *Server) apiKeyMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Request().URL.Path
		if path == "/health" || path == "/metrics" || strings.HasPrefix(path, "/openapi") {
			return next(c)
		}
		apiKey := c.Request().Header.Get("X-API-Key")
		if apiKey == "" || apiKey != s.apiKey {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or missing API key")
		}
		return next(c)
	}
}

// Handler exposes the echo instance, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server and, when configured, the gRPC health server.
// Runs started over HTTP inherit ctx, so cancelling it cancels them.
func (s *Server) Start(ctx context.Context) error {
	lgr := logger.FromContext(ctx)

	s.handlers.runCtx = ctx

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	s.port = listener.Addr().(*net.TCPAddr).Port

	s.echo.Logger.SetOutput(zap.NewStdLog(lgr).Writer())

	s.server = &http.Server{
		Handler:     s.echo,
		ReadTimeout: 30 * time.Second,
		// no write timeout: event streams and waiting executions stay open
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	lgr.Info("Starting HTTP API server",
		zap.Int("port", s.port),
		zap.String("address", s.GetURL()))

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			lgr.Error("HTTP server error", zap.Error(err))
		}
	}()

	if s.grpc != nil {
		if err := s.grpc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start gRPC server: %w", err)
		}
	}

	return nil
}

// Stop gracefully stops the servers
func (s *Server) Stop(ctx context.Context, timeout time.Duration) error {
	lgr := logger.FromContext(ctx)

	if s.grpc != nil {
		s.grpc.SetServing(false)
		if err := s.grpc.Stop(ctx); err != nil {
			lgr.Warn("Error stopping gRPC server", zap.Error(err))
		}
	}

	if s.server == nil {
		return nil
	}

	lgr.Info("Stopping HTTP API server", zap.Int("port", s.port))

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		lgr.Error("Error during server shutdown", zap.Error(err))
		return err
	}

	lgr.Info("HTTP API server stopped successfully")
	return nil
}

// Port returns the server port
func (s *Server) Port() int {
	return s.port
}

// GetURL returns the base URL for the server
func (s *Server) GetURL() string {
	return fmt.Sprintf("http://localhost:%d", s.port)
}
