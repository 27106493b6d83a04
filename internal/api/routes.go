// Package api provides the HTTP API for the aktibguard server.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/aktibguard/aktibguard/internal/api/handlers"
	"github.com/aktibguard/aktibguard/internal/api/middleware"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
)

// Config holds configuration for the API router.
type Config struct {
	// AllowedOrigins for CORS. Empty means all origins are allowed.
	AllowedOrigins []string
	// RateLimitRequests is the number of telemetry posts allowed per client per period.
	RateLimitRequests int64
	// RateLimitPeriod is the rate limit window.
	RateLimitPeriod time.Duration
	// RateLimitStore backs the rate limiter. Nil means an in-memory store.
	RateLimitStore limiter.Store
	// BodyLimitBytes caps request bodies.
	BodyLimitBytes int64
	// Version information for the version and health endpoints.
	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:    []string{},
		RateLimitRequests: 600,
		RateLimitPeriod:   time.Minute,
		BodyLimitBytes:    10 << 20,
		Version:           "dev",
		Commit:            "unknown",
		BuildDate:         "unknown",
	}
}

// QueryService answers every dashboard read.
type QueryService interface {
	handlers.AgentQuerier
	handlers.ThreatQuerier
	handlers.DashboardQuerier
}

// Dependencies are the components the routes are served from.
type Dependencies struct {
	Store    handlers.DatabaseHealthChecker
	Decoder  handlers.TelemetryDecoder
	Pipeline handlers.TelemetryIngester
	Query    QueryService
	Hub      handlers.EventHub
	Sweeper  handlers.SweepRunner
	// Shutdown and System are optional.
	Shutdown handlers.ShutdownStatusProvider
	System   handlers.SystemStatsCollector
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

func (d Dependencies) validate() error {
	switch {
	case d.Store == nil:
		return errors.New("api: store is required")
	case d.Decoder == nil || d.Pipeline == nil:
		return errors.New("api: telemetry decoder and pipeline are required")
	case d.Query == nil:
		return errors.New("api: query service is required")
	case d.Hub == nil:
		return errors.New("api: hub is required")
	case d.Sweeper == nil:
		return errors.New("api: sweeper is required")
	}
	return nil
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Dependencies, logger zerolog.Logger) (*Router, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.SecurityHeaders())
	r.Engine.Use(middleware.CORS(cfg.AllowedOrigins, logger))
	if cfg.BodyLimitBytes > 0 {
		r.Engine.Use(middleware.BodyLimitMiddleware(cfg.BodyLimitBytes))
	}

	store := cfg.RateLimitStore
	if store == nil {
		store = middleware.NewMemoryStore()
	}
	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod, store)
	if err != nil {
		return nil, err
	}

	// Operational endpoints
	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Shutdown, deps.System, cfg.Version, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	versionHandler := handlers.NewVersionHandler(cfg.Version, cfg.Commit, cfg.BuildDate, logger)
	versionHandler.RegisterPublicRoutes(r.Engine)

	if deps.Metrics != nil {
		handlers.NewMetricsHandler(deps.Metrics).RegisterPublicRoutes(r.Engine)
	}

	streamHandler := handlers.NewStreamHandler(deps.Hub, logger)
	streamHandler.RegisterPublicRoutes(r.Engine)

	// API v1 routes
	apiV1 := r.Engine.Group("/api/v1")

	telemetryHandler := handlers.NewTelemetryHandler(deps.Decoder, deps.Pipeline, logger)
	telemetryHandler.RegisterRoutes(apiV1, rateLimiter)

	agentsHandler := handlers.NewAgentsHandler(deps.Query, logger)
	agentsHandler.RegisterRoutes(apiV1)

	threatsHandler := handlers.NewThreatsHandler(deps.Query, logger)
	threatsHandler.RegisterRoutes(apiV1)

	dashboardHandler := handlers.NewDashboardHandler(deps.Query, logger)
	dashboardHandler.RegisterRoutes(apiV1)

	streamHandler.RegisterRoutes(apiV1)

	maintenanceHandler := handlers.NewMaintenanceHandler(deps.Sweeper, logger)
	maintenanceHandler.RegisterRoutes(apiV1)

	r.logger.Info().Msg("API router initialized")

	return r, nil
}

// ServeHTTP lets the router be used as an http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.Engine.ServeHTTP(w, req)
}
