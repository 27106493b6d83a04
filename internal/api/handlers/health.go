package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/aktibguard/aktibguard/internal/health"
	"github.com/aktibguard/aktibguard/internal/shutdown"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDraining  HealthStatus = "draining"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status   HealthStatus   `json:"status"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status    HealthStatus                  `json:"status"`
	Timestamp time.Time                     `json:"timestamp"`
	Version   string                        `json:"version,omitempty"`
	Uptime    float64                       `json:"uptime_seconds,omitempty"`
	Shutdown  *shutdown.Status              `json:"shutdown,omitempty"`
	Checks    map[string]*HealthCheckResult `json:"checks,omitempty"`
	Error     string                        `json:"error,omitempty"`
}

// DatabaseHealthChecker defines the interface for database health checking.
type DatabaseHealthChecker interface {
	Ping(ctx context.Context) error
	Health() map[string]any
}

// ShutdownStatusProvider reports the server's shutdown progress.
type ShutdownStatusProvider interface {
	GetStatus() shutdown.Status
}

// SystemStatsCollector samples the host the server runs on.
type SystemStatsCollector interface {
	Collect(ctx context.Context) (*health.SystemStats, error)
}

// HealthHandler handles health-related HTTP endpoints.
type HealthHandler struct {
	db        DatabaseHealthChecker
	shutdown  ShutdownStatusProvider
	system    SystemStatsCollector
	version   string
	startedAt time.Time
	logger    zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. shutdown and system may be nil.
func NewHealthHandler(db DatabaseHealthChecker, shutdown ShutdownStatusProvider, system SystemStatsCollector, version string, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		shutdown:  shutdown,
		system:    system,
		version:   version,
		startedAt: time.Now(),
		logger:    logger.With().Str("component", "health_handler").Logger(),
	}
}

// RegisterPublicRoutes registers health check routes that don't require authentication.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	health := r.Group("/health")
	{
		health.GET("", h.Overall)
		health.GET("/db", h.Database)
		health.GET("/system", h.System)
	}
}

// Overall returns the overall server health status.
// GET /health
func (h *HealthHandler) Overall(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := &HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Uptime:    time.Since(h.startedAt).Seconds(),
		Checks:    make(map[string]*HealthCheckResult),
	}

	dbResult := h.checkDatabase(ctx)
	response.Checks["database"] = dbResult

	if h.shutdown != nil {
		status := h.shutdown.GetStatus()
		response.Shutdown = &status
		if !status.Accepting {
			response.Status = HealthStatusDraining
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
	}

	if dbResult.Status == HealthStatusUnhealthy {
		response.Status = HealthStatusUnhealthy
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// Database returns the database health status.
// GET /health/db
func (h *HealthHandler) Database(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	result := h.checkDatabase(ctx)

	response := &HealthResponse{
		Status:    result.Status,
		Timestamp: time.Now().UTC(),
		Checks: map[string]*HealthCheckResult{
			"database": result,
		},
	}

	if result.Status == HealthStatusUnhealthy {
		response.Error = result.Error
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// System returns resource usage of the host the server runs on.
// GET /health/system
func (h *HealthHandler) System(c *gin.Context) {
	if h.system == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "system stats not available"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	stats, err := h.system.Collect(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to collect system stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to collect system stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// checkDatabase performs a database health check.
func (h *HealthHandler) checkDatabase(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	result := &HealthCheckResult{
		Status: HealthStatusHealthy,
	}

	if h.db == nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database not configured"
		result.Duration = time.Since(start).String()
		return result
	}

	err := h.db.Ping(ctx)
	result.Duration = time.Since(start).String()

	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database ping failed"
		h.logger.Warn().Err(err).Msg("database health check failed")
		return result
	}

	result.Details = h.db.Health()

	return result
}
