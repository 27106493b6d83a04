package handlers

import (
	"context"
	"net/http"

	"github.com/aktibguard/aktibguard/internal/maintenance"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SweepRunner runs one retention and liveness sweep on demand.
type SweepRunner interface {
	RunNow(ctx context.Context) *maintenance.SweepResult
}

// MaintenanceHandler exposes the sweeper to operators.
type MaintenanceHandler struct {
	sweeper SweepRunner
	logger  zerolog.Logger
}

// NewMaintenanceHandler creates a new MaintenanceHandler.
func NewMaintenanceHandler(sweeper SweepRunner, logger zerolog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		sweeper: sweeper,
		logger:  logger.With().Str("component", "maintenance_handler").Logger(),
	}
}

// RegisterRoutes registers maintenance routes on the given router group.
func (h *MaintenanceHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/maintenance/sweep", h.Sweep)
}

// Sweep runs a sweep immediately and reports what it did. A sweep with
// failed actions still returns 200 with the errors listed; its successful
// actions have been applied.
// POST /api/v1/maintenance/sweep
func (h *MaintenanceHandler) Sweep(c *gin.Context) {
	// The per-action timeouts bound the sweep, not the client connection.
	result := h.sweeper.RunNow(context.WithoutCancel(c.Request.Context()))

	h.logger.Info().
		Int64("metrics_deleted", result.MetricsDeleted).
		Int64("processes_deleted", result.ProcessesDeleted).
		Int("agents_marked_offline", len(result.AgentsOffline)).
		Bool("ok", result.OK()).
		Msg("manual sweep finished")

	c.JSON(http.StatusOK, result)
}
