package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/aktibguard/aktibguard/internal/models"
	"github.com/aktibguard/aktibguard/internal/query"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// DashboardQuerier defines the aggregate reads used by the dashboard handler.
type DashboardQuerier interface {
	Summary(ctx context.Context) (*models.FleetSummary, error)
	Timeline(ctx context.Context, hours int, agentID string) ([]*models.TimelineBucket, error)
}

// DashboardHandler serves the fleet headline numbers and metric timeline.
type DashboardHandler struct {
	query  DashboardQuerier
	logger zerolog.Logger
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(query DashboardQuerier, logger zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		query:  query,
		logger: logger.With().Str("component", "dashboard_handler").Logger(),
	}
}

// RegisterRoutes registers dashboard routes on the given router group.
func (h *DashboardHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/dashboard/stats", h.Stats)
	r.GET("/metrics/timeline", h.Timeline)
}

// Stats returns the fleet summary.
// GET /api/v1/dashboard/stats
func (h *DashboardHandler) Stats(c *gin.Context) {
	summary, err := h.query.Summary(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to compute fleet summary")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get dashboard stats"})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Timeline returns hourly metric averages.
// GET /api/v1/metrics/timeline?hours=&agent_id=
func (h *DashboardHandler) Timeline(c *gin.Context) {
	hours := 0
	if raw := c.Query("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hours"})
			return
		}
		hours = n
	}
	agentID := c.Query("agent_id")

	buckets, err := h.query.Timeline(c.Request.Context(), hours, agentID)
	if err != nil {
		if errors.Is(err, query.ErrInvalidArgument) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to build metric timeline")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get metric timeline"})
		return
	}

	if hours == 0 {
		hours = query.DefaultTimelineHours
	}
	c.JSON(http.StatusOK, gin.H{
		"hours":    hours,
		"agent_id": agentID,
		"timeline": buckets,
	})
}
