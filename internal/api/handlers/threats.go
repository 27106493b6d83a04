package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/aktibguard/aktibguard/internal/db"
	"github.com/aktibguard/aktibguard/internal/models"
	"github.com/aktibguard/aktibguard/internal/query"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ThreatQuerier defines the threat operations used by the threats handler.
type ThreatQuerier interface {
	Threats(ctx context.Context, status models.ThreatStatus, limit int) ([]*models.ThreatEvent, error)
	SetThreatStatus(ctx context.Context, id string, status models.ThreatStatus) error
}

// UpdateThreatStatusRequest is the request body for an operator status change.
type UpdateThreatStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ThreatsHandler handles threat-related HTTP endpoints.
type ThreatsHandler struct {
	query  ThreatQuerier
	logger zerolog.Logger
}

// NewThreatsHandler creates a new ThreatsHandler.
func NewThreatsHandler(query ThreatQuerier, logger zerolog.Logger) *ThreatsHandler {
	return &ThreatsHandler{
		query:  query,
		logger: logger.With().Str("component", "threats_handler").Logger(),
	}
}

// RegisterRoutes registers threat routes on the given router group.
func (h *ThreatsHandler) RegisterRoutes(r *gin.RouterGroup) {
	threats := r.Group("/threats")
	{
		threats.GET("", h.List)
		threats.PATCH("/:id", h.UpdateStatus)
	}
}

// List returns threats in a status, newest first.
// GET /api/v1/threats?status=&limit=
func (h *ThreatsHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	threats, err := h.query.Threats(c.Request.Context(), models.ThreatStatus(c.Query("status")), limit)
	if err != nil {
		if errors.Is(err, query.ErrInvalidArgument) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error().Err(err).Msg("failed to list threats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list threats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"threats": threats})
}

// UpdateStatus changes the status of a threat.
// PATCH /api/v1/threats/:id
func (h *ThreatsHandler) UpdateStatus(c *gin.Context) {
	id := c.Param("id")

	var req UpdateThreatStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := h.query.SetThreatStatus(c.Request.Context(), id, models.ThreatStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, query.ErrInvalidArgument):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, db.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "threat not found"})
		default:
			h.logger.Error().Err(err).Str("threat_id", id).Msg("failed to update threat status")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update threat status"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}
