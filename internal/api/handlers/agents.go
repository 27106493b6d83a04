package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/aktibguard/aktibguard/internal/db"
	"github.com/aktibguard/aktibguard/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AgentQuerier defines the fleet reads used by the agents handler.
type AgentQuerier interface {
	Fleet(ctx context.Context) ([]*models.FleetAgent, error)
	Agent(ctx context.Context, id string) (*models.AgentDetail, error)
	Processes(ctx context.Context, agentID string, limit int) ([]*models.ProcessSnapshot, error)
}

// AgentsHandler handles agent-related HTTP endpoints.
type AgentsHandler struct {
	query  AgentQuerier
	logger zerolog.Logger
}

// NewAgentsHandler creates a new AgentsHandler.
func NewAgentsHandler(query AgentQuerier, logger zerolog.Logger) *AgentsHandler {
	return &AgentsHandler{
		query:  query,
		logger: logger.With().Str("component", "agents_handler").Logger(),
	}
}

// RegisterRoutes registers agent routes on the given router group.
func (h *AgentsHandler) RegisterRoutes(r *gin.RouterGroup) {
	agents := r.Group("/agents")
	{
		agents.GET("", h.List)
		agents.GET("/:id", h.Get)
		agents.GET("/:id/processes", h.Processes)
	}
}

// List returns every agent with its latest metrics and active threat count.
// GET /api/v1/agents
func (h *AgentsHandler) List(c *gin.Context) {
	fleet, err := h.query.Fleet(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list agents")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list agents"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"agents": fleet})
}

// Get returns a single agent with its latest raw metrics and recent processes.
// GET /api/v1/agents/:id
func (h *AgentsHandler) Get(c *gin.Context) {
	id := c.Param("id")

	detail, err := h.query.Agent(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		h.logger.Error().Err(err).Str("agent_id", id).Msg("failed to get agent")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get agent"})
		return
	}

	c.JSON(http.StatusOK, detail)
}

// Processes returns the most recent process snapshots of an agent.
// GET /api/v1/agents/:id/processes?limit=
func (h *AgentsHandler) Processes(c *gin.Context) {
	id := c.Param("id")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	procs, err := h.query.Processes(c.Request.Context(), id, limit)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		h.logger.Error().Err(err).Str("agent_id", id).Msg("failed to list processes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list processes"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"processes": procs})
}
