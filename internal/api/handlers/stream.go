package handlers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aktibguard/aktibguard/internal/hub"
	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// EventHub is the live update fan-out the stream handler attaches clients to.
type EventHub interface {
	Subscribe(remote string) *hub.Subscription
	Unsubscribe(sub *hub.Subscription)
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// StreamHandler delivers update events over WebSocket and Server-Sent Events.
type StreamHandler struct {
	hub       EventHub
	heartbeat time.Duration
	logger    zerolog.Logger
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(h EventHub, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		hub:       h,
		heartbeat: 15 * time.Second,
		logger:    logger.With().Str("component", "stream_handler").Logger(),
	}
}

// RegisterPublicRoutes registers the websocket endpoint at the root.
func (h *StreamHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/ws", h.WebSocket)
}

// RegisterRoutes registers the SSE endpoint on the given router group.
func (h *StreamHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/stream", h.SSE)
}

// WebSocket upgrades the connection and hands it to the hub.
// GET /ws
func (h *StreamHandler) WebSocket(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}

// SSE streams update events as Server-Sent Events until the client leaves
// or the hub drops the subscription.
// GET /api/v1/stream?agent_id=&type=
func (h *StreamHandler) SSE(c *gin.Context) {
	sub := h.hub.Subscribe(c.ClientIP())
	defer h.hub.Unsubscribe(sub)

	if f := streamFilter(c); f != nil {
		sub.SetFilter(f)
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent(pkgmodels.EventConnected, &pkgmodels.UpdateEvent{
		Type:      pkgmodels.EventConnected,
		Timestamp: time.Now().UTC(),
	})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				h.logger.Debug().Str("subscriber_id", sub.ID().String()).Msg("sse subscription closed by hub")
				return false
			}
			c.SSEvent(event.Type, event)
			return true
		case <-ticker.C:
			c.SSEvent("heartbeat", gin.H{"timestamp": time.Now().UTC()})
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// streamFilter builds a hub filter from repeated or comma-separated
// agent_id and type query parameters.
func streamFilter(c *gin.Context) *hub.Filter {
	agentIDs := splitQuery(c.QueryArray("agent_id"))
	types := splitQuery(c.QueryArray("type"))
	if len(agentIDs) == 0 && len(types) == 0 {
		return nil
	}
	return &hub.Filter{AgentIDs: agentIDs, Types: types}
}

func splitQuery(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
