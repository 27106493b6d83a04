package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MetricsHandler serves the Prometheus scrape endpoint.
type MetricsHandler struct {
	handler http.Handler
}

// NewMetricsHandler wraps a Prometheus exposition handler.
func NewMetricsHandler(h http.Handler) *MetricsHandler {
	return &MetricsHandler{handler: h}
}

// RegisterPublicRoutes registers metrics routes that don't require authentication.
func (h *MetricsHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/metrics", h.Metrics)
}

// Metrics returns metrics in Prometheus exposition format.
// GET /metrics
func (h *MetricsHandler) Metrics(c *gin.Context) {
	h.handler.ServeHTTP(c.Writer, c.Request)
}
