package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/aktibguard/aktibguard/internal/ingest"
	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// TelemetryDecoder validates and decodes a raw telemetry body.
type TelemetryDecoder interface {
	Decode(body []byte) (*pkgmodels.TelemetryPayload, error)
}

// TelemetryIngester runs a decoded payload through the ingestion pipeline.
type TelemetryIngester interface {
	Ingest(ctx context.Context, payload *pkgmodels.TelemetryPayload) (*ingest.Result, error)
}

// TelemetryHandler accepts agent telemetry.
type TelemetryHandler struct {
	decoder  TelemetryDecoder
	pipeline TelemetryIngester
	logger   zerolog.Logger
}

// NewTelemetryHandler creates a new TelemetryHandler.
func NewTelemetryHandler(decoder TelemetryDecoder, pipeline TelemetryIngester, logger zerolog.Logger) *TelemetryHandler {
	return &TelemetryHandler{
		decoder:  decoder,
		pipeline: pipeline,
		logger:   logger.With().Str("component", "telemetry_handler").Logger(),
	}
}

// RegisterRoutes registers telemetry routes on the given router group.
func (h *TelemetryHandler) RegisterRoutes(r *gin.RouterGroup, mw ...gin.HandlerFunc) {
	handlers := append(mw, h.Ingest)
	r.POST("/telemetry", handlers...)
}

// Ingest accepts one agent report.
// POST /api/v1/telemetry
func (h *TelemetryHandler) Ingest(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	payload, err := h.decoder.Decode(body)
	if err != nil {
		h.logger.Debug().Err(err).Str("client_ip", c.ClientIP()).Msg("rejected telemetry payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// A client that disconnects mid-request must not cut the write sequence
	// short; the pipeline bounds it with its own timeout.
	ctx := context.WithoutCancel(c.Request.Context())

	result, err := h.pipeline.Ingest(ctx, payload)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result.Response())
	case errors.Is(err, ingest.ErrShuttingDown):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
	case errors.Is(err, ingest.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ingest.ErrStorage):
		resp := &pkgmodels.TelemetryResponse{}
		if result != nil {
			resp = result.Response()
		}
		resp.Status = "error"
		resp.Message = "Telemetry partially stored"
		resp.Error = err.Error()
		c.JSON(http.StatusInternalServerError, resp)
	default:
		h.logger.Error().Err(err).Msg("unexpected ingest failure")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process telemetry"})
	}
}
