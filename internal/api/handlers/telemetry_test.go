package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aktibguard/aktibguard/internal/ingest"
	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type mockIngester struct {
	result *ingest.Result
	err    error
	calls  int
	last   *pkgmodels.TelemetryPayload
}

func (m *mockIngester) Ingest(_ context.Context, payload *pkgmodels.TelemetryPayload) (*ingest.Result, error) {
	m.calls++
	m.last = payload
	return m.result, m.err
}

func setupTelemetryTestRouter(t *testing.T, ingester TelemetryIngester) *gin.Engine {
	t.Helper()
	decoder, err := ingest.NewDecoder()
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}
	handler := NewTelemetryHandler(decoder, ingester, zerolog.Nop())
	return newTestRouter(func(api *gin.RouterGroup) { handler.RegisterRoutes(api) })
}

const validTelemetry = `{
	"agent_info": {"id": "a1", "hostname": "h1", "platform": "linux"},
	"metrics": {"cpu": {"percent": 50}, "memory": {"percent": 40}},
	"threats": [{"id": "T1", "type": "malware", "severity": "high", "title": "x"}],
	"processes": [{"pid": 1, "name": "init", "username": "root", "cpu_percent": 0.1, "memory_percent": 0.2}]
}`

func TestTelemetryIngest(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		serverTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		ingester := &mockIngester{result: &ingest.Result{
			AgentID:           "a1",
			AgentsUpdated:     1,
			MetricsAccepted:   1,
			ThreatsReceived:   1,
			ThreatsAccepted:   1,
			ProcessesAccepted: 1,
			ServerTime:        serverTime,
		}}
		r := setupTelemetryTestRouter(t, ingester)

		w := doRequest(t, r, http.MethodPost, "/api/v1/telemetry", []byte(validTelemetry))
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}

		var resp pkgmodels.TelemetryResponse
		decodeJSON(t, w, &resp)
		if resp.Status != "success" {
			t.Errorf("expected status success, got %q", resp.Status)
		}
		if resp.AgentsUpdated != 1 || resp.MetricsAccepted != 1 || resp.ThreatsDetected != 1 || resp.ProcessesAccepted != 1 {
			t.Errorf("unexpected counts: %+v", resp)
		}
		if !resp.ServerTime.Equal(serverTime) {
			t.Errorf("expected server time %v, got %v", serverTime, resp.ServerTime)
		}
		if ingester.calls != 1 {
			t.Fatalf("expected 1 ingest call, got %d", ingester.calls)
		}
		if ingester.last.AgentInfo.ID != "a1" || ingester.last.AgentInfo.Platform != "linux" {
			t.Errorf("unexpected payload passed to pipeline: %+v", ingester.last.AgentInfo)
		}
	})

	t.Run("schema violation", func(t *testing.T) {
		ingester := &mockIngester{}
		r := setupTelemetryTestRouter(t, ingester)

		w := doRequest(t, r, http.MethodPost, "/api/v1/telemetry", []byte(`{"agent_info": {"hostname": "h1"}}`))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", w.Code)
		}
		var resp map[string]string
		decodeJSON(t, w, &resp)
		if !strings.Contains(resp["error"], "invalid payload") {
			t.Errorf("expected invalid payload error, got %q", resp["error"])
		}
		if ingester.calls != 0 {
			t.Errorf("pipeline must not be called for an invalid payload")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		r := setupTelemetryTestRouter(t, &mockIngester{})
		w := doRequest(t, r, http.MethodPost, "/api/v1/telemetry", []byte(`{"agent_info":`))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("pipeline rejects payload", func(t *testing.T) {
		ingester := &mockIngester{err: errors.Join(ingest.ErrInvalidPayload, errors.New("metrics: bad block"))}
		r := setupTelemetryTestRouter(t, ingester)

		w := doRequest(t, r, http.MethodPost, "/api/v1/telemetry", []byte(validTelemetry))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("storage error returns partial counts", func(t *testing.T) {
		ingester := &mockIngester{
			result: &ingest.Result{AgentsUpdated: 1, MetricsAccepted: 1, ThreatsReceived: 1},
			err:    &ingest.StorageError{Step: "threats", Err: errors.New("disk full")},
		}
		r := setupTelemetryTestRouter(t, ingester)

		w := doRequest(t, r, http.MethodPost, "/api/v1/telemetry", []byte(validTelemetry))
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status 500, got %d", w.Code)
		}
		var resp pkgmodels.TelemetryResponse
		decodeJSON(t, w, &resp)
		if resp.Status != "error" {
			t.Errorf("expected status error, got %q", resp.Status)
		}
		if resp.AgentsUpdated != 1 || resp.MetricsAccepted != 1 || resp.ThreatsAccepted != 0 {
			t.Errorf("unexpected partial counts: %+v", resp)
		}
		if !strings.Contains(resp.Error, "threats") {
			t.Errorf("expected failing step in error, got %q", resp.Error)
		}
	})

	t.Run("shutting down", func(t *testing.T) {
		r := setupTelemetryTestRouter(t, &mockIngester{err: ingest.ErrShuttingDown})

		w := doRequest(t, r, http.MethodPost, "/api/v1/telemetry", []byte(validTelemetry))
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", w.Code)
		}
		if w.Header().Get("Retry-After") == "" {
			t.Error("expected Retry-After header")
		}
	})

	t.Run("body too large", func(t *testing.T) {
		ingester := &mockIngester{}
		decoder, err := ingest.NewDecoder()
		if err != nil {
			t.Fatalf("failed to create decoder: %v", err)
		}
		handler := NewTelemetryHandler(decoder, ingester, zerolog.Nop())
		limit := func(c *gin.Context) {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 16)
			c.Next()
		}
		r := newTestRouter(func(api *gin.RouterGroup) { handler.RegisterRoutes(api, limit) })

		w := doRequest(t, r, http.MethodPost, "/api/v1/telemetry", []byte(validTelemetry))
		if w.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("expected status 413, got %d", w.Code)
		}
		if ingester.calls != 0 {
			t.Error("pipeline must not be called for an oversized body")
		}
	})
}
