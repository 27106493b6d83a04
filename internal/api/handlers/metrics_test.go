package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/aktibguard/aktibguard/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewPrometheusMetrics(reg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	m.RecordThreat("critical")
	m.SetSubscribers(3)

	r := gin.New()
	NewMetricsHandler(metrics.Handler(reg)).RegisterPublicRoutes(r)

	w := doRequest(t, r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	for _, want := range []string{
		`aktibguard_threats_ingested_total{severity="critical"} 1`,
		`aktibguard_subscribers 3`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}
