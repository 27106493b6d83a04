package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestMetrics(t *testing.T) (*PrometheusMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewPrometheusMetrics(reg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m, reg
}

func TestPrometheus_Ingest(t *testing.T) {
	m, _ := newTestMetrics(t)

	t.Run("counts results separately", func(t *testing.T) {
		m.ObserveIngest("success", 10*time.Millisecond)
		m.ObserveIngest("success", 20*time.Millisecond)
		m.ObserveIngest("invalid", time.Millisecond)

		if val := getCounterValue(t, m.IngestCounter, "success"); val != 2 {
			t.Errorf("expected 2, got %f", val)
		}
		if val := getCounterValue(t, m.IngestCounter, "invalid"); val != 1 {
			t.Errorf("expected 1, got %f", val)
		}
	})

	t.Run("observes duration", func(t *testing.T) {
		var metric dto.Metric
		if err := m.IngestDuration.Write(&metric); err != nil {
			t.Fatalf("failed to write metric: %v", err)
		}
		if got := metric.GetHistogram().GetSampleCount(); got != 3 {
			t.Errorf("expected 3 observations, got %d", got)
		}
	})
}

func TestPrometheus_Threats(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordThreat("high")
	m.RecordThreat("high")
	m.RecordThreat("critical")

	if val := getCounterValue(t, m.ThreatCounter, "high"); val != 2 {
		t.Errorf("expected 2, got %f", val)
	}
	if val := getCounterValue(t, m.ThreatCounter, "critical"); val != 1 {
		t.Errorf("expected 1, got %f", val)
	}
}

func TestPrometheus_Hub(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordBroadcastDropped()
	m.SetSubscribers(4)
	m.SetSubscribers(3)

	var metric dto.Metric
	if err := m.BroadcastDropped.Write(&metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 1 {
		t.Errorf("expected 1 drop, got %f", got)
	}

	metric.Reset()
	if err := m.SubscriberGauge.Write(&metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if got := metric.GetGauge().GetValue(); got != 3 {
		t.Errorf("expected 3 subscribers, got %f", got)
	}
}

func TestPrometheus_Sweep(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordSweepDeleted("metrics", 5)
	m.RecordSweepDeleted("metrics", 2)
	m.RecordSweepDeleted("processes", 0)
	m.ObserveSweepAction("liveness", 150*time.Millisecond)
	m.SetAgentCount("online", 3)
	m.SetAgentCount("online", 1)

	if val := getCounterValue(t, m.SweepDeleted, "metrics"); val != 7 {
		t.Errorf("expected 7, got %f", val)
	}
	if val := getCounterValue(t, m.SweepDeleted, "processes"); val != 0 {
		t.Errorf("expected 0, got %f", val)
	}
	count, sum := getHistogramValues(t, m.SweepDuration, "liveness")
	if count != 1 || sum != 0.15 {
		t.Errorf("unexpected histogram count=%d sum=%f", count, sum)
	}
	if val := getGaugeValue(t, m.AgentGauge, "online"); val != 1 {
		t.Errorf("expected 1, got %f", val)
	}
}

func TestPrometheus_Registration(t *testing.T) {
	t.Run("fails on duplicate registration", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		if _, err := NewPrometheusMetrics(reg); err != nil {
			t.Fatalf("first registration failed: %v", err)
		}
		if _, err := NewPrometheusMetrics(reg); err == nil {
			t.Fatal("expected error on duplicate registration")
		}
	})
}

func TestHandler(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.ObserveIngest("success", time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `aktibguard_ingest_total{result="success"} 1`) {
		t.Errorf("expected ingest counter in exposition, got:\n%s", body)
	}
}

// Helper functions for extracting Prometheus metric values.

func getCounterValue(t *testing.T, counter *prometheus.CounterVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	if err := counter.WithLabelValues(label).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func getGaugeValue(t *testing.T, gauge *prometheus.GaugeVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	if err := gauge.WithLabelValues(label).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func getHistogramValues(t *testing.T, hist *prometheus.HistogramVec, label string) (uint64, float64) {
	t.Helper()
	observer := hist.WithLabelValues(label)
	var m dto.Metric
	if err := observer.(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum()
}
