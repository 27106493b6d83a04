// Package metrics exposes aktibguard's Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aktibguard"

// PrometheusMetrics holds the server's collectors. It satisfies the
// recorder interfaces of the ingest pipeline, the hub and the sweeper.
type PrometheusMetrics struct {
	IngestCounter    *prometheus.CounterVec
	IngestDuration   prometheus.Histogram
	ThreatCounter    *prometheus.CounterVec
	BroadcastDropped prometheus.Counter
	SubscriberGauge  prometheus.Gauge
	AgentGauge       *prometheus.GaugeVec
	SweepDeleted     *prometheus.CounterVec
	SweepDuration    *prometheus.HistogramVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		IngestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Telemetry payloads processed, by result.",
		}, []string{"result"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time spent processing one telemetry payload.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10},
		}),
		ThreatCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threats_ingested_total",
			Help:      "Threat events accepted, by severity.",
		}, []string{"severity"}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Update events dropped because a subscriber was saturated.",
		}),
		SubscriberGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Connected live update subscribers.",
		}),
		AgentGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents",
			Help:      "Agents by status as of the last sweep.",
		}, []string{"status"}),
		SweepDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_rows_deleted_total",
			Help:      "Rows removed by retention sweeps, by relation.",
		}, []string{"relation"}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweep actions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
	}

	collectors := []prometheus.Collector{
		m.IngestCounter,
		m.IngestDuration,
		m.ThreatCounter,
		m.BroadcastDropped,
		m.SubscriberGauge,
		m.AgentGauge,
		m.SweepDeleted,
		m.SweepDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	return m, nil
}

// ObserveIngest records one processed payload.
func (m *PrometheusMetrics) ObserveIngest(result string, d time.Duration) {
	m.IngestCounter.WithLabelValues(result).Inc()
	m.IngestDuration.Observe(d.Seconds())
}

// RecordThreat counts an accepted threat.
func (m *PrometheusMetrics) RecordThreat(severity string) {
	m.ThreatCounter.WithLabelValues(severity).Inc()
}

// RecordBroadcastDropped counts a dropped update event.
func (m *PrometheusMetrics) RecordBroadcastDropped() {
	m.BroadcastDropped.Inc()
}

// SetSubscribers sets the subscriber gauge.
func (m *PrometheusMetrics) SetSubscribers(n int) {
	m.SubscriberGauge.Set(float64(n))
}

// SetAgentCount sets the number of agents with the given status.
func (m *PrometheusMetrics) SetAgentCount(status string, n int) {
	m.AgentGauge.WithLabelValues(status).Set(float64(n))
}

// RecordSweepDeleted adds rows removed from relation.
func (m *PrometheusMetrics) RecordSweepDeleted(relation string, n int64) {
	m.SweepDeleted.WithLabelValues(relation).Add(float64(n))
}

// ObserveSweepAction records how long a sweep action took.
func (m *PrometheusMetrics) ObserveSweepAction(action string, d time.Duration) {
	m.SweepDuration.WithLabelValues(action).Observe(d.Seconds())
}

// Handler serves the metrics gathered by g in the exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
