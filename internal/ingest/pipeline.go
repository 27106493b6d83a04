// Package ingest turns agent telemetry payloads into durable records and a
// live update event.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/aktibguard/aktibguard/internal/models"
	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
	"github.com/rs/zerolog"
)

// Store is the slice of the telemetry store the pipeline appends to.
type Store interface {
	AppendMetric(ctx context.Context, sample *models.MetricSample) error
	UpsertThreat(ctx context.Context, threat *models.ThreatEvent) error
	AppendProcesses(ctx context.Context, procs []*models.ProcessSnapshot) error
}

// AgentRegistry records agent reports under the per-agent lock.
type AgentRegistry interface {
	Touch(ctx context.Context, info pkgmodels.AgentInfo, now time.Time) (*models.Agent, error)
}

// Publisher receives the update event of every successful ingest.
type Publisher interface {
	Publish(event *pkgmodels.UpdateEvent)
}

// Recorder receives ingest metrics.
type Recorder interface {
	ObserveIngest(result string, d time.Duration)
	RecordThreat(severity string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveIngest(string, time.Duration) {}
func (nopRecorder) RecordThreat(string)                 {}

// Ingest result labels.
const (
	ResultSuccess      = "success"
	ResultInvalid      = "invalid"
	ResultStorageError = "storage_error"
	ResultRejected     = "shutting_down"
)

// Config holds pipeline limits.
type Config struct {
	// MaxProcesses caps the process snapshots stored per payload.
	MaxProcesses int
	// WriteTimeout bounds all store writes of one payload.
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxProcesses: 10,
		WriteTimeout: 10 * time.Second,
	}
}

// Result reports what an ingest accepted. On a storage error it holds the
// counts committed before the failure.
type Result struct {
	AgentID           string
	AgentsUpdated     int
	MetricsAccepted   int
	ThreatsReceived   int
	ThreatsAccepted   int
	ThreatsRejected   int
	ProcessesAccepted int
	ProcessesDropped  int
	ServerTime        time.Time
}

// Response converts the result to the agent-facing acknowledgement.
func (r *Result) Response() *pkgmodels.TelemetryResponse {
	return &pkgmodels.TelemetryResponse{
		Status:            "success",
		Message:           "Telemetry received",
		AgentsUpdated:     r.AgentsUpdated,
		MetricsAccepted:   r.MetricsAccepted,
		ThreatsDetected:   r.ThreatsReceived,
		ThreatsAccepted:   r.ThreatsAccepted,
		ThreatsRejected:   r.ThreatsRejected,
		ProcessesAccepted: r.ProcessesAccepted,
		ProcessesDropped:  r.ProcessesDropped,
		ServerTime:        r.ServerTime,
	}
}

// Pipeline validates a payload, writes it through the registry and the
// store in a fixed order and publishes one update event.
type Pipeline struct {
	store     Store
	registry  AgentRegistry
	publisher Publisher
	recorder  Recorder
	config    Config
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// NewPipeline creates a pipeline. publisher may be nil.
func NewPipeline(store Store, registry AgentRegistry, publisher Publisher, cfg Config, logger zerolog.Logger) *Pipeline {
	if cfg.MaxProcesses <= 0 {
		cfg.MaxProcesses = DefaultConfig().MaxProcesses
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Pipeline{
		store:     store,
		registry:  registry,
		publisher: publisher,
		recorder:  nopRecorder{},
		config:    cfg,
		logger:    logger.With().Str("component", "ingest").Logger(),
		now:       time.Now,
	}
}

// SetRecorder sets the metrics recorder.
func (p *Pipeline) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	p.recorder = r
}

// SetClock replaces the server clock.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// normalized is a payload after validation, ready to be written.
type normalized struct {
	sample    *models.MetricSample
	threats   []*models.ThreatEvent
	rejected  int
	processes []*models.ProcessSnapshot
	dropped   int
}

// Ingest processes one payload. Errors wrap ErrInvalidPayload, ErrStorage
// (as *StorageError) or ErrShuttingDown.
func (p *Pipeline) Ingest(ctx context.Context, payload *pkgmodels.TelemetryPayload) (*Result, error) {
	if !p.begin() {
		p.recorder.ObserveIngest(ResultRejected, 0)
		return nil, ErrShuttingDown
	}
	defer p.inflight.Done()

	start := time.Now()
	result, err := p.ingest(ctx, payload)
	p.recorder.ObserveIngest(resultLabel(err), time.Since(start))
	return result, err
}

func (p *Pipeline) ingest(ctx context.Context, payload *pkgmodels.TelemetryPayload) (*Result, error) {
	if payload == nil {
		return nil, invalidf("empty payload")
	}
	info := payload.AgentInfo
	info.ID = strings.TrimSpace(info.ID)
	info.Hostname = strings.TrimSpace(info.Hostname)
	if info.ID == "" {
		return nil, invalidf("agent_info.id is required")
	}
	if info.Hostname == "" {
		return nil, invalidf("agent_info.hostname is required")
	}

	now := p.now().UTC().Truncate(time.Microsecond)
	log := p.logger.With().Str("agent_id", info.ID).Logger()

	n, err := p.normalize(info.ID, payload, now, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.WriteTimeout)
	defer cancel()

	result := &Result{
		AgentID:          info.ID,
		ThreatsReceived:  payload.ThreatsReported(),
		ThreatsRejected:  n.rejected,
		ProcessesDropped: n.dropped,
		ServerTime:       now,
	}

	if _, err := p.registry.Touch(ctx, info, now); err != nil {
		return result, p.storageFailure(log, "agent", err)
	}
	result.AgentsUpdated = 1

	if n.sample != nil {
		if err := p.store.AppendMetric(ctx, n.sample); err != nil {
			return result, p.storageFailure(log, "metrics", err)
		}
		result.MetricsAccepted = 1
	}

	for _, threat := range n.threats {
		if err := p.store.UpsertThreat(ctx, threat); err != nil {
			return result, p.storageFailure(log, "threats", err)
		}
		result.ThreatsAccepted++
		p.recorder.RecordThreat(severityLabel(threat.Severity))
	}

	if len(n.processes) > 0 {
		if err := p.store.AppendProcesses(ctx, n.processes); err != nil {
			return result, p.storageFailure(log, "processes", err)
		}
		result.ProcessesAccepted = len(n.processes)
	}

	if p.publisher != nil {
		event := &pkgmodels.UpdateEvent{
			Type:         pkgmodels.EventTelemetryUpdate,
			AgentID:      info.ID,
			Hostname:     info.Hostname,
			ThreatsCount: payload.ThreatsReported(),
			Timestamp:    now,
		}
		if n.sample != nil {
			event.Metrics = n.sample.Raw
		}
		p.publisher.Publish(event)
	}

	log.Debug().
		Int("threats_accepted", result.ThreatsAccepted).
		Int("threats_rejected", result.ThreatsRejected).
		Int("processes_accepted", result.ProcessesAccepted).
		Bool("metrics", result.MetricsAccepted == 1).
		Msg("telemetry ingested")

	return result, nil
}

// normalize converts the payload into records without touching the store,
// so that an invalid payload leaves no trace.
func (p *Pipeline) normalize(agentID string, payload *pkgmodels.TelemetryPayload, now time.Time, log zerolog.Logger) (*normalized, error) {
	n := &normalized{
		rejected: payload.MalformedThreats,
		dropped:  payload.MalformedProcesses,
	}
	if payload.MalformedThreats > 0 || payload.MalformedProcesses > 0 {
		log.Warn().
			Int("threats", payload.MalformedThreats).
			Int("processes", payload.MalformedProcesses).
			Msg("skipped malformed list entries")
	}

	if payload.HasMetrics() {
		var block pkgmodels.MetricsBlock
		if err := json.Unmarshal(payload.Metrics, &block); err != nil {
			return nil, invalidf("metrics: %v", err)
		}
		n.sample = &models.MetricSample{
			AgentID:            agentID,
			Timestamp:          now,
			CPUPercent:         block.CPU.Percent,
			MemoryPercent:      block.Memory.Percent,
			DiskPercent:        block.Disk.Percent,
			NetworkConnections: block.Network.Connections,
			Raw:                append(json.RawMessage(nil), payload.Metrics...),
		}
	}

	for i, t := range payload.Threats {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			n.rejected++
			log.Warn().Int("index", i).Msg("rejecting threat without id")
			continue
		}
		n.threats = append(n.threats, &models.ThreatEvent{
			ID:          id,
			AgentID:     agentID,
			Type:        t.Type,
			Severity:    models.NormalizeSeverity(t.Severity),
			Title:       t.Title,
			Description: t.Description,
			Timestamp:   threatTime(t.Timestamp, now),
			Status:      models.ThreatStatusActive,
			Source:      t.Source,
		})
	}

	procs := payload.Processes
	if len(procs) > p.config.MaxProcesses {
		n.dropped += len(procs) - p.config.MaxProcesses
		procs = procs[:p.config.MaxProcesses]
	}
	for _, proc := range procs {
		n.processes = append(n.processes, &models.ProcessSnapshot{
			AgentID:       agentID,
			PID:           proc.PID,
			Name:          proc.Name,
			Username:      proc.Username,
			CPUPercent:    proc.CPUPercent,
			MemoryPercent: proc.MemoryPercent,
			Timestamp:     now,
		})
	}

	return n, nil
}

// severityLabel bounds the metric label set to the ranked severities.
func severityLabel(s models.Severity) string {
	if !s.Known() {
		return "unknown"
	}
	return string(s)
}

// threatTime parses the agent's detection time, falling back to the server clock.
func threatTime(s string, now time.Time) time.Time {
	if s == "" {
		return now
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Microsecond)
		}
	}
	return now
}

func (p *Pipeline) storageFailure(log zerolog.Logger, step string, err error) error {
	log.Error().Err(err).Str("step", step).Msg("ingest storage write failed")
	return &StorageError{Step: step, Err: err}
}

func (p *Pipeline) begin() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.inflight.Add(1)
	return true
}

// Close stops accepting new payloads. In-flight ingests continue.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.logger.Info().Msg("ingest pipeline closed to new payloads")
}

// Drain waits for in-flight ingests to finish or ctx to end.
func (p *Pipeline) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrInvalidPayload):
		return ResultInvalid
	default:
		return ResultStorageError
	}
}
