// Package maintenance runs the periodic retention and liveness sweep.
package maintenance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aktibguard/aktibguard/internal/models"
	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweep action names, in execution order.
const (
	ActionMetrics   = "metrics"
	ActionProcesses = "processes"
	ActionLiveness  = "liveness"
)

// Store defines the data access the sweeper needs.
type Store interface {
	DeleteMetricsOlderThan(ctx context.Context, t time.Time) (int64, error)
	DeleteProcessesOlderThan(ctx context.Context, t time.Time) (int64, error)
	ListAgents(ctx context.Context) ([]*models.Agent, error)
}

// Registry marks silent agents offline under the per-agent lock.
type Registry interface {
	MarkStale(ctx context.Context, candidates []*models.Agent, now time.Time) ([]string, error)
	Status(agent *models.Agent, now time.Time) models.AgentStatus
}

// Publisher announces agents that went offline.
type Publisher interface {
	Publish(event *pkgmodels.UpdateEvent)
}

// Recorder receives sweep metrics.
type Recorder interface {
	RecordSweepDeleted(relation string, n int64)
	ObserveSweepAction(action string, d time.Duration)
	SetAgentCount(status string, n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordSweepDeleted(string, int64)          {}
func (nopRecorder) ObserveSweepAction(string, time.Duration) {}
func (nopRecorder) SetAgentCount(string, int)                 {}

// Config controls the sweep schedule and retention windows.
type Config struct {
	Schedule         string
	MetricRetention  time.Duration
	ProcessRetention time.Duration
	ActionTimeout    time.Duration
}

// DefaultConfig returns an hourly sweep keeping 7 days of metrics and 1 day
// of process snapshots.
func DefaultConfig() Config {
	return Config{
		Schedule:         "0 * * * *",
		MetricRetention:  7 * 24 * time.Hour,
		ProcessRetention: 24 * time.Hour,
		ActionTimeout:    time.Minute,
	}
}

// SweepResult summarizes one sweep cycle.
type SweepResult struct {
	StartedAt        time.Time         `json:"started_at"`
	Duration         time.Duration     `json:"duration_ns"`
	MetricsDeleted   int64             `json:"metrics_deleted"`
	ProcessesDeleted int64             `json:"processes_deleted"`
	AgentsOffline    []string          `json:"agents_marked_offline"`
	Errors           map[string]string `json:"errors,omitempty"`
}

// OK reports whether every action succeeded.
func (r *SweepResult) OK() bool {
	return len(r.Errors) == 0
}

func (r *SweepResult) fail(action string, err error) {
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[action] = err.Error()
}

// Sweeper deletes expired samples and snapshots and marks silent agents
// offline. Agents and threats are never deleted.
type Sweeper struct {
	store     Store
	registry  Registry
	publisher Publisher
	recorder  Recorder
	config    Config
	cron      *cron.Cron
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool

	// sweepMu serializes scheduled and manual cycles.
	sweepMu sync.Mutex
}

// NewSweeper creates a sweeper. publisher may be nil.
func NewSweeper(store Store, registry Registry, publisher Publisher, cfg Config, logger zerolog.Logger) *Sweeper {
	defaults := DefaultConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = defaults.Schedule
	}
	if cfg.MetricRetention <= 0 {
		cfg.MetricRetention = defaults.MetricRetention
	}
	if cfg.ProcessRetention <= 0 {
		cfg.ProcessRetention = defaults.ProcessRetention
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaults.ActionTimeout
	}

	log := logger.With().Str("component", "sweeper").Logger()
	cronLog := cronLogger{logger: log}

	return &Sweeper{
		store:     store,
		registry:  registry,
		publisher: publisher,
		recorder:  nopRecorder{},
		config:    cfg,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		logger: log,
		now:    time.Now,
	}
}

// SetRecorder sets the metrics recorder.
func (s *Sweeper) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.recorder = r
}

// SetClock replaces the clock used for cutoffs.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Start schedules the sweep.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("sweeper already running")
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.RunNow(context.Background())
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.config.Schedule).
		Dur("metric_retention", s.config.MetricRetention).
		Dur("process_retention", s.config.ProcessRetention).
		Msg("sweeper started")

	return nil
}

// Stop stops the schedule. The returned context is done once a running
// sweep has finished.
func (s *Sweeper) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping sweeper")
	return s.cron.Stop()
}

// Running reports whether the schedule is active.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow runs one sweep cycle. A failed action is recorded in the result
// and does not prevent the following actions.
func (s *Sweeper) RunNow(ctx context.Context) *SweepResult {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := time.Now()
	now := s.now().UTC()
	result := &SweepResult{StartedAt: now, AgentsOffline: []string{}}

	s.run(ctx, result, ActionMetrics, func(ctx context.Context) error {
		n, err := s.store.DeleteMetricsOlderThan(ctx, now.Add(-s.config.MetricRetention))
		result.MetricsDeleted = n
		s.recorder.RecordSweepDeleted(ActionMetrics, n)
		return err
	})

	s.run(ctx, result, ActionProcesses, func(ctx context.Context) error {
		n, err := s.store.DeleteProcessesOlderThan(ctx, now.Add(-s.config.ProcessRetention))
		result.ProcessesDeleted = n
		s.recorder.RecordSweepDeleted(ActionProcesses, n)
		return err
	})

	s.run(ctx, result, ActionLiveness, func(ctx context.Context) error {
		return s.markStale(ctx, now, result)
	})

	result.Duration = time.Since(start)

	event := s.logger.Info()
	if !result.OK() {
		event = s.logger.Warn().Interface("errors", result.Errors)
	}
	event.
		Int64("metrics_deleted", result.MetricsDeleted).
		Int64("processes_deleted", result.ProcessesDeleted).
		Int("agents_marked_offline", len(result.AgentsOffline)).
		Dur("duration", result.Duration).
		Msg("sweep completed")

	return result
}

func (s *Sweeper) run(ctx context.Context, result *SweepResult, action string, fn func(ctx context.Context) error) {
	actionCtx, cancel := context.WithTimeout(ctx, s.config.ActionTimeout)
	defer cancel()

	start := time.Now()
	err := fn(actionCtx)
	s.recorder.ObserveSweepAction(action, time.Since(start))

	if err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("sweep action failed")
		result.fail(action, err)
	}
}

func (s *Sweeper) markStale(ctx context.Context, now time.Time, result *SweepResult) error {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return err
	}

	stale, err := s.registry.MarkStale(ctx, agents, now)
	if err != nil {
		return err
	}
	result.AgentsOffline = append(result.AgentsOffline, stale...)

	marked := make(map[string]bool, len(stale))
	for _, id := range stale {
		marked[id] = true
	}

	online := 0
	for _, agent := range agents {
		if marked[agent.ID] {
			agent.Status = models.AgentStatusOffline
			if s.publisher != nil {
				s.publisher.Publish(&pkgmodels.UpdateEvent{
					Type:      pkgmodels.EventAgentOffline,
					AgentID:   agent.ID,
					Hostname:  agent.Hostname,
					Timestamp: now,
				})
			}
		}
		if s.registry.Status(agent, now) == models.AgentStatusOnline {
			online++
		}
	}
	s.recorder.SetAgentCount(string(models.AgentStatusOnline), online)
	s.recorder.SetAgentCount(string(models.AgentStatusOffline), len(agents)-online)

	return nil
}

// cronLogger routes robfig/cron's logging through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
