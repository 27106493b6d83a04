// Package query builds the read-only dashboard projections over the store.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aktibguard/aktibguard/internal/db"
	"github.com/aktibguard/aktibguard/internal/models"
	"github.com/rs/zerolog"
)

// Defaults for list and timeline queries.
const (
	DefaultThreatLimit   = 50
	MaxThreatLimit       = 1000
	DefaultProcessLimit  = 10
	DefaultTimelineHours = 24
	MaxTimelineHours     = 24 * 31
	SummaryWindow        = time.Hour
)

// ErrInvalidArgument is returned for query parameters out of range.
var ErrInvalidArgument = errors.New("invalid argument")

// Store defines the reads the query service needs, plus the operator threat
// status change.
type Store interface {
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]*models.Agent, error)
	QueryMetrics(ctx context.Context, q models.MetricQuery) ([]*models.MetricSample, error)
	LatestMetric(ctx context.Context, agentID string) (*models.MetricSample, error)
	QueryThreats(ctx context.Context, status models.ThreatStatus, limit int) ([]*models.ThreatEvent, error)
	UpdateThreatStatus(ctx context.Context, id string, status models.ThreatStatus) error
	CountActiveThreatsByAgent(ctx context.Context) (map[string]int, error)
	QueryProcesses(ctx context.Context, agentID string, limit int) ([]*models.ProcessSnapshot, error)
}

// Liveness derives an agent's status at a point in time.
type Liveness interface {
	Status(agent *models.Agent, now time.Time) models.AgentStatus
}

// HealthChecker grades an agent.
type HealthChecker interface {
	Status(m *models.MetricSample, lastSeen time.Time, now time.Time) models.HealthStatus
}

// Service answers dashboard queries. It takes no locks; each row is read in
// a consistent state but rows may come from different moments.
type Service struct {
	store    Store
	liveness Liveness
	health   HealthChecker
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates a query service.
func NewService(store Store, liveness Liveness, health HealthChecker, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		liveness: liveness,
		health:   health,
		logger:   logger.With().Str("component", "query").Logger(),
		now:      time.Now,
	}
}

// SetClock replaces the clock used for liveness and time windows.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Summary returns fleet headline numbers. Averages cover the trailing hour
// and are rounded to integers.
func (s *Service) Summary(ctx context.Context) (*models.FleetSummary, error) {
	now := s.now().UTC()

	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	summary := &models.FleetSummary{TotalAgents: len(agents)}
	for _, a := range agents {
		if s.liveness.Status(a, now) == models.AgentStatusOnline {
			summary.OnlineAgents++
		}
	}

	counts, err := s.store.CountActiveThreatsByAgent(ctx)
	if err != nil {
		return nil, fmt.Errorf("count threats: %w", err)
	}
	for _, n := range counts {
		summary.ActiveThreats += n
	}

	samples, err := s.store.QueryMetrics(ctx, models.MetricQuery{Since: now.Add(-SummaryWindow)})
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	if len(samples) > 0 {
		var cpu, mem float64
		for _, m := range samples {
			cpu += m.CPUPercent
			mem += m.MemoryPercent
		}
		summary.AvgCPU = math.Round(cpu / float64(len(samples)))
		summary.AvgMemory = math.Round(mem / float64(len(samples)))
	}

	return summary, nil
}

// Fleet lists every agent with its latest sample, active threat count and
// health, most recently seen first.
func (s *Service) Fleet(ctx context.Context) ([]*models.FleetAgent, error) {
	now := s.now().UTC()

	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	counts, err := s.store.CountActiveThreatsByAgent(ctx)
	if err != nil {
		return nil, fmt.Errorf("count threats: %w", err)
	}

	fleet := make([]*models.FleetAgent, 0, len(agents))
	for _, a := range agents {
		latest, err := s.latestMetric(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			latest.Raw = nil
		}
		a.Status = s.liveness.Status(a, now)
		fleet = append(fleet, &models.FleetAgent{
			Agent:         a,
			LatestMetric:  latest,
			ActiveThreats: counts[a.ID],
			Health:        s.health.Status(latest, a.LastSeen, now),
		})
	}
	return fleet, nil
}

// Agent returns the detail view of one agent, or db.ErrNotFound.
func (s *Service) Agent(ctx context.Context, id string) (*models.AgentDetail, error) {
	now := s.now().UTC()

	agent, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	agent.Status = s.liveness.Status(agent, now)

	latest, err := s.latestMetric(ctx, id)
	if err != nil {
		return nil, err
	}

	procs, err := s.store.QueryProcesses(ctx, id, DefaultProcessLimit)
	if err != nil {
		return nil, fmt.Errorf("query processes: %w", err)
	}
	if procs == nil {
		procs = []*models.ProcessSnapshot{}
	}

	return &models.AgentDetail{
		Agent:        agent,
		LatestMetric: latest,
		Processes:    procs,
		Health:       s.health.Status(latest, agent.LastSeen, now),
	}, nil
}

// Processes returns an agent's most recent process snapshots.
func (s *Service) Processes(ctx context.Context, agentID string, limit int) ([]*models.ProcessSnapshot, error) {
	if limit <= 0 {
		limit = DefaultProcessLimit
	}
	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	procs, err := s.store.QueryProcesses(ctx, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query processes: %w", err)
	}
	if procs == nil {
		procs = []*models.ProcessSnapshot{}
	}
	return procs, nil
}

// Threats lists threats in the given status, newest first. An empty status
// means active and a non-positive limit means DefaultThreatLimit.
func (s *Service) Threats(ctx context.Context, status models.ThreatStatus, limit int) ([]*models.ThreatEvent, error) {
	if status == "" {
		status = models.ThreatStatusActive
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown threat status %q", ErrInvalidArgument, status)
	}
	if limit <= 0 {
		limit = DefaultThreatLimit
	}
	if limit > MaxThreatLimit {
		limit = MaxThreatLimit
	}

	threats, err := s.store.QueryThreats(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query threats: %w", err)
	}
	if threats == nil {
		threats = []*models.ThreatEvent{}
	}
	return threats, nil
}

// SetThreatStatus applies an operator status change. Returns
// db.ErrNotFound for an unknown threat.
func (s *Service) SetThreatStatus(ctx context.Context, id string, status models.ThreatStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown threat status %q", ErrInvalidArgument, status)
	}
	if err := s.store.UpdateThreatStatus(ctx, id, status); err != nil {
		return err
	}
	s.logger.Info().Str("threat_id", id).Str("status", string(status)).Msg("threat status changed")
	return nil
}

// Timeline buckets the samples of the last hours by UTC hour, optionally
// for a single agent. Empty hours are omitted.
func (s *Service) Timeline(ctx context.Context, hours int, agentID string) ([]*models.TimelineBucket, error) {
	if hours == 0 {
		hours = DefaultTimelineHours
	}
	if hours < 0 || hours > MaxTimelineHours {
		return nil, fmt.Errorf("%w: hours must be between 1 and %d", ErrInvalidArgument, MaxTimelineHours)
	}

	now := s.now().UTC()
	samples, err := s.store.QueryMetrics(ctx, models.MetricQuery{
		AgentID: agentID,
		Since:   now.Add(-time.Duration(hours) * time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	return bucketByHour(samples), nil
}

// bucketByHour expects samples in timestamp order.
func bucketByHour(samples []*models.MetricSample) []*models.TimelineBucket {
	buckets := []*models.TimelineBucket{}
	var cur *models.TimelineBucket
	for _, m := range samples {
		hour := m.Timestamp.UTC().Truncate(time.Hour)
		if cur == nil || !cur.Time.Equal(hour) {
			if cur != nil {
				finish(cur)
			}
			cur = &models.TimelineBucket{Time: hour}
			buckets = append(buckets, cur)
		}
		cur.AvgCPU += m.CPUPercent
		cur.AvgMemory += m.MemoryPercent
		cur.AvgDisk += m.DiskPercent
		cur.DataPoints++
	}
	if cur != nil {
		finish(cur)
	}
	return buckets
}

func finish(b *models.TimelineBucket) {
	n := float64(b.DataPoints)
	b.AvgCPU = round2(b.AvgCPU / n)
	b.AvgMemory = round2(b.AvgMemory / n)
	b.AvgDisk = round2(b.AvgDisk / n)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *Service) latestMetric(ctx context.Context, agentID string) (*models.MetricSample, error) {
	m, err := s.store.LatestMetric(ctx, agentID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest metric for %s: %w", agentID, err)
	}
	return m, nil
}
