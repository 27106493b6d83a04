package db

import (
	"context"
	"errors"
	"time"

	"github.com/aktibguard/aktibguard/internal/models"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store is the durable telemetry store. Every operation is atomic per row;
// there are no multi-relation transactions.
type Store interface {
	// UpsertAgent inserts or replaces an agent by id. FirstSeen is only
	// written on insert.
	UpsertAgent(ctx context.Context, agent *models.Agent) error
	// GetAgent returns the agent with the given id or ErrNotFound.
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	// ListAgents returns all agents, most recently seen first.
	ListAgents(ctx context.Context) ([]*models.Agent, error)
	// MarkOffline flips the listed agents to offline, but only those still
	// online with last_seen at or before cutoff.
	MarkOffline(ctx context.Context, agentIDs []string, cutoff time.Time) (int64, error)

	// AppendMetric stores a sample and sets its ID.
	AppendMetric(ctx context.Context, sample *models.MetricSample) error
	// QueryMetrics returns samples matching q in timestamp order, without raw blobs.
	QueryMetrics(ctx context.Context, q models.MetricQuery) ([]*models.MetricSample, error)
	// LatestMetric returns the newest sample of an agent, raw blob included, or ErrNotFound.
	LatestMetric(ctx context.Context, agentID string) (*models.MetricSample, error)
	// DeleteMetricsOlderThan removes samples with timestamp before t.
	DeleteMetricsOlderThan(ctx context.Context, t time.Time) (int64, error)

	// UpsertThreat inserts a threat or overwrites the reported fields of an
	// existing one. The operator-driven status of an existing threat is kept.
	UpsertThreat(ctx context.Context, threat *models.ThreatEvent) error
	// QueryThreats returns threats in the given status, newest first, with
	// the owning agent's hostname.
	QueryThreats(ctx context.Context, status models.ThreatStatus, limit int) ([]*models.ThreatEvent, error)
	// UpdateThreatStatus sets the status of a threat or returns ErrNotFound.
	UpdateThreatStatus(ctx context.Context, id string, status models.ThreatStatus) error
	// CountActiveThreatsByAgent returns the number of active threats per agent id.
	CountActiveThreatsByAgent(ctx context.Context) (map[string]int, error)

	// AppendProcesses stores a batch of snapshots. Each row is atomic on its own.
	AppendProcesses(ctx context.Context, procs []*models.ProcessSnapshot) error
	// QueryProcesses returns an agent's most recent snapshots, newest first.
	QueryProcesses(ctx context.Context, agentID string, limit int) ([]*models.ProcessSnapshot, error)
	// DeleteProcessesOlderThan removes snapshots with timestamp before t.
	DeleteProcessesOlderThan(ctx context.Context, t time.Time) (int64, error)

	Ping(ctx context.Context) error
	Health() map[string]any
	Close()
}

var _ Store = (*DB)(nil)
