// Package storetest holds the behavioral checks every db.Store backend must pass.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aktibguard/aktibguard/internal/db"
	"github.com/aktibguard/aktibguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty, migrated store. The suite closes it.
type Factory func(t *testing.T) db.Store

var base = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// Run exercises a store implementation.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s db.Store)
	}{
		{"UpsertAgentKeepsFirstSeen", testUpsertAgent},
		{"UpsertAgentLastSeenMonotonic", testUpsertAgentOutOfOrder},
		{"GetAgentNotFound", testGetAgentNotFound},
		{"ListAgentsOrder", testListAgentsOrder},
		{"MarkOfflineIsConditional", testMarkOffline},
		{"Metrics", testMetrics},
		{"DeleteMetricsOlderThan", testDeleteMetrics},
		{"ThreatUpsertKeepsStatus", testThreatUpsert},
		{"ThreatQueries", testThreatQueries},
		{"UpdateThreatStatusNotFound", testUpdateThreatStatusNotFound},
		{"Processes", testProcesses},
		{"ConcurrentUpserts", testConcurrentUpserts},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(s.Close)
			tt.fn(t, s)
		})
	}
}

func agent(id, host string, seen time.Time) *models.Agent {
	return &models.Agent{
		ID:           id,
		Hostname:     host,
		Platform:     "Linux",
		Architecture: "x86_64",
		OSRelease:    "6.1.0",
		Version:      "1.0.0",
		FirstSeen:    seen,
		LastSeen:     seen,
		Status:       models.AgentStatusOnline,
	}
}

func mustUpsertAgent(t *testing.T, s db.Store, a *models.Agent) {
	t.Helper()
	require.NoError(t, s.UpsertAgent(context.Background(), a))
}

func testUpsertAgent(t *testing.T, s db.Store) {
	ctx := context.Background()
	mustUpsertAgent(t, s, agent("a1", "h1", base))

	second := agent("a1", "h1-renamed", base.Add(time.Minute))
	second.Version = "1.1.0"
	mustUpsertAgent(t, s, second)

	got, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "h1-renamed", got.Hostname)
	assert.Equal(t, "1.1.0", got.Version)
	assert.True(t, got.FirstSeen.Equal(base), "first_seen changed to %v", got.FirstSeen)
	assert.True(t, got.LastSeen.Equal(base.Add(time.Minute)), "last_seen = %v", got.LastSeen)
	assert.Equal(t, models.AgentStatusOnline, got.Status)

	all, err := s.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testUpsertAgentOutOfOrder(t *testing.T, s db.Store) {
	mustUpsertAgent(t, s, agent("a1", "h1", base))
	mustUpsertAgent(t, s, agent("a1", "h1", base.Add(2*time.Second)))

	late := agent("a1", "h1", base)
	late.Version = "1.0.1"
	mustUpsertAgent(t, s, late)

	got, err := s.GetAgent(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, got.LastSeen.Equal(base.Add(2*time.Second)), "last_seen moved back to %v", got.LastSeen)
	assert.Equal(t, "1.0.1", got.Version)
	assert.Equal(t, models.AgentStatusOnline, got.Status)
}

func testGetAgentNotFound(t *testing.T, s db.Store) {
	_, err := s.GetAgent(context.Background(), "missing")
	assert.True(t, errors.Is(err, db.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func testListAgentsOrder(t *testing.T, s db.Store) {
	mustUpsertAgent(t, s, agent("old", "h-old", base))
	mustUpsertAgent(t, s, agent("new", "h-new", base.Add(2*time.Minute)))
	mustUpsertAgent(t, s, agent("mid", "h-mid", base.Add(time.Minute)))

	agents, err := s.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{agents[0].ID, agents[1].ID, agents[2].ID})
}

func testMarkOffline(t *testing.T, s db.Store) {
	ctx := context.Background()
	mustUpsertAgent(t, s, agent("stale", "h1", base))
	mustUpsertAgent(t, s, agent("fresh", "h2", base.Add(10*time.Minute)))
	cutoff := base.Add(5 * time.Minute)

	n, err := s.MarkOffline(ctx, []string{"stale", "fresh"}, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stale, err := s.GetAgent(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusOffline, stale.Status)
	assert.True(t, stale.LastSeen.Equal(base), "last_seen changed by MarkOffline")

	fresh, err := s.GetAgent(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusOnline, fresh.Status)

	n, err = s.MarkOffline(ctx, []string{"stale"}, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "already offline agents are not counted again")

	n, err = s.MarkOffline(ctx, nil, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func testMetrics(t *testing.T, s db.Store) {
	ctx := context.Background()
	mustUpsertAgent(t, s, agent("a1", "h1", base))
	mustUpsertAgent(t, s, agent("a2", "h2", base))

	raw := json.RawMessage(`{"cpu":{"percent":50},"memory":{"percent":40},"extra":"kept"}`)
	for i, a := range []string{"a1", "a2", "a1"} {
		sample := &models.MetricSample{
			AgentID:       a,
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
			CPUPercent:    float64(10 * (i + 1)),
			MemoryPercent: 40,
			Raw:           raw,
		}
		require.NoError(t, s.AppendMetric(ctx, sample))
		assert.NotZero(t, sample.ID)
	}

	all, err := s.QueryMetrics(ctx, models.MetricQuery{Since: base})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 10.0, all[0].CPUPercent)
	assert.Equal(t, 30.0, all[2].CPUPercent)

	recent, err := s.QueryMetrics(ctx, models.MetricQuery{AgentID: "a1", Since: base.Add(30 * time.Second)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "a1", recent[0].AgentID)
	assert.True(t, recent[0].Timestamp.Equal(base.Add(2*time.Minute)))

	latest, err := s.LatestMetric(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 30.0, latest.CPUPercent)
	assert.JSONEq(t, string(raw), string(latest.Raw))

	_, err = s.LatestMetric(ctx, "nobody")
	assert.True(t, errors.Is(err, db.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func testDeleteMetrics(t *testing.T, s db.Store) {
	ctx := context.Background()
	mustUpsertAgent(t, s, agent("a1", "h1", base))

	old := &models.MetricSample{AgentID: "a1", Timestamp: base.Add(-8 * 24 * time.Hour), CPUPercent: 1}
	recent := &models.MetricSample{AgentID: "a1", Timestamp: base, CPUPercent: 2}
	require.NoError(t, s.AppendMetric(ctx, old))
	require.NoError(t, s.AppendMetric(ctx, recent))

	n, err := s.DeleteMetricsOlderThan(ctx, base.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.QueryMetrics(ctx, models.MetricQuery{Since: base.Add(-30 * 24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, recent.ID, left[0].ID)
}

func threat(id, agentID string, sev models.Severity, ts time.Time) *models.ThreatEvent {
	return &models.ThreatEvent{
		ID:          id,
		AgentID:     agentID,
		Type:        "suspicious_process",
		Severity:    sev,
		Title:       "Suspicious process " + id,
		Description: "details",
		Timestamp:   ts,
		Status:      models.ThreatStatusActive,
		Source:      "process_monitor",
	}
}

func testThreatUpsert(t *testing.T, s db.Store) {
	ctx := context.Background()
	mustUpsertAgent(t, s, agent("a1", "h1", base))

	require.NoError(t, s.UpsertThreat(ctx, threat("T1", "a1", models.SeverityHigh, base)))
	require.NoError(t, s.UpsertThreat(ctx, threat("T1", "a1", models.SeverityCritical, base.Add(time.Minute))))

	active, err := s.QueryThreats(ctx, models.ThreatStatusActive, 50)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.SeverityCritical, active[0].Severity)

	require.NoError(t, s.UpdateThreatStatus(ctx, "T1", models.ThreatStatusResolved))
	require.NoError(t, s.UpsertThreat(ctx, threat("T1", "a1", models.SeverityLow, base.Add(2*time.Minute))))

	active, err = s.QueryThreats(ctx, models.ThreatStatusActive, 50)
	require.NoError(t, err)
	assert.Empty(t, active, "re-ingest must not reopen a resolved threat")

	resolved, err := s.QueryThreats(ctx, models.ThreatStatusResolved, 50)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, models.SeverityLow, resolved[0].Severity)
}

func testThreatQueries(t *testing.T, s db.Store) {
	ctx := context.Background()
	mustUpsertAgent(t, s, agent("a1", "h1", base))
	mustUpsertAgent(t, s, agent("a2", "h2", base))

	for i := 0; i < 5; i++ {
		owner := "a1"
		if i%2 == 1 {
			owner = "a2"
		}
		id := fmt.Sprintf("T%d", i)
		require.NoError(t, s.UpsertThreat(ctx, threat(id, owner, models.SeverityMedium, base.Add(time.Duration(i)*time.Minute))))
	}

	limited, err := s.QueryThreats(ctx, models.ThreatStatusActive, 3)
	require.NoError(t, err)
	require.Len(t, limited, 3)
	assert.Equal(t, "T4", limited[0].ID, "newest first")
	assert.Equal(t, "h1", limited[0].Hostname)
	assert.Equal(t, "h2", limited[1].Hostname)

	counts, err := s.CountActiveThreatsByAgent(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a1": 3, "a2": 2}, counts)

	require.NoError(t, s.UpdateThreatStatus(ctx, "T0", models.ThreatStatusFalsePositive))
	counts, err = s.CountActiveThreatsByAgent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["a1"])
}

func testUpdateThreatStatusNotFound(t *testing.T, s db.Store) {
	err := s.UpdateThreatStatus(context.Background(), "missing", models.ThreatStatusResolved)
	assert.True(t, errors.Is(err, db.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func testProcesses(t *testing.T, s db.Store) {
	ctx := context.Background()
	mustUpsertAgent(t, s, agent("a1", "h1", base))

	var batch []*models.ProcessSnapshot
	for i := 0; i < 4; i++ {
		batch = append(batch, &models.ProcessSnapshot{
			AgentID:       "a1",
			PID:           100 + i,
			Name:          fmt.Sprintf("proc-%d", i),
			Username:      "root",
			CPUPercent:    float64(i),
			MemoryPercent: 1.5,
			Timestamp:     base.Add(-2 * 24 * time.Hour),
		})
	}
	require.NoError(t, s.AppendProcesses(ctx, batch))
	for _, p := range batch {
		assert.NotZero(t, p.ID)
	}

	fresh := []*models.ProcessSnapshot{{AgentID: "a1", PID: 1, Name: "init", Timestamp: base}}
	require.NoError(t, s.AppendProcesses(ctx, fresh))
	require.NoError(t, s.AppendProcesses(ctx, nil))

	procs, err := s.QueryProcesses(ctx, "a1", 3)
	require.NoError(t, err)
	require.Len(t, procs, 3)
	assert.Equal(t, "init", procs[0].Name)

	n, err := s.DeleteProcessesOlderThan(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	procs, err = s.QueryProcesses(ctx, "a1", 10)
	require.NoError(t, err)
	assert.Len(t, procs, 1)
}

func testConcurrentUpserts(t *testing.T, s db.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("a%d", i%4)
			errs <- s.UpsertAgent(ctx, agent(id, "host-"+id, base.Add(time.Duration(i)*time.Second)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"a0", "a1", "a2", "a3"}, ids)
}

func testPing(t *testing.T, s db.Store) {
	require.NoError(t, s.Ping(context.Background()))
	assert.NotNil(t, s.Health())
}
