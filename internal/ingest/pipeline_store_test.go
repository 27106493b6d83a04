package ingest_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/aktibguard/aktibguard/internal/db/sqlite"
	"github.com/aktibguard/aktibguard/internal/ingest"
	"github.com/aktibguard/aktibguard/internal/models"
	"github.com/aktibguard/aktibguard/internal/registry"
	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorePipeline(t *testing.T, now *time.Time) (*ingest.Pipeline, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "aktibguard.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	reg := registry.New(store, 5*time.Minute, zerolog.Nop())
	p := ingest.NewPipeline(store, reg, nil, ingest.DefaultConfig(), zerolog.Nop())
	p.SetClock(func() time.Time { return *now })
	return p, store
}

func TestPipeline_ReingestIsIdempotentForAgentsAndThreats(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	p, store := newStorePipeline(t, &now)

	in := &pkgmodels.TelemetryPayload{
		AgentInfo: pkgmodels.AgentInfo{ID: "a1", Hostname: "web-01", Platform: "Linux"},
		Metrics:   json.RawMessage(`{"cpu":{"percent":10}}`),
		Threats:   []pkgmodels.ThreatReport{{ID: "T1", Severity: "high", Title: "miner"}},
	}

	_, err := p.Ingest(ctx, in)
	require.NoError(t, err)
	firstSeen := now

	now = now.Add(time.Minute)
	_, err = p.Ingest(ctx, in)
	require.NoError(t, err)

	agents, err := store.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.True(t, agents[0].FirstSeen.Equal(firstSeen))
	assert.True(t, agents[0].LastSeen.Equal(now))
	assert.Equal(t, models.AgentStatusOnline, agents[0].Status)

	threats, err := store.QueryThreats(ctx, models.ThreatStatusActive, 100)
	require.NoError(t, err)
	assert.Len(t, threats, 1, "threats are keyed by id")

	samples, err := store.QueryMetrics(ctx, models.MetricQuery{AgentID: "a1"})
	require.NoError(t, err)
	assert.Len(t, samples, 2, "metric samples are append-only")
}

func TestPipeline_ThreatSeverityUpdate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	p, store := newStorePipeline(t, &now)

	report := func(severity string) *pkgmodels.TelemetryPayload {
		return &pkgmodels.TelemetryPayload{
			AgentInfo: pkgmodels.AgentInfo{ID: "a1", Hostname: "web-01"},
			Threats:   []pkgmodels.ThreatReport{{ID: "T1", Severity: severity, Title: "miner"}},
		}
	}

	_, err := p.Ingest(ctx, report("high"))
	require.NoError(t, err)
	_, err = p.Ingest(ctx, report("critical"))
	require.NoError(t, err)

	threats, err := store.QueryThreats(ctx, models.ThreatStatusActive, 100)
	require.NoError(t, err)
	require.Len(t, threats, 1)
	assert.Equal(t, models.SeverityCritical, threats[0].Severity)
	assert.Equal(t, "web-01", threats[0].Hostname)
}

func TestPipeline_ProcessCapWithStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	p, store := newStorePipeline(t, &now)

	in := &pkgmodels.TelemetryPayload{AgentInfo: pkgmodels.AgentInfo{ID: "a1", Hostname: "web-01"}}
	for i := 0; i < 15; i++ {
		in.Processes = append(in.Processes, pkgmodels.ProcessReport{PID: 100 + i, Name: fmt.Sprintf("worker-%d", i)})
	}

	result, err := p.Ingest(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 10, result.ProcessesAccepted)

	procs, err := store.QueryProcesses(ctx, "a1", 100)
	require.NoError(t, err)
	assert.Len(t, procs, 10)

	_, err = store.LatestMetric(ctx, "a1")
	assert.Error(t, err, "no metrics block means no sample")
}
