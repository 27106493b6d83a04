package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/aktibguard/aktibguard/internal/db"
	"github.com/aktibguard/aktibguard/internal/models"
	"github.com/aktibguard/aktibguard/internal/query"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// mockQuery implements the querier interfaces of the agents, threats and
// dashboard handlers.
type mockQuery struct {
	fleet     []*models.FleetAgent
	details   map[string]*models.AgentDetail
	processes map[string][]*models.ProcessSnapshot
	threats   []*models.ThreatEvent
	summary   *models.FleetSummary
	timeline  []*models.TimelineBucket
	err       error

	gotLimit   int
	gotStatus  models.ThreatStatus
	gotHours   int
	gotAgentID string
	statusByID map[string]models.ThreatStatus
}

func (m *mockQuery) Fleet(_ context.Context) ([]*models.FleetAgent, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.fleet, nil
}

func (m *mockQuery) Agent(_ context.Context, id string) (*models.AgentDetail, error) {
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.details[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return d, nil
}

func (m *mockQuery) Processes(_ context.Context, agentID string, limit int) ([]*models.ProcessSnapshot, error) {
	m.gotLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	procs, ok := m.processes[agentID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return procs, nil
}

func (m *mockQuery) Threats(_ context.Context, status models.ThreatStatus, limit int) ([]*models.ThreatEvent, error) {
	m.gotStatus = status
	m.gotLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown threat status %q", query.ErrInvalidArgument, status)
	}
	return m.threats, nil
}

func (m *mockQuery) SetThreatStatus(_ context.Context, id string, status models.ThreatStatus) error {
	if m.err != nil {
		return m.err
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown threat status %q", query.ErrInvalidArgument, status)
	}
	if _, ok := m.statusByID[id]; !ok {
		return db.ErrNotFound
	}
	m.statusByID[id] = status
	return nil
}

func (m *mockQuery) Summary(_ context.Context) (*models.FleetSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.summary, nil
}

func (m *mockQuery) Timeline(_ context.Context, hours int, agentID string) ([]*models.TimelineBucket, error) {
	m.gotHours = hours
	m.gotAgentID = agentID
	if m.err != nil {
		return nil, m.err
	}
	if hours < 0 {
		return nil, fmt.Errorf("%w: hours out of range", query.ErrInvalidArgument)
	}
	return m.timeline, nil
}

func setupAgentsTestRouter(q AgentQuerier) *gin.Engine {
	handler := NewAgentsHandler(q, zerolog.Nop())
	return newTestRouter(handler.RegisterRoutes)
}

func TestAgentsList(t *testing.T) {
	now := time.Now().UTC()
	q := &mockQuery{fleet: []*models.FleetAgent{
		{
			Agent:         &models.Agent{ID: "a1", Hostname: "h1", LastSeen: now, Status: models.AgentStatusOnline},
			LatestMetric:  &models.MetricSample{AgentID: "a1", CPUPercent: 50},
			ActiveThreats: 2,
			Health:        models.HealthStatusHealthy,
		},
	}}
	r := setupAgentsTestRouter(q)

	w := doRequest(t, r, http.MethodGet, "/api/v1/agents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Agents []struct {
			ID            string `json:"id"`
			Hostname      string `json:"hostname"`
			Status        string `json:"status"`
			ActiveThreats int    `json:"active_threats"`
			Health        string `json:"health"`
			LatestMetric  struct {
				CPUPercent float64 `json:"cpu_percent"`
			} `json:"latest_metric"`
		} `json:"agents"`
	}
	decodeJSON(t, w, &resp)
	if len(resp.Agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(resp.Agents))
	}
	got := resp.Agents[0]
	if got.ID != "a1" || got.Hostname != "h1" || got.Status != "online" {
		t.Errorf("unexpected agent: %+v", got)
	}
	if got.ActiveThreats != 2 || got.Health != "healthy" || got.LatestMetric.CPUPercent != 50 {
		t.Errorf("unexpected derived fields: %+v", got)
	}
}

func TestAgentsList_Error(t *testing.T) {
	r := setupAgentsTestRouter(&mockQuery{err: errors.New("db down")})

	w := doRequest(t, r, http.MethodGet, "/api/v1/agents", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
}

func TestAgentsGet(t *testing.T) {
	q := &mockQuery{details: map[string]*models.AgentDetail{
		"a1": {
			Agent:     &models.Agent{ID: "a1", Hostname: "h1"},
			Processes: []*models.ProcessSnapshot{{AgentID: "a1", PID: 1, Name: "init"}},
			Health:    models.HealthStatusUnknown,
		},
	}}
	r := setupAgentsTestRouter(q)

	t.Run("found", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/api/v1/agents/a1", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var resp models.AgentDetail
		decodeJSON(t, w, &resp)
		if resp.Agent == nil || resp.Agent.ID != "a1" {
			t.Fatalf("unexpected agent: %+v", resp.Agent)
		}
		if len(resp.Processes) != 1 {
			t.Errorf("expected 1 process, got %d", len(resp.Processes))
		}
	})

	t.Run("not found", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/api/v1/agents/missing", nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", w.Code)
		}
	})
}

func TestAgentsProcesses(t *testing.T) {
	q := &mockQuery{processes: map[string][]*models.ProcessSnapshot{
		"a1": {{AgentID: "a1", PID: 10, Name: "sshd"}, {AgentID: "a1", PID: 11, Name: "bash"}},
	}}
	r := setupAgentsTestRouter(q)

	t.Run("default limit", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/api/v1/agents/a1/processes", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var resp struct {
			Processes []*models.ProcessSnapshot `json:"processes"`
		}
		decodeJSON(t, w, &resp)
		if len(resp.Processes) != 2 {
			t.Errorf("expected 2 processes, got %d", len(resp.Processes))
		}
		if q.gotLimit != 0 {
			t.Errorf("expected limit 0 passed through, got %d", q.gotLimit)
		}
	})

	t.Run("explicit limit", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/api/v1/agents/a1/processes?limit=5", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		if q.gotLimit != 5 {
			t.Errorf("expected limit 5, got %d", q.gotLimit)
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/api/v1/agents/a1/processes?limit=abc", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("unknown agent", func(t *testing.T) {
		w := doRequest(t, r, http.MethodGet, "/api/v1/agents/nope/processes", nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", w.Code)
		}
	})
}
