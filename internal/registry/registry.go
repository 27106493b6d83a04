// Package registry owns agent identity and liveness.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aktibguard/aktibguard/internal/db"
	"github.com/aktibguard/aktibguard/internal/models"
	pkgmodels "github.com/aktibguard/aktibguard/pkg/models"
	"github.com/rs/zerolog"
)

// Store is the slice of the telemetry store the registry writes through.
type Store interface {
	UpsertAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	MarkOffline(ctx context.Context, agentIDs []string, cutoff time.Time) (int64, error)
}

// Registry serializes writes to the same agent and applies the liveness rule:
// an agent is online iff it was seen less than the timeout ago.
type Registry struct {
	store   Store
	timeout time.Duration
	locks   *KeyedMutex
	logger  zerolog.Logger
}

// New creates a registry with the given liveness timeout.
func New(store Store, timeout time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		store:   store,
		timeout: timeout,
		locks:   NewKeyedMutex(),
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// Timeout returns the liveness timeout.
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

// IsOnline reports whether the agent counts as online at now.
func (r *Registry) IsOnline(agent *models.Agent, now time.Time) bool {
	return agent.SilentFor(now) < r.timeout
}

// Status derives the agent's status at now. Read paths use this instead of
// the stored column so that they agree with the sweeper between sweeps.
func (r *Registry) Status(agent *models.Agent, now time.Time) models.AgentStatus {
	if r.IsOnline(agent, now) {
		return models.AgentStatusOnline
	}
	return models.AgentStatusOffline
}

// Touch records that an agent reported at now: its descriptive fields are
// replaced, lastSeen advances to now unless a later report already committed,
// and it becomes online. Returns the stored record.
func (r *Registry) Touch(ctx context.Context, info pkgmodels.AgentInfo, now time.Time) (*models.Agent, error) {
	if info.ID == "" {
		return nil, errors.New("agent id is required")
	}

	unlock := r.locks.Lock(info.ID)
	defer unlock()

	if err := r.store.UpsertAgent(ctx, models.NewAgentFromInfo(info, now)); err != nil {
		return nil, err
	}

	agent, err := r.store.GetAgent(ctx, info.ID)
	if err != nil {
		return nil, fmt.Errorf("read back agent: %w", err)
	}
	return agent, nil
}

// MarkStale flips every candidate that is stored as online but silent for at
// least the timeout to offline, and returns the ids that changed. Candidates
// are re-read under their locks so a concurrent Touch always wins.
func (r *Registry) MarkStale(ctx context.Context, candidates []*models.Agent, now time.Time) ([]string, error) {
	var ids []string
	for _, a := range candidates {
		if a.Status == models.AgentStatusOnline && !r.IsOnline(a, now) {
			ids = append(ids, a.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	unlock := r.locks.LockMany(ids)
	defer unlock()

	stale := ids[:0]
	for _, id := range ids {
		current, err := r.store.GetAgent(ctx, id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if current.Status == models.AgentStatusOnline && !r.IsOnline(current, now) {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	cutoff := now.Add(-r.timeout)
	n, err := r.store.MarkOffline(ctx, stale, cutoff)
	if err != nil {
		return nil, err
	}
	if int(n) != len(stale) {
		r.logger.Warn().
			Int("expected", len(stale)).
			Int64("updated", n).
			Msg("offline marking updated fewer agents than expected")
	}

	r.logger.Info().Strs("agent_ids", stale).Msg("agents marked offline")
	return stale, nil
}
