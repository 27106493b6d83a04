package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aktibguard/aktibguard/internal/models"
	"github.com/jackc/pgx/v5"
)

// scanner is an interface for row scanning (pgx.Row, pgx.Rows).
type scanner interface {
	Scan(dest ...any) error
}

const agentColumns = `id, hostname, platform, architecture, os_release, version, first_seen, last_seen, status`

func scanAgent(row scanner) (*models.Agent, error) {
	var a models.Agent
	var status string
	if err := row.Scan(
		&a.ID, &a.Hostname, &a.Platform, &a.Architecture, &a.OSRelease, &a.Version,
		&a.FirstSeen, &a.LastSeen, &status,
	); err != nil {
		return nil, err
	}
	a.Status = models.AgentStatus(status)
	a.FirstSeen = a.FirstSeen.UTC()
	a.LastSeen = a.LastSeen.UTC()
	return &a, nil
}

// UpsertAgent inserts or replaces an agent by id. last_seen never moves
// backwards when reports commit out of order.
func (db *DB) UpsertAgent(ctx context.Context, agent *models.Agent) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			platform = EXCLUDED.platform,
			architecture = EXCLUDED.architecture,
			os_release = EXCLUDED.os_release,
			version = EXCLUDED.version,
			last_seen = GREATEST(agents.last_seen, EXCLUDED.last_seen),
			status = EXCLUDED.status
	`, agent.ID, agent.Hostname, agent.Platform, agent.Architecture, agent.OSRelease, agent.Version,
		agent.FirstSeen, agent.LastSeen, string(agent.Status))
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", agent.ID, err)
	}
	return nil
}

// GetAgent returns an agent by id.
func (db *DB) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	agent, err := scanAgent(db.Pool.QueryRow(ctx, `
		SELECT `+agentColumns+`
		FROM agents
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns all agents ordered by last_seen descending.
func (db *DB) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+agentColumns+`
		FROM agents
		ORDER BY last_seen DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

// MarkOffline conditionally marks agents offline.
func (db *DB) MarkOffline(ctx context.Context, agentIDs []string, cutoff time.Time) (int64, error) {
	if len(agentIDs) == 0 {
		return 0, nil
	}
	tag, err := db.Pool.Exec(ctx, `
		UPDATE agents
		SET status = 'offline'
		WHERE id = ANY($1) AND status = 'online' AND last_seen <= $2
	`, agentIDs, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark agents offline: %w", err)
	}
	return tag.RowsAffected(), nil
}
