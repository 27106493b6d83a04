package db

import (
	"context"
	"fmt"

	"github.com/aktibguard/aktibguard/internal/models"
)

// UpsertThreat inserts or updates a threat by id, keeping an existing status.
func (db *DB) UpsertThreat(ctx context.Context, threat *models.ThreatEvent) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO threats (id, agent_id, type, severity, title, description, timestamp, status, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			agent_id = EXCLUDED.agent_id,
			type = EXCLUDED.type,
			severity = EXCLUDED.severity,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			timestamp = EXCLUDED.timestamp,
			source = EXCLUDED.source
	`, threat.ID, threat.AgentID, threat.Type, string(threat.Severity), threat.Title, threat.Description,
		threat.Timestamp, string(threat.Status), threat.Source)
	if err != nil {
		return fmt.Errorf("upsert threat %s: %w", threat.ID, err)
	}
	return nil
}

// QueryThreats lists threats by status, newest first.
func (db *DB) QueryThreats(ctx context.Context, status models.ThreatStatus, limit int) ([]*models.ThreatEvent, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT t.id, t.agent_id, t.type, t.severity, t.title, t.description, t.timestamp, t.status, t.source,
		       COALESCE(a.hostname, '')
		FROM threats t
		LEFT JOIN agents a ON a.id = t.agent_id
		WHERE t.status = $1
		ORDER BY t.timestamp DESC, t.id
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("query threats: %w", err)
	}
	defer rows.Close()

	var threats []*models.ThreatEvent
	for rows.Next() {
		var t models.ThreatEvent
		var severity, st string
		if err := rows.Scan(&t.ID, &t.AgentID, &t.Type, &severity, &t.Title, &t.Description,
			&t.Timestamp, &st, &t.Source, &t.Hostname); err != nil {
			return nil, fmt.Errorf("scan threat: %w", err)
		}
		t.Severity = models.Severity(severity)
		t.Status = models.ThreatStatus(st)
		t.Timestamp = t.Timestamp.UTC()
		threats = append(threats, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threats: %w", err)
	}
	return threats, nil
}

// UpdateThreatStatus sets the operator status of a threat.
func (db *DB) UpdateThreatStatus(ctx context.Context, id string, status models.ThreatStatus) error {
	tag, err := db.Pool.Exec(ctx, `UPDATE threats SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update threat status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("threat %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountActiveThreatsByAgent counts active threats per agent.
func (db *DB) CountActiveThreatsByAgent(ctx context.Context) (map[string]int, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT agent_id, COUNT(*)
		FROM threats
		WHERE status = 'active'
		GROUP BY agent_id
	`)
	if err != nil {
		return nil, fmt.Errorf("count active threats: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var agentID string
		var n int
		if err := rows.Scan(&agentID, &n); err != nil {
			return nil, fmt.Errorf("scan threat count: %w", err)
		}
		counts[agentID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threat counts: %w", err)
	}
	return counts, nil
}
