package db

import (
	"context"
	"fmt"
	"time"

	"github.com/aktibguard/aktibguard/internal/models"
	"github.com/jackc/pgx/v5"
)

// AppendProcesses inserts process snapshots as one batch of independent statements.
func (db *DB) AppendProcesses(ctx context.Context, procs []*models.ProcessSnapshot) error {
	if len(procs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range procs {
		batch.Queue(`
			INSERT INTO processes (agent_id, pid, name, username, cpu_percent, memory_percent, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, p.AgentID, p.PID, p.Name, p.Username, p.CPUPercent, p.MemoryPercent, p.Timestamp)
	}

	results := db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, p := range procs {
		if err := results.QueryRow().Scan(&p.ID); err != nil {
			return fmt.Errorf("append process %d: %w", p.PID, err)
		}
	}
	return nil
}

// QueryProcesses returns the most recent snapshots of an agent.
func (db *DB) QueryProcesses(ctx context.Context, agentID string, limit int) ([]*models.ProcessSnapshot, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, agent_id, pid, name, username, cpu_percent, memory_percent, timestamp
		FROM processes
		WHERE agent_id = $1
		ORDER BY timestamp DESC, cpu_percent DESC, id
		LIMIT $2
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query processes: %w", err)
	}
	defer rows.Close()

	var procs []*models.ProcessSnapshot
	for rows.Next() {
		var p models.ProcessSnapshot
		if err := rows.Scan(&p.ID, &p.AgentID, &p.PID, &p.Name, &p.Username, &p.CPUPercent,
			&p.MemoryPercent, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scan process: %w", err)
		}
		p.Timestamp = p.Timestamp.UTC()
		procs = append(procs, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processes: %w", err)
	}
	return procs, nil
}

// DeleteProcessesOlderThan removes snapshots older than t.
func (db *DB) DeleteProcessesOlderThan(ctx context.Context, t time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM processes WHERE timestamp < $1`, t)
	if err != nil {
		return 0, fmt.Errorf("delete old processes: %w", err)
	}
	return tag.RowsAffected(), nil
}
