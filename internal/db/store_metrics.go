package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aktibguard/aktibguard/internal/models"
	"github.com/jackc/pgx/v5"
)

// AppendMetric inserts a metric sample.
func (db *DB) AppendMetric(ctx context.Context, sample *models.MetricSample) error {
	var raw []byte
	if len(sample.Raw) > 0 {
		raw = sample.Raw
	}
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO metrics (agent_id, timestamp, cpu_percent, memory_percent, disk_percent, network_connections, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, sample.AgentID, sample.Timestamp, sample.CPUPercent, sample.MemoryPercent, sample.DiskPercent,
		sample.NetworkConnections, raw).Scan(&sample.ID)
	if err != nil {
		return fmt.Errorf("append metric: %w", err)
	}
	return nil
}

// QueryMetrics returns samples at or after q.Since, oldest first.
func (db *DB) QueryMetrics(ctx context.Context, q models.MetricQuery) ([]*models.MetricSample, error) {
	query := `
		SELECT id, agent_id, timestamp, cpu_percent, memory_percent, disk_percent, network_connections
		FROM metrics
		WHERE timestamp >= $1`
	args := []any{q.Since}
	if q.AgentID != "" {
		query += ` AND agent_id = $2`
		args = append(args, q.AgentID)
	}
	query += ` ORDER BY timestamp, id`

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var samples []*models.MetricSample
	for rows.Next() {
		var m models.MetricSample
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Timestamp, &m.CPUPercent, &m.MemoryPercent,
			&m.DiskPercent, &m.NetworkConnections); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		samples = append(samples, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics: %w", err)
	}
	return samples, nil
}

// LatestMetric returns the newest sample of an agent.
func (db *DB) LatestMetric(ctx context.Context, agentID string) (*models.MetricSample, error) {
	var m models.MetricSample
	var raw []byte
	err := db.Pool.QueryRow(ctx, `
		SELECT id, agent_id, timestamp, cpu_percent, memory_percent, disk_percent, network_connections, raw
		FROM metrics
		WHERE agent_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, agentID).Scan(&m.ID, &m.AgentID, &m.Timestamp, &m.CPUPercent, &m.MemoryPercent,
		&m.DiskPercent, &m.NetworkConnections, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("metrics for agent %s: %w", agentID, ErrNotFound)
		}
		return nil, fmt.Errorf("get latest metric: %w", err)
	}
	m.Timestamp = m.Timestamp.UTC()
	m.Raw = raw
	return &m, nil
}

// DeleteMetricsOlderThan removes samples older than t.
func (db *DB) DeleteMetricsOlderThan(ctx context.Context, t time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM metrics WHERE timestamp < $1`, t)
	if err != nil {
		return 0, fmt.Errorf("delete old metrics: %w", err)
	}
	return tag.RowsAffected(), nil
}
