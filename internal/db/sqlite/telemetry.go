package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aktibguard/aktibguard/internal/db"
	"github.com/aktibguard/aktibguard/internal/models"
)

// AppendMetric inserts a metric sample.
func (s *Store) AppendMetric(ctx context.Context, sample *models.MetricSample) error {
	var raw sql.NullString
	if len(sample.Raw) > 0 {
		raw = sql.NullString{String: string(sample.Raw), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO metrics (agent_id, timestamp, cpu_percent, memory_percent, disk_percent, network_connections, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sample.AgentID, toMicros(sample.Timestamp), sample.CPUPercent, sample.MemoryPercent,
		sample.DiskPercent, sample.NetworkConnections, raw)
	if err != nil {
		return fmt.Errorf("append metric: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get metric id: %w", err)
	}
	sample.ID = id
	return nil
}

// QueryMetrics returns samples at or after q.Since, oldest first.
func (s *Store) QueryMetrics(ctx context.Context, q models.MetricQuery) ([]*models.MetricSample, error) {
	query := `
		SELECT id, agent_id, timestamp, cpu_percent, memory_percent, disk_percent, network_connections
		FROM metrics
		WHERE timestamp >= ?`
	args := []any{toMicros(q.Since)}
	if q.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, q.AgentID)
	}
	query += ` ORDER BY timestamp, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var samples []*models.MetricSample
	for rows.Next() {
		var m models.MetricSample
		var ts int64
		if err := rows.Scan(&m.ID, &m.AgentID, &ts, &m.CPUPercent, &m.MemoryPercent,
			&m.DiskPercent, &m.NetworkConnections); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Timestamp = fromMicros(ts)
		samples = append(samples, &m)
	}
	return samples, rows.Err()
}

// LatestMetric returns the newest sample of an agent.
func (s *Store) LatestMetric(ctx context.Context, agentID string) (*models.MetricSample, error) {
	var m models.MetricSample
	var ts int64
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, timestamp, cpu_percent, memory_percent, disk_percent, network_connections, raw
		FROM metrics
		WHERE agent_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, agentID).Scan(&m.ID, &m.AgentID, &ts, &m.CPUPercent, &m.MemoryPercent,
		&m.DiskPercent, &m.NetworkConnections, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("metrics for agent %s: %w", agentID, db.ErrNotFound)
		}
		return nil, fmt.Errorf("get latest metric: %w", err)
	}
	m.Timestamp = fromMicros(ts)
	if raw.Valid {
		m.Raw = []byte(raw.String)
	}
	return &m, nil
}

// DeleteMetricsOlderThan removes samples older than t.
func (s *Store) DeleteMetricsOlderThan(ctx context.Context, t time.Time) (int64, error) {
	return s.deleteOlderThan(ctx, "metrics", t)
}

// DeleteProcessesOlderThan removes snapshots older than t.
func (s *Store) DeleteProcessesOlderThan(ctx context.Context, t time.Time) (int64, error) {
	return s.deleteOlderThan(ctx, "processes", t)
}

func (s *Store) deleteOlderThan(ctx context.Context, table string, t time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE timestamp < ?`, toMicros(t))
	if err != nil {
		return 0, fmt.Errorf("delete old %s: %w", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return affected, nil
}

// UpsertThreat inserts or updates a threat by id, keeping an existing status.
func (s *Store) UpsertThreat(ctx context.Context, threat *models.ThreatEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threats (id, agent_id, type, severity, title, description, timestamp, status, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			type = excluded.type,
			severity = excluded.severity,
			title = excluded.title,
			description = excluded.description,
			timestamp = excluded.timestamp,
			source = excluded.source
	`, threat.ID, threat.AgentID, threat.Type, string(threat.Severity), threat.Title, threat.Description,
		toMicros(threat.Timestamp), string(threat.Status), threat.Source)
	if err != nil {
		return fmt.Errorf("upsert threat %s: %w", threat.ID, err)
	}
	return nil
}

// QueryThreats lists threats by status, newest first.
func (s *Store) QueryThreats(ctx context.Context, status models.ThreatStatus, limit int) ([]*models.ThreatEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.agent_id, t.type, t.severity, t.title, t.description, t.timestamp, t.status, t.source,
		       COALESCE(a.hostname, '')
		FROM threats t
		LEFT JOIN agents a ON a.id = t.agent_id
		WHERE t.status = ?
		ORDER BY t.timestamp DESC, t.id
		LIMIT ?
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("query threats: %w", err)
	}
	defer rows.Close()

	var threats []*models.ThreatEvent
	for rows.Next() {
		var t models.ThreatEvent
		var severity, st string
		var ts int64
		if err := rows.Scan(&t.ID, &t.AgentID, &t.Type, &severity, &t.Title, &t.Description,
			&ts, &st, &t.Source, &t.Hostname); err != nil {
			return nil, fmt.Errorf("scan threat: %w", err)
		}
		t.Severity = models.Severity(severity)
		t.Status = models.ThreatStatus(st)
		t.Timestamp = fromMicros(ts)
		threats = append(threats, &t)
	}
	return threats, rows.Err()
}

// UpdateThreatStatus sets the operator status of a threat.
func (s *Store) UpdateThreatStatus(ctx context.Context, id string, status models.ThreatStatus) error {
	result, err := s.db.ExecContext(ctx, `UPDATE threats SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update threat status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("threat %s: %w", id, db.ErrNotFound)
	}
	return nil
}

// CountActiveThreatsByAgent counts active threats per agent.
func (s *Store) CountActiveThreatsByAgent(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
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
	return counts, rows.Err()
}

// AppendProcesses inserts process snapshots one statement per row.
func (s *Store) AppendProcesses(ctx context.Context, procs []*models.ProcessSnapshot) error {
	for _, p := range procs {
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO processes (agent_id, pid, name, username, cpu_percent, memory_percent, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, p.AgentID, p.PID, p.Name, p.Username, p.CPUPercent, p.MemoryPercent, toMicros(p.Timestamp))
		if err != nil {
			return fmt.Errorf("append process %d: %w", p.PID, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("get process id: %w", err)
		}
		p.ID = id
	}
	return nil
}

// QueryProcesses returns the most recent snapshots of an agent.
func (s *Store) QueryProcesses(ctx context.Context, agentID string, limit int) ([]*models.ProcessSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, pid, name, username, cpu_percent, memory_percent, timestamp
		FROM processes
		WHERE agent_id = ?
		ORDER BY timestamp DESC, cpu_percent DESC, id
		LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query processes: %w", err)
	}
	defer rows.Close()

	var procs []*models.ProcessSnapshot
	for rows.Next() {
		var p models.ProcessSnapshot
		var ts int64
		if err := rows.Scan(&p.ID, &p.AgentID, &p.PID, &p.Name, &p.Username, &p.CPUPercent,
			&p.MemoryPercent, &ts); err != nil {
			return nil, fmt.Errorf("scan process: %w", err)
		}
		p.Timestamp = fromMicros(ts)
		procs = append(procs, &p)
	}
	return procs, rows.Err()
}
