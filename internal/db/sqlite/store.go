// Package sqlite implements db.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aktibguard/aktibguard/internal/db"
	"github.com/aktibguard/aktibguard/internal/models"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Store implements db.Store using SQLite. Timestamps are stored as UTC unix
// microseconds so that ordering and range filters stay numeric.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

var _ db.Store = (*Store)(nil)

// Open opens (creating if needed) the database file at path and applies the schema.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	store := &Store{
		db:     sqlDB,
		path:   path,
		logger: logger.With().Str("component", "sqlite_store").Logger(),
	}

	if err := store.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	store.logger.Info().Str("path", path).Msg("telemetry database initialized")

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			hostname TEXT NOT NULL,
			platform TEXT NOT NULL DEFAULT '',
			architecture TEXT NOT NULL DEFAULT '',
			os_release TEXT NOT NULL DEFAULT '',
			version TEXT NOT NULL DEFAULT '',
			first_seen INTEGER NOT NULL,
			last_seen INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'online'
		);

		CREATE INDEX IF NOT EXISTS idx_agents_last_seen ON agents(last_seen);

		CREATE TABLE IF NOT EXISTS metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			timestamp INTEGER NOT NULL,
			cpu_percent REAL NOT NULL DEFAULT 0,
			memory_percent REAL NOT NULL DEFAULT 0,
			disk_percent REAL NOT NULL DEFAULT 0,
			network_connections INTEGER NOT NULL DEFAULT 0,
			raw TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON metrics(timestamp);
		CREATE INDEX IF NOT EXISTS idx_metrics_agent_timestamp ON metrics(agent_id, timestamp);

		CREATE TABLE IF NOT EXISTS threats (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			type TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			source TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_threats_status_timestamp ON threats(status, timestamp);

		CREATE TABLE IF NOT EXISTS processes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			pid INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			cpu_percent REAL NOT NULL DEFAULT 0,
			memory_percent REAL NOT NULL DEFAULT 0,
			timestamp INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_processes_timestamp ON processes(timestamp);
		CREATE INDEX IF NOT EXISTS idx_processes_agent_timestamp ON processes(agent_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(n int64) time.Time {
	return time.UnixMicro(n).UTC()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Health returns connection statistics.
func (s *Store) Health() map[string]any {
	stats := s.db.Stats()
	return map[string]any{
		"driver":           "sqlite",
		"path":             s.path,
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
		"wait_duration":    stats.WaitDuration.String(),
	}
}

// Close closes the database.
func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Error().Err(err).Msg("failed to close database")
		return
	}
	s.logger.Info().Msg("telemetry database closed")
}

// UpsertAgent inserts or replaces an agent by id, keeping the later last_seen.
func (s *Store) UpsertAgent(ctx context.Context, agent *models.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, hostname, platform, architecture, os_release, version, first_seen, last_seen, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hostname = excluded.hostname,
			platform = excluded.platform,
			architecture = excluded.architecture,
			os_release = excluded.os_release,
			version = excluded.version,
			last_seen = MAX(agents.last_seen, excluded.last_seen),
			status = excluded.status
	`, agent.ID, agent.Hostname, agent.Platform, agent.Architecture, agent.OSRelease, agent.Version,
		toMicros(agent.FirstSeen), toMicros(agent.LastSeen), string(agent.Status))
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", agent.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	var a models.Agent
	var firstSeen, lastSeen int64
	var status string
	if err := row.Scan(&a.ID, &a.Hostname, &a.Platform, &a.Architecture, &a.OSRelease, &a.Version,
		&firstSeen, &lastSeen, &status); err != nil {
		return nil, err
	}
	a.FirstSeen = fromMicros(firstSeen)
	a.LastSeen = fromMicros(lastSeen)
	a.Status = models.AgentStatus(status)
	return &a, nil
}

// GetAgent returns an agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	agent, err := scanAgent(s.db.QueryRowContext(ctx, `
		SELECT id, hostname, platform, architecture, os_release, version, first_seen, last_seen, status
		FROM agents
		WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("agent %s: %w", id, db.ErrNotFound)
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns all agents ordered by last_seen descending.
func (s *Store) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hostname, platform, architecture, os_release, version, first_seen, last_seen, status
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
	return agents, rows.Err()
}

// MarkOffline conditionally marks agents offline.
func (s *Store) MarkOffline(ctx context.Context, agentIDs []string, cutoff time.Time) (int64, error) {
	if len(agentIDs) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(agentIDs)+1)
	args = append(args, toMicros(cutoff))
	for _, id := range agentIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(agentIDs)), ",")

	result, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET status = 'offline'
		WHERE status = 'online' AND last_seen <= ? AND id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("mark agents offline: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return affected, nil
}
