// Package db provides the telemetry store: the Store contract shared by all
// backends and its PostgreSQL implementation on pgx.
package db

import (
	"cmp"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config sizes the pgx pool behind the telemetry store. Ingest holds a
// connection for each write of a payload, and the sweeper and the read API
// share the same pool.
type Config struct {
	URL string
	// MaxConns bounds concurrent ingests plus readers.
	MaxConns int32
	// MinConns keeps warm connections for agents reporting on a fixed interval.
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	// ApplicationName is reported to the server in pg_stat_activity.
	ApplicationName string
}

// DefaultConfig returns the pool settings used by the server.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		ApplicationName: "aktibguard",
	}
}

// DB is the PostgreSQL telemetry store.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New opens the pool and checks that the server answers. It does not migrate.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	if cfg.ApplicationName != "" {
		pc.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log := logger.With().Str("component", "db").Logger()
	log.Info().Int32("max_conns", cfg.MaxConns).Msg("telemetry store connected")
	return &DB{Pool: pool, logger: log}, nil
}

// Open connects with DefaultConfig and brings the schema up to date.
func Open(ctx context.Context, url string, logger zerolog.Logger) (*DB, error) {
	db, err := New(ctx, DefaultConfig(url), logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Ping checks that the store can reach PostgreSQL.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close releases every pooled connection.
func (db *DB) Close() {
	db.Pool.Close()
	db.logger.Info().Msg("telemetry store closed")
}

// Health reports pool usage in the same shape as the sqlite backend.
func (db *DB) Health() map[string]any {
	st := db.Pool.Stat()
	return map[string]any{
		"driver":        "postgres",
		"total_conns":   st.TotalConns(),
		"in_use":        st.AcquiredConns(),
		"idle":          st.IdleConns(),
		"max_conns":     st.MaxConns(),
		"wait_count":    st.EmptyAcquireCount(),
		"wait_duration": st.AcquireDuration().String(),
	}
}

// ExecTx runs fn in a transaction and commits when it returns nil.
func (db *DB) ExecTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// A no-op once the transaction has committed.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Migration is one embedded schema file, named NNN_description.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// GetMigrations returns the embedded migrations in version order.
func GetMigrations() ([]Migration, error) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	migrations := make([]Migration, 0, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(path.Base(file), ".sql")
		prefix, _, ok := strings.Cut(name, "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil {
			return nil, fmt.Errorf("migration %s: name must start with a version number", file)
		}
		body, err := fs.ReadFile(migrationsFS, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(body)})
	}

	slices.SortFunc(migrations, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return migrations, nil
}

// migrationLockKey serializes Migrate across server replicas.
const migrationLockKey int64 = 0x616b7469 // "akti"

// Migrate applies every embedded migration the database has not recorded,
// each in its own transaction.
func (db *DB) Migrate(ctx context.Context) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("take migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}
	migrations, err := GetMigrations()
	if err != nil {
		return err
	}

	pending := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		pending++
		log := db.logger.With().Int("version", m.Version).Str("name", m.Name).Logger()
		log.Info().Msg("applying migration")

		err := db.ExecTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", m.Version, m.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
	}

	db.logger.Info().Int("applied", pending).Int("known", len(migrations)).Msg("schema up to date")
	return nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := db.Pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// CurrentVersion returns the highest applied migration, or 0 on a database
// that was never migrated.
func (db *DB) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := db.Pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return version, nil
	case errors.As(err, &pgErr) && pgErr.Code == "42P01": // undefined_table
		return 0, nil
	default:
		return 0, fmt.Errorf("read schema version: %w", err)
	}
}
