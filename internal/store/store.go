// Package store persists the relational side of the gateway: per-agent sync
// metadata, feedback events, reputation aggregates, classifications, trust
// scores, the classification work queue and the singleton sync-state row.
//
// SQLite (modernc, pure Go) is the default driver; postgres (pgx stdlib) and
// mysql DSNs are accepted too. Statements are written with ? placeholders and
// rebound to $n for postgres. Timestamps are stored as RFC3339Nano text.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// bindChunkSize caps IN(...) placeholder lists per statement.
const bindChunkSize = 95

// Store wraps the relational database.
type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// Open connects to the database named by dsn and bootstraps the schema.
// Empty dsn defaults to a local SQLite file.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dsn == "" {
		dsn = "agentgate.db"
	}

	driver, dsn := driverFor(dsn)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if driver == "sqlite" {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
		} {
			if _, err := db.Exec(pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}

	s := &Store{db: db, driver: driver, logger: logger.Named("store")}
	if err := s.bootstrap(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func driverFor(dsn string) (driver, cleaned string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "pgx", dsn
	case strings.HasPrefix(dsn, "mysql://"):
		return "mysql", strings.TrimPrefix(dsn, "mysql://")
	default:
		return "sqlite", dsn
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sync_metadata (
		agent_id         TEXT PRIMARY KEY,
		embed_hash       TEXT NOT NULL DEFAULT '',
		content_hash     TEXT NOT NULL DEFAULT '',
		qdrant_synced_at TEXT,
		sync_status      TEXT NOT NULL DEFAULT 'synced',
		needs_reembed    INTEGER NOT NULL DEFAULT 0,
		last_error       TEXT NOT NULL DEFAULT '',
		d1_classified_at TEXT,
		d1_reputation_at TEXT,
		updated_at       TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS feedback (
		id          TEXT PRIMARY KEY,
		external_id TEXT NOT NULL,
		agent_id    TEXT NOT NULL,
		chain_id    INTEGER NOT NULL DEFAULT 0,
		score       INTEGER NOT NULL,
		tag1        TEXT NOT NULL DEFAULT '',
		tag2        TEXT NOT NULL DEFAULT '',
		context     TEXT NOT NULL DEFAULT '',
		uri         TEXT NOT NULL DEFAULT '',
		submitter   TEXT NOT NULL DEFAULT '',
		tx_hash     TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agent_reputation (
		agent_id           TEXT PRIMARY KEY,
		feedback_count     INTEGER NOT NULL DEFAULT 0,
		average_score      REAL NOT NULL DEFAULT 0,
		low_count          INTEGER NOT NULL DEFAULT 0,
		medium_count       INTEGER NOT NULL DEFAULT 0,
		high_count         INTEGER NOT NULL DEFAULT 0,
		last_calculated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agent_classifications (
		agent_id      TEXT PRIMARY KEY,
		skills        TEXT NOT NULL DEFAULT '[]',
		domains       TEXT NOT NULL DEFAULT '[]',
		confidence    REAL NOT NULL DEFAULT 0,
		source        TEXT NOT NULL DEFAULT 'none',
		model_version TEXT NOT NULL DEFAULT '',
		classified_at TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agent_trust_scores (
		agent_id    TEXT PRIMARY KEY,
		score       INTEGER NOT NULL DEFAULT 0,
		computed_at TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS classification_queue (
		id         TEXT PRIMARY KEY,
		agent_id   TEXT NOT NULL,
		force      INTEGER NOT NULL DEFAULT 0,
		status     TEXT NOT NULL DEFAULT 'pending',
		attempts   INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_state (
		id                       INTEGER PRIMARY KEY,
		last_graph_sync          TEXT NOT NULL DEFAULT '',
		last_d1_sync             TEXT NOT NULL DEFAULT '',
		last_reconciliation      TEXT NOT NULL DEFAULT '',
		last_graph_feedback_sync TEXT NOT NULL DEFAULT '',
		last_feedback_created_at TEXT NOT NULL DEFAULT '',
		agents_synced            INTEGER NOT NULL DEFAULT 0,
		embeddings_generated     INTEGER NOT NULL DEFAULT 0,
		feedback_synced          INTEGER NOT NULL DEFAULT 0,
		agents_deleted           INTEGER NOT NULL DEFAULT 0,
		last_error               TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS reputation_snapshots (
		id             TEXT PRIMARY KEY,
		agent_id       TEXT NOT NULL,
		snapshot_date  TEXT NOT NULL,
		average_score  REAL NOT NULL,
		feedback_count INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_feedback_external ON feedback(external_id)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_agent_created ON feedback(agent_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_tags ON feedback(tag1, tag2)`,
	`CREATE INDEX IF NOT EXISTS idx_queue_status_created ON classification_queue(status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_queue_agent ON classification_queue(agent_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_classifications_updated ON agent_classifications(updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_reputation_calculated ON agent_reputation(last_calculated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_trust_updated ON agent_trust_scores(updated_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_agent_date ON reputation_snapshots(agent_id, snapshot_date)`,
	`CREATE INDEX IF NOT EXISTS idx_metadata_status ON sync_metadata(sync_status)`,
}

func (s *Store) bootstrap() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	// Singleton sync-state row.
	var n int
	if err := s.db.QueryRow(s.rebind(`SELECT COUNT(*) FROM sync_state WHERE id = ?`), 1).Scan(&n); err != nil {
		return fmt.Errorf("check sync_state: %w", err)
	}
	if n == 0 {
		if _, err := s.db.Exec(s.rebind(`INSERT INTO sync_state (id) VALUES (?)`), 1); err != nil {
			return fmt.Errorf("seed sync_state: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping probes connectivity. Used by the /health dependency matrix.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind converts ? placeholders to $n for the postgres driver. None of our
// statements contain a literal question mark.
func (s *Store) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

type scanner interface {
	Scan(dest ...any) error
}

// IsNotFound reports whether err is sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func timeFromNull(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	return parseTime(ns.String)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// chunkStrings splits ids into slices of at most bindChunkSize so IN(...)
// lists stay under driver bind limits.
func chunkStrings(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
