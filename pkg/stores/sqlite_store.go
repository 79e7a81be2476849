package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/stevedore-io/stevedore/pkg/engine"
	"github.com/stevedore-io/stevedore/pkg/resource"
	"github.com/stevedore-io/stevedore/pkg/state"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the StateCache interface using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var (
	_ StateCache        = (*SQLiteStore)(nil)
	_ state.CacheReader = (*SQLiteStore)(nil)
)

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen, maxIdle := s.cfg.MaxOpenConns, s.cfg.MaxIdleConns
	if strings.Contains(s.cfg.Path, ":memory:") {
		// Every connection to :memory: opens its own database; the pool
		// must stay at one connection so all callers see the same data.
		maxOpen, maxIdle = 1, 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveEntry upserts the current entry for a resource.
func (s *SQLiteStore) SaveEntry(ctx context.Context, entry state.Entry) error {
	query := `
		INSERT INTO resources (
			id, kind, name, workload_set, state, fingerprint, binding,
			dependencies, failure_reason, failure_attempts, failure_at,
			orphan, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			workload_set = excluded.workload_set,
			state = excluded.state,
			fingerprint = excluded.fingerprint,
			binding = excluded.binding,
			dependencies = excluded.dependencies,
			failure_reason = excluded.failure_reason,
			failure_attempts = excluded.failure_attempts,
			failure_at = excluded.failure_at,
			orphan = excluded.orphan,
			updated_at = excluded.updated_at
	`

	deps := []byte("[]")
	if len(entry.Dependencies) > 0 {
		var err error
		deps, err = json.Marshal(entry.Dependencies)
		if err != nil {
			return fmt.Errorf("failed to encode dependencies for %s: %w", entry.ID, err)
		}
	}

	var failReason sql.NullString
	var failAt sql.NullTime
	var failAttempts int
	if entry.Failure != nil {
		failReason = sql.NullString{String: entry.Failure.Reason, Valid: true}
		failAttempts = entry.Failure.Attempts
		if !entry.Failure.LastAt.IsZero() {
			failAt = sql.NullTime{Time: entry.Failure.LastAt, Valid: true}
		}
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Kind,
		entry.Name,
		entry.Set,
		entry.State,
		entry.Fingerprint,
		entry.Binding,
		string(deps),
		failReason,
		failAttempts,
		failAt,
		entry.Orphan,
		entry.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save entry %s: %w", entry.ID, err)
	}

	return nil
}

// DeleteEntry removes the entry for an id. Deleting an absent id is not an
// error; the cache mirrors a store that may have been ahead of it.
func (s *SQLiteStore) DeleteEntry(ctx context.Context, id resource.ID) error {
	query := `DELETE FROM resources WHERE id = ?`

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", id, err)
	}

	return nil
}

// LoadEntries returns every cached entry, sorted by id.
func (s *SQLiteStore) LoadEntries(ctx context.Context) ([]state.Entry, error) {
	query := `
		SELECT id, kind, name, workload_set, state, fingerprint, binding,
		       dependencies, failure_reason, failure_attempts, failure_at,
		       orphan, updated_at
		FROM resources
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	defer rows.Close()

	entries := []state.Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	return entries, nil
}

// scanEntry maps one resources row back to a state entry.
func scanEntry(rows *sql.Rows) (state.Entry, error) {
	var entry state.Entry
	var deps string
	var failReason sql.NullString
	var failAt sql.NullTime
	var failAttempts int

	err := rows.Scan(
		&entry.ID,
		&entry.Kind,
		&entry.Name,
		&entry.Set,
		&entry.State,
		&entry.Fingerprint,
		&entry.Binding,
		&deps,
		&failReason,
		&failAttempts,
		&failAt,
		&entry.Orphan,
		&entry.UpdatedAt,
	)
	if err != nil {
		return state.Entry{}, fmt.Errorf("failed to scan entry: %w", err)
	}

	if deps != "" && deps != "[]" {
		if err := json.Unmarshal([]byte(deps), &entry.Dependencies); err != nil {
			return state.Entry{}, fmt.Errorf("failed to decode dependencies for %s: %w", entry.ID, err)
		}
	}
	if failReason.Valid {
		entry.Failure = &state.Failure{
			Reason:   failReason.String,
			Attempts: failAttempts,
		}
		if failAt.Valid {
			entry.Failure.LastAt = failAt.Time
		}
	}

	return entry, nil
}

// AppendTransition appends one transition to the journal.
func (s *SQLiteStore) AppendTransition(ctx context.Context, tr state.Transition) error {
	query := `
		INSERT INTO transitions (resource_id, kind, name, from_state, to_state, reason, attempts, binding, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		tr.ID,
		tr.Kind,
		tr.Name,
		tr.From,
		tr.To,
		tr.Reason,
		tr.Attempts,
		tr.Binding,
		tr.At,
	)

	if err != nil {
		return fmt.Errorf("failed to append transition for %s: %w", tr.ID, err)
	}

	return nil
}

// ListTransitions returns the journal for a resource, newest first.
func (s *SQLiteStore) ListTransitions(ctx context.Context, id resource.ID, limit int) ([]state.Transition, error) {
	query := `
		SELECT resource_id, kind, name, from_state, to_state, reason, attempts, binding, at
		FROM transitions
		WHERE resource_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	transitions := []state.Transition{}
	for rows.Next() {
		var tr state.Transition
		err := rows.Scan(
			&tr.ID,
			&tr.Kind,
			&tr.Name,
			&tr.From,
			&tr.To,
			&tr.Reason,
			&tr.Attempts,
			&tr.Binding,
			&tr.At,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		transitions = append(transitions, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transitions: %w", err)
	}

	return transitions, nil
}

// SaveRun upserts a reconcile run summary.
func (s *SQLiteStore) SaveRun(ctx context.Context, result *engine.RunResult) error {
	query := `
		INSERT INTO runs (
			id, plan_id, status, cancelled, started_at, completed_at,
			total, succeeded, failed, skipped, deferred, aborted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			plan_id = excluded.plan_id,
			status = excluded.status,
			cancelled = excluded.cancelled,
			completed_at = excluded.completed_at,
			total = excluded.total,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			skipped = excluded.skipped,
			deferred = excluded.deferred,
			aborted = excluded.aborted
	`

	_, err := s.db.ExecContext(ctx, query,
		result.ID,
		result.PlanID,
		result.Status,
		result.Cancelled,
		result.StartedAt,
		result.CompletedAt,
		result.Summary.Total,
		result.Summary.Succeeded,
		result.Summary.Failed,
		result.Summary.Skipped,
		result.Summary.Deferred,
		result.Summary.Aborted,
	)

	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", result.ID, err)
	}

	return nil
}

// ListRuns returns persisted run summaries, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `
		SELECT id, plan_id, status, cancelled, started_at, completed_at,
		       total, succeeded, failed, skipped, deferred, aborted
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		var rec RunRecord
		err := rows.Scan(
			&rec.ID,
			&rec.PlanID,
			&rec.Status,
			&rec.Cancelled,
			&rec.StartedAt,
			&rec.CompletedAt,
			&rec.Summary.Total,
			&rec.Summary.Succeeded,
			&rec.Summary.Failed,
			&rec.Summary.Skipped,
			&rec.Summary.Deferred,
			&rec.Summary.Aborted,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
