// Package runstore persists pipeline run history in SQLite. The daemon uses
// it to suppress duplicate releases; the history command reads it back.
package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one recorded pipeline execution.
type Run struct {
	ID         string
	Tag        string
	Version    string
	Commit     string
	Artifact   string
	Outcome    string // success|skipped|failed
	Error      string
	Started    time.Time
	DurationMS int64
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and initializes) a run store.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		tag TEXT NOT NULL,
		version TEXT NOT NULL,
		commit_hash TEXT NOT NULL,
		artifact TEXT,
		outcome TEXT NOT NULL,
		error TEXT,
		started INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_tag ON runs(tag);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record inserts a finished run.
func (s *Store) Record(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, tag, version, commit_hash, artifact, outcome, error, started, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		run.ID, run.Tag, run.Version, run.Commit, run.Artifact, run.Outcome, run.Error, run.Started.Unix(), run.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, tag, version, commit_hash, artifact, outcome, error, started, duration_ms FROM runs ORDER BY started DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// ByTag returns all runs for a tag, newest first.
func (s *Store) ByTag(ctx context.Context, tag string) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, tag, version, commit_hash, artifact, outcome, error, started, duration_ms FROM runs WHERE tag = ? ORDER BY started DESC, id DESC",
		tag,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs by tag: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// HasRelease reports whether a tag already has a successful run, which the
// daemon uses to avoid re-releasing a tag on every poll.
func (s *Store) HasRelease(ctx context.Context, tag string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM runs WHERE tag = ? AND outcome = 'success'", tag,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count releases: %w", err)
	}
	return count > 0, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		var artifact, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.Tag, &r.Version, &r.Commit, &artifact, &r.Outcome, &errMsg, &started, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Artifact = artifact.String
		r.Error = errMsg.String
		r.Started = time.Unix(started, 0).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
