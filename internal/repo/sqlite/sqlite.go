// Package sqlite is the single-file storage driver, suitable for a daemon
// that should survive restarts without running a database server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hamed0406/flatwatch/internal/domain"
	"github.com/hamed0406/flatwatch/internal/repo"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS log_entries (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    ts           TIMESTAMP NOT NULL,
    message      TEXT NOT NULL,
    found        INTEGER NOT NULL DEFAULT 0,
    artifact_ref TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_log_entries_ts ON log_entries(ts);

CREATE TABLE IF NOT EXISTS watch_status (
    id              INTEGER PRIMARY KEY CHECK (id = 1),
    running         INTEGER NOT NULL DEFAULT 0,
    last_check_time TIMESTAMP,
    last_result     TEXT NOT NULL DEFAULT '',
    total_checks    INTEGER NOT NULL DEFAULT 0
);
`

type Store struct {
	db        *sql.DB
	retention time.Duration
}

func Open(path string) (*Store, error) {
	return OpenWithRetention(path, repo.DefaultRetention)
}

// OpenWithRetention opens (and migrates) the database with a custom
// retention window, mainly for tests.
func OpenWithRetention(path string, retention time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &Store{db: db, retention: retention}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Append(ctx context.Context, e domain.LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	// All timestamps stored in UTC so the retention comparison is sound.
	e.Timestamp = e.Timestamp.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO log_entries (ts, message, found, artifact_ref) VALUES (?, ?, ?, ?)`,
		e.Timestamp, e.Message, e.Found, e.ArtifactRef,
	); err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}

	cutoff := time.Now().UTC().Add(-s.retention)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM log_entries WHERE found = 0 AND ts < ?`, cutoff,
	); err != nil {
		return fmt.Errorf("prune log entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	if limit <= 0 {
		limit = -1 // sqlite: negative LIMIT means unbounded
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, message, found, artifact_ref
		   FROM log_entries
		  ORDER BY ts DESC, id DESC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query log entries: %w", err)
	}
	defer rows.Close()

	out := make([]domain.LogEntry, 0, 32)
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.Timestamp, &e.Message, &e.Found, &e.ArtifactRef); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log entries: %w", err)
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM log_entries`); err != nil {
		return fmt.Errorf("clear log entries: %w", err)
	}
	return nil
}

func (s *Store) SaveStatus(ctx context.Context, st domain.WatchStatus) error {
	var last sql.NullTime
	if st.LastCheckTime != nil {
		last = sql.NullTime{Time: st.LastCheckTime.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO watch_status (id, running, last_check_time, last_result, total_checks)
VALUES (1, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    running         = excluded.running,
    last_check_time = excluded.last_check_time,
    last_result     = excluded.last_result,
    total_checks    = excluded.total_checks`,
		st.Running, last, st.LastResult, int64(st.TotalChecks),
	)
	if err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	return nil
}

func (s *Store) LoadStatus(ctx context.Context) (domain.WatchStatus, bool, error) {
	var (
		st     domain.WatchStatus
		last   sql.NullTime
		checks int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT running, last_check_time, last_result, total_checks FROM watch_status WHERE id = 1`,
	).Scan(&st.Running, &last, &st.LastResult, &checks)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WatchStatus{}, false, nil
	}
	if err != nil {
		return domain.WatchStatus{}, false, fmt.Errorf("load status: %w", err)
	}
	if last.Valid {
		t := last.Time.UTC()
		st.LastCheckTime = &t
	}
	st.TotalChecks = uint64(checks)
	return st, true, nil
}
