// Package postgres is the shared-database storage driver, for deployments
// where several tools already report into one Postgres instance.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/flatwatch/internal/domain"
	"github.com/hamed0406/flatwatch/internal/repo"
)

var _ repo.Store = (*Store)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS watch_log (
    id           BIGSERIAL PRIMARY KEY,
    ts           TIMESTAMPTZ NOT NULL,
    message      TEXT NOT NULL,
    found        BOOLEAN NOT NULL DEFAULT FALSE,
    artifact_ref TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_watch_log_ts ON watch_log(ts);

CREATE TABLE IF NOT EXISTS watch_status (
    id              SMALLINT PRIMARY KEY CHECK (id = 1),
    running         BOOLEAN NOT NULL DEFAULT FALSE,
    last_check_time TIMESTAMPTZ,
    last_result     TEXT NOT NULL DEFAULT '',
    total_checks    BIGINT NOT NULL DEFAULT 0
);
`

type Store struct {
	pool      *pgxpool.Pool
	log       *zap.Logger
	retention time.Duration
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	return NewWithRetention(ctx, dsn, log, repo.DefaultRetention)
}

// NewWithRetention connects, pings, and migrates with a custom retention
// window, mainly for tests.
func NewWithRetention(ctx context.Context, dsn string, log *zap.Logger, retention time.Duration) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{pool: pool, log: log, retention: retention}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Append(ctx context.Context, e domain.LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO watch_log (ts, message, found, artifact_ref)
		 VALUES ($1, $2, $3, $4)`,
		e.Timestamp, e.Message, e.Found, e.ArtifactRef,
	); err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}

	cutoff := time.Now().UTC().Add(-s.retention)
	if _, err := tx.Exec(ctx,
		`DELETE FROM watch_log WHERE found = FALSE AND ts < $1`, cutoff,
	); err != nil {
		return fmt.Errorf("prune log entries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT ts, message, found, artifact_ref
		   FROM watch_log
		  ORDER BY ts DESC, id DESC
		  LIMIT $1`, lim)
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
	if _, err := s.pool.Exec(ctx, `DELETE FROM watch_log`); err != nil {
		return fmt.Errorf("clear log entries: %w", err)
	}
	return nil
}

func (s *Store) SaveStatus(ctx context.Context, st domain.WatchStatus) error {
	var last *time.Time
	if st.LastCheckTime != nil {
		t := st.LastCheckTime.UTC()
		last = &t
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO watch_status (id, running, last_check_time, last_result, total_checks)
VALUES (1, $1, $2, $3, $4)
ON CONFLICT (id)
DO UPDATE SET running         = EXCLUDED.running,
              last_check_time = EXCLUDED.last_check_time,
              last_result     = EXCLUDED.last_result,
              total_checks    = EXCLUDED.total_checks`,
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
		last   *time.Time
		checks int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT running, last_check_time, last_result, total_checks FROM watch_status WHERE id = 1`,
	).Scan(&st.Running, &last, &st.LastResult, &checks)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WatchStatus{}, false, nil
	}
	if err != nil {
		return domain.WatchStatus{}, false, fmt.Errorf("load status: %w", err)
	}
	if last != nil {
		t := last.UTC()
		st.LastCheckTime = &t
	}
	st.TotalChecks = uint64(checks)
	return st, true, nil
}
