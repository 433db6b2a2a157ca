package repo

import (
	"context"
	"time"

	"github.com/hamed0406/flatwatch/internal/domain"
)

// DefaultRetention is how long a not-found log entry survives. Entries with
// Found set are exempt and kept indefinitely.
const DefaultRetention = 24 * time.Hour

// Ports (interfaces) — swap in any storage adapter.

// LogStore is the append-only record of check and delivery outcomes.
// Append applies retention lazily: entries older than the window go away on
// the next write unless they carry Found. List returns newest first; a limit
// of zero or below means everything that is retained.
type LogStore interface {
	Append(ctx context.Context, e domain.LogEntry) error
	List(ctx context.Context, limit int) ([]domain.LogEntry, error)
	Clear(ctx context.Context) error
}

// StatusStore round-trips the watch status across restarts. LoadStatus
// reports ok=false when nothing was ever saved. Persistence is best-effort:
// the in-memory status stays authoritative when a save fails.
type StatusStore interface {
	SaveStatus(ctx context.Context, st domain.WatchStatus) error
	LoadStatus(ctx context.Context) (st domain.WatchStatus, ok bool, err error)
}

// Store is both ports backed by one adapter, which is how every shipped
// adapter implements them.
type Store interface {
	LogStore
	StatusStore
}
