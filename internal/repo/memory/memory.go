// Package memory provides a volatile store, the storage.driver "memory"
// fallback and the default in tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hamed0406/flatwatch/internal/domain"
	"github.com/hamed0406/flatwatch/internal/repo"
)

type Store struct {
	mu        sync.RWMutex
	retention time.Duration
	entries   []domain.LogEntry // oldest first
	status    *domain.WatchStatus
}

func New() *Store {
	return NewWithRetention(repo.DefaultRetention)
}

// NewWithRetention shrinks the retention window, mainly for tests.
func NewWithRetention(retention time.Duration) *Store {
	return &Store{
		retention: retention,
		entries:   make([]domain.LogEntry, 0, 128),
	}
}

func (m *Store) Append(ctx context.Context, e domain.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.entries = append(m.entries, e)
	m.compactLocked(time.Now().UTC())
	return nil
}

// compactLocked drops entries older than the retention window, keeping
// anything with Found set.
func (m *Store) compactLocked(now time.Time) {
	cutoff := now.Add(-m.retention)
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.Found || !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	m.entries = kept
}

func (m *Store) List(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.LogEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *Store) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = m.entries[:0]
	return nil
}

func (m *Store) SaveStatus(ctx context.Context, st domain.WatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = &st
	return nil
}

func (m *Store) LoadStatus(ctx context.Context) (domain.WatchStatus, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == nil {
		return domain.WatchStatus{}, false, nil
	}
	return *m.status, true, nil
}
