// Package jsonfile persists the watch log and status as JSON documents on
// local disk, the default storage driver. Writes go to a temp file first and
// are renamed into place, so a crash mid-write never corrupts the previous
// snapshot.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hamed0406/flatwatch/internal/domain"
	"github.com/hamed0406/flatwatch/internal/repo"
)

const (
	logFile    = "logs.json"
	statusFile = "status.json"
)

type Store struct {
	mu        sync.RWMutex
	dir       string
	retention time.Duration
	entries   []domain.LogEntry // oldest first, mirrors the log file
}

func New(dir string) (*Store, error) {
	return NewWithRetention(dir, repo.DefaultRetention)
}

// NewWithRetention opens the store with a custom retention window, mainly
// for tests.
func NewWithRetention(dir string, retention time.Duration) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &Store{dir: dir, retention: retention}
	if err := s.loadLog(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadLog() error {
	b, err := os.ReadFile(filepath.Join(s.dir, logFile))
	if errors.Is(err, fs.ErrNotExist) {
		s.entries = make([]domain.LogEntry, 0, 64)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read log file: %w", err)
	}
	var entries []domain.LogEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return fmt.Errorf("parse log file: %w", err)
	}
	s.entries = entries
	return nil
}

func (s *Store) Append(ctx context.Context, e domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.entries = append(s.entries, e)
	s.compactLocked(time.Now().UTC())
	return s.persistLogLocked()
}

func (s *Store) compactLocked(now time.Time) {
	cutoff := now.Add(-s.retention)
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.Found || !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	s.entries = kept
}

func (s *Store) persistLogLocked() error {
	b, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode log: %w", err)
	}
	return atomicWrite(filepath.Join(s.dir, logFile), b)
}

func (s *Store) List(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.LogEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:0]
	return s.persistLogLocked()
}

func (s *Store) SaveStatus(ctx context.Context, st domain.WatchStatus) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicWrite(filepath.Join(s.dir, statusFile), b)
}

func (s *Store) LoadStatus(ctx context.Context) (domain.WatchStatus, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := os.ReadFile(filepath.Join(s.dir, statusFile))
	if errors.Is(err, fs.ErrNotExist) {
		return domain.WatchStatus{}, false, nil
	}
	if err != nil {
		return domain.WatchStatus{}, false, fmt.Errorf("read status file: %w", err)
	}
	var st domain.WatchStatus
	if err := json.Unmarshal(b, &st); err != nil {
		return domain.WatchStatus{}, false, fmt.Errorf("parse status file: %w", err)
	}
	return st, true, nil
}

// atomicWrite replaces path with data via a temp file and rename.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
