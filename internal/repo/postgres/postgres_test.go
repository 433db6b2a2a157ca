package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/flatwatch/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration test")
	}

	ctx := context.Background()
	store, err := NewWithRetention(ctx, dsn, zap.NewNop(), time.Hour)
	if err != nil {
		t.Fatalf("New store: %v", err)
	}
	t.Cleanup(func() {
		// Leave the schema but not this run's rows behind.
		_, _ = store.pool.Exec(ctx, `DELETE FROM watch_log`)
		_, _ = store.pool.Exec(ctx, `DELETE FROM watch_status`)
		store.Close()
	})
	return store
}

func TestPostgresStore_Append_List_Retention(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	if err := store.Append(ctx, domain.LogEntry{Timestamp: old, Message: "stale not-found"}); err != nil {
		t.Fatalf("Append stale: %v", err)
	}
	if err := store.Append(ctx, domain.LogEntry{Timestamp: old, Message: "stale found", Found: true, ArtifactRef: "a.png"}); err != nil {
		t.Fatalf("Append stale found: %v", err)
	}
	if err := store.Append(ctx, domain.LogEntry{Timestamp: time.Now().UTC(), Message: "fresh"}); err != nil {
		t.Fatalf("Append fresh: %v", err)
	}

	all, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected stale not-found pruned, got %d rows: %+v", len(all), all)
	}
	if all[0].Message != "fresh" {
		t.Fatalf("expected newest first, got %q", all[0].Message)
	}

	one, err := store.List(ctx, 1)
	if err != nil {
		t.Fatalf("List limit=1: %v", err)
	}
	if len(one) != 1 {
		t.Fatalf("expected 1 row with limit=1, got %d", len(one))
	}
}

func TestPostgresStore_StatusUpsertRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.LoadStatus(ctx); err != nil || ok {
		t.Fatalf("expected no status yet, ok=%v err=%v", ok, err)
	}

	at := time.Now().UTC().Truncate(time.Millisecond)
	want := domain.WatchStatus{Running: true, LastCheckTime: &at, LastResult: "no vacancies listed", TotalChecks: 3}
	if err := store.SaveStatus(ctx, want); err != nil {
		t.Fatalf("SaveStatus: %v", err)
	}
	want.Running = false
	want.TotalChecks = 4
	if err := store.SaveStatus(ctx, want); err != nil {
		t.Fatalf("SaveStatus upsert: %v", err)
	}

	got, ok, err := store.LoadStatus(ctx)
	if err != nil {
		t.Fatalf("LoadStatus: %v", err)
	}
	if !ok {
		t.Fatal("expected a saved status")
	}
	if got.Running != want.Running || got.TotalChecks != want.TotalChecks || got.LastResult != want.LastResult {
		t.Fatalf("mismatch:\nwant=%+v\ngot =%+v", want, got)
	}
	if got.LastCheckTime == nil || !got.LastCheckTime.Equal(at) {
		t.Fatalf("last check time mismatch: want=%v got=%v", at, got.LastCheckTime)
	}
}

func TestPostgresStore_Clear(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, domain.LogEntry{Timestamp: time.Now().UTC(), Message: "x"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	all, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty log after clear, got %d", len(all))
	}
}
