package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jkaninda/kazi/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "kazi.db")
	s, err := Open(&config.HistoryConfig{}, path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &ExecutionRecord{
		PackageName: "@acme/hello",
		Version:     "latest",
		Tool:        "greet",
		Success:     true,
		DurationMs:  350,
	}
	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.ID == "" {
		t.Error("Record should assign an ID")
	}
	if rec.CreatedAt.IsZero() {
		t.Error("Record should stamp CreatedAt")
	}

	recs, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	got := recs[0]
	if got.PackageName != "@acme/hello" || got.Tool != "greet" || !got.Success {
		t.Errorf("record = %+v", got)
	}
}

func TestListRecent_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		rec := &ExecutionRecord{
			PackageName: "pkg",
			Tool:        "tool",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Record(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.ListRecent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].CreatedAt.Before(recs[1].CreatedAt) {
		t.Error("records not ordered newest first")
	}
}

func TestListRecent_LimitClamped(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.ListRecent(context.Background(), 0); err != nil {
		t.Errorf("zero limit should fall back to default: %v", err)
	}
	if _, err := s.ListRecent(context.Background(), 10_000); err != nil {
		t.Errorf("oversized limit should be clamped: %v", err)
	}
}

func TestPruneOlderThan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := &ExecutionRecord{PackageName: "pkg", CreatedAt: time.Now().UTC().Add(-48 * time.Hour)}
	fresh := &ExecutionRecord{PackageName: "pkg", CreatedAt: time.Now().UTC()}
	for _, rec := range []*ExecutionRecord{old, fresh} {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	pruned, err := s.PruneOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	recs, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != fresh.ID {
		t.Errorf("surviving records = %+v", recs)
	}
}

func TestPing(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
