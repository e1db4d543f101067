package janitor

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jkaninda/kazi/internal/workspace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type memPruner struct {
	cutoff time.Time
	called bool
}

func (m *memPruner) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.called = true
	m.cutoff = cutoff
	return 3, nil
}

func TestSweep_RemovesStaleScopes(t *testing.T) {
	root, err := workspace.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	stale, err := root.Provision()
	if err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stale.Path, old, old); err != nil {
		t.Fatal(err)
	}

	fresh, err := root.Provision()
	if err != nil {
		t.Fatal(err)
	}

	j := New(root, 10*time.Minute, testLogger())
	j.sweep()

	if _, err := os.Stat(stale.Path); !os.IsNotExist(err) {
		t.Error("stale scope should be removed")
	}
	if _, err := os.Stat(fresh.Path); err != nil {
		t.Error("fresh scope should survive")
	}
}

func TestSweep_PrunesHistory(t *testing.T) {
	root, err := workspace.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	pruner := &memPruner{}
	j := New(root, 10*time.Minute, testLogger()).WithHistory(pruner, 7*24*time.Hour)
	j.sweep()

	if !pruner.called {
		t.Fatal("history pruner not invoked")
	}
	wantCutoff := time.Now().Add(-7 * 24 * time.Hour)
	if diff := pruner.cutoff.Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Errorf("cutoff = %s, want about %s", pruner.cutoff, wantCutoff)
	}
}

func TestStartStop(t *testing.T) {
	root, err := workspace.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	j := New(root, 10*time.Minute, testLogger())
	if err := j.Start("@every 1h"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	j.Stop()
}

func TestStart_BadSchedule(t *testing.T) {
	root, err := workspace.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	j := New(root, 10*time.Minute, testLogger())
	if err := j.Start("not a cron spec"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
