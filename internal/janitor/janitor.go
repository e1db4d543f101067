// Package janitor runs scheduled background maintenance: sweeping
// orphaned execution scopes (left behind by crashes or kill -9) and
// pruning expired execution history.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/kazi/internal/observability"
	"github.com/jkaninda/kazi/internal/workspace"
)

// HistoryPruner deletes history records older than a cutoff.
type HistoryPruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor schedules periodic maintenance jobs.
type Janitor struct {
	root    *workspace.Root
	maxAge  time.Duration
	history HistoryPruner // nil when history disabled
	keep    time.Duration
	metrics *observability.MetricsCollector // nil-safe
	logger  *slog.Logger

	cron *cron.Cron
}

// New creates a Janitor sweeping scopes older than maxAge under root.
func New(root *workspace.Root, maxAge time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		root:   root,
		maxAge: maxAge,
		logger: logger,
		cron:   cron.New(),
	}
}

// WithHistory adds history pruning with the given retention.
func (j *Janitor) WithHistory(h HistoryPruner, retention time.Duration) *Janitor {
	j.history = h
	j.keep = retention
	return j
}

// WithMetrics adds sweep metrics.
func (j *Janitor) WithMetrics(m *observability.MetricsCollector) *Janitor {
	j.metrics = m
	return j
}

// Start registers the maintenance job on the given cron schedule and
// starts the scheduler. One sweep runs immediately so a restart cleans
// up right away instead of waiting a full interval.
func (j *Janitor) Start(schedule string) error {
	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return err
	}
	go j.sweep()
	j.cron.Start()
	j.logger.Info("janitor started", slog.String("schedule", schedule), slog.Duration("max_age", j.maxAge))
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// sweep runs one maintenance pass.
func (j *Janitor) sweep() {
	removed, err := j.root.Sweep(j.maxAge)
	if err != nil {
		j.logger.Warn("workspace sweep failed", slog.String("error", err.Error()))
	} else if removed > 0 {
		j.logger.Info("swept stale workspaces", slog.Int("removed", removed))
		if j.metrics != nil {
			j.metrics.WorkspacesSwept.Add(float64(removed))
		}
	}

	if j.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pruned, err := j.history.PruneOlderThan(ctx, time.Now().Add(-j.keep))
	if err != nil {
		j.logger.Warn("history prune failed", slog.String("error", err.Error()))
	} else if pruned > 0 {
		j.logger.Info("pruned execution history", slog.Int64("pruned", pruned))
	}
}
