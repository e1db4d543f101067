package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const checkTimeout = 3 * time.Second

// HealthChecker aggregates readiness over the executor's real
// dependencies: the workspace filesystem, the npm and node binaries,
// and the history database when one is configured.
type HealthChecker struct {
	checks []HealthCheck
	logger *slog.Logger
}

// HealthCheck is a named dependency check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthStatus is the JSON response for health/readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of a single dependency check.
type CheckResult struct {
	Status     string `json:"status"`            // "ok" or "fail"
	Message    string `json:"message,omitempty"` // Error message on failure.
	DurationMs int64  `json:"durationMs"`
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a named health check.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check})
}

// CheckReady runs every registered check under its own timeout and
// returns aggregate readiness: "ok" only when all pass.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	if len(h.checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(h.checks)),
	}

	for _, c := range h.checks {
		status.Checks[c.Name] = h.runCheck(ctx, c)
		if status.Checks[c.Name].Status != "ok" {
			status.Status = "degraded"
		}
	}

	return status
}

func (h *HealthChecker) runCheck(ctx context.Context, c HealthCheck) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := c.Check(checkCtx)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if h.logger != nil {
			h.logger.Warn("readiness check failed",
				slog.String("check", c.Name),
				slog.String("error", err.Error()),
			)
		}
		return CheckResult{Status: "fail", Message: err.Error(), DurationMs: elapsed}
	}
	return CheckResult{Status: "ok", DurationMs: elapsed}
}

// WritableDirCheck reports whether dir exists and accepts writes. A
// full disk or a permissions change makes every execution fail at the
// provisioning stage, so it surfaces here first.
func WritableDirCheck(dir string) func(ctx context.Context) error {
	return func(_ context.Context) error {
		f, err := os.CreateTemp(dir, ".kazi-ready-*")
		if err != nil {
			return fmt.Errorf("workspace root not writable: %w", err)
		}
		name := f.Name()
		f.Close()
		return os.Remove(name)
	}
}

// BinaryCheck reports whether the given binary can be found. Executions
// spawn npm and node on every request; a missing binary means nothing
// can run.
func BinaryCheck(bin string) func(ctx context.Context) error {
	return func(_ context.Context) error {
		if strings.ContainsRune(bin, os.PathSeparator) {
			if _, err := os.Stat(bin); err != nil {
				return fmt.Errorf("binary %s: %w", bin, err)
			}
			return nil
		}
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("binary %s: %w", bin, err)
		}
		return nil
	}
}
