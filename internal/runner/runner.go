// Package runner drives tool execution: it synthesizes a Node.js runner
// script into the execution scope, spawns it as an isolated child process
// under a hard time budget, and captures the marker-protocol envelopes
// from its streams.
//
// The process boundary is the core safety property — a tool that crashes,
// busy-loops, or throws can never corrupt or hang the server process.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/executil"
	"github.com/jkaninda/kazi/internal/workspace"
)

// Invocation describes one tool call against an installed package.
type Invocation struct {
	PackageName string
	ExportName  string
	Parameters  map[string]any
	Environment map[string]string
}

// Runner spawns runner scripts as child processes.
type Runner struct {
	nodeBin   string
	timeout   time.Duration
	outputCap int
	logger    *slog.Logger
}

// New creates a Runner from executor configuration.
func New(cfg config.ExecutorConfig, logger *slog.Logger) *Runner {
	return &Runner{
		nodeBin:   cfg.Node(),
		timeout:   cfg.ExecutionTimeout(),
		outputCap: cfg.OutputCap(),
		logger:    logger,
	}
}

// Timeout returns the execution budget applied to each run.
func (r *Runner) Timeout() time.Duration { return r.timeout }

// Run writes the runner script into the scope and executes it. The raw
// (exit code, stdout, stderr) triple is returned for normalization; an
// error is returned only for server-side failures (script write, spawn).
func (r *Runner) Run(ctx context.Context, scope *workspace.Scope, inv Invocation) (*executil.Output, error) {
	script, err := GenerateScript(inv)
	if err != nil {
		return nil, fmt.Errorf("generating runner script: %w", err)
	}

	scriptPath := scope.File(ScriptName)
	if err := os.WriteFile(scriptPath, script, 0640); err != nil {
		return nil, fmt.Errorf("writing runner script: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.nodeBin, scriptPath)
	cmd.Dir = scope.Path
	cmd.Env = r.buildEnv(scope)
	executil.Isolate(cmd)

	r.logger.InfoContext(ctx, "executing tool",
		slog.String("scope", scope.ID),
		slog.String("package", inv.PackageName),
		slog.String("tool", inv.ExportName),
		slog.Duration("timeout", r.timeout),
	)

	out, err := executil.Run(ctx, cmd, r.outputCap)
	if err != nil {
		return nil, fmt.Errorf("spawning node: %w", err)
	}

	if out.TimedOut {
		r.logger.WarnContext(ctx, "tool execution timed out",
			slog.String("tool", inv.ExportName),
			slog.Duration("timeout", r.timeout),
		)
	} else {
		r.logger.InfoContext(ctx, "tool execution completed",
			slog.String("tool", inv.ExportName),
			slog.Int("exit_code", out.ExitCode),
			slog.Duration("duration", out.Duration),
		)
	}

	return out, nil
}

// buildEnv constructs a minimal environment for the child. The server's
// own environment is never inherited; caller-supplied variables are
// injected by the runner script itself, before any package code runs.
func (r *Runner) buildEnv(scope *workspace.Scope) []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + scope.Path,
		"TMPDIR=" + scope.Path,
		"NO_COLOR=1",
	}
}
