// Package installer installs the requested npm package into an execution
// scope under a hard time budget.
//
// Security note: npm install runs arbitrary install scripts — this is the
// explicit "run untrusted code" boundary of the service. Isolation is the
// deployment's concern (container/VM per instance); the installer only
// guarantees process-group containment, a sanitized environment, and a
// non-persistent per-scope npm cache.
package installer

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/executil"
	"github.com/jkaninda/kazi/internal/workspace"
)

// Error is a classified, recoverable install failure: package not found,
// registry error, or install timeout. Anything else (npm binary missing,
// scope unwritable) surfaces as a plain error and maps to InternalError.
type Error struct {
	Message  string
	TimedOut bool
}

func (e *Error) Error() string { return e.Message }

// Installer runs npm installs inside execution scopes.
type Installer struct {
	npmBin    string
	registry  string
	timeout   time.Duration
	outputCap int
	logger    *slog.Logger
}

// New creates an Installer from executor configuration.
func New(cfg config.ExecutorConfig, logger *slog.Logger) *Installer {
	return &Installer{
		npmBin:    cfg.Npm(),
		registry:  cfg.Registry,
		timeout:   cfg.InstallTimeout(),
		outputCap: cfg.OutputCap(),
		logger:    logger,
	}
}

// Install installs spec ("pkg@version") into the scope. Production
// dependencies only, no lockfile, no audit or fund side-calls. Returns
// *Error for classified failures.
func (i *Installer) Install(ctx context.Context, scope *workspace.Scope, spec string) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	args := []string{
		"install", spec,
		"--omit=dev",
		"--no-package-lock",
		"--no-audit",
		"--no-fund",
		"--loglevel=error",
	}
	if i.registry != "" {
		args = append(args, "--registry="+i.registry)
	}

	cmd := exec.CommandContext(ctx, i.npmBin, args...)
	cmd.Dir = scope.Path
	cmd.Env = i.buildEnv(scope)
	executil.Isolate(cmd)

	i.logger.InfoContext(ctx, "installing package",
		slog.String("scope", scope.ID),
		slog.String("spec", spec),
		slog.Duration("timeout", i.timeout),
	)

	out, err := executil.Run(ctx, cmd, i.outputCap)
	if err != nil {
		return fmt.Errorf("spawning npm: %w", err)
	}

	if out.TimedOut {
		i.logger.WarnContext(ctx, "package install timed out",
			slog.String("spec", spec),
			slog.Duration("timeout", i.timeout),
		)
		return &Error{
			Message:  fmt.Sprintf("npm install of %s timed out after %s", spec, i.timeout),
			TimedOut: true,
		}
	}

	if out.ExitCode != 0 {
		msg := strings.TrimSpace(out.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("npm install of %s exited with code %d", spec, out.ExitCode)
		}
		i.logger.WarnContext(ctx, "package install failed",
			slog.String("spec", spec),
			slog.Int("exit_code", out.ExitCode),
		)
		return &Error{Message: msg}
	}

	i.logger.InfoContext(ctx, "package installed",
		slog.String("spec", spec),
		slog.Duration("duration", out.Duration),
	)
	return nil
}

// buildEnv constructs a minimal environment for npm. The server's own
// environment is never inherited, and the npm cache lives inside the
// scope so nothing persists between requests.
func (i *Installer) buildEnv(scope *workspace.Scope) []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + scope.Path,
		"TMPDIR=" + scope.Path,
		"npm_config_cache=" + scope.File(".npm-cache"),
		"npm_config_update_notifier=false",
		"NO_COLOR=1",
	}
}
