// Package executor orchestrates the per-request execution pipeline:
// provision a scope, install the package, run the tool, normalize the
// outcome, release the scope.
//
// Every request flows through all stages in order and the scope is
// released on every path, success or not. The pipeline never returns a
// Go error to its caller — every failure mode is folded into the
// normalized result envelope so the HTTP layer has exactly one shape to
// serialize.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kazi/internal/audit"
	"github.com/jkaninda/kazi/internal/domain"
	"github.com/jkaninda/kazi/internal/executil"
	"github.com/jkaninda/kazi/internal/installer"
	"github.com/jkaninda/kazi/internal/observability"
	"github.com/jkaninda/kazi/internal/runner"
	"github.com/jkaninda/kazi/internal/storage"
	"github.com/jkaninda/kazi/internal/workspace"
)

// ScopeProvisioner creates fresh execution scopes.
type ScopeProvisioner interface {
	Provision() (*workspace.Scope, error)
}

// PackageInstaller installs an npm package spec into a scope.
type PackageInstaller interface {
	Install(ctx context.Context, scope *workspace.Scope, spec string) error
}

// ToolRunner executes a tool invocation inside a scope and returns the
// raw process outcome.
type ToolRunner interface {
	Run(ctx context.Context, scope *workspace.Scope, inv runner.Invocation) (*executil.Output, error)
	Timeout() time.Duration
}

// HistoryRecorder persists execution outcomes. Optional.
type HistoryRecorder interface {
	Record(ctx context.Context, rec *storage.ExecutionRecord) error
}

// Executor runs the full pipeline for each request.
type Executor struct {
	scopes    ScopeProvisioner
	installer PackageInstaller
	runner    ToolRunner
	logger    *slog.Logger

	// Optional hooks, all nil-safe.
	metrics *observability.MetricsCollector
	tracer  trace.Tracer
	history HistoryRecorder
	auditor *audit.Logger
}

// Option configures optional Executor hooks.
type Option func(*Executor)

// WithMetrics attaches Prometheus metrics to the pipeline.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithTracer attaches an OpenTelemetry tracer to the pipeline.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithHistory attaches the execution history store.
func WithHistory(h HistoryRecorder) Option {
	return func(e *Executor) { e.history = h }
}

// WithAudit attaches the JSONL audit logger.
func WithAudit(a *audit.Logger) Option {
	return func(e *Executor) { e.auditor = a }
}

// New creates an Executor over the given pipeline stages.
func New(scopes ScopeProvisioner, inst PackageInstaller, run ToolRunner, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		scopes:    scopes,
		installer: inst,
		runner:    run,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one tool invocation end to end. The result always has
// ExecutionTimeMs stamped and exactly one of Success/ErrorCode set.
func (e *Executor) Execute(ctx context.Context, req domain.ExecutionRequest) *domain.ExecutionResult {
	start := time.Now()
	execID := uuid.NewString()

	var span trace.Span
	if e.tracer != nil {
		ctx, span = observability.StartExecutionSpan(ctx, e.tracer, execID, req)
		defer span.End()
	}

	if e.metrics != nil {
		e.metrics.ActiveExecutions.Inc()
		defer e.metrics.ActiveExecutions.Dec()
	}

	result := e.run(ctx, execID, req)
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	e.finish(ctx, span, execID, req, result)
	return result
}

// run drives the pipeline stages and returns the normalized result
// without the duration stamp.
func (e *Executor) run(ctx context.Context, execID string, req domain.ExecutionRequest) *domain.ExecutionResult {
	scope, err := e.scopes.Provision()
	if err != nil {
		e.logger.ErrorContext(ctx, "scope provisioning failed",
			slog.String("execution_id", execID),
			slog.String("error", err.Error()),
		)
		return domain.Failure(domain.ErrInternal, "failed to provision execution workspace")
	}
	defer scope.Release()

	installStart := time.Now()
	if err := e.installer.Install(ctx, scope, req.Spec()); err != nil {
		e.observeInstall(time.Since(installStart), false)
		var instErr *installer.Error
		if errors.As(err, &instErr) {
			return domain.Failure(domain.ErrInstallFailed, instErr.Message)
		}
		e.logger.ErrorContext(ctx, "install stage failed",
			slog.String("execution_id", execID),
			slog.String("spec", req.Spec()),
			slog.String("error", err.Error()),
		)
		return domain.Failure(domain.ErrInternal, "failed to install package")
	}
	e.observeInstall(time.Since(installStart), true)

	out, err := e.runner.Run(ctx, scope, runner.Invocation{
		PackageName: req.PackageName,
		ExportName:  req.ExportName,
		Parameters:  req.Parameters,
		Environment: req.Environment,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "run stage failed",
			slog.String("execution_id", execID),
			slog.String("tool", req.ExportName),
			slog.String("error", err.Error()),
		)
		return domain.Failure(domain.ErrInternal, "failed to execute tool")
	}

	return e.normalize(out)
}

// finish records the outcome in metrics, span, history, and audit log.
// All hooks are best-effort; a recording failure never alters the result.
func (e *Executor) finish(ctx context.Context, span trace.Span, execID string, req domain.ExecutionRequest, result *domain.ExecutionResult) {
	status := "success"
	if !result.Success {
		status = string(result.ErrorCode)
	}
	duration := time.Duration(result.ExecutionTimeMs) * time.Millisecond

	if e.metrics != nil {
		e.metrics.ExecutionsTotal.WithLabelValues(status).Inc()
		e.metrics.ExecutionDuration.WithLabelValues(status).Observe(duration.Seconds())
	}

	observability.RecordExecutionOutcome(span, result)

	e.logger.InfoContext(ctx, "execution finished",
		slog.String("execution_id", execID),
		slog.String("package", req.PackageName),
		slog.String("tool", req.ExportName),
		slog.Bool("success", result.Success),
		slog.String("status", status),
		slog.Duration("duration", duration),
	)

	// Recording happens after the result is final and must not be lost
	// to a caller disconnect.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if e.auditor != nil {
		event := audit.Event{
			ExecutionID: execID,
			Package:     req.PackageName,
			Version:     req.ResolvedVersion(),
			Tool:        req.ExportName,
			Success:     result.Success,
			ErrorCode:   string(result.ErrorCode),
			DurationMs:  result.ExecutionTimeMs,
		}
		if err := e.auditor.Record(recordCtx, event); err != nil {
			e.logger.WarnContext(ctx, "audit record failed", slog.String("error", err.Error()))
		}
	}

	if e.history != nil {
		rec := &storage.ExecutionRecord{
			ID:           execID,
			PackageName:  req.PackageName,
			Version:      req.ResolvedVersion(),
			Tool:         req.ExportName,
			Success:      result.Success,
			ErrorCode:    string(result.ErrorCode),
			ErrorMessage: result.ErrorMessage,
			DurationMs:   result.ExecutionTimeMs,
		}
		if err := e.history.Record(recordCtx, rec); err != nil {
			e.logger.WarnContext(ctx, "history record failed", slog.String("error", err.Error()))
		}
	}
}

func (e *Executor) observeInstall(d time.Duration, ok bool) {
	if e.metrics == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failure"
	}
	e.metrics.InstallsTotal.WithLabelValues(status).Inc()
	e.metrics.InstallDuration.Observe(d.Seconds())
}
