package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/kazi/internal/admission"
	"github.com/jkaninda/kazi/internal/audit"
	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/executor"
	"github.com/jkaninda/kazi/internal/httpapi"
	"github.com/jkaninda/kazi/internal/installer"
	"github.com/jkaninda/kazi/internal/janitor"
	"github.com/jkaninda/kazi/internal/observability"
	"github.com/jkaninda/kazi/internal/runner"
	"github.com/jkaninda/kazi/internal/storage"
	"github.com/jkaninda/kazi/internal/workspace"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP execution server",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `kazi --config path` and `kazi serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen port (e.g. :8080)")
	}
}

// runServe wires all subsystems and starts the HTTP server.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("KAZI_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if servePort != "" {
		cfg.Server.ListenAddr = servePort
	}

	logger.Info("starting kazi",
		slog.String("version", version),
		slog.String("config", serveConfigPath),
		slog.String("addr", cfg.Server.Addr()),
	)

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	}()

	root, err := workspace.New(cfg.ResolvedWorkspace(), logger)
	if err != nil {
		return err
	}

	// Readiness covers what executions actually depend on.
	if h := obs.HealthOrNil(); h != nil {
		h.AddCheck("workspace", observability.WritableDirCheck(cfg.ResolvedWorkspace()))
		h.AddCheck("node", observability.BinaryCheck(cfg.Executor.Node()))
		h.AddCheck("npm", observability.BinaryCheck(cfg.Executor.Npm()))
	}

	execOpts := []executor.Option{}
	if m := obs.MetricsOrNil(); m != nil {
		execOpts = append(execOpts, executor.WithMetrics(m))
	}
	if t := obs.TracerOrNil(); t != nil {
		execOpts = append(execOpts, executor.WithTracer(t.Tracer()))
	}

	// Execution history store (optional).
	var history *storage.Store
	if cfg.History != nil {
		history, err = storage.Open(cfg.History, cfg.HistoryDBPath(), logger)
		if err != nil {
			return err
		}
		defer history.Close()
		execOpts = append(execOpts, executor.WithHistory(history))
		if h := obs.HealthOrNil(); h != nil {
			h.AddCheck("history", history.Ping)
		}
	}

	// JSONL audit log (optional).
	if cfg.Audit != nil && cfg.Audit.Enabled {
		auditor, err := audit.NewLogger(cfg.AuditLogPath(), logger)
		if err != nil {
			return err
		}
		defer auditor.Close()
		execOpts = append(execOpts, executor.WithAudit(auditor))
	}

	exec := executor.New(
		root,
		installer.New(cfg.Executor, logger),
		runner.New(cfg.Executor, logger),
		logger,
		execOpts...,
	)

	// Background workspace sweeper (optional).
	if cfg.Janitor != nil && cfg.Janitor.Enabled {
		j := janitor.New(root, cfg.MaxWorkspaceAge(), logger)
		if history != nil {
			j.WithHistory(history, cfg.History.Retention())
		}
		if m := obs.MetricsOrNil(); m != nil {
			j.WithMetrics(m)
		}
		if err := j.Start(cfg.Janitor.CronSchedule()); err != nil {
			return err
		}
		defer j.Stop()
	}

	gwCfg := httpapi.Config{
		ListenAddr:       cfg.Server.Addr(),
		AuthToken:        cfg.Server.AuthToken,
		MaxRequestSize:   cfg.Server.MaxRequestSize(),
		EnableDocs:       cfg.Server.EnableDocs,
		Version:          version,
		InstallTimeout:   cfg.Executor.InstallTimeout(),
		ExecutionTimeout: cfg.Executor.ExecutionTimeout(),
		HealthChecker:    obs.HealthOrNil(),
		Metrics:          obs.MetricsOrNil(),
	}
	if m := obs.MetricsOrNil(); m != nil {
		gwCfg.MetricsRegistry = m.Registry
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			gwCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}
	if t := obs.TracerOrNil(); t != nil {
		gwCfg.Tracer = t.Tracer()
	}

	gateway := httpapi.NewGateway(gwCfg, exec, admission.NewGate(cfg.Admission), logger)
	if history != nil {
		gateway.WithHistory(history)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = gateway.Stop(shutdownCtx)
	}()

	return gateway.Start(ctx)
}
