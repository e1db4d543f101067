// Package config handles loading and validating kazi configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for kazi.
//
// The service runs with zero configuration: every field has a default and
// the only inputs a deployment usually sets are the listen address and the
// shared auth token (via env vars). Optional subsystems are nil-able —
// nil means disabled.
type Config struct {
	Workspace string `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Workspace root for per-request dirs. Default: ~/.kazi/workspace. Override: KAZI_WORKSPACE.
	DataDir   string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`   // Persistent data directory. Default: ~/.kazi/data. Override: KAZI_DATA_DIR.

	Server   ServerConfig   `json:"server" yaml:"server"`
	Executor ExecutorConfig `json:"executor" yaml:"executor"`

	Admission     *AdmissionConfig     `json:"admission,omitempty" yaml:"admission,omitempty"`         // nil = default concurrency cap, no rate limit.
	History       *HistoryConfig       `json:"history,omitempty" yaml:"history,omitempty"`             // nil = execution history disabled.
	Audit         *AuditConfig         `json:"audit,omitempty" yaml:"audit,omitempty"`                 // nil = JSONL audit log disabled.
	Janitor       *JanitorConfig       `json:"janitor,omitempty" yaml:"janitor,omitempty"`             // nil = workspace sweeper disabled.
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled.
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	ListenAddr          string `json:"listen_addr" yaml:"listen_addr"`                         // Default: ":3000". Override: KAZI_PORT (":8080" or "8080").
	AuthToken           string `json:"auth_token,omitempty" yaml:"auth_token,omitempty"`       // Shared bearer secret. Empty = open access. Override: KAZI_AUTH_TOKEN.
	MaxRequestSizeBytes int64  `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`   // Default: 1 MB.
	EnableDocs          bool   `json:"enable_docs,omitempty" yaml:"enable_docs,omitempty"`     // Serve OpenAPI docs.
}

// Addr returns the listen address with a default of ":3000".
func (s *ServerConfig) Addr() string {
	if s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":3000"
}

// MaxRequestSize returns the body size cap with a default of 1 MB.
func (s *ServerConfig) MaxRequestSize() int64 {
	if s.MaxRequestSizeBytes > 0 {
		return s.MaxRequestSizeBytes
	}
	return 1 << 20
}

// ExecutorConfig configures package installation and tool execution.
type ExecutorConfig struct {
	NpmBin                  string `json:"npm_bin" yaml:"npm_bin"`                                   // Default: "npm".
	NodeBin                 string `json:"node_bin" yaml:"node_bin"`                                 // Default: "node".
	Registry                string `json:"registry,omitempty" yaml:"registry,omitempty"`             // npm registry URL. Empty = npm default. Override: KAZI_NPM_REGISTRY.
	InstallTimeoutSeconds   int    `json:"install_timeout_seconds" yaml:"install_timeout_seconds"`   // Default: 60.
	ExecutionTimeoutSeconds int    `json:"execution_timeout_seconds" yaml:"execution_timeout_seconds"` // Default: 120.
	MaxOutputBytes          int    `json:"max_output_bytes" yaml:"max_output_bytes"`                 // stdout/stderr cap per stream. Default: 1 MB.
}

// Npm returns the npm binary with a default of "npm".
func (e *ExecutorConfig) Npm() string {
	if e.NpmBin != "" {
		return e.NpmBin
	}
	return "npm"
}

// Node returns the node binary with a default of "node".
func (e *ExecutorConfig) Node() string {
	if e.NodeBin != "" {
		return e.NodeBin
	}
	return "node"
}

// InstallTimeout returns the install budget with a default of 60s.
func (e *ExecutorConfig) InstallTimeout() time.Duration {
	if e.InstallTimeoutSeconds > 0 {
		return time.Duration(e.InstallTimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}

// ExecutionTimeout returns the execution budget with a default of 120s.
func (e *ExecutorConfig) ExecutionTimeout() time.Duration {
	if e.ExecutionTimeoutSeconds > 0 {
		return time.Duration(e.ExecutionTimeoutSeconds) * time.Second
	}
	return 120 * time.Second
}

// OutputCap returns the per-stream output cap with a default of 1 MB.
func (e *ExecutorConfig) OutputCap() int {
	if e.MaxOutputBytes > 0 {
		return e.MaxOutputBytes
	}
	return 1 << 20
}

// AdmissionConfig bounds concurrent executions and overall request rate.
type AdmissionConfig struct {
	MaxConcurrentExecutions int `json:"max_concurrent_executions" yaml:"max_concurrent_executions"` // Default: 16. -1 = unbounded.
	RequestsPerSecond       int `json:"requests_per_second" yaml:"requests_per_second"`             // Global rate limit. 0 = unlimited.
	BurstSize               int `json:"burst_size" yaml:"burst_size"`                               // Default: RequestsPerSecond.
}

// MaxConcurrent returns the concurrency cap with a default of 16.
// -1 disables the cap entirely.
func (a *AdmissionConfig) MaxConcurrent() int {
	if a == nil {
		return 16
	}
	if a.MaxConcurrentExecutions != 0 {
		return a.MaxConcurrentExecutions
	}
	return 16
}

// HistoryConfig configures the optional execution history store.
type HistoryConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteHistoryConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresHistoryConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.

	RetentionDays int `json:"retention_days" yaml:"retention_days"` // Janitor prunes older records. Default: 30.
}

// HistoryDriver returns the configured driver, defaulting to "sqlite".
func (h *HistoryConfig) HistoryDriver() string {
	if h != nil && h.Driver != "" {
		return h.Driver
	}
	return "sqlite"
}

// Retention returns the record retention with a default of 30 days.
func (h *HistoryConfig) Retention() time.Duration {
	if h != nil && h.RetentionDays > 0 {
		return time.Duration(h.RetentionDays) * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// SQLiteHistoryConfig holds SQLite-specific settings.
type SQLiteHistoryConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: <data_dir>/kazi.db.
}

// PostgresHistoryConfig holds PostgreSQL-specific settings.
type PostgresHistoryConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// AuditConfig configures the append-only JSONL execution audit log.
type AuditConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"` // Default: <data_dir>/audit.jsonl.
}

// JanitorConfig configures the background sweeper for orphaned workspaces.
type JanitorConfig struct {
	Enabled              bool   `json:"enabled" yaml:"enabled"`
	Schedule             string `json:"schedule" yaml:"schedule"`                             // Cron spec. Default: "@every 10m".
	MaxWorkspaceAgeSeconds int  `json:"max_workspace_age_seconds" yaml:"max_workspace_age_seconds"` // Default: install + execution budgets + 60s slack.
}

// CronSchedule returns the sweep schedule with a default of "@every 10m".
func (j *JanitorConfig) CronSchedule() string {
	if j != nil && j.Schedule != "" {
		return j.Schedule
	}
	return "@every 10m"
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "kazi"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// DefaultConfigPath returns the default config file path (~/.kazi/config.json).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/kazi.json" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".kazi", "config.json")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. A missing file at the default path is not an error — the
// service runs on defaults plus environment overrides.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	var cfg Config
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
		case ".yml", ".yaml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
			}
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
			}
		}
	case os.IsNotExist(err) && resolved == mustResolve(DefaultConfigPath()):
		// No config file — run on defaults.
	default:
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variables on top of file values.
// Environment variables take precedence.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KAZI_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := os.Getenv("KAZI_PORT"); v != "" {
		if !strings.HasPrefix(v, ":") && !strings.Contains(v, ":") {
			v = ":" + v
		}
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("KAZI_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}
	if v := os.Getenv("KAZI_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("KAZI_NPM_REGISTRY"); v != "" {
		cfg.Executor.Registry = v
	}
}

// ResolvedWorkspace returns the workspace root, resolving ~ if needed.
func (c *Config) ResolvedWorkspace() string {
	if c.Workspace == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "workspace"
		}
		return filepath.Join(home, ".kazi", "workspace")
	}
	resolved, err := resolvePath(c.Workspace)
	if err != nil {
		return c.Workspace
	}
	return resolved
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".kazi", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// HistoryDBPath returns the default SQLite database path under the data directory.
func (c *Config) HistoryDBPath() string {
	if c.History != nil && c.History.SQLite != nil && c.History.SQLite.Path != "" {
		return c.History.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "kazi.db")
}

// AuditLogPath returns the audit log path, defaulting under the data directory.
func (c *Config) AuditLogPath() string {
	if c.Audit != nil && c.Audit.Path != "" {
		return c.Audit.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "audit.jsonl")
}

// MaxWorkspaceAge returns the age past which the janitor removes a
// workspace dir. Defaults to both budgets plus 60s slack, so an in-flight
// request can never have its directory swept from under it.
func (c *Config) MaxWorkspaceAge() time.Duration {
	if c.Janitor != nil && c.Janitor.MaxWorkspaceAgeSeconds > 0 {
		return time.Duration(c.Janitor.MaxWorkspaceAgeSeconds) * time.Second
	}
	return c.Executor.InstallTimeout() + c.Executor.ExecutionTimeout() + 60*time.Second
}

func (c *Config) validate() error {
	if c.Executor.InstallTimeoutSeconds < 0 {
		return fmt.Errorf("executor.install_timeout_seconds must not be negative")
	}
	if c.Executor.ExecutionTimeoutSeconds < 0 {
		return fmt.Errorf("executor.execution_timeout_seconds must not be negative")
	}
	if c.Executor.MaxOutputBytes < 0 {
		return fmt.Errorf("executor.max_output_bytes must not be negative")
	}
	if c.Server.MaxRequestSizeBytes < 0 {
		return fmt.Errorf("server.max_request_size_bytes must not be negative")
	}
	if c.History != nil && c.History.Driver != "" {
		switch c.History.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("history.driver %q is not supported (use sqlite or postgres)", c.History.Driver)
		}
	}
	if c.History != nil && c.History.HistoryDriver() == "postgres" {
		if c.History.Postgres == nil || c.History.Postgres.DSN == "" {
			return fmt.Errorf("history.postgres.dsn is required for the postgres driver")
		}
	}
	if c.Admission != nil && c.Admission.MaxConcurrentExecutions < -1 {
		return fmt.Errorf("admission.max_concurrent_executions must be -1 (unbounded) or positive")
	}
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

func mustResolve(path string) string {
	resolved, err := resolvePath(path)
	if err != nil {
		return path
	}
	return resolved
}
