package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "kazi.json", `{
		"workspace": "/tmp/kazi-ws",
		"server": {"listen_addr": ":9000", "auth_token": "s3cret"},
		"executor": {"install_timeout_seconds": 30, "execution_timeout_seconds": 90}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr() != ":9000" {
		t.Errorf("Addr = %q", cfg.Server.Addr())
	}
	if cfg.Server.AuthToken != "s3cret" {
		t.Errorf("AuthToken = %q", cfg.Server.AuthToken)
	}
	if cfg.Executor.InstallTimeout() != 30*time.Second {
		t.Errorf("InstallTimeout = %s", cfg.Executor.InstallTimeout())
	}
	if cfg.Executor.ExecutionTimeout() != 90*time.Second {
		t.Errorf("ExecutionTimeout = %s", cfg.Executor.ExecutionTimeout())
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "kazi.yaml", `
server:
  listen_addr: ":8088"
history:
  driver: sqlite
  retention_days: 7
janitor:
  enabled: true
  schedule: "@every 5m"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr() != ":8088" {
		t.Errorf("Addr = %q", cfg.Server.Addr())
	}
	if cfg.History.Retention() != 7*24*time.Hour {
		t.Errorf("Retention = %s", cfg.History.Retention())
	}
	if cfg.Janitor.CronSchedule() != "@every 5m" {
		t.Errorf("CronSchedule = %q", cfg.Janitor.CronSchedule())
	}
}

func TestLoad_MissingFileAtExplicitPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	if cfg.Server.Addr() != ":3000" {
		t.Errorf("Addr = %q, want :3000", cfg.Server.Addr())
	}
	if cfg.Server.MaxRequestSize() != 1<<20 {
		t.Errorf("MaxRequestSize = %d", cfg.Server.MaxRequestSize())
	}
	if cfg.Executor.Npm() != "npm" || cfg.Executor.Node() != "node" {
		t.Errorf("binaries = %q/%q", cfg.Executor.Npm(), cfg.Executor.Node())
	}
	if cfg.Executor.InstallTimeout() != 60*time.Second {
		t.Errorf("InstallTimeout = %s", cfg.Executor.InstallTimeout())
	}
	if cfg.Executor.ExecutionTimeout() != 120*time.Second {
		t.Errorf("ExecutionTimeout = %s", cfg.Executor.ExecutionTimeout())
	}
	if cfg.Executor.OutputCap() != 1<<20 {
		t.Errorf("OutputCap = %d", cfg.Executor.OutputCap())
	}
	if cfg.Admission.MaxConcurrent() != 16 {
		t.Errorf("MaxConcurrent = %d", cfg.Admission.MaxConcurrent())
	}
	if cfg.History.HistoryDriver() != "sqlite" {
		t.Errorf("HistoryDriver = %q", cfg.History.HistoryDriver())
	}
	// Sweeper default leaves in-flight requests alone: both budgets plus slack.
	if got, want := cfg.MaxWorkspaceAge(), 60*time.Second+120*time.Second+60*time.Second; got != want {
		t.Errorf("MaxWorkspaceAge = %s, want %s", got, want)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "kazi.json", `{"server": {"listen_addr": ":9000"}}`)

	t.Setenv("KAZI_AUTH_TOKEN", "env-token")
	t.Setenv("KAZI_PORT", "8080")
	t.Setenv("KAZI_WORKSPACE", "/srv/kazi/ws")
	t.Setenv("KAZI_NPM_REGISTRY", "https://registry.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.AuthToken != "env-token" {
		t.Errorf("AuthToken = %q", cfg.Server.AuthToken)
	}
	// Bare port numbers gain the leading colon.
	if cfg.Server.Addr() != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Server.Addr())
	}
	if cfg.Workspace != "/srv/kazi/ws" {
		t.Errorf("Workspace = %q", cfg.Workspace)
	}
	if cfg.Executor.Registry != "https://registry.example.com" {
		t.Errorf("Registry = %q", cfg.Executor.Registry)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"zero value ok", Config{}, false},
		{
			"negative install timeout",
			Config{Executor: ExecutorConfig{InstallTimeoutSeconds: -1}},
			true,
		},
		{
			"negative output cap",
			Config{Executor: ExecutorConfig{MaxOutputBytes: -1}},
			true,
		},
		{
			"unknown history driver",
			Config{History: &HistoryConfig{Driver: "mysql"}},
			true,
		},
		{
			"postgres without dsn",
			Config{History: &HistoryConfig{Driver: "postgres"}},
			true,
		},
		{
			"postgres with dsn",
			Config{History: &HistoryConfig{
				Driver:   "postgres",
				Postgres: &PostgresHistoryConfig{DSN: "postgres://localhost/kazi"},
			}},
			false,
		},
		{
			"admission below -1",
			Config{Admission: &AdmissionConfig{MaxConcurrentExecutions: -2}},
			true,
		},
		{
			"admission unbounded",
			Config{Admission: &AdmissionConfig{MaxConcurrentExecutions: -1}},
			false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestHistoryDBPath(t *testing.T) {
	cfg := Config{DataDir: "/var/lib/kazi"}
	if got := cfg.HistoryDBPath(); got != "/var/lib/kazi/kazi.db" {
		t.Errorf("HistoryDBPath = %q", got)
	}

	cfg.History = &HistoryConfig{SQLite: &SQLiteHistoryConfig{Path: "/data/custom.db"}}
	if got := cfg.HistoryDBPath(); got != "/data/custom.db" {
		t.Errorf("HistoryDBPath = %q", got)
	}
}
