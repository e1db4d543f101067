package runner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/workspace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeNode writes an executable script standing in for the node binary.
func fakeNode(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testScope(t *testing.T) *workspace.Scope {
	t.Helper()
	root, err := workspace.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	scope, err := root.Provision()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(scope.Release)
	return scope
}

func TestRun_WritesScriptAndCapturesOutput(t *testing.T) {
	scope := testScope(t)
	node := fakeNode(t, `cp "$1" seen.js; echo '__KAZI_RESULT__{"output":"ok"}'`)

	r := New(config.ExecutorConfig{NodeBin: node, ExecutionTimeoutSeconds: 10}, testLogger())
	out, err := r.Run(context.Background(), scope, Invocation{
		PackageName: "@acme/hello",
		ExportName:  "greet",
		Parameters:  map[string]any{"name": "world"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.ExitCode != 0 {
		t.Errorf("ExitCode = %d", out.ExitCode)
	}
	if _, ok := ExtractResult(out.Stdout); !ok {
		t.Errorf("stdout missing result envelope: %q", out.Stdout)
	}

	// The script handed to node is the rendered runner for this invocation.
	seen, err := os.ReadFile(scope.File("seen.js"))
	if err != nil {
		t.Fatalf("node did not receive the script path: %v", err)
	}
	if !strings.Contains(string(seen), `const packageName = "@acme/hello";`) {
		t.Errorf("script content not rendered for invocation")
	}
	if _, err := os.Stat(scope.File(ScriptName)); err != nil {
		t.Errorf("script not written into the scope: %v", err)
	}
}

func TestRun_SanitizedEnvironment(t *testing.T) {
	scope := testScope(t)
	node := fakeNode(t, `env > env.txt`)

	t.Setenv("KAZI_SECRET_CANARY", "leaked")

	r := New(config.ExecutorConfig{NodeBin: node}, testLogger())
	if _, err := r.Run(context.Background(), scope, Invocation{PackageName: "pkg", ExportName: "tool"}); err != nil {
		t.Fatal(err)
	}

	env, err := os.ReadFile(scope.File("env.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(env), "KAZI_SECRET_CANARY") {
		t.Error("server environment leaked into node")
	}
	if !strings.Contains(string(env), "HOME="+scope.Path) {
		t.Error("HOME not pinned to the scope")
	}
}

func TestRun_Timeout(t *testing.T) {
	scope := testScope(t)
	node := fakeNode(t, `sleep 30`)

	r := New(config.ExecutorConfig{NodeBin: node, ExecutionTimeoutSeconds: 1}, testLogger())
	out, err := r.Run(context.Background(), scope, Invocation{PackageName: "pkg", ExportName: "tool"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.TimedOut {
		t.Error("expected TimedOut")
	}
}

func TestRun_SpawnFailure(t *testing.T) {
	scope := testScope(t)

	r := New(config.ExecutorConfig{NodeBin: filepath.Join(t.TempDir(), "no-such-node")}, testLogger())
	if _, err := r.Run(context.Background(), scope, Invocation{PackageName: "pkg", ExportName: "tool"}); err == nil {
		t.Fatal("expected spawn error for missing binary")
	}
}

func TestTimeout(t *testing.T) {
	r := New(config.ExecutorConfig{ExecutionTimeoutSeconds: 42}, testLogger())
	if got := r.Timeout().Seconds(); got != 42 {
		t.Errorf("Timeout = %vs, want 42s", got)
	}
}
