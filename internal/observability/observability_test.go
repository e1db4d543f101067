package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/domain"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestAccessors_Nil(t *testing.T) {
	var obs *Observability
	if obs.MetricsOrNil() != nil {
		t.Error("expected nil metrics from nil Observability")
	}
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
	if obs.HealthOrNil() != nil {
		t.Error("expected nil health checker from nil Observability")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	if m == nil {
		t.Fatal("expected non-nil MetricsCollector")
	}
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// All metrics must register without collision.
	if _, err := m.Registry.Gather(); err != nil {
		t.Fatalf("Gather: %v", err)
	}
}

func TestMetricsCollector_ExecutionCounters(t *testing.T) {
	m := NewMetricsCollector()
	m.ExecutionsTotal.WithLabelValues("success").Inc()
	m.ExecutionsTotal.WithLabelValues("TOOL_NOT_FOUND").Inc()
	m.InstallsTotal.WithLabelValues("failure").Inc()
	m.ActiveExecutions.Inc()
	m.WorkspacesSwept.Add(2)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"kazi_executor_executions_total",
		"kazi_installer_installs_total",
		"kazi_janitor_workspaces_swept_total",
		"kazi_active_executions",
	} {
		if !names[want] {
			t.Errorf("metric %q not gathered", want)
		}
	}
}

// --- HTTP Middleware ---

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetricsCollector()
	handler := HTTPMetricsMiddleware(m, nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "kazi_http_requests_total" {
			found = true
		}
	}
	if !found {
		t.Error("request not counted")
	}
}

func TestHTTPMetricsMiddleware_NilComponents(t *testing.T) {
	called := false
	handler := HTTPMetricsMiddleware(nil, nil, http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if !called {
		t.Error("next handler not called")
	}
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_AllPass(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("db", func(context.Context) error { return nil })
	h.AddCheck("disk", func(context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q", status.Status)
	}
	if len(status.Checks) != 2 {
		t.Errorf("checks = %d, want 2", len(status.Checks))
	}
}

func TestHealthChecker_Degraded(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("db", func(context.Context) error { return errors.New("connection refused") })
	h.AddCheck("disk", func(context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["db"].Status != "fail" {
		t.Errorf("db check = %+v", status.Checks["db"])
	}
	if status.Checks["disk"].Status != "ok" {
		t.Errorf("disk check = %+v", status.Checks["disk"])
	}
}

func TestWritableDirCheck(t *testing.T) {
	if err := WritableDirCheck(t.TempDir())(context.Background()); err != nil {
		t.Errorf("writable dir reported unhealthy: %v", err)
	}
	if err := WritableDirCheck("/nonexistent/kazi-workspaces")(context.Background()); err == nil {
		t.Error("missing dir reported healthy")
	}
}

func TestBinaryCheck(t *testing.T) {
	// Absolute paths are checked directly on the filesystem.
	bin := filepath.Join(t.TempDir(), "node")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := BinaryCheck(bin)(context.Background()); err != nil {
		t.Errorf("existing binary reported unhealthy: %v", err)
	}

	if err := BinaryCheck("kazi-no-such-binary")(context.Background()); err == nil {
		t.Error("missing binary reported healthy")
	}
}

// --- Execution spans ---

func TestExecutionSpanConventions(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer := tp.Tracer("test")

	_, span := StartExecutionSpan(context.Background(), tracer, "exec-1", domain.ExecutionRequest{
		PackageName: "@acme/hello",
		ExportName:  "greet",
	})
	RecordExecutionOutcome(span, domain.Failure(domain.ErrToolNotFound, "no such tool"))
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.Name() != "executor.execute" {
		t.Errorf("span name = %q", s.Name())
	}
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", s.Status().Code)
	}

	attrs := map[attribute.Key]string{}
	for _, kv := range s.Attributes() {
		attrs[kv.Key] = kv.Value.AsString()
	}
	if attrs["kazi.package"] != "@acme/hello" || attrs["kazi.tool"] != "greet" {
		t.Errorf("attributes = %v", attrs)
	}
	if attrs["kazi.version"] != "latest" {
		t.Errorf("version attribute = %q, want latest", attrs["kazi.version"])
	}
	if attrs["kazi.error_code"] != "TOOL_NOT_FOUND" {
		t.Errorf("error_code attribute = %q", attrs["kazi.error_code"])
	}
}

func TestRecordExecutionOutcome_NilSpan(t *testing.T) {
	// The executor passes a nil span when tracing is disabled.
	RecordExecutionOutcome(nil, domain.Succeed("ok"))
}
