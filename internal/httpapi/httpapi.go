// Package httpapi implements the HTTP surface of kazi.
//
// Security:
//   - Optional shared-secret bearer authentication (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Admission gate bounding concurrent executions
//   - CORS open to all origins (the service fronts browser-driven callers)
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/kazi/internal/admission"
	"github.com/jkaninda/kazi/internal/domain"
	"github.com/jkaninda/kazi/internal/observability"
	"github.com/jkaninda/kazi/internal/storage"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the envelope for request-level failures: bad body,
// bad credentials, saturation. Tool-level failures never use it — they
// ride the normal result envelope with HTTP 200.
type ErrorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ToolExecutor runs one tool invocation end to end.
type ToolExecutor interface {
	Execute(ctx context.Context, req domain.ExecutionRequest) *domain.ExecutionResult
}

// HistoryLister reads recent execution records.
type HistoryLister interface {
	ListRecent(ctx context.Context, limit int) ([]storage.ExecutionRecord, error)
}

// Config configures the HTTP gateway.
type Config struct {
	ListenAddr     string // e.g., ":3000"
	AuthToken      string // Shared bearer secret. Empty = open access.
	MaxRequestSize int64  // Maximum request body in bytes. 0 = 1 MB default.
	EnableDocs     bool
	Version        string

	// Capability advertisement for GET /info.
	InstallTimeout   time.Duration
	ExecutionTimeout time.Duration

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP gateway.
type Gateway struct {
	config   Config
	executor ToolExecutor
	gate     *admission.Gate
	history  HistoryLister // nil = history endpoint disabled.
	logger   *slog.Logger
	server   *http.Server

	okapi *okapi.Okapi
}

// NewGateway creates the HTTP gateway.
func NewGateway(cfg Config, exec ToolExecutor, gate *admission.Gate, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:   cfg,
		executor: exec,
		gate:     gate,
		logger:   logger,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithHistory attaches the execution history store, enabling GET /executions.
func (g *Gateway) WithHistory(h HistoryLister) *Gateway {
	g.history = h
	return g
}

// WithOpenAPIDocs enables the OpenAPI documentation endpoint.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Kazi",
			Version: g.config.Version,
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Global middleware: CORS first so even rejected requests carry the
	// headers, then the body cap, then metrics/tracing.
	g.okapi.UseMiddleware(corsMiddleware)
	g.okapi.UseMiddleware(g.limitBody)
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	g.okapi.Post("/execute-tool", g.authenticate(g.handleExecute),
		okapi.DocSummary("Install an npm package and execute one of its tools"),
		okapi.DocTags("Execution"),
		okapi.DocRequestBody(ExecuteRequest{}),
		okapi.DocResponse(domain.ExecutionResult{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusServiceUnavailable, ErrorBody{}),
	)

	g.okapi.Get("/health", g.handleHealth,
		okapi.DocSummary("Service health and version"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)
	g.okapi.Get("/info", g.handleInfo,
		okapi.DocSummary("Service capabilities"),
		okapi.DocTags("Health"),
		okapi.DocResponse(InfoResponse{}),
	)

	if g.history != nil {
		g.okapi.Get("/executions", g.authenticate(g.handleExecutions),
			okapi.DocSummary("List recent executions"),
			okapi.DocTags("Execution"),
			okapi.DocResponse([]storage.ExecutionRecord{}),
			okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      g.writeTimeout(),
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// ExecuteRequest is the JSON body for POST /execute-tool.
type ExecuteRequest struct {
	PackageName string            `json:"packageName"`
	Name        string            `json:"name"`
	Version     string            `json:"version,omitempty"` // Empty = "latest".
	Params      map[string]any    `json:"params,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// missingFields returns the names of required fields that are absent
// or blank, in declaration order.
func (r *ExecuteRequest) missingFields() []string {
	var missing []string
	if strings.TrimSpace(r.PackageName) == "" {
		missing = append(missing, "packageName")
	}
	if strings.TrimSpace(r.Name) == "" {
		missing = append(missing, "name")
	}
	return missing
}

func (g *Gateway) handleExecute(c *okapi.Context) error {
	var req ExecuteRequest
	bindErr := c.Bind(&req)
	status, body := g.executeResponse(c.Context(), req, bindErr)
	return c.JSON(status, body)
}

// executeResponse decides the transport outcome of one execute request:
// 400 for an unparseable or incomplete body, 503 when the admission gate
// rejects, otherwise 200 carrying the execution result. Tool-level
// outcomes, success or failure, never change the status code.
func (g *Gateway) executeResponse(ctx context.Context, req ExecuteRequest, bindErr error) (int, any) {
	if bindErr != nil {
		return http.StatusBadRequest, ErrorBody{Error: "invalid request body"}
	}
	if missing := req.missingFields(); len(missing) > 0 {
		return http.StatusBadRequest, ErrorBody{Error: "missing required fields: " + strings.Join(missing, ", ")}
	}

	release, ok := g.gate.TryAcquire()
	if !ok {
		g.logger.Warn("execution rejected at admission gate",
			slog.String("package", req.PackageName),
			slog.Int("in_flight", g.gate.InFlight()),
		)
		return http.StatusServiceUnavailable, ErrorBody{Error: "server is at capacity, retry later"}
	}
	defer release()

	g.logger.Info("http execute",
		slog.String("package", req.PackageName),
		slog.String("tool", req.Name),
		slog.String("version", req.Version),
	)

	result := g.executor.Execute(ctx, domain.ExecutionRequest{
		PackageName: req.PackageName,
		ExportName:  req.Name,
		Version:     req.Version,
		Parameters:  req.Params,
		Environment: req.Env,
	})
	return http.StatusOK, result
}

func (g *Gateway) handleExecutions(c *okapi.Context) error {
	recs, err := g.history.ListRecent(c.Context(), 50)
	if err != nil {
		g.logger.Error("listing executions failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing executions failed")
	}
	return c.OK(recs)
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Runtime   string `json:"runtime"`
	Timestamp string `json:"timestamp"`
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{
		Status:    "ok",
		Version:   g.config.Version,
		Runtime:   runtime.Version(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// InfoResponse is the JSON response for GET /info.
type InfoResponse struct {
	Service             string   `json:"service"`
	Version             string   `json:"version"`
	AuthRequired        bool     `json:"authRequired"`
	MaxConcurrent       int      `json:"maxConcurrent"`
	InstallTimeoutSec   int      `json:"installTimeoutSeconds"`
	ExecutionTimeoutSec int      `json:"executionTimeoutSeconds"`
	MaxRequestBytes     int64    `json:"maxRequestBytes"`
	Endpoints           []string `json:"endpoints"`
}

func (g *Gateway) handleInfo(c *okapi.Context) error {
	endpoints := []string{"GET /health", "GET /info", "POST /execute-tool"}
	if g.history != nil {
		endpoints = append(endpoints, "GET /executions")
	}
	return c.OK(&InfoResponse{
		Service:             "kazi",
		Version:             g.config.Version,
		AuthRequired:        g.config.AuthToken != "",
		MaxConcurrent:       g.gate.Capacity(),
		InstallTimeoutSec:   int(g.config.InstallTimeout.Seconds()),
		ExecutionTimeoutSec: int(g.config.ExecutionTimeout.Seconds()),
		MaxRequestBytes:     g.maxRequestSize(),
		Endpoints:           endpoints,
	})
}

// LivenessResponse is the JSON response for the probe endpoints.
type LivenessResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&LivenessResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&LivenessResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the shared bearer token. When no token is
// configured the service runs open and the middleware is a pass-through.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if msg := g.bearerError(c.Header("Authorization")); msg != "" {
			return c.JSON(http.StatusUnauthorized, ErrorBody{Error: msg})
		}
		return next(c)
	}
}

// bearerError checks an Authorization header value against the
// configured token. Empty return means the request is authorized.
func (g *Gateway) bearerError(authHeader string) string {
	if g.config.AuthToken == "" {
		return ""
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "missing or invalid Authorization header"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(g.config.AuthToken)) != 1 {
		return "invalid token"
	}
	return ""
}

// --- Middleware ---

// corsMiddleware opens the API to all origins and answers preflights
// directly.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitBody caps the request body so an oversized payload fails the
// JSON decode instead of exhausting memory.
func (g *Gateway) limitBody(next http.Handler) http.Handler {
	max := g.maxRequestSize()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, max)
		next.ServeHTTP(w, r)
	})
}

// writeTimeout must outlive a full install plus execution so a slow but
// legitimate run is not severed mid-response.
func (g *Gateway) writeTimeout() time.Duration {
	budgets := g.config.InstallTimeout + g.config.ExecutionTimeout
	if budgets <= 0 {
		return 240 * time.Second
	}
	return budgets + 60*time.Second
}

func (g *Gateway) maxRequestSize() int64 {
	if g.config.MaxRequestSize > 0 {
		return g.config.MaxRequestSize
	}
	return defaultMaxRequestSize
}
