package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for kazi.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Execution pipeline metrics.
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec

	// Install stage metrics.
	InstallsTotal   *prometheus.CounterVec
	InstallDuration prometheus.Histogram

	// Workspace metrics.
	WorkspacesSwept prometheus.Counter

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveExecutions prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics
// registered on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Total tool executions by outcome.",
		}, []string{"status"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kazi",
			Subsystem: "executor",
			Name:      "execution_duration_seconds",
			Help:      "End-to-end execution duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 180},
		}, []string{"status"}),

		InstallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "installer",
			Name:      "installs_total",
			Help:      "Total package installs by outcome.",
		}, []string{"status"}),

		InstallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kazi",
			Subsystem: "installer",
			Name:      "install_duration_seconds",
			Help:      "Package install duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}),

		WorkspacesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "janitor",
			Name:      "workspaces_swept_total",
			Help:      "Total orphaned workspace directories removed.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kazi",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kazi",
			Name:      "active_executions",
			Help:      "Number of currently active executions.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.InstallsTotal,
		m.InstallDuration,
		m.WorkspacesSwept,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveExecutions,
	)

	return m
}
