package observability

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/domain"
)

const defaultOTLPEndpoint = "localhost:4317"

// Attribute keys carried on execution spans. One span covers the whole
// install-and-run pipeline for a single request.
const (
	attrExecutionID = "kazi.execution_id"
	attrPackage     = "kazi.package"
	attrTool        = "kazi.tool"
	attrVersion     = "kazi.version"
	attrErrorCode   = "kazi.error_code"
)

// TracerSetup holds the OTel TracerProvider and the tracer handed to the
// executor and the HTTP gateway. Never installed as a process global.
type TracerSetup struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerSetup creates a TracerProvider exporting over OTLP.
func NewTracerSetup(cfg *config.TracingConfig) (*TracerSetup, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	ctx := context.Background()

	res, err := processResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(sampleRate)),
	)

	return &TracerSetup{
		provider: tp,
		tracer:   tp.Tracer("kazi/executor"),
	}, nil
}

// processResource describes this kazi process. Each process gets a
// unique instance id so traces from scaled-out replicas stay separable.
func processResource(ctx context.Context, cfg *config.TracingConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "kazi"
	}
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceInstanceIDKey.String(uuid.NewString()),
		),
	)
}

// newSpanExporter builds the OTLP exporter for the configured protocol,
// gRPC unless "http" is requested.
func newSpanExporter(ctx context.Context, cfg *config.TracingConfig) (sdktrace.SpanExporter, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOTLPEndpoint
	}

	if cfg.Protocol == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Tracer returns the named tracer for creating spans.
func (t *TracerSetup) Tracer() trace.Tracer {
	if t == nil {
		return trace.NewNoopTracerProvider().Tracer("")
	}
	return t.tracer
}

// Shutdown flushes any pending spans and shuts down the TracerProvider.
func (t *TracerSetup) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// StartExecutionSpan opens the root span for one tool execution,
// stamped with the identifying attributes every kazi trace carries.
func StartExecutionSpan(ctx context.Context, tracer trace.Tracer, execID string, req domain.ExecutionRequest) (context.Context, trace.Span) {
	return tracer.Start(ctx, "executor.execute", trace.WithAttributes(
		attribute.String(attrExecutionID, execID),
		attribute.String(attrPackage, req.PackageName),
		attribute.String(attrTool, req.ExportName),
		attribute.String(attrVersion, req.ResolvedVersion()),
	))
}

// RecordExecutionOutcome sets the span status from the normalized
// result. Failed executions carry their error code as an attribute so
// traces can be filtered per failure class.
func RecordExecutionOutcome(span trace.Span, result *domain.ExecutionResult) {
	if span == nil {
		return
	}
	if result.Success {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.SetStatus(codes.Error, result.ErrorMessage)
	span.SetAttributes(attribute.String(attrErrorCode, string(result.ErrorCode)))
}
