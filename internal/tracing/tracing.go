// Package tracing sets up OpenTelemetry tracing for workflow runs.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Attribute keys used on engine spans.
const (
	RunIDKey      = "taskflow.run.id"
	WorkflowKey   = "taskflow.workflow.name"
	TaskNameKey   = "taskflow.task.name"
	ActionKey     = "taskflow.action.name"
	RoundKey      = "taskflow.round"
	AttemptsKey   = "taskflow.task.attempts"
	TaskStatusKey = "taskflow.task.status"
)

// Config selects and configures the exporter.
type Config struct {
	Enabled     bool
	ServiceName string
	Endpoint    string // host:port of an OTLP/HTTP collector; empty uses OTEL_EXPORTER_OTLP_* env vars
	Insecure    bool
}

// ShutdownFunc flushes and stops the provider.
type ShutdownFunc func(context.Context) error

// Noop returns a tracer that records nothing.
func Noop() trace.Tracer {
	return noop.NewTracerProvider().Tracer("taskflow")
}

// Setup builds a tracer according to cfg. When tracing is disabled it returns
// a no-op tracer and a no-op shutdown.
func Setup(ctx context.Context, cfg Config) (trace.Tracer, ShutdownFunc, error) {
	if !cfg.Enabled {
		return Noop(), func(context.Context) error { return nil }, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "taskflow"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	var opts []otlptracehttp.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp.Tracer(serviceName), tp.Shutdown, nil
}

// SetError marks span as failed.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if len(attrs) > 0 {
		span.AddEvent("error_occurred", trace.WithAttributes(attrs...))
	}
}
