package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracingConfig holds configuration for tracing.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// Tracing wraps the OpenTelemetry tracer used around Complete calls and
// provider attempts. Without a configured tracer provider it degrades to
// no-op spans.
type Tracing struct {
	config TracingConfig
	logger *zap.Logger
	tracer trace.Tracer
}

// NewTracing creates a tracing instance.
func NewTracing(config TracingConfig, logger *zap.Logger) *Tracing {
	if config.ServiceName == "" {
		config.ServiceName = "inferoute"
	}
	return &Tracing{
		config: config,
		logger: logger,
		tracer: otel.Tracer(config.ServiceName),
	}
}

// StartSpan starts a new span for the given operation.
func (t *Tracing) StartSpan(ctx context.Context, operationName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, operationName, opts...)
}

// SetAttributes sets string attributes on the current span.
func (t *Tracing) SetAttributes(ctx context.Context, attributes map[string]string) {
	span := trace.SpanFromContext(ctx)
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	span.SetAttributes(attrs...)
}

// RecordError marks the current span as failed.
func (t *Tracing) RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
