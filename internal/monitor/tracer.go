package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "seccompiler"

// Tracer wraps OpenTelemetry tracing for compilation runs.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("seccompiler.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// FailSpan marks span as failed with err.
func FailSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Common attribute keys for compilation tracing.
var (
	AttrRunID        = attribute.Key("seccompiler.run.id")
	AttrArch         = attribute.Key("seccompiler.arch")
	AttrBasic        = attribute.Key("seccompiler.basic")
	AttrGroup        = attribute.Key("seccompiler.group")
	AttrRules        = attribute.Key("seccompiler.rules")
	AttrInstructions = attribute.Key("seccompiler.instructions")
	AttrArtifactSize = attribute.Key("seccompiler.artifact_bytes")
)
