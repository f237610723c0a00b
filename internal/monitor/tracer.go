package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "exercise-runner"

// Tracer wraps OpenTelemetry tracing for the exercise runner.
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
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("exercise.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for exercise tracing.
var (
	AttrExecID     = attribute.Key("exercise.execution.id")
	AttrKind       = attribute.Key("exercise.kind")
	AttrCodeHash   = attribute.Key("exercise.code_hash")
	AttrSuccess    = attribute.Key("exercise.success")
	AttrDurationMS = attribute.Key("exercise.duration_ms")
	AttrChecks     = attribute.Key("exercise.checks")
	AttrPassed     = attribute.Key("exercise.checks.passed")
	AttrExerciseID = attribute.Key("exercise.id")
)
