package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/felixgeelhaar/orchestra"

func tracer() trace.Tracer {
	return GetTracerProvider().Tracer(instrumentationName)
}

// StartRunSpan creates the root span of a workflow run.
//
// Usage:
//
//	ctx, span := telemetry.StartRunSpan(ctx, "implement-feature", runID)
//	defer span.End()
func StartRunSpan(ctx context.Context, workflow, runID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.String("run_id", runID),
	))
}

// StartPhaseSpan creates a span for one phase of the workflow state machine.
func StartPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "phase."+phase, trace.WithAttributes(
		attribute.String("phase", phase),
	))
}

// StartComponentSpan creates a span for a component pipeline step
// (skeleton, implementation or validation).
func StartComponentSpan(ctx context.Context, componentID, step string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "component."+step, trace.WithAttributes(
		attribute.String("component", componentID),
		attribute.String("step", step),
	))
}

// StartInvocationSpan creates a span for a single agent call.
func StartInvocationSpan(ctx context.Context, agent, tier string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "agent."+agent, trace.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("tier", tier),
	), trace.WithSpanKind(trace.SpanKindClient))
}

// StartVoteSpan creates a span for a consensus gate.
func StartVoteSpan(ctx context.Context, gate string, voters int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "vote."+gate, trace.WithAttributes(
		attribute.String("gate", gate),
		attribute.Int("voters", voters),
	))
}

// RecordSuccess marks a span as successful with optional result attributes.
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
}

// RecordError records an error in a span and sets error status.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordFailure marks a span as failed without an error value,
// for outcomes such as escalations that are results rather than errors.
func RecordFailure(span trace.Span, reason string, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Error, reason)
}
