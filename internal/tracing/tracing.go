// Package tracing wires go.opentelemetry.io/otel spans around the
// player's per-step dispatch (§4.11): each step is one player.step span
// with child spans for frame_enter (when the event carries a frame chain)
// and dispatch, which includes locator resolution. Sentinel checks get no
// child span, and evidence collection runs after the step span has ended.
// Adopted for per-step observability
// since gasoline-mcp carries no tracing library of its own.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope name used for every span this
// engine emits.
const TracerName = "github.com/brennhill/autoqa-engine"

// Tracer returns the process-wide tracer for this engine's instrumentation
// scope. Callers get a no-op tracer until the process wires a real
// TracerProvider via otel.SetTracerProvider during startup.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartStep starts a span for one playback step, labeled by its index
// and event type.
func StartStep(ctx context.Context, stepIndex int, eventType string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "player.step",
		trace.WithAttributes(
			attribute.Int("step.index", stepIndex),
			attribute.String("step.event_type", eventType),
		),
	)
}

// StartPhase starts a child span for one phase of a step's dispatch
// (sentinel, frame_enter, resolve, dispatch, frame_exit, evidence).
func StartPhase(ctx context.Context, phase string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "player."+phase)
}
