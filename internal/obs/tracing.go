package obs

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used for every span the agent
// server emits, grounded on the teacher's go.opentelemetry.io/otel usage in
// internal/observability.
const TracerName = "github.com/haasonsaas/agentserver"

// StartSpan starts a span under the package tracer and returns the updated
// context alongside it. Callers should `defer span.End()`.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, name, opts...)
}

// TraceID returns the current span's trace ID as a string, or "" if tracing
// is not active. Used to stamp llmgateway.CallLog.TraceID.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
