package context

import (
	go_std_context "context"

	"github.com/google/uuid"
)

// TraceContext carries only cross-cutting concerns needed for observability.
type TraceContext struct {
	TraceID string            // Globally unique ID for logs and spans
	SpanID  string            // Current span identifier
	Baggage map[string]string // Optional key-value flags (e.g., correlation data)

	stdCtx go_std_context.Context
}

// NewTraceContext creates a TraceContext with a fresh TraceID and SpanID.
// An empty traceID asks for a generated one.
func NewTraceContext(ctx go_std_context.Context, traceID ...string) TraceContext {
	id := ""
	if len(traceID) > 0 {
		id = traceID[0]
	}
	if id == "" {
		id = uuid.NewString()
	}
	return NewTraceContextWithIDs(ctx, id, uuid.NewString())
}

// NewTraceContextWithIDs wraps ctx with known ids, e.g. the ids of an otel span.
func NewTraceContextWithIDs(ctx go_std_context.Context, traceID, spanID string) TraceContext {
	if ctx == nil {
		ctx = go_std_context.Background()
	}
	return TraceContext{
		TraceID: traceID,
		SpanID:  spanID,
		Baggage: make(map[string]string),
		stdCtx:  ctx,
	}
}

// Context returns the standard context the trace rides on.
func (tc TraceContext) Context() go_std_context.Context {
	if tc.stdCtx == nil {
		return go_std_context.Background()
	}
	return tc.stdCtx
}

// WithContext returns a copy of tc bound to ctx.
func (tc TraceContext) WithContext(ctx go_std_context.Context) TraceContext {
	tc.stdCtx = ctx
	return tc
}

// GetTraceID returns the trace id.
func (tc TraceContext) GetTraceID() string { return tc.TraceID }

// NewSpan generates a new SpanID for a child operation within the same trace.
func (tc *TraceContext) NewSpan() string {
	tc.SpanID = uuid.NewString()
	return tc.SpanID
}
