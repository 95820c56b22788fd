package gateway

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// WithTraceID attaches id to ctx, or generates a fresh one if id is empty.
// Generalizes TracingMiddleware past HTTP so stdio and gRPC transports can
// set a trace id before calling Invoke.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceID extracts the trace id set by WithTraceID, or "" if none was set.
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}
