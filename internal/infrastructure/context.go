package infrastructure

import (
	"context"

	"github.com/google/uuid"
)

// GenerateTraceID creates a new unique trace ID using UUID v4
func GenerateTraceID() string {
	return uuid.New().String()
}

// EnsureTraceID ensures the context has a trace ID, generating one if needed
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) == "" {
		return WithTraceID(ctx, GenerateTraceID())
	}
	return ctx
}

// DetachedContext carries the trace ID of ctx into a fresh background
// context, for work that must outlive the request that started it.
func DetachedContext(ctx context.Context) context.Context {
	if traceID := GetTraceID(ctx); traceID != "" {
		return WithTraceID(context.Background(), traceID)
	}
	return context.Background()
}
