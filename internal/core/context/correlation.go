package context

import (
	"context"

	"github.com/google/uuid"
)

type correlationKey struct{}

// WithCorrelationID tags every log line and audit record produced under ctx.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationKey{}, correlationID)
}

// EnsureCorrelationID returns ctx unchanged when it already carries an id,
// otherwise a child context with a freshly generated one.
func EnsureCorrelationID(ctx context.Context) context.Context {
	if GetCorrelationID(ctx) != "" {
		return ctx
	}
	return WithCorrelationID(ctx, uuid.New().String())
}

// GetCorrelationID returns correlation ID from context or empty string.
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok {
		return v
	}
	return ""
}
