package logging

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if id := CorrelationIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("correlation_id", id))
	}

	if project := ProjectFromContext(ctx); project != "" {
		fields = append(fields, zap.String("project", project))
	}

	return fields
}

// Context key types
type correlationCtxKey struct{}
type projectCtxKey struct{}
type loggerCtxKey struct{}

// NewCorrelationID returns a fresh correlation id for an externally
// triggered operation.
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID adds a correlation id to context. Empty ids are ignored.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationCtxKey{}, id)
}

// CorrelationIDFromContext extracts the correlation id, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationCtxKey{}).(string); ok {
		return id
	}
	return ""
}

// EnsureCorrelationID returns ctx with a correlation id, minting one if absent.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewCorrelationID()
	return WithCorrelationID(ctx, id), id
}

// WithProject tags the context with the project id an operation is scoped to.
func WithProject(ctx context.Context, projectID string) context.Context {
	if projectID == "" {
		return ctx
	}
	return context.WithValue(ctx, projectCtxKey{}, projectID)
}

// ProjectFromContext extracts the project id, or "".
func ProjectFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(projectCtxKey{}).(string); ok {
		return p
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
