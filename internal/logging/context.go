// internal/logging/context.go
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	if docID := DocIDFromContext(ctx); docID != "" {
		fields = append(fields, zap.String("doc.id", docID))
	}

	return fields
}

type requestCtxKey struct{}
type docCtxKey struct{}
type loggerCtxKey struct{}

// maxIDLen bounds IDs copied from untrusted headers and payloads.
const maxIDLen = 128

func clampID(id string) string {
	if len(id) > maxIDLen {
		return id[:maxIDLen]
	}
	return id
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context. Empty IDs leave ctx unchanged.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, clampID(requestID))
}

// DocIDFromContext extracts the document being ingested from context.
func DocIDFromContext(ctx context.Context) string {
	if d, ok := ctx.Value(docCtxKey{}).(string); ok {
		return d
	}
	return ""
}

// WithDocID adds the document ID to context. Empty IDs leave ctx unchanged.
func WithDocID(ctx context.Context, docID string) context.Context {
	if docID == "" {
		return ctx
	}
	return context.WithValue(ctx, docCtxKey{}, clampID(docID))
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
	return Nop()
}
