package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// WithSpan runs fn inside a span named name. A non-nil error from fn is
// recorded on the span and returned unchanged.
func WithSpan(ctx context.Context, tracer oteltrace.Tracer, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
	defer span.End()

	if err := fn(ctx); err != nil {
		RecordError(span, err)
		return err
	}
	return nil
}

// RecordError marks span as failed. Nil errors are ignored.
func RecordError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
