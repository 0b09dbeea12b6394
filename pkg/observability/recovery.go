package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Recovery semantic convention attributes.
var (
	AttrOperation = attribute.Key("recovery.operation")
	AttrRequestID = attribute.Key("recovery.request.id")
	AttrAttemptID = attribute.Key("recovery.attempt.id")
	AttrState     = attribute.Key("recovery.state")
	AttrOutcome   = attribute.Key("recovery.outcome")
	AttrErrorKind = attribute.Key("recovery.error.kind")
)

// RequestAttrs creates attributes for an operation on one request.
func RequestAttrs(requestID string) []attribute.KeyValue {
	if requestID == "" {
		return nil
	}
	return []attribute.KeyValue{AttrRequestID.String(requestID)}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
