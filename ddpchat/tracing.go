package ddpchat

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vovakirdan/ddpchat-sdk-go/ddpchat"

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startOperationSpan opens a span covering one request/reply round trip.
// The span is ended when the operation completes.
func startOperationSpan(tracer trace.Tracer, op *PendingOperation) {
	if tracer == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("ddp.correlation_id", op.ID),
		attribute.String("ddp.operation", op.Kind.String()),
	}
	if op.Method != "" {
		attrs = append(attrs, attribute.String("ddp.method", op.Method))
	}
	if op.RoomID != "" {
		attrs = append(attrs, attribute.String("ddpchat.room_id", op.RoomID))
	}
	_, span := tracer.Start(context.Background(), "ddp "+op.Kind.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	op.span = span
}
