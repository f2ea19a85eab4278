package kafkax

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, MetaHeaders("e1", "scheduling.appointment.booked.v1", "appointment"))
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatalf("expected traceparent header, got %v", headers)
	}
	if HeaderValue(headers, HeaderEventID) != "e1" {
		t.Fatalf("event id header lost")
	}

	// Injecting again must not duplicate the key.
	headers = InjectTraceHeaders(ctx, headers)
	n := 0
	for _, h := range headers {
		if h.Key == "traceparent" {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("expected one traceparent header, got %d", n)
	}

	got := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), headers))
	if got.TraceID() != traceID || !got.IsRemote() {
		t.Fatalf("unexpected extracted span context %+v", got)
	}
}
