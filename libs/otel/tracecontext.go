package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// StoredTrace is the W3C trace context persisted next to a deferred unit of
// work (an outbox row) so the worker that picks it up joins the same trace.
type StoredTrace struct {
	Traceparent string
	Tracestate  string
}

// CaptureTrace serializes the span context on ctx with the global propagator.
// It is empty when ctx carries no sampled span.
func CaptureTrace(ctx context.Context) StoredTrace {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return StoredTrace{Traceparent: carrier.Get("traceparent"), Tracestate: carrier.Get("tracestate")}
}

func (s StoredTrace) Empty() bool { return s.Traceparent == "" && s.Tracestate == "" }

// Resume returns ctx with the stored span context as its remote parent.
func (s StoredTrace) Resume(ctx context.Context) context.Context {
	if s.Empty() {
		return ctx
	}
	carrier := propagation.MapCarrier{}
	if s.Traceparent != "" {
		carrier.Set("traceparent", s.Traceparent)
	}
	if s.Tracestate != "" {
		carrier.Set("tracestate", s.Tracestate)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
