package kafkax

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Carrier adapts message headers to the OpenTelemetry propagator API.
// Set replaces an existing key rather than appending a duplicate.
type Carrier []kafka.Header

var _ propagation.TextMapCarrier = (*Carrier)(nil)

func (c *Carrier) Get(key string) string { return HeaderValue(*c, key) }

func (c *Carrier) Set(key, value string) {
	for i := range *c {
		if (*c)[i].Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *Carrier) Keys() []string {
	keys := make([]string, len(*c))
	for i, h := range *c {
		keys[i] = h.Key
	}
	return keys
}

// InjectTraceHeaders adds the span context on ctx to headers.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	c := Carrier(headers)
	otel.GetTextMapPropagator().Inject(ctx, &c)
	return c
}

// ExtractTraceContext is the consumer side of InjectTraceHeaders.
func ExtractTraceContext(ctx context.Context, headers []kafka.Header) context.Context {
	c := Carrier(headers)
	return otel.GetTextMapPropagator().Extract(ctx, &c)
}
