package kafkax

import "github.com/segmentio/kafka-go"

// Header keys carried on every message relayed from the outbox.
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
)

// MetaHeaders builds the canonical metadata headers for a message.
func MetaHeaders(eventID, eventType, aggregateType string) []kafka.Header {
	return []kafka.Header{
		{Key: HeaderEventID, Value: []byte(eventID)},
		{Key: HeaderEventType, Value: []byte(eventType)},
		{Key: HeaderAggregateType, Value: []byte(aggregateType)},
	}
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
