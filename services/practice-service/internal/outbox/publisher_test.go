package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/practicecore/libs/kafkax"
)

type fakeSource struct {
	pending   []Record
	published []Record
}

func (s *fakeSource) Claim(ctx context.Context, limit int, fn func(context.Context, []Record) error) (int, error) {
	batch := s.pending
	if len(batch) > limit {
		batch = batch[:limit]
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := fn(ctx, batch); err != nil {
		return len(batch), err
	}
	s.published = append(s.published, batch...)
	s.pending = s.pending[len(batch):]
	return len(batch), nil
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func record(id int64, eventType string) Record {
	return Record{ID: id, Event: Event{EventID: "evt-" + eventType, AggregateType: "appointment", AggregateID: "a1", EventType: eventType, Payload: []byte(`{}`)}}
}

func TestPublishBatch_WritesAndMarks(t *testing.T) {
	src := &fakeSource{pending: []Record{record(1, AppointmentBooked), record(2, AppointmentCompleted), record(3, AppointmentCanceled)}}
	p := NewPublisher(src, slog.New(slog.NewTextHandler(io.Discard, nil)), PublisherConfig{BatchSize: 2})
	w := &fakeWriter{}

	n, err := p.PublishBatch(context.Background(), w)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 published, got %d err=%v", n, err)
	}
	if len(w.msgs) != 2 || w.msgs[0].Topic != AppointmentBooked || string(w.msgs[0].Key) != "a1" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	if kafkax.HeaderValue(w.msgs[1].Headers, kafkax.HeaderEventType) != AppointmentCompleted {
		t.Fatalf("missing event type header")
	}
	if len(src.pending) != 1 {
		t.Fatalf("expected one record left, got %d", len(src.pending))
	}
}

func TestPublishBatch_WriterFailureKeepsRecords(t *testing.T) {
	src := &fakeSource{pending: []Record{record(1, AppointmentBooked)}}
	p := NewPublisher(src, slog.New(slog.NewTextHandler(io.Discard, nil)), PublisherConfig{})
	if _, err := p.PublishBatch(context.Background(), &fakeWriter{err: errors.New("broker down")}); err == nil {
		t.Fatalf("expected error")
	}
	if len(src.pending) != 1 || len(src.published) != 0 {
		t.Fatalf("record must stay pending on failure")
	}
}
