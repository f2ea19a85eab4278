package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	otelx "github.com/md-rashed-zaman/practicecore/libs/otel"
)

// Event types published to Kafka; the type doubles as the topic name.
const (
	AppointmentBooked        = "scheduling.appointment.booked.v1"
	AppointmentRescheduled   = "scheduling.appointment.rescheduled.v1"
	AppointmentStatusChanged = "scheduling.appointment.status_changed.v1"
	AppointmentCanceled      = "scheduling.appointment.canceled.v1"
	AppointmentCompleted     = "scheduling.appointment.completed.v1"

	MembershipRenewed         = "membership.renewed.v1"
	MembershipSuspended       = "membership.suspended.v1"
	MembershipCanceled        = "membership.canceled.v1"
	MembershipTierChanged     = "membership.tier_changed.v1"
	MembershipCancelRequested = "membership.cancel_requested.v1"

	RewardsRedeemed = "rewards.redeemed.v1"
)

type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
}

// NewEvent marshals payload and captures the caller's trace context so the
// relay can continue the trace when it publishes.
func NewEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	tc := otelx.CaptureTrace(ctx)
	return Event{
		EventID:       uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		Traceparent:   tc.Traceparent,
		Tracestate:    tc.Tracestate,
	}, nil
}

// Record is an Event as stored, awaiting or after publication.
type Record struct {
	ID int64
	Event
	CreatedAt time.Time
}
