package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProcessorEventKind string

const (
	EventRenewalSucceeded     ProcessorEventKind = "renewal_succeeded"
	EventPaymentFailed        ProcessorEventKind = "payment_failed"
	EventSubscriptionCanceled ProcessorEventKind = "subscription_canceled"
)

type ProviderEventStatus string

const (
	ProviderEventPending   ProviderEventStatus = "pending"
	ProviderEventProcessed ProviderEventStatus = "processed"
	ProviderEventSkipped   ProviderEventStatus = "skipped"
	ProviderEventFailed    ProviderEventStatus = "failed"
)

// ProviderEvent is a payment-processor webhook reduced to what the
// reconciler needs. (Provider, EventID) is the idempotency key.
type ProviderEvent struct {
	Provider       string
	EventID        string
	EventType      string
	Kind           ProcessorEventKind
	SubscriptionID string
	OccurredAt     time.Time
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Amount         decimal.Decimal
	Payload        []byte
	Status         ProviderEventStatus
	Attempts       int
	LastError      string
	// NextAttemptAt holds a failed event back until its retry is due.
	NextAttemptAt time.Time
}

// IdempotencyRecord remembers the response for a client supplied key.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseCode int
	ResponseBody []byte
}

func (r IdempotencyRecord) Completed() bool { return r.ResponseCode != 0 }
