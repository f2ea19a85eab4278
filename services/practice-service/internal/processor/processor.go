// Package processor talks to the payment processor that bills memberships.
package processor

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable wraps every failure to reach the processor.
var ErrUnavailable = errors.New("payment processor unavailable")

// ErrDisabled is returned when no processor credentials are configured.
var ErrDisabled = errors.New("payment processor not configured")

type Subscription struct {
	ID                 string
	Status             string
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         time.Time
	// LatestInvoice is only populated by Subscription.
	LatestInvoice Invoice
}

// Invoice is the subscription's most recent invoice. PeriodEnd is the end
// of the service period it bills.
type Invoice struct {
	ID          string
	Status      string
	AmountPaid  decimal.Decimal
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Covers reports whether the invoice is paid and bills a period ending no
// earlier than periodEnd.
func (i Invoice) Covers(periodEnd time.Time) bool {
	return i.Status == "paid" && !i.PeriodEnd.IsZero() && !i.PeriodEnd.Before(periodEnd)
}

type Client interface {
	Subscription(ctx context.Context, id string) (Subscription, error)
	// ChangePrice switches the subscription to priceID from the next
	// invoice without proration.
	ChangePrice(ctx context.Context, id, priceID, idempotencyKey string) (Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, id, idempotencyKey string) (Subscription, error)
}

type Disabled struct{}

func (Disabled) Subscription(context.Context, string) (Subscription, error) {
	return Subscription{}, ErrDisabled
}

func (Disabled) ChangePrice(context.Context, string, string, string) (Subscription, error) {
	return Subscription{}, ErrDisabled
}

func (Disabled) CancelAtPeriodEnd(context.Context, string, string) (Subscription, error) {
	return Subscription{}, ErrDisabled
}
