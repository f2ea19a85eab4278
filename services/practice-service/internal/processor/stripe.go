package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	stripesubscription "github.com/stripe/stripe-go/v79/subscription"
)

// Stripe is a Client backed by the Stripe subscriptions API. It carries its
// own key instead of setting the package-level stripe.Key.
type Stripe struct {
	subs stripesubscription.Client
}

// New returns a Stripe client, or Disabled when secretKey is empty.
func New(secretKey string) Client {
	key := strings.TrimSpace(secretKey)
	if key == "" {
		return Disabled{}
	}
	return &Stripe{subs: stripesubscription.Client{B: stripe.GetBackend(stripe.APIBackend), Key: key}}
}

func (s *Stripe) Subscription(ctx context.Context, id string) (Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("latest_invoice")
	sub, err := s.subs.Get(id, params)
	if err != nil {
		return Subscription{}, fmt.Errorf("%w: get subscription %s: %v", ErrUnavailable, id, err)
	}
	return fromStripe(sub), nil
}

func (s *Stripe) ChangePrice(ctx context.Context, id, priceID, idempotencyKey string) (Subscription, error) {
	current, err := s.subs.Get(id, &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return Subscription{}, fmt.Errorf("%w: get subscription %s: %v", ErrUnavailable, id, err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return Subscription{}, fmt.Errorf("subscription %s has no items", id)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(current.Items.Data[0].ID),
			Price: stripe.String(priceID),
		}},
		ProrationBehavior: stripe.String("none"),
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(idempotencyKey)
	sub, err := s.subs.Update(id, params)
	if err != nil {
		return Subscription{}, fmt.Errorf("%w: update subscription %s: %v", ErrUnavailable, id, err)
	}
	return fromStripe(sub), nil
}

func (s *Stripe) CancelAtPeriodEnd(ctx context.Context, id, idempotencyKey string) (Subscription, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(idempotencyKey)
	sub, err := s.subs.Update(id, params)
	if err != nil {
		return Subscription{}, fmt.Errorf("%w: cancel subscription %s: %v", ErrUnavailable, id, err)
	}
	return fromStripe(sub), nil
}

func fromStripe(sub *stripe.Subscription) Subscription {
	out := Subscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: unix(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unix(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CanceledAt:         unix(sub.CanceledAt),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PriceID = sub.Items.Data[0].Price.ID
	}
	// Unexpanded, latest_invoice carries only its id.
	if inv := sub.LatestInvoice; inv != nil && inv.Status != "" {
		start, end := InvoicePeriod(inv)
		out.LatestInvoice = Invoice{
			ID:          inv.ID,
			Status:      string(inv.Status),
			AmountPaid:  Amount(inv.AmountPaid, string(inv.Currency)),
			PeriodStart: start,
			PeriodEnd:   end,
		}
	}
	return out
}

// InvoicePeriod prefers the subscription line's service period: the
// invoice's own period fields describe the previous cycle.
func InvoicePeriod(inv *stripe.Invoice) (time.Time, time.Time) {
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line != nil && line.Period != nil && line.Period.End > 0 {
				return unix(line.Period.Start), unix(line.Period.End)
			}
		}
	}
	return unix(inv.PeriodStart), unix(inv.PeriodEnd)
}

func unix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
