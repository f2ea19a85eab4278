package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/processor"
)

const ProviderStripe = "stripe"

// Normalize reduces a verified Stripe event to a provider event. ok is false
// for event types that do not affect memberships.
func Normalize(evt stripe.Event, raw []byte) (model.ProviderEvent, bool, error) {
	out := model.ProviderEvent{
		Provider:   ProviderStripe,
		EventID:    evt.ID,
		EventType:  string(evt.Type),
		OccurredAt: time.Unix(evt.Created, 0).UTC(),
		Amount:     decimal.Zero,
		Payload:    raw,
	}

	switch evt.Type {
	case "invoice.payment_succeeded", "invoice.paid", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return model.ProviderEvent{}, false, fmt.Errorf("decode invoice: %w", err)
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return model.ProviderEvent{}, false, nil
		}
		out.SubscriptionID = inv.Subscription.ID
		out.PeriodStart, out.PeriodEnd = processor.InvoicePeriod(&inv)
		if evt.Type == "invoice.payment_failed" {
			out.Kind = model.EventPaymentFailed
		} else {
			out.Kind = model.EventRenewalSucceeded
			out.Amount = processor.Amount(inv.AmountPaid, string(inv.Currency))
		}
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return model.ProviderEvent{}, false, fmt.Errorf("decode subscription: %w", err)
		}
		if sub.ID == "" {
			return model.ProviderEvent{}, false, nil
		}
		out.Kind = model.EventSubscriptionCanceled
		out.SubscriptionID = sub.ID
		out.PeriodStart = unix(sub.CurrentPeriodStart)
		out.PeriodEnd = unix(sub.CurrentPeriodEnd)
	default:
		return model.ProviderEvent{}, false, nil
	}
	return out, true, nil
}

func unix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
