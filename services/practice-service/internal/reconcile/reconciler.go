// Package reconcile keeps memberships in step with the payment processor.
// Webhooks are verified and queued by the HTTP layer; a worker applies them
// one per transaction, oldest first.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/apperr"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/credits"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/outbox"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	// OutcomeSkipped covers unknown subscriptions and events older than the
	// membership's last applied event.
	OutcomeSkipped Outcome = "skipped"
)

type Reconciler struct {
	credits *credits.Ledger
	logger  *slog.Logger
	now     func() time.Time
}

func NewReconciler(ledger *credits.Ledger, logger *slog.Logger) *Reconciler {
	return &Reconciler{credits: ledger, logger: logger, now: time.Now}
}

func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Apply folds one processor event into the membership it names. Applying
// the same event twice leaves the same state as applying it once.
func (r *Reconciler) Apply(ctx context.Context, tx storage.Tx, evt model.ProviderEvent) (Outcome, error) {
	m, err := tx.MembershipBySubscriptionForUpdate(ctx, evt.SubscriptionID)
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.Warn("processor event for unknown subscription", "event_id", evt.EventID, "subscription_id", evt.SubscriptionID)
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("lock membership for subscription %s: %w", evt.SubscriptionID, err)
	}
	if !m.LastEventAt.IsZero() && evt.OccurredAt.Before(m.LastEventAt) {
		r.logger.Info("stale processor event skipped", "event_id", evt.EventID, "membership_id", m.ID,
			"occurred_at", evt.OccurredAt, "last_event_at", m.LastEventAt)
		return OutcomeSkipped, nil
	}
	org := tenant.ID(m.OrganizationID)
	now := r.now().UTC()

	var eventType string
	switch evt.Kind {
	case model.EventRenewalSucceeded:
		if evt.PeriodEnd.After(m.CurrentPeriodEnd) {
			// m is unmodified here, so the reset row replaces it wholesale.
			if m, err = r.credits.ResetCycle(ctx, tx, org, m.ID); err != nil {
				return "", err
			}
			m.CurrentPeriodEnd = evt.PeriodEnd
			if err := tx.InsertTransaction(ctx, model.Transaction{
				ID:             uuid.NewString(),
				OrganizationID: m.OrganizationID,
				ClientID:       m.ClientID,
				MembershipID:   m.ID,
				Kind:           model.TxMembershipRenewal,
				Amount:         evt.Amount,
				Reference:      evt.Provider + ":" + evt.EventID,
				CreatedAt:      now,
			}); err != nil {
				return "", fmt.Errorf("record renewal: %w", err)
			}
			eventType = outbox.MembershipRenewed
		}
		if m.Status != model.MembershipActive {
			m.Status = model.MembershipActive
			eventType = outbox.MembershipRenewed
		}
		if evt.PeriodEnd.After(m.EndDate) {
			m.EndDate = evt.PeriodEnd
		}
	case model.EventPaymentFailed:
		if m.Status == model.MembershipActive {
			m.Status = model.MembershipSuspended
			eventType = outbox.MembershipSuspended
		}
	case model.EventSubscriptionCanceled:
		if m.Status != model.MembershipCanceled {
			eventType = outbox.MembershipCanceled
		}
		m.Status = model.MembershipCanceled
		m.AutoRenew = false
		if !evt.PeriodEnd.IsZero() {
			m.EndDate = evt.PeriodEnd
		}
	default:
		return "", apperr.Validation("unknown processor event kind %q", evt.Kind)
	}

	m.LastEventAt = evt.OccurredAt
	m.UpdatedAt = now
	if err := tx.UpdateMembership(ctx, m); err != nil {
		return "", fmt.Errorf("update membership %s: %w", m.ID, err)
	}
	if eventType != "" {
		out, err := outbox.NewEvent(ctx, "membership", m.ID, eventType, map[string]any{
			"membership_id":      m.ID,
			"organization_id":    m.OrganizationID,
			"client_id":          m.ClientID,
			"status":             m.Status,
			"tier_id":            m.TierID,
			"monthly_credits":    m.MonthlyCredits.String(),
			"used_credits":       m.UsedCredits.String(),
			"end_date":           m.EndDate.Format(time.RFC3339),
			"processor_event_id": evt.EventID,
		})
		if err != nil {
			return "", err
		}
		if err := tx.InsertOutbox(ctx, out); err != nil {
			return "", err
		}
		r.logger.Info("membership reconciled", "membership_id", m.ID, "event_id", evt.EventID, "kind", evt.Kind, "status", m.Status)
	}
	return OutcomeApplied, nil
}
