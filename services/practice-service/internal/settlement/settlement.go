// Package settlement applies a completed appointment to the client's
// membership credits, charges and reward points.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/apperr"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/credits"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/rewards"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

var hundred = decimal.NewFromInt(100)

type Handler struct {
	credits  *credits.Ledger
	rewards  *rewards.Ledger
	baseRate decimal.Decimal
	logger   *slog.Logger
}

// NewHandler builds a settlement handler that awards baseRate points per
// currency unit before the tier bonus.
func NewHandler(c *credits.Ledger, r *rewards.Ledger, baseRate decimal.Decimal, logger *slog.Logger) *Handler {
	return &Handler{credits: c, rewards: r, baseRate: baseRate, logger: logger}
}

// HandleCompleted runs once per appointment, on the transaction that marks it
// completed. A second call for the same appointment reports IdempotencyReplay.
func (h *Handler) HandleCompleted(ctx context.Context, tx storage.Tx, evt model.AppointmentCompleted) (model.Settlement, error) {
	org := tenant.ID(evt.OrganizationID)
	price := evt.ServicePrice
	out := model.Settlement{CreditsApplied: decimal.Zero, CreditsRemaining: decimal.Zero, AmountDue: price}

	m, found, err := usableMembership(ctx, tx, org, evt.ClientID, evt.CompletedAt)
	if err != nil {
		return model.Settlement{}, err
	}
	multiplier := decimal.Zero
	discount := decimal.Zero
	if found {
		out.MembershipID = m.ID
		out.CreditsRemaining = m.RemainingCredits()
		tier, err := tx.Tier(ctx, org, m.TierID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return model.Settlement{}, fmt.Errorf("load tier %s: %w", m.TierID, err)
		}
		if err == nil {
			multiplier = tier.PointsMultiplier
			if m.Status == model.MembershipActive {
				discount = tier.DiscountPercentage
			}
		}

		if price.IsPositive() {
			res, err := h.credits.Debit(ctx, tx, org, m.ID, price, "appointment:"+evt.AppointmentID)
			if err != nil {
				return model.Settlement{}, err
			}
			out.CreditsRemaining = res.Remaining
			if res.Applied {
				out.CreditsApplied = price
				out.AmountDue = decimal.Zero
			} else {
				h.logger.Info("membership credits insufficient, charging visit", "appointment_id", evt.AppointmentID,
					"membership_id", m.ID, "remaining", res.Remaining.String())
			}
		}
	}
	if out.CreditsApplied.IsZero() && discount.IsPositive() {
		out.AmountDue = price.Mul(hundred.Sub(discount)).Div(hundred).Round(2)
	}

	charge := model.Transaction{
		ID:             uuid.NewString(),
		OrganizationID: evt.OrganizationID,
		ClientID:       evt.ClientID,
		AppointmentID:  evt.AppointmentID,
		MembershipID:   out.MembershipID,
		Kind:           model.TxAppointmentCharge,
		Amount:         out.AmountDue,
		CreditsApplied: out.CreditsApplied,
		Reference:      "appointment:" + evt.AppointmentID,
		CreatedAt:      evt.CompletedAt,
	}
	if err := tx.InsertTransaction(ctx, charge); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return model.Settlement{}, apperr.IdempotencyReplay(charge.Reference)
		}
		return model.Settlement{}, fmt.Errorf("record charge: %w", err)
	}

	points := rewards.Earned(price, h.baseRate, multiplier)
	if points > 0 {
		if _, err := h.rewards.Append(ctx, tx, org, evt.ClientID, points, "appointment completed", charge.Reference, multiplier); err != nil {
			return model.Settlement{}, err
		}
		out.PointsEarned = points
	}
	return out, nil
}

// usableMembership finds the client's membership if credits can be spent
// from it at t. The row stays locked for the rest of tx.
func usableMembership(ctx context.Context, tx storage.Tx, org tenant.ID, clientID string, t time.Time) (model.Membership, bool, error) {
	m, err := tx.ClientMembershipForUpdate(ctx, org, clientID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Membership{}, false, nil
	}
	if err != nil {
		return model.Membership{}, false, fmt.Errorf("load membership for client %s: %w", clientID, err)
	}
	if !m.Usable(t) {
		return model.Membership{}, false, nil
	}
	return m, true, nil
}
