// Package credits is the membership credit ledger. Every operation runs on a
// caller-owned transaction and locks the membership row first, so
// 0 <= used_credits <= monthly_credits holds across concurrent debits.
package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/apperr"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

type Ledger struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewLedger(logger *slog.Logger) *Ledger {
	return &Ledger{logger: logger, now: time.Now}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// DebitResult reports a debit attempt. A rejected debit changes nothing.
type DebitResult struct {
	Applied    bool
	Remaining  decimal.Decimal
	Membership model.Membership
}

// Debit spends amount from the membership's current cycle, all or nothing.
func (l *Ledger) Debit(ctx context.Context, tx storage.Memberships, org tenant.ID, membershipID string, amount decimal.Decimal, reason string) (DebitResult, error) {
	if !amount.IsPositive() {
		return DebitResult{}, apperr.Validation("debit amount must be positive")
	}
	m, err := lockMembership(ctx, tx, org, membershipID)
	if err != nil {
		return DebitResult{}, err
	}
	now := l.now().UTC()
	if !m.Usable(now) {
		return DebitResult{}, apperr.Conflict("membership %s is %s", m.ID, m.Status)
	}

	remaining := m.RemainingCredits()
	if amount.GreaterThan(remaining) {
		l.logger.Info("credit debit rejected", "membership_id", m.ID, "amount", amount.String(), "remaining", remaining.String(), "reason", reason)
		return DebitResult{Applied: false, Remaining: remaining, Membership: m}, nil
	}

	m.UsedCredits = m.UsedCredits.Add(amount)
	m.UpdatedAt = now
	if err := tx.UpdateMembership(ctx, m); err != nil {
		return DebitResult{}, fmt.Errorf("debit membership %s: %w", m.ID, err)
	}
	l.logger.Info("credits debited", "membership_id", m.ID, "amount", amount.String(), "reason", reason)
	return DebitResult{Applied: true, Remaining: m.RemainingCredits(), Membership: m}, nil
}

// ResetCycle starts a new billing cycle: a pending downgrade takes effect and
// used credits return to zero. Only the billing reconciler calls it.
func (l *Ledger) ResetCycle(ctx context.Context, tx storage.Memberships, org tenant.ID, membershipID string) (model.Membership, error) {
	m, err := lockMembership(ctx, tx, org, membershipID)
	if err != nil {
		return model.Membership{}, err
	}
	if m.PendingTierID != "" {
		tier, err := tx.Tier(ctx, org, m.PendingTierID)
		if err != nil {
			return model.Membership{}, fmt.Errorf("load pending tier %s: %w", m.PendingTierID, err)
		}
		m.TierID = tier.ID
		m.MonthlyCredits = tier.MonthlyCredits
		m.PendingTierID = ""
	}
	m.UsedCredits = decimal.Zero
	m.UpdatedAt = l.now().UTC()
	if err := tx.UpdateMembership(ctx, m); err != nil {
		return model.Membership{}, fmt.Errorf("reset membership %s: %w", m.ID, err)
	}
	return m, nil
}

type TierChange struct {
	Membership model.Membership
	// Deferred is set when the change waits for the next cycle.
	Deferred bool
}

// ChangeTier moves a membership to tier. Upgrades apply now and keep the
// credits already used this cycle; downgrades are parked until ResetCycle.
func (l *Ledger) ChangeTier(ctx context.Context, tx storage.Memberships, org tenant.ID, membershipID string, tier model.MembershipTier) (TierChange, error) {
	if tier.OrganizationID != string(org) {
		return TierChange{}, apperr.Validation("unknown tier %q", tier.ID)
	}
	m, err := lockMembership(ctx, tx, org, membershipID)
	if err != nil {
		return TierChange{}, err
	}
	if m.Status != model.MembershipActive {
		return TierChange{}, apperr.Conflict("membership %s is %s", m.ID, m.Status)
	}

	change := TierChange{}
	switch {
	case tier.ID == m.TierID:
		if m.PendingTierID == "" {
			return TierChange{}, apperr.Conflict("membership %s is already on tier %s", m.ID, tier.ID)
		}
		m.PendingTierID = ""
	case tier.MonthlyCredits.GreaterThanOrEqual(m.MonthlyCredits):
		m.TierID = tier.ID
		m.MonthlyCredits = tier.MonthlyCredits
		m.PendingTierID = ""
	default:
		m.PendingTierID = tier.ID
		change.Deferred = true
	}
	m.UpdatedAt = l.now().UTC()
	if err := tx.UpdateMembership(ctx, m); err != nil {
		return TierChange{}, fmt.Errorf("change tier of membership %s: %w", m.ID, err)
	}
	change.Membership = m
	return change, nil
}

func lockMembership(ctx context.Context, tx storage.Memberships, org tenant.ID, id string) (model.Membership, error) {
	m, err := tx.MembershipForUpdate(ctx, org, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Membership{}, apperr.NotFound("membership")
	}
	if err != nil {
		return model.Membership{}, fmt.Errorf("lock membership %s: %w", id, err)
	}
	return m, nil
}
