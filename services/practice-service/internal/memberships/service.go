// Package memberships handles client-facing membership changes. Neither
// path can start a new credit cycle; only the billing reconciler does that.
package memberships

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/apperr"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/credits"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/outbox"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/processor"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

type Service struct {
	store     storage.Store
	credits   *credits.Ledger
	processor processor.Client
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store storage.Store, ledger *credits.Ledger, proc processor.Client, logger *slog.Logger) *Service {
	return &Service{store: store, credits: ledger, processor: proc, logger: logger, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Upgrade moves the membership to tierID. Upgrades take effect now;
// downgrades wait for the next renewal.
func (s *Service) Upgrade(ctx context.Context, p tenant.Principal, membershipID, tierID string) (credits.TierChange, error) {
	org := p.Org
	var m model.Membership
	var tier model.MembershipTier
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if m, err = s.load(ctx, tx, p, membershipID); err != nil {
			return err
		}
		tier, err = tx.Tier(ctx, org, tierID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.Validation("unknown tier %q", tierID)
		}
		return err
	})
	if err != nil {
		return credits.TierChange{}, err
	}
	if m.Status != model.MembershipActive {
		return credits.TierChange{}, apperr.Conflict("membership %s is %s", m.ID, m.Status)
	}

	if m.ProcessorSubscriptionID != "" && tier.ProcessorPriceID != "" {
		key := fmt.Sprintf("tier:%s:%s", m.ID, tier.ID)
		if _, err := s.processor.ChangePrice(ctx, m.ProcessorSubscriptionID, tier.ProcessorPriceID, key); err != nil {
			return credits.TierChange{}, err
		}
	}

	var change credits.TierChange
	err = s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		change, err = s.credits.ChangeTier(ctx, tx, org, membershipID, tier)
		if err != nil {
			return err
		}
		evt, err := outbox.NewEvent(ctx, "membership", membershipID, outbox.MembershipTierChanged, map[string]any{
			"membership_id":   membershipID,
			"organization_id": string(org),
			"client_id":       change.Membership.ClientID,
			"tier_id":         tier.ID,
			"deferred":        change.Deferred,
			"monthly_credits": change.Membership.MonthlyCredits.String(),
		})
		if err != nil {
			return err
		}
		return tx.InsertOutbox(ctx, evt)
	})
	if err != nil {
		return credits.TierChange{}, err
	}
	s.logger.Info("membership tier changed", "org_id", org, "membership_id", membershipID, "tier_id", tier.ID, "deferred", change.Deferred)
	return change, nil
}

// Cancel stops renewal. A processor-billed membership stays active until
// the processor reports the subscription canceled; credits stay usable until
// the end date either way.
func (s *Service) Cancel(ctx context.Context, p tenant.Principal, membershipID string) (model.Membership, error) {
	var m model.Membership
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		m, err = s.load(ctx, tx, p, membershipID)
		return err
	})
	if err != nil {
		return model.Membership{}, err
	}
	if m.Status == model.MembershipCanceled {
		return m, nil
	}

	if m.ProcessorSubscriptionID != "" {
		if _, err := s.processor.CancelAtPeriodEnd(ctx, m.ProcessorSubscriptionID, "cancel:"+m.ID); err != nil {
			return model.Membership{}, err
		}
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		m, err = tx.MembershipForUpdate(ctx, p.Org, membershipID)
		if err != nil {
			return err
		}
		m.AutoRenew = false
		if m.ProcessorSubscriptionID == "" {
			m.Status = model.MembershipCanceled
		}
		m.UpdatedAt = s.now().UTC()
		if err := tx.UpdateMembership(ctx, m); err != nil {
			return err
		}
		eventType := outbox.MembershipCancelRequested
		if m.Status == model.MembershipCanceled {
			eventType = outbox.MembershipCanceled
		}
		evt, err := outbox.NewEvent(ctx, "membership", m.ID, eventType, map[string]any{
			"membership_id":   m.ID,
			"organization_id": m.OrganizationID,
			"client_id":       m.ClientID,
			"end_date":        m.EndDate.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return tx.InsertOutbox(ctx, evt)
	})
	if err != nil {
		return model.Membership{}, err
	}
	s.logger.Info("membership cancel requested", "org_id", p.Org, "membership_id", m.ID, "status", m.Status)
	return m, nil
}

func (s *Service) Get(ctx context.Context, p tenant.Principal, membershipID string) (model.Membership, error) {
	var m model.Membership
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		m, err = s.load(ctx, tx, p, membershipID)
		return err
	})
	return m, err
}

func (s *Service) load(ctx context.Context, tx storage.Tx, p tenant.Principal, id string) (model.Membership, error) {
	m, err := tx.MembershipForUpdate(ctx, p.Org, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Membership{}, apperr.NotFound("membership")
	}
	if err != nil {
		return model.Membership{}, err
	}
	// Clients only see their own membership; anything else looks missing.
	if !p.CanActFor(m.ClientID) {
		return model.Membership{}, apperr.NotFound("membership")
	}
	return m, nil
}
