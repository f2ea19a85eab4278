package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

const membershipColumns = `
	id, organization_id, client_id, tier_id, coalesce(pending_tier_id, ''), status,
	monthly_credits::text, used_credits::text, start_date, end_date, auto_renew,
	coalesce(processor_subscription_id, ''), current_period_end, last_event_at, updated_at`

func scanMembership(row pgx.Row) (model.Membership, error) {
	var m model.Membership
	var status, monthly, used string
	var endDate, periodEnd, lastEvent *time.Time
	err := row.Scan(&m.ID, &m.OrganizationID, &m.ClientID, &m.TierID, &m.PendingTierID, &status,
		&monthly, &used, &m.StartDate, &endDate, &m.AutoRenew,
		&m.ProcessorSubscriptionID, &periodEnd, &lastEvent, &m.UpdatedAt)
	if err != nil {
		return m, notFound(err)
	}
	if m.Status, err = model.ParseMembershipStatus(status); err != nil {
		return m, err
	}
	if m.MonthlyCredits, err = parseDecimal(monthly); err != nil {
		return m, err
	}
	if m.UsedCredits, err = parseDecimal(used); err != nil {
		return m, err
	}
	m.EndDate = derefTime(endDate)
	m.CurrentPeriodEnd = derefTime(periodEnd)
	m.LastEventAt = derefTime(lastEvent)
	return m, nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (t *Tx) Tier(ctx context.Context, org tenant.ID, id string) (model.MembershipTier, error) {
	var tier model.MembershipTier
	var price, credits, discount, multiplier string
	err := t.tx.QueryRow(ctx, `
		SELECT id, organization_id, name, monthly_price::text, monthly_credits::text,
		       discount_percentage::text, points_multiplier::text, processor_price_id
		FROM membership_tiers
		WHERE id = $1 AND organization_id = $2
	`, id, org).Scan(&tier.ID, &tier.OrganizationID, &tier.Name, &price, &credits, &discount, &multiplier, &tier.ProcessorPriceID)
	if err != nil {
		return tier, notFound(err)
	}
	if tier.MonthlyPrice, err = parseDecimal(price); err != nil {
		return tier, err
	}
	if tier.MonthlyCredits, err = parseDecimal(credits); err != nil {
		return tier, err
	}
	if tier.DiscountPercentage, err = parseDecimal(discount); err != nil {
		return tier, err
	}
	if tier.PointsMultiplier, err = parseDecimal(multiplier); err != nil {
		return tier, err
	}
	return tier, nil
}

func (t *Tx) MembershipForUpdate(ctx context.Context, org tenant.ID, id string) (model.Membership, error) {
	return scanMembership(t.tx.QueryRow(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE id = $1 AND organization_id = $2
		FOR UPDATE
	`, id, org))
}

func (t *Tx) ClientMembershipForUpdate(ctx context.Context, org tenant.ID, clientID string) (model.Membership, error) {
	return scanMembership(t.tx.QueryRow(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE client_id = $1 AND organization_id = $2
		ORDER BY start_date DESC
		LIMIT 1
		FOR UPDATE
	`, clientID, org))
}

func (t *Tx) MembershipBySubscriptionForUpdate(ctx context.Context, subscriptionID string) (model.Membership, error) {
	return scanMembership(t.tx.QueryRow(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE processor_subscription_id = $1
		FOR UPDATE
	`, subscriptionID))
}

func (t *Tx) UpdateMembership(ctx context.Context, m model.Membership) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE memberships
		SET tier_id = $3,
			pending_tier_id = $4,
			status = $5,
			monthly_credits = $6::numeric,
			used_credits = $7::numeric,
			end_date = $8,
			auto_renew = $9,
			current_period_end = $10,
			last_event_at = $11,
			updated_at = $12
		WHERE id = $1 AND organization_id = $2
	`, m.ID, m.OrganizationID, m.TierID, nullIfEmpty(m.PendingTierID), string(m.Status),
		m.MonthlyCredits.String(), m.UsedCredits.String(), nullTime(m.EndDate), m.AutoRenew,
		nullTime(m.CurrentPeriodEnd), nullTime(m.LastEventAt), m.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *Tx) ProcessorMemberships(ctx context.Context, limit int) ([]model.Membership, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE processor_subscription_id IS NOT NULL
		  AND (status <> 'canceled' OR end_date > now())
		ORDER BY updated_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
