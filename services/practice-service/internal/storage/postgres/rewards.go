package postgres

import (
	"context"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

func (t *Tx) LockRewardAccount(ctx context.Context, org tenant.ID, clientID string) error {
	var id string
	err := t.tx.QueryRow(ctx, `
		SELECT id FROM clients WHERE id = $1 AND organization_id = $2 FOR UPDATE
	`, clientID, org).Scan(&id)
	return notFound(err)
}

func (t *Tx) InsertRewardEntry(ctx context.Context, e model.RewardEntry) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO reward_entries (id, organization_id, client_id, points, reason, source_ref, multiplier, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8)
		ON CONFLICT DO NOTHING
	`, e.ID, e.OrganizationID, e.ClientID, e.Points, e.Reason, nullIfEmpty(e.SourceRef), e.Multiplier.String(), e.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicate
	}
	return nil
}

func (t *Tx) RewardBalance(ctx context.Context, org tenant.ID, clientID string) (int64, error) {
	var balance int64
	err := t.tx.QueryRow(ctx, `
		SELECT coalesce(sum(points), 0)::bigint
		FROM reward_entries
		WHERE organization_id = $1 AND client_id = $2
	`, org, clientID).Scan(&balance)
	return balance, err
}

func (t *Tx) RewardEntries(ctx context.Context, org tenant.ID, clientID string) ([]model.RewardEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, organization_id, client_id, points, reason, coalesce(source_ref, ''), multiplier::text, created_at
		FROM reward_entries
		WHERE organization_id = $1 AND client_id = $2
		ORDER BY created_at, id
	`, org, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RewardEntry
	for rows.Next() {
		var e model.RewardEntry
		var multiplier string
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.ClientID, &e.Points, &e.Reason, &e.SourceRef, &multiplier, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Multiplier, err = parseDecimal(multiplier); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *Tx) RewardOption(ctx context.Context, org tenant.ID, id string) (model.RewardOption, error) {
	var o model.RewardOption
	err := t.tx.QueryRow(ctx, `
		SELECT id, organization_id, name, points_cost, active
		FROM reward_options
		WHERE id = $1 AND organization_id = $2
	`, id, org).Scan(&o.ID, &o.OrganizationID, &o.Name, &o.PointsCost, &o.Active)
	return o, notFound(err)
}

func (t *Tx) InsertTransaction(ctx context.Context, tr model.Transaction) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO transactions
			(id, organization_id, client_id, appointment_id, membership_id, kind, amount, credits_applied, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10)
		ON CONFLICT DO NOTHING
	`, tr.ID, tr.OrganizationID, tr.ClientID, nullIfEmpty(tr.AppointmentID), nullIfEmpty(tr.MembershipID),
		string(tr.Kind), tr.Amount.String(), tr.CreditsApplied.String(), tr.Reference, tr.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicate
	}
	return nil
}
