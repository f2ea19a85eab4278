package memory

import (
	"context"
	"sort"
	"time"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/outbox"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

func (t *Tx) Tier(_ context.Context, org tenant.ID, id string) (model.MembershipTier, error) {
	tier, ok := t.st.tiers[id]
	if !ok || !owned(org, tier.OrganizationID) {
		return model.MembershipTier{}, storage.ErrNotFound
	}
	return tier, nil
}

func (t *Tx) MembershipForUpdate(_ context.Context, org tenant.ID, id string) (model.Membership, error) {
	m, ok := t.st.memberships[id]
	if !ok || !owned(org, m.OrganizationID) {
		return model.Membership{}, storage.ErrNotFound
	}
	return m, nil
}

func (t *Tx) ClientMembershipForUpdate(_ context.Context, org tenant.ID, clientID string) (model.Membership, error) {
	var best model.Membership
	found := false
	for _, m := range t.st.memberships {
		if !owned(org, m.OrganizationID) || m.ClientID != clientID {
			continue
		}
		if !found || m.StartDate.After(best.StartDate) {
			best, found = m, true
		}
	}
	if !found {
		return model.Membership{}, storage.ErrNotFound
	}
	return best, nil
}

func (t *Tx) MembershipBySubscriptionForUpdate(_ context.Context, subscriptionID string) (model.Membership, error) {
	for _, m := range t.st.memberships {
		if subscriptionID != "" && m.ProcessorSubscriptionID == subscriptionID {
			return m, nil
		}
	}
	return model.Membership{}, storage.ErrNotFound
}

func (t *Tx) UpdateMembership(_ context.Context, m model.Membership) error {
	cur, ok := t.st.memberships[m.ID]
	if !ok || cur.OrganizationID != m.OrganizationID {
		return storage.ErrNotFound
	}
	if m.UsedCredits.IsNegative() || m.UsedCredits.GreaterThan(m.MonthlyCredits) {
		return errCheckViolation
	}
	t.st.memberships[m.ID] = m
	return nil
}

func (t *Tx) ProcessorMemberships(_ context.Context, limit int) ([]model.Membership, error) {
	now := t.now()
	var out []model.Membership
	for _, m := range t.st.memberships {
		if m.ProcessorSubscriptionID == "" {
			continue
		}
		if m.Status == model.MembershipCanceled && !now.Before(m.EndDate) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *Tx) LockRewardAccount(ctx context.Context, org tenant.ID, clientID string) error {
	_, err := t.Client(ctx, org, clientID)
	return err
}

func (t *Tx) InsertRewardEntry(_ context.Context, e model.RewardEntry) error {
	if e.Points == 0 {
		return errCheckViolation
	}
	for _, existing := range t.st.rewardEntries {
		if e.SourceRef != "" && existing.ClientID == e.ClientID && existing.SourceRef == e.SourceRef {
			return storage.ErrDuplicate
		}
	}
	t.st.rewardEntries = append(t.st.rewardEntries, e)
	return nil
}

func (t *Tx) RewardBalance(ctx context.Context, org tenant.ID, clientID string) (int64, error) {
	var sum int64
	for _, e := range t.st.rewardEntries {
		if owned(org, e.OrganizationID) && e.ClientID == clientID {
			sum += e.Points
		}
	}
	return sum, nil
}

func (t *Tx) RewardEntries(_ context.Context, org tenant.ID, clientID string) ([]model.RewardEntry, error) {
	var out []model.RewardEntry
	for _, e := range t.st.rewardEntries {
		if owned(org, e.OrganizationID) && e.ClientID == clientID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *Tx) RewardOption(_ context.Context, org tenant.ID, id string) (model.RewardOption, error) {
	o, ok := t.st.rewardOptions[id]
	if !ok || !owned(org, o.OrganizationID) {
		return model.RewardOption{}, storage.ErrNotFound
	}
	return o, nil
}

func (t *Tx) InsertTransaction(_ context.Context, tr model.Transaction) error {
	if tr.Kind == model.TxAppointmentCharge {
		for _, existing := range t.st.transactions {
			if existing.Kind == tr.Kind && existing.AppointmentID == tr.AppointmentID {
				return storage.ErrDuplicate
			}
		}
	}
	t.st.transactions = append(t.st.transactions, tr)
	return nil
}

func eventKey(provider, id string) string { return provider + "/" + id }

func (t *Tx) InsertProviderEvent(_ context.Context, e model.ProviderEvent) error {
	k := eventKey(e.Provider, e.EventID)
	if _, ok := t.st.providerEvents[k]; ok {
		return storage.ErrDuplicate
	}
	e.Status = model.ProviderEventPending
	t.st.providerEvents[k] = e
	return nil
}

func (t *Tx) ClaimProviderEvents(_ context.Context, limit, maxAttempts int, now time.Time) ([]model.ProviderEvent, error) {
	var out []model.ProviderEvent
	for _, e := range t.st.providerEvents {
		if (e.Status == model.ProviderEventPending || e.Status == model.ProviderEventFailed) &&
			e.Attempts < maxAttempts && !e.NextAttemptAt.After(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].EventID < out[j].EventID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *Tx) MarkProviderEvent(_ context.Context, provider, eventID string, status model.ProviderEventStatus) error {
	k := eventKey(provider, eventID)
	e, ok := t.st.providerEvents[k]
	if !ok {
		return storage.ErrNotFound
	}
	e.Status = status
	e.LastError = ""
	t.st.providerEvents[k] = e
	return nil
}

func (t *Tx) FailProviderEvent(_ context.Context, provider, eventID, lastErr string, retryAt time.Time) error {
	k := eventKey(provider, eventID)
	e, ok := t.st.providerEvents[k]
	if !ok {
		return storage.ErrNotFound
	}
	e.Status = model.ProviderEventFailed
	e.LastError = lastErr
	e.Attempts++
	e.NextAttemptAt = retryAt
	t.st.providerEvents[k] = e
	return nil
}

func (t *Tx) InsertOutbox(_ context.Context, evt outbox.Event) error {
	t.st.outboxSeq++
	t.st.outbox = append(t.st.outbox, outbox.Record{ID: t.st.outboxSeq, Event: evt, CreatedAt: time.Now().UTC()})
	return nil
}
