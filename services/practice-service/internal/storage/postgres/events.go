package postgres

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/outbox"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
)

func (t *Tx) InsertProviderEvent(ctx context.Context, e model.ProviderEvent) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO provider_events
			(provider, event_id, event_type, kind, subscription_id, occurred_at, period_start, period_end, amount, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, e.Provider, e.EventID, e.EventType, string(e.Kind), e.SubscriptionID, e.OccurredAt,
		nullTime(e.PeriodStart), nullTime(e.PeriodEnd), e.Amount.String(), e.Payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicate
	}
	return nil
}

func (t *Tx) ClaimProviderEvents(ctx context.Context, limit, maxAttempts int, now time.Time) ([]model.ProviderEvent, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT provider, event_id, event_type, kind, subscription_id, occurred_at,
		       period_start, period_end, amount::text, status, attempts, last_error, next_attempt_at
		FROM provider_events
		WHERE status IN ('pending', 'failed') AND attempts < $2 AND next_attempt_at <= GREATEST($3, now())
		ORDER BY occurred_at, received_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit, maxAttempts, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProviderEvent
	for rows.Next() {
		var e model.ProviderEvent
		var kind, status, amount string
		var periodStart, periodEnd *time.Time
		if err := rows.Scan(&e.Provider, &e.EventID, &e.EventType, &kind, &e.SubscriptionID, &e.OccurredAt,
			&periodStart, &periodEnd, &amount, &status, &e.Attempts, &e.LastError, &e.NextAttemptAt); err != nil {
			return nil, err
		}
		e.Kind = model.ProcessorEventKind(kind)
		e.Status = model.ProviderEventStatus(status)
		e.OccurredAt = e.OccurredAt.UTC()
		e.NextAttemptAt = e.NextAttemptAt.UTC()
		e.PeriodStart = derefTime(periodStart)
		e.PeriodEnd = derefTime(periodEnd)
		if e.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *Tx) MarkProviderEvent(ctx context.Context, provider, eventID string, status model.ProviderEventStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE provider_events
		SET status = $3, last_error = '', processed_at = now()
		WHERE provider = $1 AND event_id = $2
	`, provider, eventID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *Tx) FailProviderEvent(ctx context.Context, provider, eventID, lastErr string, retryAt time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE provider_events
		SET status = 'failed', last_error = $3, attempts = attempts + 1, next_attempt_at = $4
		WHERE provider = $1 AND event_id = $2
	`, provider, eventID, lastErr, retryAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *Tx) InsertOutbox(ctx context.Context, evt outbox.Event) error {
	return outbox.Insert(ctx, t.tx, evt)
}
