package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/apperr"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/credits"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/outbox"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/processor"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage/memory"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/tenant"
)

var (
	periodEnd = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	nextEnd   = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fixture(t *testing.T) (*memory.Store, *Worker) {
	t.Helper()
	s := memory.New()
	s.AddTier(model.MembershipTier{ID: "basic", OrganizationID: "org-1", MonthlyCredits: dec("50")})
	s.AddTier(model.MembershipTier{ID: "plus", OrganizationID: "org-1", MonthlyCredits: dec("100")})
	s.AddMembership(model.Membership{
		ID: "m1", OrganizationID: "org-1", ClientID: "c1", TierID: "plus", Status: model.MembershipActive,
		MonthlyCredits: dec("100"), UsedCredits: dec("70"), AutoRenew: true,
		StartDate: periodEnd.AddDate(0, -3, 0), EndDate: periodEnd,
		ProcessorSubscriptionID: "sub_1", CurrentPeriodEnd: periodEnd,
	})
	logger := discard()
	rec := NewReconciler(credits.NewLedger(logger), logger)
	return s, NewWorker(s, rec, logger, WorkerConfig{MaxAttempts: 3})
}

func event(id string, kind model.ProcessorEventKind, at time.Time, end time.Time) model.ProviderEvent {
	return model.ProviderEvent{
		Provider: ProviderStripe, EventID: id, EventType: string(kind), Kind: kind,
		SubscriptionID: "sub_1", OccurredAt: at, PeriodEnd: end, Amount: dec("49.00"),
	}
}

func enqueue(t *testing.T, s *memory.Store, evts ...model.ProviderEvent) {
	t.Helper()
	for _, evt := range evts {
		if err := Enqueue(context.Background(), s, evt); err != nil {
			t.Fatalf("enqueue %s: %v", evt.EventID, err)
		}
	}
}

func drain(t *testing.T, w *Worker) int {
	t.Helper()
	n, err := w.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	return n
}

func membership(t *testing.T, s *memory.Store) model.Membership {
	t.Helper()
	m, ok := s.Membership("m1")
	if !ok {
		t.Fatalf("membership m1 missing")
	}
	return m
}

func TestRenewalResetsCycle(t *testing.T) {
	s, w := fixture(t)
	enqueue(t, s, event("evt_renew", model.EventRenewalSucceeded, periodEnd, nextEnd))

	if n := drain(t, w); n != 1 {
		t.Fatalf("expected 1 event drained, got %d", n)
	}
	m := membership(t, s)
	if !m.UsedCredits.IsZero() || !m.CurrentPeriodEnd.Equal(nextEnd) || !m.EndDate.Equal(nextEnd) {
		t.Fatalf("unexpected membership after renewal: %+v", m)
	}
	txs := s.Transactions()
	if len(txs) != 1 || txs[0].Kind != model.TxMembershipRenewal || !txs[0].Amount.Equal(dec("49")) {
		t.Fatalf("expected one renewal transaction, got %+v", txs)
	}
	if evt, _ := s.ProviderEvent(ProviderStripe, "evt_renew"); evt.Status != model.ProviderEventProcessed {
		t.Fatalf("expected processed, got %s", evt.Status)
	}
}

func TestRenewalAppliesPendingDowngrade(t *testing.T) {
	s, w := fixture(t)
	m := membership(t, s)
	m.PendingTierID = "basic"
	s.AddMembership(m)

	enqueue(t, s, event("evt_renew", model.EventRenewalSucceeded, periodEnd, nextEnd))
	drain(t, w)

	m = membership(t, s)
	if m.TierID != "basic" || m.PendingTierID != "" || !m.MonthlyCredits.Equal(dec("50")) || !m.UsedCredits.IsZero() {
		t.Fatalf("expected downgrade applied at renewal, got %+v", m)
	}
}

func TestReplayedEventIsIdempotent(t *testing.T) {
	s, w := fixture(t)
	evt := event("evt_renew", model.EventRenewalSucceeded, periodEnd, nextEnd)
	enqueue(t, s, evt)

	err := Enqueue(context.Background(), s, evt)
	if apperr.KindOf(err) != apperr.KindIdempotencyReplay {
		t.Fatalf("expected idempotency replay, got %v", err)
	}
	drain(t, w)
	first := membership(t, s)

	// A provider retry with a fresh id but the same period must not reset twice.
	m := first
	m.UsedCredits = dec("10")
	s.AddMembership(m)
	enqueue(t, s, event("evt_renew_retry", model.EventRenewalSucceeded, periodEnd.Add(time.Minute), nextEnd))
	drain(t, w)

	if got := membership(t, s); !got.UsedCredits.Equal(dec("10")) {
		t.Fatalf("renewal for an already applied period reset credits: %s", got.UsedCredits)
	}
	if n := len(s.Transactions()); n != 1 {
		t.Fatalf("expected a single renewal transaction, got %d", n)
	}
}

func TestPaymentFailureSuspendsWithoutTouchingCredits(t *testing.T) {
	s, w := fixture(t)
	enqueue(t, s, event("evt_fail", model.EventPaymentFailed, periodEnd, time.Time{}))
	drain(t, w)

	m := membership(t, s)
	if m.Status != model.MembershipSuspended || !m.UsedCredits.Equal(dec("70")) {
		t.Fatalf("expected suspended with credits intact, got %+v", m)
	}
	types := s.OutboxTypes()
	if len(types) != 1 || types[0] != outbox.MembershipSuspended {
		t.Fatalf("unexpected outbox: %v", types)
	}

	ledger := credits.NewLedger(discard())
	err := s.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := ledger.Debit(ctx, tx, tenant.ID("org-1"), "m1", dec("5"), "test")
		return err
	})
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected suspended membership to refuse debits, got %v", err)
	}
}

func TestCancellationKeepsCreditsUntilEndDate(t *testing.T) {
	s, w := fixture(t)
	end := time.Now().UTC().Add(72 * time.Hour)
	enqueue(t, s, event("evt_cancel", model.EventSubscriptionCanceled, periodEnd, end))
	drain(t, w)

	m := membership(t, s)
	if m.Status != model.MembershipCanceled || m.AutoRenew || !m.EndDate.Equal(end) {
		t.Fatalf("unexpected membership after cancel: %+v", m)
	}
	if !m.Usable(time.Now()) {
		t.Fatalf("canceled membership should stay usable until %s", end)
	}
	if m.Usable(end.Add(time.Second)) {
		t.Fatalf("canceled membership should expire after %s", end)
	}
}

func TestOutOfOrderEventSkipped(t *testing.T) {
	s, w := fixture(t)
	enqueue(t, s,
		event("evt_renew", model.EventRenewalSucceeded, periodEnd.Add(time.Hour), nextEnd),
	)
	drain(t, w)

	// Delivered late; it describes a state older than the renewal.
	enqueue(t, s, event("evt_fail_old", model.EventPaymentFailed, periodEnd.Add(-time.Hour), time.Time{}))
	drain(t, w)

	if m := membership(t, s); m.Status != model.MembershipActive {
		t.Fatalf("stale failure applied: %s", m.Status)
	}
	if evt, _ := s.ProviderEvent(ProviderStripe, "evt_fail_old"); evt.Status != model.ProviderEventSkipped {
		t.Fatalf("expected skipped, got %s", evt.Status)
	}
}

func TestUnknownSubscriptionSkipped(t *testing.T) {
	s, w := fixture(t)
	evt := event("evt_other", model.EventPaymentFailed, periodEnd, time.Time{})
	evt.SubscriptionID = "sub_unknown"
	enqueue(t, s, evt)
	drain(t, w)

	if got, _ := s.ProviderEvent(ProviderStripe, "evt_other"); got.Status != model.ProviderEventSkipped {
		t.Fatalf("expected skipped, got %s", got.Status)
	}
}

func TestFailedEventWaitsForBackoff(t *testing.T) {
	s, w := fixture(t)
	now := periodEnd
	w.WithClock(func() time.Time { return now })
	enqueue(t, s, event("evt_bad", model.ProcessorEventKind("mystery"), periodEnd, time.Time{}))

	if n := drain(t, w); n != 1 {
		t.Fatalf("expected a single attempt, got %d", n)
	}
	first, _ := s.ProviderEvent(ProviderStripe, "evt_bad")
	if first.Status != model.ProviderEventFailed || first.Attempts != 1 || !first.NextAttemptAt.After(now) {
		t.Fatalf("expected a deferred retry, got %+v", first)
	}

	// An immediate second drain must leave the event alone.
	if n := drain(t, w); n != 0 {
		t.Fatalf("failed event retried before its backoff elapsed")
	}
	now = first.NextAttemptAt.Add(-time.Millisecond)
	if n := drain(t, w); n != 0 {
		t.Fatalf("failed event retried before %s", first.NextAttemptAt)
	}

	now = first.NextAttemptAt
	if n := drain(t, w); n != 1 {
		t.Fatalf("expected the retry once due, got %d", n)
	}
	second, _ := s.ProviderEvent(ProviderStripe, "evt_bad")
	if second.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", second.Attempts)
	}
	if second.NextAttemptAt.Sub(now) <= first.NextAttemptAt.Sub(periodEnd) {
		t.Fatalf("expected the backoff to grow: %s then %s",
			first.NextAttemptAt.Sub(periodEnd), second.NextAttemptAt.Sub(now))
	}
}

func TestWorkerGivesUpAfterMaxAttempts(t *testing.T) {
	s, w := fixture(t)
	now := periodEnd
	w.WithClock(func() time.Time { return now })
	enqueue(t, s, event("evt_bad", model.ProcessorEventKind("mystery"), periodEnd, time.Time{}))

	for attempt := 1; attempt <= 3; attempt++ {
		if n := drain(t, w); n != 1 {
			t.Fatalf("attempt %d: expected one event drained, got %d", attempt, n)
		}
		evt, _ := s.ProviderEvent(ProviderStripe, "evt_bad")
		now = evt.NextAttemptAt
	}
	now = now.Add(24 * time.Hour)
	if n := drain(t, w); n != 0 {
		t.Fatalf("expected no attempts past the limit, got %d", n)
	}
	evt, _ := s.ProviderEvent(ProviderStripe, "evt_bad")
	if evt.Status != model.ProviderEventFailed || evt.Attempts != 3 || evt.LastError == "" {
		t.Fatalf("unexpected event state: %+v", evt)
	}
	if m := membership(t, s); !m.LastEventAt.IsZero() {
		t.Fatalf("failed event leaked into membership: %+v", m)
	}
}

func TestRetryDelayIsCapped(t *testing.T) {
	_, w := fixture(t)
	w.retryBase, w.retryMax = time.Second, 8*time.Second
	for failures := 1; failures <= 10; failures++ {
		d := w.retryDelay(failures)
		if d < 800*time.Millisecond || d > 8*time.Second*12/10 {
			t.Fatalf("retryDelay(%d) = %s out of bounds", failures, d)
		}
	}
}

func TestNormalize(t *testing.T) {
	invoice := fmt.Sprintf(`{
		"id": "evt_inv", "object": "event", "type": "invoice.paid", "created": %d,
		"data": {"object": {
			"id": "in_1", "object": "invoice", "subscription": "sub_1", "amount_paid": 4900,
			"period_start": %d, "period_end": %d,
			"lines": {"object": "list", "data": [{"id": "il_1", "object": "line_item", "period": {"start": %d, "end": %d}}]}
		}}
	}`, periodEnd.Unix(), periodEnd.AddDate(0, -1, 0).Unix(), periodEnd.Unix(), periodEnd.Unix(), nextEnd.Unix())
	deleted := fmt.Sprintf(`{
		"id": "evt_del", "object": "event", "type": "customer.subscription.deleted", "created": %d,
		"data": {"object": {"id": "sub_1", "object": "subscription", "status": "canceled", "current_period_end": %d}}
	}`, periodEnd.Unix(), nextEnd.Unix())
	yen := fmt.Sprintf(`{
		"id": "evt_inv_jpy", "object": "event", "type": "invoice.paid", "created": %d,
		"data": {"object": {
			"id": "in_2", "object": "invoice", "subscription": "sub_1", "amount_paid": 5000, "currency": "jpy",
			"lines": {"object": "list", "data": [{"id": "il_2", "object": "line_item", "period": {"start": %d, "end": %d}}]}
		}}
	}`, periodEnd.Unix(), periodEnd.Unix(), nextEnd.Unix())
	other := `{"id": "evt_x", "object": "event", "type": "customer.created", "created": 1, "data": {"object": {"id": "cus_1"}}}`

	tests := []struct {
		name   string
		raw    string
		ok     bool
		kind   model.ProcessorEventKind
		end    time.Time
		amount string
	}{
		{name: "invoice paid", raw: invoice, ok: true, kind: model.EventRenewalSucceeded, end: nextEnd, amount: "49"},
		{name: "zero decimal currency", raw: yen, ok: true, kind: model.EventRenewalSucceeded, end: nextEnd, amount: "5000"},
		{name: "subscription deleted", raw: deleted, ok: true, kind: model.EventSubscriptionCanceled, end: nextEnd, amount: "0"},
		{name: "ignored type", raw: other, ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var evt stripe.Event
			if err := json.Unmarshal([]byte(tc.raw), &evt); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			got, ok, err := Normalize(evt, []byte(tc.raw))
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if !ok {
				return
			}
			if got.Kind != tc.kind || got.SubscriptionID != "sub_1" || !got.PeriodEnd.Equal(tc.end) || !got.Amount.Equal(dec(tc.amount)) {
				t.Fatalf("unexpected event: %+v", got)
			}
			if !got.OccurredAt.Equal(periodEnd) {
				t.Fatalf("unexpected occurred_at %s", got.OccurredAt)
			}
		})
	}
}

type fakeProcessor struct {
	subs map[string]processor.Subscription
}

func (f fakeProcessor) Subscription(_ context.Context, id string) (processor.Subscription, error) {
	sub, ok := f.subs[id]
	if !ok {
		return processor.Subscription{}, processor.ErrUnavailable
	}
	return sub, nil
}

func (fakeProcessor) ChangePrice(context.Context, string, string, string) (processor.Subscription, error) {
	return processor.Subscription{}, nil
}

func (fakeProcessor) CancelAtPeriodEnd(context.Context, string, string) (processor.Subscription, error) {
	return processor.Subscription{}, nil
}

type lockHeld struct{}

func (lockHeld) TryLock(context.Context) (bool, func(), error) { return false, nil, nil }

func TestSweepRepairsMissedWebhook(t *testing.T) {
	s, w := fixture(t)
	proc := fakeProcessor{subs: map[string]processor.Subscription{
		"sub_1": {ID: "sub_1", Status: "past_due", CurrentPeriodEnd: periodEnd},
	}}
	sweeper := NewSweeper(s, proc, nil, discard(), 10)

	n, err := sweeper.SweepOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 drift queued, got %d, %v", n, err)
	}
	// The same drift is not queued twice before the worker catches up.
	if n, err := sweeper.SweepOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("expected no new drift, got %d, %v", n, err)
	}
	drain(t, w)
	if m := membership(t, s); m.Status != model.MembershipSuspended {
		t.Fatalf("expected sweep to suspend, got %s", m.Status)
	}

	// In sync now: nothing to queue.
	if n, err := sweeper.SweepOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("expected no drift after repair, got %d, %v", n, err)
	}
}

func TestSweepSkippedWithoutLock(t *testing.T) {
	s, _ := fixture(t)
	proc := fakeProcessor{subs: map[string]processor.Subscription{
		"sub_1": {ID: "sub_1", Status: "canceled", CurrentPeriodEnd: periodEnd},
	}}
	n, err := NewSweeper(s, proc, lockHeld{}, discard(), 10).SweepOnce(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected sweep to yield to the lock holder, got %d, %v", n, err)
	}
}

func sweepAt(s *memory.Store, sub processor.Subscription) *Sweeper {
	proc := fakeProcessor{subs: map[string]processor.Subscription{sub.ID: sub}}
	return NewSweeper(s, proc, nil, discard(), 10).WithClock(func() time.Time { return periodEnd.Add(time.Minute) })
}

func TestSweepWaitsForPaidRenewal(t *testing.T) {
	s, w := fixture(t)
	sweeper := sweepAt(s, processor.Subscription{
		ID: "sub_1", Status: "active", CurrentPeriodStart: periodEnd, CurrentPeriodEnd: nextEnd,
		LatestInvoice: processor.Invoice{ID: "in_2", Status: "open", PeriodStart: periodEnd, PeriodEnd: nextEnd},
	})

	if n, err := sweeper.SweepOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("expected no drift while the invoice is open, got %d, %v", n, err)
	}
	drain(t, w)
	if m := membership(t, s); !m.UsedCredits.Equal(dec("70")) || !m.CurrentPeriodEnd.Equal(periodEnd) {
		t.Fatalf("credits reset before payment: %+v", m)
	}

	enqueue(t, s, event("evt_fail", model.EventPaymentFailed, periodEnd.Add(time.Hour), time.Time{}))
	drain(t, w)

	m := membership(t, s)
	if m.Status != model.MembershipSuspended || !m.UsedCredits.Equal(dec("70")) {
		t.Fatalf("expected suspended with the old cycle intact, got %+v", m)
	}
	if txs := s.Transactions(); len(txs) != 0 {
		t.Fatalf("expected no renewal transaction, got %+v", txs)
	}
}

func TestSweepRenewsOnPaidInvoice(t *testing.T) {
	s, w := fixture(t)
	sweeper := sweepAt(s, processor.Subscription{
		ID: "sub_1", Status: "active", CurrentPeriodStart: periodEnd, CurrentPeriodEnd: nextEnd,
		LatestInvoice: processor.Invoice{ID: "in_2", Status: "paid", AmountPaid: dec("49"), PeriodStart: periodEnd, PeriodEnd: nextEnd},
	})

	if n, err := sweeper.SweepOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("expected the paid renewal queued, got %d, %v", n, err)
	}
	drain(t, w)
	m := membership(t, s)
	if !m.UsedCredits.IsZero() || !m.CurrentPeriodEnd.Equal(nextEnd) {
		t.Fatalf("expected a fresh cycle, got %+v", m)
	}

	// The late invoice.paid webhook for the same period changes nothing.
	enqueue(t, s, event("evt_inv", model.EventRenewalSucceeded, periodEnd.Add(2*time.Minute), nextEnd))
	drain(t, w)
	txs := s.Transactions()
	if len(txs) != 1 || !txs[0].Amount.Equal(dec("49")) || txs[0].Reference != "stripe:sweep:sub_1:paid:in_2" {
		t.Fatalf("expected one renewal carrying the invoice amount, got %+v", txs)
	}
}

func TestSweepLiftsSuspensionWithoutReset(t *testing.T) {
	s, w := fixture(t)
	m := membership(t, s)
	m.Status = model.MembershipSuspended
	s.AddMembership(m)
	sweeper := sweepAt(s, processor.Subscription{
		ID: "sub_1", Status: "active", CurrentPeriodEnd: periodEnd,
		LatestInvoice: processor.Invoice{ID: "in_1", Status: "paid", AmountPaid: dec("49"), PeriodEnd: periodEnd},
	})

	if n, err := sweeper.SweepOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("expected the suspension repair queued, got %d, %v", n, err)
	}
	drain(t, w)
	m = membership(t, s)
	if m.Status != model.MembershipActive || !m.UsedCredits.Equal(dec("70")) {
		t.Fatalf("expected active with credits untouched, got %+v", m)
	}
	if txs := s.Transactions(); len(txs) != 0 {
		t.Fatalf("status repair recorded a transaction: %+v", txs)
	}
}
