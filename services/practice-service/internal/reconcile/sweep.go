package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/apperr"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/processor"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
)

// Locker elects the single instance that sweeps; see db.Pool.TryAdvisoryLock.
type Locker interface {
	TryLock(ctx context.Context) (bool, func(), error)
}

// NoopLocker always grants the lock, for single-instance deployments.
type NoopLocker struct{}

func (NoopLocker) TryLock(context.Context) (bool, func(), error) { return true, func() {}, nil }

// Sweeper compares processor-billed memberships against the processor and
// queues a synthetic event for every drift it finds, so a missed webhook is
// repaired by the same code that applies real ones.
type Sweeper struct {
	store     storage.Store
	processor processor.Client
	locker    Locker
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

func NewSweeper(store storage.Store, proc processor.Client, locker Locker, logger *slog.Logger, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 50
	}
	if locker == nil {
		locker = NoopLocker{}
	}
	return &Sweeper{store: store, processor: proc, locker: locker, logger: logger, batchSize: batchSize, now: time.Now}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// SweepOnce returns how many drift events it queued.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	locked, unlock, err := s.locker.TryLock(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep lock: %w", err)
	}
	if !locked {
		s.logger.Info("membership sweep skipped, lock held by another instance")
		return 0, nil
	}
	defer unlock()

	var members []model.Membership
	err = s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		members, err = tx.ProcessorMemberships(ctx, s.batchSize)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list processor memberships: %w", err)
	}

	queued := 0
	for _, m := range members {
		if ctx.Err() != nil {
			return queued, ctx.Err()
		}
		sub, err := s.processor.Subscription(ctx, m.ProcessorSubscriptionID)
		if errors.Is(err, processor.ErrDisabled) {
			return queued, nil
		}
		if err != nil {
			s.logger.Warn("membership sweep: fetch subscription failed", "err", err, "membership_id", m.ID)
			continue
		}
		evt, drifted := driftEvent(m, sub, s.now().UTC())
		if !drifted {
			continue
		}
		err = Enqueue(ctx, s.store, evt)
		if apperr.KindOf(err) == apperr.KindIdempotencyReplay {
			continue
		}
		if err != nil {
			return queued, err
		}
		s.logger.Info("membership drift queued", "membership_id", m.ID, "subscription_id", sub.ID, "kind", evt.Kind)
		queued++
	}
	return queued, nil
}

// driftEvent derives the event that would bring m in line with sub. A
// rolled-over period only renews once the latest invoice is paid for it;
// until then the webhook for that invoice, or a later sweep, decides.
func driftEvent(m model.Membership, sub processor.Subscription, now time.Time) (model.ProviderEvent, bool) {
	evt := model.ProviderEvent{
		Provider:       ProviderStripe,
		EventID:        fmt.Sprintf("sweep:%s:%s:%d", sub.ID, sub.Status, sub.CurrentPeriodEnd.Unix()),
		EventType:      "sweep." + sub.Status,
		SubscriptionID: sub.ID,
		OccurredAt:     now,
		PeriodStart:    sub.CurrentPeriodStart,
		PeriodEnd:      sub.CurrentPeriodEnd,
		Amount:         decimal.Zero,
	}
	switch sub.Status {
	case "active", "trialing":
		evt.Kind = model.EventRenewalSucceeded
		if sub.CurrentPeriodEnd.After(m.CurrentPeriodEnd) {
			inv := sub.LatestInvoice
			if !inv.Covers(sub.CurrentPeriodEnd) {
				return model.ProviderEvent{}, false
			}
			evt.EventID = fmt.Sprintf("sweep:%s:paid:%s", sub.ID, inv.ID)
			evt.Amount = inv.AmountPaid
			return evt, true
		}
		// Same period: only a suspension lifted outside a webhook is left
		// to repair. The period end is not ahead, so credits are untouched.
		if m.Status != model.MembershipSuspended {
			return model.ProviderEvent{}, false
		}
		evt.PeriodEnd = m.CurrentPeriodEnd
	case "past_due", "unpaid", "incomplete":
		if m.Status != model.MembershipActive {
			return model.ProviderEvent{}, false
		}
		evt.Kind = model.EventPaymentFailed
	case "canceled", "incomplete_expired":
		if m.Status == model.MembershipCanceled {
			return model.ProviderEvent{}, false
		}
		evt.Kind = model.EventSubscriptionCanceled
	default:
		return model.ProviderEvent{}, false
	}
	return evt, true
}
