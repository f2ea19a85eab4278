package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
)

type WorkerConfig struct {
	PollEvery   time.Duration
	MaxAttempts int
	// RetryBase is the delay after the first failure; each further failure
	// doubles it up to RetryMax.
	RetryBase time.Duration
	RetryMax  time.Duration
}

// Worker drains the provider event queue.
type Worker struct {
	store      storage.Store
	reconciler *Reconciler
	logger     *slog.Logger
	pollEvery  time.Duration
	maxAttempt int
	retryBase  time.Duration
	retryMax   time.Duration
	now        func() time.Time
}

func NewWorker(store storage.Store, reconciler *Reconciler, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 5 * time.Second
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = 10 * time.Minute
	}
	return &Worker{
		store:      store,
		reconciler: reconciler,
		logger:     logger,
		pollEvery:  cfg.PollEvery,
		maxAttempt: cfg.MaxAttempts,
		retryBase:  cfg.RetryBase,
		retryMax:   cfg.RetryMax,
		now:        time.Now,
	}
}

func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// retryDelay is the backoff before the attempt following the given number
// of failures, with 20% jitter so a burst of failures spreads out.
func (w *Worker) retryDelay(failures int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     w.retryBase,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         w.retryMax,
	}
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < failures; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("provider event worker failed", "err", err)
			}
		}
	}
}

// Drain processes due events until none are left and returns how many it
// handled. A failing event is deferred by retryDelay, so the same drain
// never retries it.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	n := 0
	for ctx.Err() == nil {
		done, err := w.processOne(ctx)
		if err != nil {
			return n, err
		}
		if !done {
			return n, nil
		}
		n++
	}
	return n, ctx.Err()
}

// processOne applies the oldest queued event in its own transaction. It
// reports false when the queue is empty.
func (w *Worker) processOne(ctx context.Context) (bool, error) {
	var claimed *model.ProviderEvent
	var outcome Outcome
	err := w.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		claimed = nil
		events, err := tx.ClaimProviderEvents(ctx, 1, w.maxAttempt, w.now().UTC())
		if err != nil {
			return fmt.Errorf("claim provider events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		evt := events[0]
		claimed = &evt

		if outcome, err = w.reconciler.Apply(ctx, tx, evt); err != nil {
			return err
		}
		status := model.ProviderEventProcessed
		if outcome == OutcomeSkipped {
			status = model.ProviderEventSkipped
		}
		return tx.MarkProviderEvent(ctx, evt.Provider, evt.EventID, status)
	})
	if claimed == nil {
		return false, err
	}
	if err == nil {
		return true, nil
	}

	attempt := claimed.Attempts + 1
	retryAt := w.now().UTC().Add(w.retryDelay(attempt))
	if attempt >= w.maxAttempt {
		w.logger.Error("provider event gave up", "err", err, "event_id", claimed.EventID, "attempt", attempt)
	} else {
		w.logger.Warn("provider event failed", "err", err, "event_id", claimed.EventID, "attempt", attempt, "retry_at", retryAt)
	}
	markErr := w.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.FailProviderEvent(ctx, claimed.Provider, claimed.EventID, err.Error(), retryAt)
	})
	if markErr != nil {
		return false, fmt.Errorf("mark provider event %s failed: %w", claimed.EventID, markErr)
	}
	return true, nil
}
