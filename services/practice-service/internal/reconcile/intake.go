package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/apperr"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/model"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
)

// Enqueue records a verified event for the worker. A repeated event id
// reports IdempotencyReplay and changes nothing.
func Enqueue(ctx context.Context, store storage.Store, evt model.ProviderEvent) error {
	err := store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertProviderEvent(ctx, evt)
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return apperr.IdempotencyReplay(evt.EventID)
	}
	if err != nil {
		return fmt.Errorf("record provider event %s: %w", evt.EventID, err)
	}
	return nil
}
