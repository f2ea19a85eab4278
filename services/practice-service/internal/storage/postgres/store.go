package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/md-rashed-zaman/practicecore/libs/db"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/apperr"
	"github.com/md-rashed-zaman/practicecore/services/practice-service/internal/storage"
)

//go:embed schema.sql
var schemaFS embed.FS

// Store implements storage.Store on a pgx pool.
type Store struct {
	pool  *db.Pool
	retry db.RetryPolicy
}

func New(pool *db.Pool, retry db.RetryPolicy) *Store {
	return &Store{pool: pool, retry: retry}
}

func (s *Store) Pool() *db.Pool { return s.pool }

// InTx runs fn in a read-committed transaction. Row locks taken by the Tx
// methods provide the serialization each operation needs; transient faults
// rerun the whole unit of work and surface as apperr storage faults once the
// retry policy gives up.
func (s *Store) InTx(ctx context.Context, fn func(context.Context, storage.Tx) error) error {
	err := s.pool.WithTx(ctx, s.retry, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &Tx{tx: tx})
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrRetriesExhausted) || db.IsRetryable(err):
		return apperr.Storage(err)
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", storage.ErrDuplicate, err)
	case db.IsCheckViolation(err):
		// used_credits bounds; the ledger checks first, so this is a race.
		return apperr.Conflict("concurrent update rejected by a balance constraint")
	}
	return err
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, pool *db.Pool) error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Tx implements storage.Tx over a pgx transaction.
type Tx struct {
	tx pgx.Tx
}

var _ storage.Tx = (*Tx)(nil)

func notFound(err error) error {
	if db.IsNotFound(err) {
		return storage.ErrNotFound
	}
	return err
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// AdvisoryLocker elects a single instance for cluster-wide jobs with a
// session-level advisory lock.
type AdvisoryLocker struct {
	pool *db.Pool
	key  int64
}

func (s *Store) AdvisoryLocker(key int64) AdvisoryLocker {
	return AdvisoryLocker{pool: s.pool, key: key}
}

func (l AdvisoryLocker) TryLock(ctx context.Context) (bool, func(), error) {
	return l.pool.TryAdvisoryLock(ctx, l.key)
}
