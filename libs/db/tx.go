package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
)

// RetryPolicy bounds how often a failed unit of work is attempted again.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, InitialInterval: 25 * time.Millisecond, MaxInterval: 500 * time.Millisecond}
}

// ErrRetriesExhausted wraps the last retryable error once the policy gives up.
var ErrRetriesExhausted = errors.New("storage retries exhausted")

// Retry runs op until it succeeds, returns an error IsRetryable rejects, or
// the attempts run out.
func Retry(ctx context.Context, policy RetryPolicy, op func(context.Context) error) error {
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy()
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialInterval
	eb.MaxInterval = policy.MaxInterval

	var last error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if !IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		last = err
		return struct{}{}, err
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(policy.MaxAttempts))
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	if last != nil && IsRetryable(err) {
		return fmt.Errorf("%w: %w", ErrRetriesExhausted, last)
	}
	return err
}

// WithTx runs fn in a transaction, retrying the whole transaction on
// retryable failures. fn must be safe to run more than once.
func (p *Pool) WithTx(ctx context.Context, policy RetryPolicy, fn func(context.Context, pgx.Tx) error) error {
	return Retry(ctx, policy, func(ctx context.Context) error {
		tx, err := p.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := fn(ctx, tx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// TryAdvisoryLock holds a session-level advisory lock on a dedicated
// connection. The returned release func unlocks and returns the connection.
func (p *Pool) TryAdvisoryLock(ctx context.Context, key int64) (bool, func(), error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return false, nil, err
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Release()
		return false, nil, err
	}
	if !ok {
		conn.Release()
		return false, nil, nil
	}
	return true, func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Release()
	}, nil
}
