package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeExclusionViolation   = "23P01"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsExclusionViolation reports an EXCLUDE constraint hit, e.g. two bookings
// for the same staff with overlapping ranges.
func IsExclusionViolation(err error) bool { return pgCode(err) == codeExclusionViolation }

func IsUniqueViolation(err error) bool { return pgCode(err) == codeUniqueViolation }

func IsCheckViolation(err error) bool { return pgCode(err) == codeCheckViolation }

func IsNotFound(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

// IsRetryable reports errors that are worth running the whole transaction
// again for: serialization failures, deadlocks, lock timeouts and dropped
// connections.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
