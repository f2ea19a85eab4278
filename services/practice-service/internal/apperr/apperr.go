// Package apperr is the error taxonomy shared by the scheduling and ledger
// packages. Handlers map Kind to an HTTP status; everything else is a fault.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindIdempotencyReplay   Kind = "idempotency_replay"
	KindStorage             Kind = "storage"
)

type Error struct {
	Kind    Kind
	Message string
	// Remaining is set for insufficient credit/balance rejections.
	Remaining *decimal.Decimal
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(what string) error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func InsufficientCredits(remaining decimal.Decimal) error {
	return &Error{Kind: KindInsufficientCredits, Message: "insufficient membership credits", Remaining: &remaining}
}

func InsufficientBalance(balance int64) error {
	b := decimal.NewFromInt(balance)
	return &Error{Kind: KindInsufficientBalance, Message: "insufficient reward balance", Remaining: &b}
}

func IdempotencyReplay(key string) error {
	return &Error{Kind: KindIdempotencyReplay, Message: "event " + key + " already processed"}
}

func Storage(err error) error {
	return &Error{Kind: KindStorage, Message: "storage unavailable", Err: err}
}

// KindOf returns the taxonomy kind of err, or "" for unclassified faults.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInsufficientCredits, KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case KindIdempotencyReplay:
		return http.StatusOK
	case KindStorage:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
