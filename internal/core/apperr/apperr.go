// Package apperr defines the closed error taxonomy used across every
// component of the trading core (§7 of the specification).
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error categories every component
// returns. Kinds never multiply per-package — if a new failure mode
// appears, it maps onto one of these.
type Kind string

const (
	KindValidation          Kind = "VALIDATION"
	KindNotFound            Kind = "NOT_FOUND"
	KindConflict            Kind = "CONFLICT"
	KindInsufficientFunds   Kind = "INSUFFICIENT_FUNDS"
	KindInsufficientShares  Kind = "INSUFFICIENT_SHARES"
	KindMarketClosed        Kind = "MARKET_CLOSED"
	KindDeadlineExceeded    Kind = "DEADLINE_EXCEEDED"
	KindInternal            Kind = "INTERNAL"
	KindSettlementFailed    Kind = "SETTLEMENT_FAILED"
)

// Error is the concrete error type every component returns. Wrap a cause
// with New/Wrap rather than constructing fmt.Errorf chains so callers can
// recover the Kind with Is/As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a new Error of the given Kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a new Error of the given Kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or KindInternal if err is not an
// *Error (a bug surfaced as an unmodeled failure, not a silent success).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return KindInternal
}
