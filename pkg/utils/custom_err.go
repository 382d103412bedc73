package utils

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable, machine-readable category of a ledger failure.
type ErrorKind string

const (
	KindNotFound               ErrorKind = "not_found"
	KindUnauthorized           ErrorKind = "unauthorized"
	KindInvalidTransition      ErrorKind = "invalid_transition"
	KindInvalidState           ErrorKind = "invalid_state"
	KindInvalidArgument        ErrorKind = "invalid_argument"
	KindConflictingTransaction ErrorKind = "conflicting_transaction"
	KindGatewayTimeout         ErrorKind = "gateway_timeout"
	KindGatewayDeclined        ErrorKind = "gateway_declined"
	KindStaleWrite             ErrorKind = "stale_write"
	KindInternal               ErrorKind = "internal"
)

// LedgerError carries a stable kind plus a human-readable message.
// Messages must not echo amounts or account identifiers.
type LedgerError struct {
	Kind    ErrorKind
	Message string
}

func (e *LedgerError) Error() string {
	return e.Message
}

// Is matches any LedgerError of the same kind, so the sentinels below work with
// errors.Is regardless of the message.
func (e *LedgerError) Is(target error) bool {
	var other *LedgerError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

var (
	ErrNotFound               = &LedgerError{Kind: KindNotFound, Message: "resource not found"}
	ErrUnauthorized           = &LedgerError{Kind: KindUnauthorized, Message: "admin access required"}
	ErrInvalidTransition      = &LedgerError{Kind: KindInvalidTransition, Message: "invalid status transition"}
	ErrInvalidState           = &LedgerError{Kind: KindInvalidState, Message: "operation not allowed in current state"}
	ErrInvalidArgument        = &LedgerError{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrConflictingTransaction = &LedgerError{Kind: KindConflictingTransaction, Message: "another payment attempt is in progress"}
	ErrGatewayTimeout         = &LedgerError{Kind: KindGatewayTimeout, Message: "gateway timeout"}
	ErrGatewayDeclined        = &LedgerError{Kind: KindGatewayDeclined, Message: "payment declined"}
	ErrStaleWrite             = &LedgerError{Kind: KindStaleWrite, Message: "record changed since it was read"}
	ErrDatabaseError          = &LedgerError{Kind: KindInternal, Message: "database error"}
)

// NewError builds a LedgerError of the given kind with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) error {
	return &LedgerError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first LedgerError in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err may be retried automatically by the core.
// Only optimistic-concurrency collisions and gateway timeouts qualify.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindStaleWrite, KindGatewayTimeout:
		return true
	default:
		return false
	}
}
