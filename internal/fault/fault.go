// Package fault defines the closed set of error kinds that cross the core
// boundary. Callers translate kinds to transport codes; the core itself never
// speaks HTTP.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies one of the core's error categories.
type Kind string

const (
	// AuthorityViolation — an AI component attempted a forbidden or
	// over-privileged action. Rejected before side effects; never retried.
	AuthorityViolation Kind = "AUTHORITY_VIOLATION"

	// IllegalTransition — a state machine was asked for an undefined edge.
	IllegalTransition Kind = "ILLEGAL_TRANSITION"

	// PreconditionFailed — a business rule denied the operation.
	PreconditionFailed Kind = "PRECONDITION_FAILED"

	// ConcurrencyConflict — optimistic version mismatch or a refund already
	// in flight. Callers may retry.
	ConcurrencyConflict Kind = "CONCURRENCY_CONFLICT"

	// GatewayError — the payment gateway errored or timed out mid-SAGA.
	GatewayError Kind = "GATEWAY_ERROR"

	// NegativeBalance — a transfer reversal failed for insufficient funds.
	NegativeBalance Kind = "NEGATIVE_BALANCE"

	// IdempotentReplay — the event or action was already applied; the prior
	// result is returned and nothing changed.
	IdempotentReplay Kind = "IDEMPOTENT_REPLAY"

	// Internal — store integrity violated or another unexpected fault.
	Internal Kind = "INTERNAL"
)

// Error is the tagged error value returned across the core boundary.
type Error struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, optional
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so that errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a tagged error.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a kind.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain. Untagged errors map to
// Internal; nil maps to the empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether a caller may retry the failed operation.
func Retryable(err error) bool {
	return KindOf(err) == ConcurrencyConflict
}
