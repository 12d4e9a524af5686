// Package fault defines the error taxonomy shared across services.
//
// Every error surfaced to a caller carries a stable machine-readable Kind
// plus a human message, so clients can distinguish "correct and resubmit"
// (InsufficientFunds, GroupFull) from "retry" (Conflict, StorageUnavailable).
package fault

import (
	"errors"
	"fmt"
)

// Kind is a stable machine-readable error classification.
type Kind string

const (
	NotFound           Kind = "not_found"
	Unauthorized       Kind = "unauthorized"
	Forbidden          Kind = "forbidden"
	InvalidState       Kind = "invalid_state"
	AlreadyMember      Kind = "already_member"
	GroupFull          Kind = "group_full"
	InvalidAmount      Kind = "invalid_amount"
	InsufficientFunds  Kind = "insufficient_funds"
	ImmutableViolation Kind = "immutable_violation"
	Validation         Kind = "validation"
	Conflict           Kind = "conflict"
	StorageUnavailable Kind = "storage_unavailable"
)

// Error is a classified error. It wraps an optional cause and is compatible
// with errors.Is/As.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two fault errors by Kind, so sentinel-style checks like
// errors.Is(err, &fault.Error{Kind: fault.NotFound}) work.
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return e.Kind == fe.Kind
	}
	return false
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Retryable reports whether err is transient and safe to retry. Validation
// and state errors are terminal and must never be retried.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Conflict, StorageUnavailable:
		return true
	}
	return false
}
