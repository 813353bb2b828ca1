// Package apperr defines the error kinds every planline operation reports.
//
// Business outcomes (a lease held by someone else, a stale version token, a
// missing story) are *Error values. Anything else that escapes an operation
// is fatal to that call: the store is unavailable or the schema is wrong.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the class of a business error.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindNotOwner        Kind = "not_owner"
	KindInvalidState    Kind = "invalid_state"
	KindInvalidArgument Kind = "invalid_argument"
	// KindBusy means the store stayed locked past the retry window. Callers may retry.
	KindBusy Kind = "busy"
)

// HTTPStatus maps a kind to the status REST endpoints answer with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindNotOwner:
		return http.StatusConflict
	case KindInvalidState:
		return http.StatusUnprocessableEntity
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the same call may succeed if repeated unchanged.
func (k Kind) Retryable() bool {
	return k == KindBusy
}

// Error is a typed business error with structured details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by kind so errors.Is(err, apperr.ErrConflict) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Message == ""
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrNotOwner        = &Error{Kind: KindNotOwner}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrBusy            = &Error{Kind: KindBusy}
)

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error { return newErr(KindNotFound, format, args...) }

func InvalidState(format string, args ...any) *Error {
	return newErr(KindInvalidState, format, args...)
}

func InvalidArgument(format string, args ...any) *Error {
	return newErr(KindInvalidArgument, format, args...)
}

// Conflict reports a lost race. Details are echoed to the caller.
func Conflict(details map[string]any, format string, args ...any) *Error {
	e := newErr(KindConflict, format, args...)
	e.Details = details
	return e
}

func NotOwner(details map[string]any, format string, args ...any) *Error {
	e := newErr(KindNotOwner, format, args...)
	e.Details = details
	return e
}

// Busy wraps a lock-timeout failure from the store.
func Busy(cause error) *Error {
	return &Error{Kind: KindBusy, Message: "store busy, retry later", Cause: cause}
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" for fatal errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}
