// Package apperrors defines the error taxonomy surfaced by the account flow
// (session, auth and profile packages) to whatever renders it.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is a stable error category callers can switch on.
type Kind string

const (
	KindValidation             Kind = "validation_error"
	KindInvalidCredentials     Kind = "invalid_credentials"
	KindUnauthenticated        Kind = "unauthenticated"
	KindNotFound               Kind = "not_found"
	KindNetworkOrProvider      Kind = "network_or_provider_error"
	KindProfileWriteConflict   Kind = "profile_write_conflict"
	KindProfileOperationFailed Kind = "profile_operation_failed"
	KindTimeout                Kind = "timeout"
)

// FallbackMessage is shown when an error carries no usable text.
const FallbackMessage = "An unexpected error occurred. Please try again."

// Error carries a Kind, a message fit for display and the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches another *Error of the same Kind, so errors.Is(err, ErrValidation) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Message == "" && t.Cause == nil && t.Kind == e.Kind
}

// Kind-only values for errors.Is.
var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrInvalidCredentials     = &Error{Kind: KindInvalidCredentials}
	ErrUnauthenticated        = &Error{Kind: KindUnauthenticated}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrNetworkOrProvider      = &Error{Kind: KindNetworkOrProvider}
	ErrProfileWriteConflict   = &Error{Kind: KindProfileWriteConflict}
	ErrProfileOperationFailed = &Error{Kind: KindProfileOperationFailed}
	ErrTimeout                = &Error{Kind: KindTimeout}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage returns the text to show a user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return FallbackMessage
}
