// Package common defines the error taxonomy shared by the repositories, the
// account flows and the HTTP boundary. Callers should use errors.Is / KindOf
// to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound             = errors.New("not found")
	ErrorAlreadyExists        = errors.New("already exists")
	ErrorRefreshTokenMismatch = errors.New("refresh token mismatch")
)

// Kind classifies a flow failure. The HTTP boundary maps each kind to exactly
// one status code.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuthentication
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a kinded failure carrying a user-facing message. Err keeps the
// underlying cause for logging and is never shown to clients.
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

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, &Error{Kind: KindConflict}) works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func NewValidationError(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func NewConflictError(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

func NewAuthenticationError(msg string) error {
	return &Error{Kind: KindAuthentication, Message: msg}
}

func NewNotFoundError(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func NewInternalError(msg string, cause error) error {
	return &Error{Kind: KindInternal, Message: msg, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain. Errors that
// carry no kind are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message of err, or fallback when err is
// not kinded.
func MessageOf(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}
