package core

import "github.com/pkg/errors"

// Kind classifies an application error so that the route layer and the
// operator tooling can act on it without parsing messages.
type Kind string

const (
	KindDuplicateIdentity   Kind = "DuplicateIdentity"
	KindWeakSecret          Kind = "WeakSecret"
	KindInvalidEmail        Kind = "InvalidEmail"
	KindInvalidSession      Kind = "InvalidSession"
	KindConflict            Kind = "Conflict"
	KindNotFound            Kind = "NotFound"
	KindProviderUnavailable Kind = "ProviderUnavailable"
	KindIdentityMismatch    Kind = "IdentityMismatch"
	KindInconsistent        Kind = "Inconsistent"
	KindPartialDelete       Kind = "PartialDelete"
)

// Error is an application error with a stable Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, if any
}

func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func WrapError(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err if it is (or wraps) an *Error; "" otherwise.
func KindOf(err error) Kind {
	if appErr, ok := errors.Cause(err).(*Error); ok {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether err is an application error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
