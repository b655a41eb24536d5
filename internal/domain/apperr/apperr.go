// Package apperr defines the error taxonomy shared by the settlement domain.
//
// Every domain failure carries a Kind (used by transports to pick a status)
// and a stable machine-readable Code. Messages are safe to show to users.
package apperr

import (
	"github.com/go-faster/errors"
)

// Kind classifies a failure independently of the operation that produced it.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindInvalidState        Kind = "invalid_state"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindDeclined            Kind = "payment_declined"
	KindExternal            Kind = "external_service"
	KindInternal            Kind = "internal"
)

// Error is a classified domain failure.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is a domain error with the same code, so wrapped
// copies created by WithMessage still match their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a sentinel domain error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// WithMessage returns a copy of e with a more specific message. The copy
// still matches e under errors.Is.
func (e *Error) WithMessage(message string) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: message}
}

// Validation builds an ad-hoc validation error.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: "validation_error", Message: message}
}

// ErrInternal is reported for failures that must not leak details.
var ErrInternal = New(KindInternal, "internal_error", "internal error")

// KindOf returns the kind of the first domain error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first domain error in err's chain, or the
// internal error code when there is none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal.Code
}

// Public returns the domain error to expose for err. Unclassified errors are
// replaced by ErrInternal.
func Public(err error) *Error {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e
	}
	return ErrInternal
}
