// Package service holds the marketplace business rules: payment claim
// reconciliation, offers and bids, listing management and the expiry sweep.
package service

import (
	"errors"
	"fmt"
)

// Kind classifies business errors. Every kind is recoverable by the caller;
// anything that is not an *Error is an infrastructure failure.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindInvalidState        Kind = "invalid_state"
	KindEntitlementRequired Kind = "entitlement_required"
	KindBelowMinimum        Kind = "below_minimum"
	KindValidation          Kind = "validation"
	KindForbidden           Kind = "forbidden"
)

// Error is a business rule violation with a human readable reason.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return e.Msg
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrInvalidState)
// holds whatever the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrEntitlementRequired = &Error{Kind: KindEntitlementRequired}
	ErrBelowMinimum        = &Error{Kind: KindBelowMinimum}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrForbidden           = &Error{Kind: KindForbidden}
)

func newError(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return newError(KindNotFound, format, args...)
}

func invalidState(format string, args ...any) error {
	return newError(KindInvalidState, format, args...)
}

func validation(format string, args ...any) error {
	return newError(KindValidation, format, args...)
}

func forbidden(format string, args ...any) error {
	return newError(KindForbidden, format, args...)
}

// KindOf returns the kind of a business error, or false for infrastructure
// errors.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
