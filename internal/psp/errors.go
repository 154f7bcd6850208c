package psp

import (
	"errors"
	"fmt"
)

// ErrorClass buckets PSP failures into the categories the engine branches on
type ErrorClass string

const (
	// ClassCardDeclined means the card refused the charge; retrying the same
	// card is pointless until the student updates it
	ClassCardDeclined ErrorClass = "card_declined"
	// ClassAuthExpired means the hold lapsed before capture
	ClassAuthExpired ErrorClass = "auth_expired"
	// ClassAlreadyCaptured means a previous attempt already settled the hold
	ClassAlreadyCaptured ErrorClass = "already_captured"
	// ClassInvalidState means the intent is not in a state that permits the call
	ClassInvalidState ErrorClass = "invalid_state"
	// ClassSystemError means a transport or provider outage; safe to retry
	ClassSystemError ErrorClass = "system_error"
)

// Error wraps a provider failure with its classification
type Error struct {
	Class ErrorClass
	Code  string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("psp %s (%s): %v", e.Class, e.Code, e.Err)
	}
	return fmt.Sprintf("psp %s (%s)", e.Class, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified PSP error
func NewError(class ErrorClass, code string, err error) *Error {
	return &Error{Class: class, Code: code, Err: err}
}

// ClassOf extracts the class, defaulting unknown errors to system_error
func ClassOf(err error) ErrorClass {
	var pspErr *Error
	if errors.As(err, &pspErr) {
		return pspErr.Class
	}
	return ClassSystemError
}

// IsClass checks an error against a specific class
func IsClass(err error, class ErrorClass) bool {
	var pspErr *Error
	return errors.As(err, &pspErr) && pspErr.Class == class
}

// IsRetryable reports whether the same call may be retried as-is
func IsRetryable(err error) bool {
	return IsClass(err, ClassSystemError)
}
