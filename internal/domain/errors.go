package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the booking payment engine
var (
	// Not found
	ErrBookingNotFound  = errors.New("booking not found")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrReportNotFound   = errors.New("no-show report not found")
	ErrLockRecordNotFound = errors.New("lock record not found")

	// Validation
	ErrInvalidTimezone   = errors.New("invalid lesson timezone")
	ErrInvalidTimeFormat = errors.New("invalid date or time format")
	ErrInvalidDuration   = errors.New("invalid lesson duration")
	ErrInvalidLocation   = errors.New("invalid location type")
	ErrInvalidNoShowType = errors.New("invalid no-show type")

	// Business rules
	ErrServiceInactive       = errors.New("instructor service is not active")
	ErrMinAdvanceViolated    = errors.New("booking start is inside the minimum advance window")
	ErrBookingNotCancellable = errors.New("booking cannot be cancelled in its current status")
	ErrRescheduleTooLate     = errors.New("too close to lesson start to reschedule")
	ErrReportAlreadyFiled    = errors.New("no-show report already filed for booking")
	ErrPaymentStateIneligible = errors.New("payment status does not permit this operation")
	ErrInvalidTransition     = errors.New("state transition not allowed")
	ErrReportAlreadyResolved = errors.New("no-show report already resolved")
	ErrDisputeWindowClosed   = errors.New("dispute window has closed")
	ErrInsufficientCredits   = errors.New("insufficient credit balance")
	ErrLessonNotStarted      = errors.New("lesson has not started yet")
	ErrLessonNotEnded        = errors.New("lesson has not ended yet")

	// Authorization
	ErrForbidden = errors.New("actor not permitted to perform this operation")

	// Concurrency
	ErrConcurrencyLost   = errors.New("state changed during external call")
	ErrDeadlockRetryable = errors.New("transaction deadlock, retry")
	ErrLockNotAcquired   = errors.New("booking lock held by another worker")
)

// ConflictScope identifies whose calendar the new booking collides with
type ConflictScope string

const (
	ConflictInstructor ConflictScope = "instructor"
	ConflictStudent    ConflictScope = "student"
	ConflictBoth       ConflictScope = "both"
)

// BookingConflictError reports a calendar overlap
type BookingConflictError struct {
	Scope ConflictScope
}

func (e *BookingConflictError) Error() string {
	return fmt.Sprintf("requested window conflicts with an existing booking (%s)", e.Scope)
}

// IsNotFoundError checks if the error is any not-found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrReportNotFound) ||
		errors.Is(err, ErrLockRecordNotFound)
}

// IsValidationError checks if the error is a request validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidTimezone) ||
		errors.Is(err, ErrInvalidTimeFormat) ||
		errors.Is(err, ErrInvalidDuration) ||
		errors.Is(err, ErrInvalidLocation) ||
		errors.Is(err, ErrInvalidNoShowType)
}

// IsBusinessRuleError checks if the error is a domain rule rejection
func IsBusinessRuleError(err error) bool {
	return errors.Is(err, ErrServiceInactive) ||
		errors.Is(err, ErrMinAdvanceViolated) ||
		errors.Is(err, ErrBookingNotCancellable) ||
		errors.Is(err, ErrRescheduleTooLate) ||
		errors.Is(err, ErrReportAlreadyFiled) ||
		errors.Is(err, ErrPaymentStateIneligible) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrReportAlreadyResolved) ||
		errors.Is(err, ErrDisputeWindowClosed) ||
		errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrLessonNotStarted) ||
		errors.Is(err, ErrLessonNotEnded)
}

// IsConflictError checks if the error is a calendar conflict
func IsConflictError(err error) bool {
	var conflict *BookingConflictError
	return errors.As(err, &conflict)
}

// IsRetryableError checks if the caller should retry the whole operation
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrDeadlockRetryable) || errors.Is(err, ErrLockNotAcquired)
}
