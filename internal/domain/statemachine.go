package domain

import "fmt"

// bookingTransitions is the complete set of legal booking status edges.
// Every status mutation in the engine goes through CheckBookingTransition
// so illegal edges fail loudly instead of silently corrupting state.
var bookingTransitions = map[BookingStatus]map[BookingStatus]bool{
	BookingStatusPending: {
		BookingStatusConfirmed: true,
		BookingStatusCancelled: true,
	},
	BookingStatusConfirmed: {
		BookingStatusCompleted: true,
		BookingStatusCancelled: true,
		BookingStatusNoShow:    true,
	},
}

// paymentTransitions is the complete set of legal payment status edges
var paymentTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentStatusScheduled: {
		PaymentStatusAuthorized:     true,
		PaymentStatusMethodRequired: true,
		// cancel before authorization settles with no PSP interaction
		PaymentStatusSettled: true,
		// late reschedule may lock a still-scheduled payment
		PaymentStatusLocked: true,
	},
	PaymentStatusMethodRequired: {
		PaymentStatusAuthorized: true,
		// abandon at T-12h or cancel while unfunded
		PaymentStatusSettled: true,
		// 72h of failed capture retries
		PaymentStatusManualReview: true,
	},
	PaymentStatusAuthorized: {
		PaymentStatusSettled: true,
		PaymentStatusLocked:  true,
		// capture failure or auth expiry drops back to method_required
		PaymentStatusMethodRequired: true,
	},
	PaymentStatusLocked: {
		PaymentStatusSettled:      true,
		PaymentStatusManualReview: true,
	},
}

// CheckBookingTransition validates a booking status edge
func CheckBookingTransition(from, to BookingStatus) error {
	if allowed, ok := bookingTransitions[from]; ok && allowed[to] {
		return nil
	}
	return fmt.Errorf("booking %s -> %s: %w", from, to, ErrInvalidTransition)
}

// CheckPaymentTransition validates a payment status edge
func CheckPaymentTransition(from, to PaymentStatus) error {
	if allowed, ok := paymentTransitions[from]; ok && allowed[to] {
		return nil
	}
	return fmt.Errorf("payment %s -> %s: %w", from, to, ErrInvalidTransition)
}

// CheckCancelActor verifies the actor may cancel this booking and returns the
// role the cancellation is attributed to. Settlement branches on this role.
func CheckCancelActor(actor Actor, b *Booking) (Role, error) {
	switch {
	case actor.Is(b.StudentID):
		return RoleStudent, nil
	case actor.Is(b.InstructorID):
		return RoleInstructor, nil
	case actor.IsAdmin():
		if actor.System {
			return RoleSystem, nil
		}
		return RoleAdmin, nil
	default:
		return "", ErrForbidden
	}
}

// CheckReportActor verifies the actor may file a no-show report of the given
// type. Students report instructor no-shows, instructors report student
// no-shows, and only the engine or an admin may report mutual absence.
func CheckReportActor(actor Actor, b *Booking, nsType NoShowType) (Role, error) {
	switch nsType {
	case NoShowInstructor:
		if actor.Is(b.StudentID) {
			return RoleStudent, nil
		}
	case NoShowStudent:
		if actor.Is(b.InstructorID) {
			return RoleInstructor, nil
		}
	case NoShowMutual:
		// fall through to admin check
	default:
		return "", ErrInvalidNoShowType
	}
	if actor.IsAdmin() {
		if actor.System {
			return RoleSystem, nil
		}
		return RoleAdmin, nil
	}
	return "", ErrForbidden
}

// CheckDisputeActor verifies the actor is the counterparty of the report
func CheckDisputeActor(actor Actor, b *Booking, report *NoShowReport) error {
	switch report.Type {
	case NoShowStudent:
		if actor.Is(b.StudentID) {
			return nil
		}
	case NoShowInstructor:
		if actor.Is(b.InstructorID) {
			return nil
		}
	}
	if actor.IsAdmin() {
		return nil
	}
	return ErrForbidden
}
