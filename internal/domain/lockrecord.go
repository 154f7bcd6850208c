package domain

import (
	"time"

	"github.com/google/uuid"
)

// LockResolution records what ultimately happened to funds locked during a
// late reschedule.
type LockResolution string

const (
	// LockResolutionCapturedForNew means the parent auth was captured and the
	// proceeds applied to the successor booking
	LockResolutionCapturedForNew LockResolution = "captured_for_new_booking"
	// LockResolutionReleased means the parent auth was cancelled and the hold dropped
	LockResolutionReleased LockResolution = "released"
	// LockResolutionCreditIssued means capture succeeded but the successor no
	// longer needed the funds, so the student was credited
	LockResolutionCreditIssued LockResolution = "credit_issued"
)

// LockRecord ties a late-reschedule fund hold on a parent booking to the
// successor booking that will consume or release it.
type LockRecord struct {
	ID              string `json:"id"`
	ParentBookingID string `json:"parent_booking_id"`
	NewBookingID    string `json:"new_booking_id"`

	AmountCents     int64  `json:"amount_cents"`
	PaymentIntentID string `json:"payment_intent_id"`

	Resolution LockResolution `json:"resolution,omitempty"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewLockRecord builds an open lock record
func NewLockRecord(parentID, newID string, amountCents int64, intentID string, now time.Time) *LockRecord {
	return &LockRecord{
		ID:              uuid.New().String(),
		ParentBookingID: parentID,
		NewBookingID:    newID,
		AmountCents:     amountCents,
		PaymentIntentID: intentID,
		CreatedAt:       now,
	}
}

// IsOpen reports whether the locked funds still await resolution
func (l *LockRecord) IsOpen() bool {
	return l.Resolution == ""
}

// Resolve closes the lock record
func (l *LockRecord) Resolve(resolution LockResolution, at time.Time) {
	l.Resolution = resolution
	l.ResolvedAt = &at
}
