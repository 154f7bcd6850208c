package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the payment lifecycle status (matches DB ENUM)
type PaymentStatus string

const (
	// PaymentStatusScheduled means authorization is deferred until the auth window
	PaymentStatusScheduled PaymentStatus = "scheduled"
	// PaymentStatusMethodRequired means the student must supply a working card
	PaymentStatusMethodRequired PaymentStatus = "payment_method_required"
	// PaymentStatusAuthorized means funds are held on the student's card
	PaymentStatusAuthorized PaymentStatus = "authorized"
	// PaymentStatusSettled means money movement finished for this booking
	PaymentStatusSettled PaymentStatus = "settled"
	// PaymentStatusLocked means authorized funds are held for a successor booking
	PaymentStatusLocked PaymentStatus = "locked"
	// PaymentStatusManualReview means the engine gave up and a human owns the case
	PaymentStatusManualReview PaymentStatus = "manual_review"
)

// IsTerminal reports whether the payment admits no further engine transitions.
// manual_review is terminal for the engine; humans move money out of band.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSettled || s == PaymentStatusManualReview
}

// SettlementOutcome records which terminal path moved (or declined to move) the money
type SettlementOutcome string

const (
	OutcomeLessonCompletedFullPayout  SettlementOutcome = "lesson_completed_full_payout"
	OutcomeStudentCancelGt24NoCharge  SettlementOutcome = "student_cancel_gt24_no_charge"
	OutcomeStudentCancelLt12Split     SettlementOutcome = "student_cancel_lt12_split_50_50"
	OutcomeInstructorCancel           SettlementOutcome = "instructor_cancel"
	OutcomeStudentNoShow              SettlementOutcome = "student_no_show"
	OutcomeInstructorNoShow           SettlementOutcome = "instructor_no_show"
	OutcomeCaptureFailureEscalated    SettlementOutcome = "capture_failure_escalated"
	OutcomeCaptureFailureInstructorPaid SettlementOutcome = "capture_failure_instructor_paid"
)

// BookingPayment tracks money movement for exactly one booking
type BookingPayment struct {
	ID        string `json:"id"`
	BookingID string `json:"booking_id"`

	Status PaymentStatus `json:"status"`

	AmountCents          int64 `json:"amount_cents"`
	PlatformFeeCents     int64 `json:"platform_fee_cents"`
	InstructorPayoutCents int64 `json:"instructor_payout_cents"`
	CreditsReservedCents int64 `json:"credits_reserved_cents"`

	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`

	AuthScheduledFor *time.Time `json:"auth_scheduled_for,omitempty"`
	AuthorizedAt     *time.Time `json:"authorized_at,omitempty"`
	AuthAttemptedAt  *time.Time `json:"auth_attempted_at,omitempty"`
	AuthFailureCount int        `json:"auth_failure_count"`
	LastAuthError    string     `json:"last_auth_error,omitempty"`

	CapturedAt         *time.Time `json:"captured_at,omitempty"`
	CaptureFailedAt    *time.Time `json:"capture_failed_at,omitempty"`
	CaptureRetryCount  int        `json:"capture_retry_count"`
	CaptureError       string     `json:"capture_error,omitempty"`
	CaptureEscalatedAt *time.Time `json:"capture_escalated_at,omitempty"`

	FirstFailureEmailSentAt *time.Time `json:"first_failure_email_sent_at,omitempty"`
	FinalWarningEmailSentAt *time.Time `json:"final_warning_email_sent_at,omitempty"`

	SettlementOutcome SettlementOutcome `json:"settlement_outcome,omitempty"`
	SettledAt         *time.Time        `json:"settled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPaymentID returns a fresh payment identifier
func NewPaymentID() string {
	return uuid.New().String()
}

// IsAuthorized reports whether funds are currently held on the card
func (p *BookingPayment) IsAuthorized() bool {
	return p.Status == PaymentStatusAuthorized || p.Status == PaymentStatusLocked
}

// AuthExpiresAt returns when the card authorization lapses, given the PSP's
// validity window. Zero time when never authorized.
func (p *BookingPayment) AuthExpiresAt(validity time.Duration) time.Time {
	if p.AuthorizedAt == nil {
		return time.Time{}
	}
	return p.AuthorizedAt.Add(validity)
}

// MarkAuthorized records a successful authorization
func (p *BookingPayment) MarkAuthorized(intentID string, at time.Time) {
	p.Status = PaymentStatusAuthorized
	p.PaymentIntentID = intentID
	p.AuthorizedAt = &at
	p.AuthAttemptedAt = &at
	p.LastAuthError = ""
	p.UpdatedAt = at
}

// MarkAuthFailed records a failed authorization attempt
func (p *BookingPayment) MarkAuthFailed(at time.Time, reason string) {
	p.Status = PaymentStatusMethodRequired
	p.AuthAttemptedAt = &at
	p.AuthFailureCount++
	p.LastAuthError = reason
	p.UpdatedAt = at
}

// MarkCaptured records a successful capture; settlement outcome is set separately
func (p *BookingPayment) MarkCaptured(at time.Time) {
	p.CapturedAt = &at
	p.CaptureError = ""
	p.UpdatedAt = at
}

// MarkCaptureFailed records a failed capture attempt. The payment drops back
// to payment_method_required; the first failure timestamp anchors the 72 hour
// escalation window.
func (p *BookingPayment) MarkCaptureFailed(at time.Time, reason string) {
	p.Status = PaymentStatusMethodRequired
	if p.CaptureFailedAt == nil {
		p.CaptureFailedAt = &at
	}
	p.CaptureRetryCount++
	p.CaptureError = reason
	p.UpdatedAt = at
}

// Settle moves the payment to its terminal settled state
func (p *BookingPayment) Settle(outcome SettlementOutcome, at time.Time) {
	p.Status = PaymentStatusSettled
	p.SettlementOutcome = outcome
	p.SettledAt = &at
	p.UpdatedAt = at
}

// Escalate hands the payment to manual review
func (p *BookingPayment) Escalate(at time.Time) {
	p.Status = PaymentStatusManualReview
	p.CaptureEscalatedAt = &at
	p.UpdatedAt = at
}

// InCaptureRetry reports whether a capture previously failed and the payment
// is waiting on the retry schedule
func (p *BookingPayment) InCaptureRetry() bool {
	return p.Status == PaymentStatusMethodRequired && p.CaptureFailedAt != nil
}

// Lock marks authorized funds as held for a successor booking
func (p *BookingPayment) Lock(at time.Time) {
	p.Status = PaymentStatusLocked
	p.UpdatedAt = at
}
