package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransferStatus represents the state of an instructor payout transfer
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusCompleted TransferStatus = "completed"
	TransferStatusFailed    TransferStatus = "failed"
)

// TransferReason explains why money moved to the instructor
type TransferReason string

const (
	TransferReasonLessonPayout        TransferReason = "lesson_payout"
	TransferReasonCancellationPayout  TransferReason = "cancellation_payout"
	TransferReasonNoShowPayout        TransferReason = "no_show_payout"
	TransferReasonCaptureFailureCover TransferReason = "capture_failure_cover"
)

// Transfer records one movement of funds to an instructor's connected account
type Transfer struct {
	ID           string `json:"id"`
	BookingID    string `json:"booking_id"`
	InstructorID string `json:"instructor_id"`

	AmountCents int64          `json:"amount_cents"`
	Currency    string         `json:"currency"`
	Reason      TransferReason `json:"reason"`
	Status      TransferStatus `json:"status"`

	ExternalTransferID string `json:"external_transfer_id,omitempty"`
	FailureReason      string `json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTransfer builds a pending transfer record
func NewTransfer(bookingID, instructorID string, amountCents int64, reason TransferReason, now time.Time) *Transfer {
	return &Transfer{
		ID:           uuid.New().String(),
		BookingID:    bookingID,
		InstructorID: instructorID,
		AmountCents:  amountCents,
		Currency:     "usd",
		Reason:       reason,
		Status:       TransferStatusPending,
		CreatedAt:    now,
	}
}

// Complete marks the transfer finished with the PSP's id
func (t *Transfer) Complete(externalID string, at time.Time) {
	t.Status = TransferStatusCompleted
	t.ExternalTransferID = externalID
	t.CompletedAt = &at
}

// Fail marks the transfer failed
func (t *Transfer) Fail(reason string) {
	t.Status = TransferStatusFailed
	t.FailureReason = reason
}
