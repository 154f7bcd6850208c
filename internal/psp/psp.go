package psp

import (
	"context"
	"time"
)

// IntentStatus is the engine's view of a payment intent's state at the PSP
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

// Intent is the PSP-side hold object
type Intent struct {
	ID           string
	Status       IntentStatus
	AmountCents  int64
	AuthorizedAt time.Time
}

// AuthRequest asks the PSP to place (or re-place) a hold on the student's card.
// When DestinationAccountID is set the hold is a destination charge: the PSP
// routes the amount minus ApplicationFeeCents to the instructor on capture.
type AuthRequest struct {
	CustomerID           string
	PaymentMethodID      string
	AmountCents          int64
	ApplicationFeeCents  int64
	DestinationAccountID string
	Currency             string
	BookingID            string
	IdempotencyKey       string
}

// CaptureRequest settles a previously placed hold, in full or in part
type CaptureRequest struct {
	IntentID       string
	AmountCents    int64 // 0 captures the full authorized amount
	IdempotencyKey string
}

// CaptureResult reports what was actually captured
type CaptureResult struct {
	IntentID      string
	CapturedCents int64
}

// RefundRequest returns captured funds to the card
type RefundRequest struct {
	IntentID       string
	AmountCents    int64 // 0 refunds the full captured amount
	IdempotencyKey string
}

// RefundResult carries the PSP's refund id
type RefundResult struct {
	RefundID      string
	RefundedCents int64
}

// TransferRequest moves money to an instructor's connected account
type TransferRequest struct {
	DestinationAccountID string
	AmountCents          int64
	Currency             string
	BookingID            string
	IdempotencyKey       string
}

// TransferResult carries the PSP's transfer id
type TransferResult struct {
	TransferID string
}

// PayoutSchedule configures when a connected account receives its balance
type PayoutSchedule struct {
	Interval  string // "daily", "weekly", "monthly"
	WeeklyDay string // e.g. "tuesday", when Interval is "weekly"
}

// Adapter is the engine's only doorway to the payment service provider.
// Every mutating call carries a deterministic idempotency key so a crashed
// worker can replay the call without double-moving money. Implementations
// classify failures into Error values; callers branch on ErrorClass, never
// on provider-specific codes.
type Adapter interface {
	// CreateOrRetryAuth places a manual-capture hold. Retrying with the same
	// key returns the original intent instead of creating a second hold.
	CreateOrRetryAuth(ctx context.Context, req AuthRequest) (*Intent, error)

	// ConfirmAuth confirms an intent that required customer action
	ConfirmAuth(ctx context.Context, intentID, idempotencyKey string) (*Intent, error)

	// GetIntent reads the current state of an intent
	GetIntent(ctx context.Context, intentID string) (*Intent, error)

	// CaptureAuth settles the hold
	CaptureAuth(ctx context.Context, req CaptureRequest) (*CaptureResult, error)

	// CancelAuth releases the hold without charging
	CancelAuth(ctx context.Context, intentID, idempotencyKey string) error

	// Refund returns captured funds to the student's card
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)

	// ManualTransfer pays an instructor from the platform balance
	ManualTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)

	// SetPayoutSchedule configures a connected account's payout cadence
	SetPayoutSchedule(ctx context.Context, accountID string, schedule PayoutSchedule) error
}
