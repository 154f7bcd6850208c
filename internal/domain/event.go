package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names an entry in the payment event ledger. The ledger is
// append-only and is the authoritative audit trail for every money-affecting
// decision the engine makes.
type EventType string

const (
	EventBookingCreated EventType = "booking_created"

	EventAuthSucceeded            EventType = "auth_succeeded"
	EventAuthSucceededCreditsOnly EventType = "auth_succeeded_credits_only"
	EventAuthFailed               EventType = "auth_failed"
	EventAuthRetryAttempted       EventType = "auth_retry_attempted"
	EventAuthRetrySucceeded       EventType = "auth_retry_succeeded"
	EventAuthRetryFailed          EventType = "auth_retry_failed"
	EventAuthExpired              EventType = "auth_expired"
	EventAuthAbandoned            EventType = "auth_abandoned"

	EventFirstFailureEmailSent EventType = "t24_first_failure_email_sent"
	EventFinalWarningSent      EventType = "final_warning_sent"

	EventPaymentCaptured           EventType = "payment_captured"
	EventCaptureAlreadyDone        EventType = "capture_already_done"
	EventCaptureFailed             EventType = "capture_failed"
	EventCaptureFailedExpired      EventType = "capture_failed_expired"
	EventCaptureFailedCard         EventType = "capture_failed_card"
	EventCaptureFailureEscalated   EventType = "capture_failure_escalated"
	EventReauthAndCaptureSuccess   EventType = "reauth_and_capture_success"
	EventReauthAndCaptureFailed    EventType = "reauth_and_capture_failed"
	EventLateCancellationCaptured  EventType = "late_cancellation_captured"
	EventLateCancellationCapFailed EventType = "late_cancellation_capture_failed"

	EventAutoCompleted EventType = "auto_completed"

	EventRefundIssued    EventType = "refund_issued"
	EventCreditsReleased EventType = "credits_released"
	EventCreditsGranted  EventType = "credits_granted"

	EventFundsLocked         EventType = "funds_locked"
	EventLockedFundsResolved EventType = "locked_funds_resolved"

	EventNoShowReported EventType = "no_show_reported"
	EventNoShowDisputed EventType = "no_show_disputed"
	EventNoShowResolved EventType = "no_show_resolved"

	EventPayoutTransferred EventType = "instructor_payout_transferred"
)

// PaymentEvent is one immutable row in the per-booking ledger. ExternalRef
// carries the PSP object id (intent, refund, transfer) when one exists, and
// dedupes repeat appends of the same fact.
type PaymentEvent struct {
	ID          string         `json:"id"`
	BookingID   string         `json:"booking_id"`
	Type        EventType      `json:"type"`
	ExternalRef string         `json:"external_ref,omitempty"`
	ActorUserID string         `json:"actor_user_id,omitempty"`
	ActorRole   Role           `json:"actor_role"`
	AmountCents int64          `json:"amount_cents,omitempty"`
	Detail      map[string]any `json:"detail,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// NewPaymentEvent builds a ledger entry for the given actor
func NewPaymentEvent(bookingID string, eventType EventType, actor Actor, now time.Time) *PaymentEvent {
	role := RoleSystem
	if !actor.System && len(actor.Roles) > 0 {
		role = actor.Roles[0]
	}
	return &PaymentEvent{
		ID:          uuid.New().String(),
		BookingID:   bookingID,
		Type:        eventType,
		ActorUserID: actor.UserID,
		ActorRole:   role,
		OccurredAt:  now,
	}
}

// WithRef attaches a PSP object reference
func (e *PaymentEvent) WithRef(ref string) *PaymentEvent {
	e.ExternalRef = ref
	return e
}

// WithAmount attaches the amount the event moved or held
func (e *PaymentEvent) WithAmount(cents int64) *PaymentEvent {
	e.AmountCents = cents
	return e
}

// WithDetail attaches one structured detail field
func (e *PaymentEvent) WithDetail(key string, value any) *PaymentEvent {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}
