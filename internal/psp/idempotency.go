package psp

import "fmt"

// Idempotency keys are pure functions of stable identifiers. They never
// include the current time, so a crashed worker that replays a call hits the
// PSP's dedupe window instead of moving money twice.

// AuthKey keys the initial authorization for a booking
func AuthKey(bookingID string) string {
	return fmt.Sprintf("auth_%s", bookingID)
}

// ConfirmKey keys the confirmation of a hold the provider left pending
func ConfirmKey(bookingID, intentID string) string {
	return fmt.Sprintf("confirm_%s_%s", bookingID, intentID)
}

// ReauthKey keys a fresh authorization after the prior hold expired. The old
// intent id makes each expiry produce a distinct key.
func ReauthKey(bookingID, oldIntentID string) string {
	return fmt.Sprintf("reauth_%s_%s", bookingID, oldIntentID)
}

// AuthRetryKey keys the nth retry of a failed authorization. The attempt
// number makes each retry a fresh request instead of a replay of the decline.
func AuthRetryKey(bookingID string, attempt int) string {
	return fmt.Sprintf("auth_%s_retry%d", bookingID, attempt)
}

// CaptureKey keys a capture, qualified by the settlement reason so distinct
// outcomes on the same intent cannot collide
func CaptureKey(reason, bookingID, intentID string) string {
	return fmt.Sprintf("capture_%s_%s_%s", reason, bookingID, intentID)
}

// LateCancelCaptureKey keys the split capture of a late student cancellation
func LateCancelCaptureKey(bookingID, intentID string) string {
	return fmt.Sprintf("capture_late_cancel_%s_%s", bookingID, intentID)
}

// ReauthCaptureKey keys the capture that immediately follows a re-auth
func ReauthCaptureKey(bookingID, intentID string) string {
	return fmt.Sprintf("capture_reauth_%s_%s", bookingID, intentID)
}

// CaptureFailurePayoutKey keys the manual instructor transfer after a capture
// failure escalates
func CaptureFailurePayoutKey(bookingID string) string {
	return fmt.Sprintf("capture_failure_payout_%s", bookingID)
}

// LockedFundsKey keys locked-funds resolution calls, qualified by what the
// resolver decided to do with the parent hold
func LockedFundsKey(reason, parentBookingID string) string {
	return fmt.Sprintf("locked_funds_%s_%s", reason, parentBookingID)
}

// CancelKey keys the release of a hold
func CancelKey(bookingID, intentID string) string {
	return fmt.Sprintf("cancel_%s_%s", bookingID, intentID)
}

// RefundKey keys a refund, qualified by reason
func RefundKey(reason, bookingID, intentID string) string {
	return fmt.Sprintf("refund_%s_%s_%s", reason, bookingID, intentID)
}
