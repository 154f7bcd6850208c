package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msaedi/instructly-sub006/internal/domain"
	"github.com/msaedi/instructly-sub006/internal/psp"
	"github.com/msaedi/instructly-sub006/internal/repository"
)

func declineAuth(env *testEnv) {
	env.psp.AuthFunc = func(req psp.AuthRequest) error {
		return psp.NewError(psp.ClassCardDeclined, "card_declined", nil)
	}
}

// failedAuthBooking creates a confirmed booking whose scheduled authorization
// was declined once, leaving the payment waiting on a new card.
func failedAuthBooking(env *testEnv, start time.Time) *domain.Booking {
	env.t.Helper()
	b := env.confirmedBooking(start)
	declineAuth(env)
	env.clock.Set(start.Add(-24 * time.Hour))
	require.NoError(env.t, env.svc.AuthorizeScheduled(env.ctx, b.ID))
	require.Equal(env.t, domain.PaymentStatusMethodRequired, env.payment(b.ID).Status)
	return env.booking(b.ID)
}

func TestAuthDeclineRecordsFirstFailure(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := failedAuthBooking(env, start)

	p := env.payment(b.ID)
	assert.Equal(t, 1, p.AuthFailureCount)
	assert.NotNil(t, p.FirstFailureEmailSentAt)
	env.requireEvent(b.ID, domain.EventAuthFailed)
	env.requireEvent(b.ID, domain.EventFirstFailureEmailSent)
	assert.Equal(t, 1, env.notifier.Count("auth_first_failure"))
}

func TestAuthRetryBackoffSchedule(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := failedAuthBooking(env, start)

	// Too soon after the first decline: the backoff holds the retry back
	require.NoError(t, env.svc.RetryFailedAuthorization(env.ctx, b.ID))
	assert.Equal(t, 1, env.payment(b.ID).AuthFailureCount)
	assert.Equal(t, 0, env.eventCount(b.ID, domain.EventAuthRetryAttempted))

	// One hour later the first retry runs and is declined again
	env.clock.Advance(time.Hour)
	require.NoError(t, env.svc.RetryFailedAuthorization(env.ctx, b.ID))
	assert.Equal(t, 2, env.payment(b.ID).AuthFailureCount)
	assert.Equal(t, 1, env.eventCount(b.ID, domain.EventAuthRetryAttempted))
	env.requireEvent(b.ID, domain.EventAuthRetryFailed)

	// Second retry waits four hours; three is not enough
	env.clock.Advance(3 * time.Hour)
	require.NoError(t, env.svc.RetryFailedAuthorization(env.ctx, b.ID))
	assert.Equal(t, 2, env.payment(b.ID).AuthFailureCount)

	// At four hours the retry runs and the new card succeeds
	env.clock.Advance(time.Hour)
	env.psp.AuthFunc = nil
	require.NoError(t, env.svc.RetryFailedAuthorization(env.ctx, b.ID))

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusAuthorized, p.Status)
	assert.NotEmpty(t, p.PaymentIntentID)
	env.requireEvent(b.ID, domain.EventAuthRetrySucceeded)

	// The first-failure email went out exactly once
	assert.Equal(t, 1, env.notifier.Count("auth_first_failure"))
	assert.Equal(t, 1, env.eventCount(b.ID, domain.EventFirstFailureEmailSent))
}

func TestAuthSystemErrorDoesNotCountAsDecline(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.confirmedBooking(start)

	env.psp.AuthFunc = func(req psp.AuthRequest) error {
		return psp.NewError(psp.ClassSystemError, "api_connection_error", fmt.Errorf("timeout"))
	}
	env.clock.Set(start.Add(-24 * time.Hour))
	err := env.svc.AuthorizeScheduled(env.ctx, b.ID)
	require.Error(t, err)

	// Outage leaves the payment untouched for the next worker pass
	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusScheduled, p.Status)
	assert.Equal(t, 0, p.AuthFailureCount)
}

func TestFinalWarningSentOnce(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := failedAuthBooking(env, start)

	env.clock.Set(start.Add(-12*time.Hour - 30*time.Minute))
	require.NoError(t, env.svc.RetryFailedAuthorization(env.ctx, b.ID))

	p := env.payment(b.ID)
	require.NotNil(t, p.FinalWarningEmailSentAt)
	env.requireEvent(b.ID, domain.EventFinalWarningSent)
	assert.Equal(t, 1, env.notifier.Count("auth_final_warning"))

	// A second pass inside the window does not resend
	env.clock.Advance(10 * time.Minute)
	require.NoError(t, env.svc.RetryFailedAuthorization(env.ctx, b.ID))
	assert.Equal(t, 1, env.notifier.Count("auth_final_warning"))
	assert.Equal(t, 1, env.eventCount(b.ID, domain.EventFinalWarningSent))
}

func TestAuthAbandonedAtCutoff(t *testing.T) {
	env := newTestEnv(t)
	env.grantCredits(testStudentID, 2000)
	start := env.lessonStart(73 * time.Hour)

	draft := env.draftAt(start)
	draft.ApplyCreditCents = 2000
	res, err := env.svc.CreateBookingWithPaymentSetup(env.ctx, env.student, draft)
	require.NoError(t, err)
	require.NoError(t, env.svc.ConfirmBookingPayment(env.ctx, env.student, res.Booking.ID, "pm_card_default"))

	declineAuth(env)
	env.clock.Set(start.Add(-24 * time.Hour))
	require.NoError(t, env.svc.AuthorizeScheduled(env.ctx, res.Booking.ID))

	env.clock.Set(start.Add(-11 * time.Hour))
	require.NoError(t, env.svc.RetryFailedAuthorization(env.ctx, res.Booking.ID))

	b := env.booking(res.Booking.ID)
	assert.Equal(t, domain.BookingStatusCancelled, b.Status)

	p := env.payment(res.Booking.ID)
	assert.Equal(t, domain.PaymentStatusSettled, p.Status)
	assert.Equal(t, domain.OutcomeStudentCancelGt24NoCharge, p.SettlementOutcome)

	env.requireEvent(res.Booking.ID, domain.EventAuthAbandoned)
	assert.Equal(t, 1, env.notifier.Count("auth_abandoned"))
	assert.Equal(t, int64(2000), env.creditBalance(testStudentID))
}

func TestCaptureAfterInstructorCompletion(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.authorizedBooking(start)
	intentID := env.payment(b.ID).PaymentIntentID

	env.clock.Set(start.Add(2 * time.Hour))
	require.NoError(t, env.svc.CompleteBooking(env.ctx, env.instructor, b.ID))

	env.clock.Set(b.StartUTC.Add(time.Hour).Add(25 * time.Hour))
	require.NoError(t, env.svc.CaptureCompleted(env.ctx, b.ID))

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusSettled, p.Status)
	assert.Equal(t, domain.OutcomeLessonCompletedFullPayout, p.SettlementOutcome)
	assert.NotNil(t, p.CapturedAt)
	assert.Equal(t, int64(8500), p.InstructorPayoutCents)
	env.requireEvent(b.ID, domain.EventPaymentCaptured)

	intent, err := env.psp.GetIntent(env.ctx, intentID)
	require.NoError(t, err)
	assert.Equal(t, psp.IntentSucceeded, intent.Status)

	// A replay after settlement is a no-op
	require.NoError(t, env.svc.CaptureCompleted(env.ctx, b.ID))
	assert.Equal(t, 1, env.eventCount(b.ID, domain.EventPaymentCaptured))
}

func TestAutoCompleteAndCapture(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.authorizedBooking(start)

	end := start.Add(time.Hour)
	env.clock.Set(end.Add(25 * time.Hour))
	require.NoError(t, env.svc.AutoCompleteAndCapture(env.ctx, b.ID))

	got := env.booking(b.ID)
	assert.Equal(t, domain.BookingStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, end, *got.CompletedAt)

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusSettled, p.Status)
	env.requireEvent(b.ID, domain.EventAutoCompleted)
	env.requireEvent(b.ID, domain.EventPaymentCaptured)
}

// completedCaptureFailure drives a booking to a failed capture with the
// payment back in method-required and the failure clock started.
func completedCaptureFailure(env *testEnv, start time.Time) *domain.Booking {
	env.t.Helper()
	b := env.authorizedBooking(start)

	env.clock.Set(start.Add(2 * time.Hour))
	require.NoError(env.t, env.svc.CompleteBooking(env.ctx, env.instructor, b.ID))

	env.psp.CaptureFunc = func(req psp.CaptureRequest) error {
		return psp.NewError(psp.ClassCardDeclined, "card_declined", nil)
	}
	env.clock.Set(start.Add(time.Hour).Add(25 * time.Hour))
	require.NoError(env.t, env.svc.CaptureCompleted(env.ctx, b.ID))

	p := env.payment(b.ID)
	require.Equal(env.t, domain.PaymentStatusMethodRequired, p.Status)
	require.True(env.t, p.InCaptureRetry())
	return env.booking(b.ID)
}

func TestCaptureFailureEntersRetry(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := completedCaptureFailure(env, start)

	p := env.payment(b.ID)
	assert.NotNil(t, p.CaptureFailedAt)
	assert.Equal(t, 1, p.CaptureRetryCount)
	env.requireEvent(b.ID, domain.EventCaptureFailedCard)
	assert.Equal(t, 1, env.notifier.Count("capture_failed"))
}

func TestCaptureRetrySucceedsAfterInterval(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := completedCaptureFailure(env, start)

	// Too early: the retry interval has not elapsed
	require.NoError(t, env.svc.RetryFailedCapture(env.ctx, b.ID))
	assert.Equal(t, 1, env.payment(b.ID).CaptureRetryCount)

	env.psp.CaptureFunc = nil
	env.clock.Advance(5 * time.Hour)
	require.NoError(t, env.svc.RetryFailedCapture(env.ctx, b.ID))

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusSettled, p.Status)
	assert.Equal(t, domain.OutcomeLessonCompletedFullPayout, p.SettlementOutcome)
	env.requireEvent(b.ID, domain.EventPaymentCaptured)
}

func TestCaptureEscalatesAfterSeventyTwoHours(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := completedCaptureFailure(env, start)

	env.clock.Advance(73 * time.Hour)
	require.NoError(t, env.svc.RetryFailedCapture(env.ctx, b.ID))

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusManualReview, p.Status)
	assert.Equal(t, domain.OutcomeCaptureFailureInstructorPaid, p.SettlementOutcome)
	assert.NotNil(t, p.CaptureEscalatedAt)

	// The instructor was paid out of pocket
	transfers := env.psp.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, "acct_ins1", transfers[0].DestinationAccountID)
	assert.Equal(t, int64(8500), transfers[0].AmountCents)

	recorded, err := env.store.Transfers().ListByBooking(env.ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, domain.TransferStatusCompleted, recorded[0].Status)

	// The student account is frozen until the debt clears
	locked := env.store.LockedStudents()
	assert.Contains(t, locked, testStudentID)

	env.requireEvent(b.ID, domain.EventCaptureFailureEscalated)
	env.requireEvent(b.ID, domain.EventPayoutTransferred)
	assert.Equal(t, 1, env.notifier.Count("capture_escalated"))
}

func TestCaptureExpiredAuthReauthorizesAndCaptures(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.authorizedBooking(start)
	oldIntent := env.payment(b.ID).PaymentIntentID

	env.clock.Set(start.Add(2 * time.Hour))
	require.NoError(t, env.svc.CompleteBooking(env.ctx, env.instructor, b.ID))

	env.psp.CaptureFunc = func(req psp.CaptureRequest) error {
		if req.IntentID == oldIntent {
			return psp.NewError(psp.ClassAuthExpired, "expired_card", nil)
		}
		return nil
	}
	env.clock.Set(start.Add(time.Hour).Add(25 * time.Hour))
	require.NoError(t, env.svc.CaptureCompleted(env.ctx, b.ID))

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusSettled, p.Status)
	assert.NotEqual(t, oldIntent, p.PaymentIntentID)
	env.requireEvent(b.ID, domain.EventCaptureFailedExpired)
	env.requireEvent(b.ID, domain.EventReauthAndCaptureSuccess)
}

func TestHandleAgedAuthorizationReleasesActiveHold(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.authorizedBooking(start)

	env.clock.Advance(169 * time.Hour)
	require.NoError(t, env.svc.HandleAgedAuthorization(env.ctx, b.ID))

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusMethodRequired, p.Status)
	env.requireEvent(b.ID, domain.EventAuthExpired)
}

func TestHandleAgedAuthorizationRecordsProviderSettledHold(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.authorizedBooking(start)
	intentID := env.payment(b.ID).PaymentIntentID

	// A capture landed at the provider but its result was never recorded
	_, err := env.psp.CaptureAuth(env.ctx, psp.CaptureRequest{
		IntentID:       intentID,
		IdempotencyKey: psp.CaptureKey("completed", b.ID, intentID),
	})
	require.NoError(t, err)

	env.clock.Advance(169 * time.Hour)
	require.NoError(t, env.svc.HandleAgedAuthorization(env.ctx, b.ID))

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusSettled, p.Status)
	assert.NotNil(t, p.CapturedAt)
	env.requireEvent(b.ID, domain.EventCaptureAlreadyDone)
}

func TestCheckImmediateAuthTimeoutCancelsStalePending(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(10 * time.Hour)
	b := env.createBooking(start)

	// Before the timeout nothing happens
	env.clock.Advance(10 * time.Minute)
	require.NoError(t, env.svc.CheckImmediateAuthTimeout(env.ctx, b.ID))
	assert.Equal(t, domain.BookingStatusPending, env.booking(b.ID).Status)

	env.clock.Advance(25 * time.Minute)
	require.NoError(t, env.svc.CheckImmediateAuthTimeout(env.ctx, b.ID))

	got := env.booking(b.ID)
	assert.Equal(t, domain.BookingStatusCancelled, got.Status)
	env.requireEvent(b.ID, domain.EventAuthAbandoned)
}

func TestAuditPayoutSchedules(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.svc.AuditPayoutSchedules(env.ctx))

	schedule, ok := env.psp.Schedule("acct_ins1")
	require.True(t, ok)
	assert.Equal(t, "weekly", schedule.Interval)
	assert.Equal(t, "tuesday", schedule.WeeklyDay)
}

// cursorInstructorDirectory pages profiles the way the SQL cursor query does,
// in user id order above the cursor. It does not filter unonboarded accounts,
// mirroring a NULL-only filter on the connected account column.
type cursorInstructorDirectory struct {
	repository.InstructorRepository
	profiles []repository.InstructorProfile
	calls    int
}

func (d *cursorInstructorDirectory) ListConnectedAccounts(ctx context.Context, afterID string, limit int) ([]repository.InstructorProfile, error) {
	d.calls++
	if d.calls > 10 {
		return nil, fmt.Errorf("pagination cursor stuck at %q", afterID)
	}
	var out []repository.InstructorProfile
	for _, p := range d.profiles {
		if p.UserID > afterID {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestAuditPayoutSchedulesSkipsUnonboardedAccounts(t *testing.T) {
	env := newTestEnv(t)
	dir := &cursorInstructorDirectory{profiles: []repository.InstructorProfile{
		{UserID: "ins-a", ConnectedAccountID: "acct_a", Active: true},
		{UserID: "ins-b", Active: true},
		{UserID: "ins-c", ConnectedAccountID: "acct_c", Active: true},
		{UserID: "ins-d", Active: true},
	}}
	svc := env.rewire(func(d *Deps) { d.Instructors = dir })

	require.NoError(t, svc.AuditPayoutSchedules(env.ctx))

	// One full page plus the empty page that ends the walk
	assert.Equal(t, 2, dir.calls)
	for _, acct := range []string{"acct_a", "acct_c"} {
		schedule, ok := env.psp.Schedule(acct)
		require.True(t, ok, "expected schedule for %s", acct)
		assert.Equal(t, "weekly", schedule.Interval)
	}
	_, ok := env.psp.Schedule("")
	assert.False(t, ok)
}

// confirmGateAdapter makes every fresh hold come back requiring confirmation
type confirmGateAdapter struct{ *psp.MockAdapter }

func (a confirmGateAdapter) CreateOrRetryAuth(ctx context.Context, req psp.AuthRequest) (*psp.Intent, error) {
	intent, err := a.MockAdapter.CreateOrRetryAuth(ctx, req)
	if err == nil && intent.Status == psp.IntentRequiresCapture {
		intent.Status = psp.IntentRequiresConfirmation
	}
	return intent, err
}

func TestAuthorizationConfirmsPendingIntent(t *testing.T) {
	env := newTestEnv(t)
	svc := env.rewire(func(d *Deps) { d.PSP = confirmGateAdapter{env.psp} })

	start := env.lessonStart(73 * time.Hour)
	b := env.createBooking(start)
	require.NoError(t, svc.ConfirmBookingPayment(env.ctx, env.student, b.ID, "pm_card_default"))
	p := env.payment(b.ID)
	require.NotNil(t, p.AuthScheduledFor)
	env.clock.Set(*p.AuthScheduledFor)
	require.NoError(t, svc.AuthorizeScheduled(env.ctx, b.ID))

	p = env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusAuthorized, p.Status)
	intent, err := env.psp.GetIntent(env.ctx, p.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, psp.IntentRequiresCapture, intent.Status)
	env.requireEvent(b.ID, domain.EventAuthSucceeded)
}

func TestAuthorizationHealth(t *testing.T) {
	env := newTestEnv(t)

	status, err := env.svc.AuthorizationHealth(env.ctx)
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Zero(t, status.OverdueAuthorizations)

	// Six bookings inside the lead window whose holds never ran
	for i := 0; i < 6; i++ {
		start := env.lessonStart(time.Duration(10+i) * time.Hour)
		env.createBooking(start)
	}
	env.clock.Advance(time.Hour)

	status, err = env.svc.AuthorizationHealth(env.ctx)
	require.NoError(t, err)
	assert.False(t, status.Healthy)
	assert.Equal(t, int64(6), status.OverdueAuthorizations)
}
