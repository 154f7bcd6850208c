package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msaedi/instructly-sub006/internal/domain"
	"github.com/msaedi/instructly-sub006/internal/psp"
)

// noShowScenario sets up an authorized booking whose lesson has started
func noShowScenario(t *testing.T) (*testEnv, *domain.Booking) {
	t.Helper()
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.authorizedBooking(start)
	env.clock.Set(start.Add(30 * time.Minute))
	return env, b
}

func TestMarkNoShowValidation(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.authorizedBooking(start)

	t.Run("before lesson start", func(t *testing.T) {
		_, err := env.svc.MarkNoShow(env.ctx, env.instructor, b.ID, domain.NoShowStudent, "")
		assert.ErrorIs(t, err, domain.ErrLessonNotStarted)
	})

	t.Run("student cannot report themselves", func(t *testing.T) {
		env.clock.Set(start.Add(10 * time.Minute))
		_, err := env.svc.MarkNoShow(env.ctx, env.student, b.ID, domain.NoShowStudent, "")
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("instructor reports student", func(t *testing.T) {
		report, err := env.svc.MarkNoShow(env.ctx, env.instructor, b.ID, domain.NoShowStudent, "waited 20 minutes")
		require.NoError(t, err)
		assert.Equal(t, domain.NoShowStudent, report.Type)
		assert.True(t, report.IsOpen())
		env.requireEvent(b.ID, domain.EventNoShowReported)
		assert.Equal(t, 1, env.notifier.Count("no_show_reported"))

		// Booking holds at confirmed until the dispute window runs out
		assert.Equal(t, domain.BookingStatusConfirmed, env.booking(b.ID).Status)
	})

	t.Run("duplicate report", func(t *testing.T) {
		_, err := env.svc.MarkNoShow(env.ctx, env.instructor, b.ID, domain.NoShowStudent, "")
		assert.ErrorIs(t, err, domain.ErrReportAlreadyFiled)
	})
}

func TestDisputeNoShow(t *testing.T) {
	env, b := noShowScenario(t)
	_, err := env.svc.MarkNoShow(env.ctx, env.instructor, b.ID, domain.NoShowStudent, "")
	require.NoError(t, err)

	t.Run("inside the window", func(t *testing.T) {
		env.clock.Advance(2 * time.Hour)
		require.NoError(t, env.svc.DisputeNoShow(env.ctx, env.student, b.ID, "I was there"))

		report, err := env.store.NoShows().GetOpenByBookingID(env.ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, report.Disputed)
		env.requireEvent(b.ID, domain.EventNoShowDisputed)
	})

	t.Run("repeat dispute is a no-op", func(t *testing.T) {
		require.NoError(t, env.svc.DisputeNoShow(env.ctx, env.student, b.ID, "again"))
		assert.Equal(t, 1, env.eventCount(b.ID, domain.EventNoShowDisputed))
	})
}

func TestDisputeWindowCloses(t *testing.T) {
	env, b := noShowScenario(t)
	_, err := env.svc.MarkNoShow(env.ctx, env.instructor, b.ID, domain.NoShowStudent, "")
	require.NoError(t, err)

	env.clock.Advance(25 * time.Hour)
	err = env.svc.DisputeNoShow(env.ctx, env.student, b.ID, "too late")
	assert.ErrorIs(t, err, domain.ErrDisputeWindowClosed)
}

func TestResolveStudentNoShowCharged(t *testing.T) {
	env, b := noShowScenario(t)
	_, err := env.svc.MarkNoShow(env.ctx, env.instructor, b.ID, domain.NoShowStudent, "")
	require.NoError(t, err)
	intentID := env.payment(b.ID).PaymentIntentID

	require.NoError(t, env.svc.ResolveNoShow(env.ctx, env.admin, b.ID, domain.NoShowResolvedCharged))

	got := env.booking(b.ID)
	assert.Equal(t, domain.BookingStatusNoShow, got.Status)

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusSettled, p.Status)
	assert.Equal(t, domain.OutcomeStudentNoShow, p.SettlementOutcome)
	assert.NotNil(t, p.CapturedAt)
	// Instructor is paid in full; no credit back to the student
	assert.Equal(t, int64(8500), p.InstructorPayoutCents)
	assert.Equal(t, int64(0), got.StudentCreditCents)
	assert.Equal(t, int64(0), env.creditBalance(testStudentID))

	intent, err := env.psp.GetIntent(env.ctx, intentID)
	require.NoError(t, err)
	assert.Equal(t, psp.IntentSucceeded, intent.Status)

	env.requireEvent(b.ID, domain.EventNoShowResolved)
	assert.Equal(t, 1, env.notifier.Count("no_show_resolved"))
}

func TestResolveInstructorNoShowReleases(t *testing.T) {
	env, b := noShowScenario(t)
	_, err := env.svc.MarkNoShow(env.ctx, env.student, b.ID, domain.NoShowInstructor, "no one came")
	require.NoError(t, err)
	intentID := env.payment(b.ID).PaymentIntentID

	require.NoError(t, env.svc.ResolveNoShow(env.ctx, env.admin, b.ID, domain.NoShowResolvedReleased))

	assert.Equal(t, domain.BookingStatusNoShow, env.booking(b.ID).Status)

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusSettled, p.Status)
	assert.Equal(t, domain.OutcomeInstructorNoShow, p.SettlementOutcome)
	assert.Nil(t, p.CapturedAt)

	intent, err := env.psp.GetIntent(env.ctx, intentID)
	require.NoError(t, err)
	assert.Equal(t, psp.IntentCanceled, intent.Status)
	assert.Equal(t, int64(10000), env.booking(b.ID).RefundedToCardCents)
}

func TestResolveDismissedKeepsBookingConfirmed(t *testing.T) {
	env, b := noShowScenario(t)
	_, err := env.svc.MarkNoShow(env.ctx, env.instructor, b.ID, domain.NoShowStudent, "")
	require.NoError(t, err)

	require.NoError(t, env.svc.ResolveNoShow(env.ctx, env.admin, b.ID, domain.NoShowResolvedDismissed))

	// The lesson can still settle normally
	assert.Equal(t, domain.BookingStatusConfirmed, env.booking(b.ID).Status)
	assert.Equal(t, domain.PaymentStatusAuthorized, env.payment(b.ID).Status)

	_, err = env.store.NoShows().GetOpenByBookingID(env.ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrReportNotFound)
}

func TestResolveNoShowRequiresAdmin(t *testing.T) {
	env, b := noShowScenario(t)
	_, err := env.svc.MarkNoShow(env.ctx, env.instructor, b.ID, domain.NoShowStudent, "")
	require.NoError(t, err)

	err = env.svc.ResolveNoShow(env.ctx, env.instructor, b.ID, domain.NoShowResolvedCharged)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAutoResolveUpholdsReport(t *testing.T) {
	t.Run("student no-show charges", func(t *testing.T) {
		env, b := noShowScenario(t)
		report, err := env.svc.MarkNoShow(env.ctx, env.instructor, b.ID, domain.NoShowStudent, "")
		require.NoError(t, err)

		env.clock.Advance(25 * time.Hour)
		require.NoError(t, env.svc.AutoResolveNoShow(env.ctx, report))

		p := env.payment(b.ID)
		assert.Equal(t, domain.OutcomeStudentNoShow, p.SettlementOutcome)
		assert.NotNil(t, p.CapturedAt)
	})

	t.Run("instructor no-show releases", func(t *testing.T) {
		env, b := noShowScenario(t)
		report, err := env.svc.MarkNoShow(env.ctx, env.student, b.ID, domain.NoShowInstructor, "")
		require.NoError(t, err)

		env.clock.Advance(25 * time.Hour)
		require.NoError(t, env.svc.AutoResolveNoShow(env.ctx, report))

		p := env.payment(b.ID)
		assert.Equal(t, domain.OutcomeInstructorNoShow, p.SettlementOutcome)
		assert.Nil(t, p.CapturedAt)
	})
}

func TestNoShowCaptureFailureFallsToRetryWorker(t *testing.T) {
	env, b := noShowScenario(t)
	_, err := env.svc.MarkNoShow(env.ctx, env.instructor, b.ID, domain.NoShowStudent, "")
	require.NoError(t, err)

	env.psp.CaptureFunc = func(req psp.CaptureRequest) error {
		return psp.NewError(psp.ClassCardDeclined, "card_declined", nil)
	}
	require.NoError(t, env.svc.ResolveNoShow(env.ctx, env.admin, b.ID, domain.NoShowResolvedCharged))

	// Status moves even though the money is still outstanding
	assert.Equal(t, domain.BookingStatusNoShow, env.booking(b.ID).Status)
	p := env.payment(b.ID)
	assert.True(t, p.InCaptureRetry())
	env.requireEvent(b.ID, domain.EventCaptureFailed)

	// The retry worker settles it once the card works again
	env.psp.CaptureFunc = nil
	env.clock.Advance(5 * time.Hour)
	require.NoError(t, env.svc.RetryFailedCapture(env.ctx, b.ID))

	p = env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusSettled, p.Status)
	assert.Equal(t, domain.OutcomeStudentNoShow, p.SettlementOutcome)
	assert.Equal(t, int64(8500), p.InstructorPayoutCents)
}
