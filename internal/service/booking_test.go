package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msaedi/instructly-sub006/internal/domain"
	"github.com/msaedi/instructly-sub006/internal/psp"
)

func TestCreateBookingWithPaymentSetup(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)

	res, err := env.svc.CreateBookingWithPaymentSetup(env.ctx, env.student, env.draftAt(start))
	require.NoError(t, err)
	require.False(t, res.ImmediateAuth)

	b := env.booking(res.Booking.ID)
	assert.Equal(t, domain.BookingStatusPending, b.Status)
	assert.Equal(t, start, b.StartUTC)
	assert.Equal(t, start.Add(time.Hour), b.EndUTC)
	assert.Equal(t, int64(10000), b.TotalPriceCents)

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusScheduled, p.Status)
	assert.Equal(t, int64(10000), p.AmountCents)
	assert.Equal(t, int64(1500), p.PlatformFeeCents)
	assert.Equal(t, int64(8500), p.InstructorPayoutCents)
	require.NotNil(t, p.AuthScheduledFor)
	assert.Equal(t, start.Add(-24*time.Hour), *p.AuthScheduledFor)

	env.requireEvent(b.ID, domain.EventBookingCreated)
}

func TestCreateBookingInsideLeadTimeSchedulesAuthNow(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(10 * time.Hour)

	res, err := env.svc.CreateBookingWithPaymentSetup(env.ctx, env.student, env.draftAt(start))
	require.NoError(t, err)
	require.True(t, res.ImmediateAuth)

	p := env.payment(res.Booking.ID)
	require.NotNil(t, p.AuthScheduledFor)
	assert.Equal(t, env.clock.Now(), *p.AuthScheduledFor)
}

func TestCreateBookingValidation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("requires student role", func(t *testing.T) {
		_, err := env.svc.CreateBookingWithPaymentSetup(env.ctx, env.instructor, env.draftAt(env.lessonStart(72*time.Hour)))
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("minimum advance window", func(t *testing.T) {
		_, err := env.svc.CreateBookingWithPaymentSetup(env.ctx, env.student, env.draftAt(env.lessonStart(time.Hour)))
		assert.ErrorIs(t, err, domain.ErrMinAdvanceViolated)
	})

	t.Run("lesson in the past", func(t *testing.T) {
		_, err := env.svc.CreateBookingWithPaymentSetup(env.ctx, env.student, env.draftAt(env.lessonStart(-2*time.Hour)))
		assert.ErrorIs(t, err, domain.ErrMinAdvanceViolated)
	})

	t.Run("lesson crossing midnight", func(t *testing.T) {
		draft := env.draftAt(env.lessonStart(72 * time.Hour))
		draft.StartTime = "23:30"
		_, err := env.svc.CreateBookingWithPaymentSetup(env.ctx, env.student, draft)
		assert.ErrorIs(t, err, domain.ErrInvalidDuration)
	})

	t.Run("unknown service", func(t *testing.T) {
		draft := env.draftAt(env.lessonStart(72 * time.Hour))
		draft.ServiceID = "svc-missing"
		_, err := env.svc.CreateBookingWithPaymentSetup(env.ctx, env.student, draft)
		assert.Error(t, err)
	})

	t.Run("conflicting slot", func(t *testing.T) {
		start := env.lessonStart(96 * time.Hour)
		env.createBooking(start)
		_, err := env.svc.CreateBookingWithPaymentSetup(env.ctx, env.student, env.draftAt(start))
		var conflict *domain.BookingConflictError
		assert.ErrorAs(t, err, &conflict)
	})
}

func TestConfirmDefersAuthorizationOutsideLeadTime(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBooking(env.lessonStart(73 * time.Hour))

	require.NoError(t, env.svc.ConfirmBookingPayment(env.ctx, env.student, b.ID, "pm_new_card"))

	got := env.booking(b.ID)
	assert.Equal(t, domain.BookingStatusConfirmed, got.Status)

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusScheduled, p.Status)
	assert.Equal(t, "pm_new_card", p.PaymentMethodID)
	assert.Empty(t, p.PaymentIntentID)
	assert.Equal(t, 1, env.notifier.Count("booking_confirmed"))
}

func TestConfirmAuthorizesImmediatelyInsideLeadTime(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBooking(env.lessonStart(10 * time.Hour))

	require.NoError(t, env.svc.ConfirmBookingPayment(env.ctx, env.student, b.ID, "pm_new_card"))

	got := env.booking(b.ID)
	assert.Equal(t, domain.BookingStatusConfirmed, got.Status)

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusAuthorized, p.Status)
	assert.NotEmpty(t, p.PaymentIntentID)
	env.requireEvent(b.ID, domain.EventAuthSucceeded)
	assert.Equal(t, 1, env.notifier.Count("booking_confirmed"))
}

func TestConfirmCreditsCoverFullPrice(t *testing.T) {
	env := newTestEnv(t)
	env.grantCredits(testStudentID, 15000)

	draft := env.draftAt(env.lessonStart(73 * time.Hour))
	draft.ApplyCreditCents = 10000
	res, err := env.svc.CreateBookingWithPaymentSetup(env.ctx, env.student, draft)
	require.NoError(t, err)

	// Reservation happens at creation
	assert.Equal(t, int64(5000), env.creditBalance(testStudentID))

	require.NoError(t, env.svc.ConfirmBookingPayment(env.ctx, env.student, res.Booking.ID, ""))

	p := env.payment(res.Booking.ID)
	assert.Equal(t, domain.PaymentStatusAuthorized, p.Status)
	assert.Empty(t, p.PaymentIntentID)
	assert.Equal(t, int64(10000), p.CreditsReservedCents)
	env.requireEvent(res.Booking.ID, domain.EventAuthSucceededCreditsOnly)
	assert.Equal(t, domain.BookingStatusConfirmed, env.booking(res.Booking.ID).Status)
}

func TestConfirmCreditsClampToBalance(t *testing.T) {
	env := newTestEnv(t)
	env.grantCredits(testStudentID, 3000)

	draft := env.draftAt(env.lessonStart(73 * time.Hour))
	draft.ApplyCreditCents = 10000
	res, err := env.svc.CreateBookingWithPaymentSetup(env.ctx, env.student, draft)
	require.NoError(t, err)

	p := env.payment(res.Booking.ID)
	assert.Equal(t, int64(3000), p.CreditsReservedCents)
	assert.Equal(t, int64(0), env.creditBalance(testStudentID))
}

func TestConfirmIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	b := env.confirmedBooking(env.lessonStart(73 * time.Hour))

	require.NoError(t, env.svc.ConfirmBookingPayment(env.ctx, env.student, b.ID, "pm_card_default"))
	assert.Equal(t, domain.BookingStatusConfirmed, env.booking(b.ID).Status)
}

func TestConfirmForbiddenForStranger(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBooking(env.lessonStart(73 * time.Hour))

	other := domain.Actor{UserID: "stu-2", Roles: []domain.Role{domain.RoleStudent}}
	err := env.svc.ConfirmBookingPayment(env.ctx, other, b.ID, "pm_x")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestScheduledAuthorizationSucceeds(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.confirmedBooking(start)

	env.clock.Set(start.Add(-24 * time.Hour))
	require.NoError(t, env.svc.AuthorizeScheduled(env.ctx, b.ID))

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusAuthorized, p.Status)
	assert.NotEmpty(t, p.PaymentIntentID)
	env.requireEvent(b.ID, domain.EventAuthSucceeded)
}

func TestScheduledAuthorizationSkipsWhenNotDue(t *testing.T) {
	env := newTestEnv(t)
	b := env.confirmedBooking(env.lessonStart(73 * time.Hour))

	require.NoError(t, env.svc.AuthorizeScheduled(env.ctx, b.ID))
	assert.Equal(t, domain.PaymentStatusScheduled, env.payment(b.ID).Status)
}

func TestStudentCancelEarlyReleasesHold(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.authorizedBooking(start)
	intentID := env.payment(b.ID).PaymentIntentID

	require.NoError(t, env.svc.CancelBooking(env.ctx, env.student, b.ID, "schedule change"))

	got := env.booking(b.ID)
	assert.Equal(t, domain.BookingStatusCancelled, got.Status)
	assert.Equal(t, "student", got.CancelledByRole)

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusSettled, p.Status)
	assert.Equal(t, domain.OutcomeStudentCancelGt24NoCharge, p.SettlementOutcome)
	assert.Nil(t, p.CapturedAt)

	intent, err := env.psp.GetIntent(env.ctx, intentID)
	require.NoError(t, err)
	assert.Equal(t, "canceled", string(intent.Status))
	assert.Equal(t, 1, env.notifier.Count("booking_cancelled"))
}

func TestStudentCancelLateCapturesAndSplits(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.authorizedBooking(start)

	env.clock.Set(start.Add(-6 * time.Hour))
	require.NoError(t, env.svc.CancelBooking(env.ctx, env.student, b.ID, "emergency"))

	got := env.booking(b.ID)
	assert.Equal(t, domain.BookingStatusCancelled, got.Status)
	assert.Equal(t, int64(4250), got.StudentCreditCents)

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusSettled, p.Status)
	assert.Equal(t, domain.OutcomeStudentCancelLt12Split, p.SettlementOutcome)
	assert.NotNil(t, p.CapturedAt)
	assert.Equal(t, int64(4250), p.InstructorPayoutCents)
	assert.Equal(t, int64(1500), p.PlatformFeeCents)

	assert.Equal(t, int64(4250), env.creditBalance(testStudentID))
	env.requireEvent(b.ID, domain.EventLateCancellationCaptured)
	env.requireEvent(b.ID, domain.EventCreditsGranted)
}

func TestInstructorCancelAlwaysReleases(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.authorizedBooking(start)

	// Even inside the late window the instructor's cancellation never charges
	env.clock.Set(start.Add(-2 * time.Hour))
	require.NoError(t, env.svc.CancelBooking(env.ctx, env.instructor, b.ID, "instructor sick"))

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusSettled, p.Status)
	assert.Equal(t, domain.OutcomeInstructorCancel, p.SettlementOutcome)
	assert.Nil(t, p.CapturedAt)
	assert.Equal(t, int64(10000), env.booking(b.ID).RefundedToCardCents)
}

func TestReleaseCancelRecordsRefundToCard(t *testing.T) {
	env := newTestEnv(t)
	env.grantCredits(testStudentID, 2000)

	draft := env.draftAt(env.lessonStart(73 * time.Hour))
	draft.ApplyCreditCents = 2000
	res, err := env.svc.CreateBookingWithPaymentSetup(env.ctx, env.student, draft)
	require.NoError(t, err)
	require.NoError(t, env.svc.ConfirmBookingPayment(env.ctx, env.student, res.Booking.ID, "pm_card_default"))
	p := env.payment(res.Booking.ID)
	require.NotNil(t, p.AuthScheduledFor)
	env.clock.Set(*p.AuthScheduledFor)
	require.NoError(t, env.svc.AuthorizeScheduled(env.ctx, res.Booking.ID))

	require.NoError(t, env.svc.CancelBooking(env.ctx, env.instructor, res.Booking.ID, "conflict"))

	// Only the card-held portion goes back to the card; credits return to the ledger
	got := env.booking(res.Booking.ID)
	assert.Equal(t, int64(8000), got.RefundedToCardCents)
	assert.Equal(t, int64(2000), env.creditBalance(testStudentID))
}

func TestCancelBeforeAuthorizationRefundsNothing(t *testing.T) {
	env := newTestEnv(t)
	b := env.confirmedBooking(env.lessonStart(73 * time.Hour))

	require.NoError(t, env.svc.CancelBooking(env.ctx, env.student, b.ID, "changed mind"))

	got := env.booking(b.ID)
	assert.Zero(t, got.RefundedToCardCents)
	assert.Zero(t, got.StudentCreditCents)
}

func TestCancelReleasesReservedCredits(t *testing.T) {
	env := newTestEnv(t)
	env.grantCredits(testStudentID, 4000)

	draft := env.draftAt(env.lessonStart(73 * time.Hour))
	draft.ApplyCreditCents = 4000
	res, err := env.svc.CreateBookingWithPaymentSetup(env.ctx, env.student, draft)
	require.NoError(t, err)
	require.Equal(t, int64(0), env.creditBalance(testStudentID))

	require.NoError(t, env.svc.CancelBooking(env.ctx, env.student, res.Booking.ID, "changed mind"))

	assert.Equal(t, int64(4000), env.creditBalance(testStudentID))
	env.requireEvent(res.Booking.ID, domain.EventCreditsReleased)
}

func TestCancelTerminalBookingFails(t *testing.T) {
	env := newTestEnv(t)
	b := env.authorizedBooking(env.lessonStart(73 * time.Hour))

	require.NoError(t, env.svc.CancelBooking(env.ctx, env.student, b.ID, "first"))
	err := env.svc.CancelBooking(env.ctx, env.student, b.ID, "second")
	assert.ErrorIs(t, err, domain.ErrBookingNotCancellable)
	assert.Equal(t, 1, env.eventCount(b.ID, domain.EventBookingCreated))
}

func TestCompleteBooking(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.authorizedBooking(start)

	t.Run("before lesson end", func(t *testing.T) {
		err := env.svc.CompleteBooking(env.ctx, env.instructor, b.ID)
		assert.ErrorIs(t, err, domain.ErrLessonNotEnded)
	})

	t.Run("student cannot complete", func(t *testing.T) {
		env.clock.Set(start.Add(2 * time.Hour))
		err := env.svc.CompleteBooking(env.ctx, env.student, b.ID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("instructor completes after end", func(t *testing.T) {
		env.clock.Set(start.Add(2 * time.Hour))
		require.NoError(t, env.svc.CompleteBooking(env.ctx, env.instructor, b.ID))
		got := env.booking(b.ID)
		assert.Equal(t, domain.BookingStatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
	})
}

func TestRescheduleOutsideLateWindow(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.authorizedBooking(start)

	newStart := start.Add(48 * time.Hour)
	res, err := env.svc.RescheduleBooking(env.ctx, env.student, b.ID, env.draftAt(newStart))
	require.NoError(t, err)

	parent := env.booking(b.ID)
	assert.Equal(t, domain.BookingStatusCancelled, parent.Status)

	pp := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusSettled, pp.Status)
	assert.Nil(t, pp.CapturedAt)

	child := env.booking(res.Booking.ID)
	assert.Equal(t, b.ID, child.RescheduledFromBookingID)
	assert.False(t, child.HasLockedFunds)

	cp := env.payment(child.ID)
	assert.Equal(t, domain.PaymentStatusScheduled, cp.Status)
	require.NotNil(t, cp.AuthScheduledFor)
}

func TestRescheduleInsideLateWindowLocksFunds(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.authorizedBooking(start)
	intentID := env.payment(b.ID).PaymentIntentID

	env.clock.Set(start.Add(-18 * time.Hour))
	newStart := start.Add(72 * time.Hour)
	res, err := env.svc.RescheduleBooking(env.ctx, env.student, b.ID, env.draftAt(newStart))
	require.NoError(t, err)

	parent := env.booking(b.ID)
	assert.Equal(t, domain.BookingStatusCancelled, parent.Status)

	pp := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusLocked, pp.Status)
	env.requireEvent(b.ID, domain.EventFundsLocked)

	child := env.booking(res.Booking.ID)
	assert.True(t, child.HasLockedFunds)
	assert.Equal(t, b.ID, child.RescheduledFromBookingID)

	// The successor never schedules its own hold
	cp := env.payment(child.ID)
	assert.Nil(t, cp.AuthScheduledFor)
	assert.Zero(t, cp.CreditsReservedCents)

	rec, err := env.store.LockRecords().GetOpenByParentBookingID(env.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, child.ID, rec.NewBookingID)
	assert.Equal(t, intentID, rec.PaymentIntentID)
	assert.Equal(t, int64(10000), rec.AmountCents)
}

func TestRescheduleTooLate(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.authorizedBooking(start)

	env.clock.Set(start.Add(-6 * time.Hour))
	_, err := env.svc.RescheduleBooking(env.ctx, env.student, b.ID, env.draftAt(start.Add(96*time.Hour)))
	assert.ErrorIs(t, err, domain.ErrRescheduleTooLate)
}

func TestRetryAuthorizationWithNewCard(t *testing.T) {
	env := newTestEnv(t)
	start := env.lessonStart(73 * time.Hour)
	b := env.confirmedBooking(start)

	env.psp.AuthFunc = func(req psp.AuthRequest) error {
		return psp.NewError(psp.ClassCardDeclined, "card_declined", nil)
	}
	env.clock.Set(start.Add(-24 * time.Hour))
	require.NoError(t, env.svc.AuthorizeScheduled(env.ctx, b.ID))
	require.Equal(t, domain.PaymentStatusMethodRequired, env.payment(b.ID).Status)

	env.psp.AuthFunc = nil
	require.NoError(t, env.svc.RetryAuthorization(env.ctx, env.student, b.ID, "pm_better_card"))

	p := env.payment(b.ID)
	assert.Equal(t, domain.PaymentStatusAuthorized, p.Status)
	assert.Equal(t, "pm_better_card", p.PaymentMethodID)
	env.requireEvent(b.ID, domain.EventAuthRetrySucceeded)
}
