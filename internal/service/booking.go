package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/msaedi/instructly-sub006/internal/availability"
	"github.com/msaedi/instructly-sub006/internal/domain"
	"github.com/msaedi/instructly-sub006/internal/psp"
)

// BookingDraft is the caller's request to book a lesson
type BookingDraft struct {
	InstructorID    string
	ServiceID       string
	BookingDate     string // YYYY-MM-DD, lesson-local
	StartTime       string // HH:MM, lesson-local
	DurationMinutes int
	LessonTimezone  string
	LocationType    domain.LocationType
	LocationAddress string
	ApplyCreditCents int64
}

// CreateResult reports what creation produced. ImmediateAuth means the lesson
// starts inside the authorization lead time, so the student's card is charged
// as soon as a payment method arrives instead of at the scheduled window.
type CreateResult struct {
	Booking       *domain.Booking
	Payment       *domain.BookingPayment
	ImmediateAuth bool
}

// preparedBooking is a validated draft ready to persist inside a transaction
type preparedBooking struct {
	booking *domain.Booking
	payment *domain.BookingPayment
	credits int64
	actor   domain.Actor
}

// CreateBookingWithPaymentSetup validates the draft, prices the lesson, and
// persists the booking with its payment row in one transaction. The card is
// never touched here; authorization happens at confirm time or at the
// scheduled window.
func (s *Service) CreateBookingWithPaymentSetup(ctx context.Context, actor domain.Actor, draft BookingDraft) (*CreateResult, error) {
	if !actor.HasRole(domain.RoleStudent) || actor.UserID == "" {
		return nil, domain.ErrForbidden
	}

	prep, err := s.prepareBooking(ctx, actor, actor.UserID, draft, false)
	if err != nil {
		return nil, err
	}

	if err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.persistBooking(ctx, prep)
	}); err != nil {
		return nil, err
	}

	immediate := prep.payment.AuthScheduledFor != nil && !prep.payment.AuthScheduledFor.After(s.clock.Now())
	s.log.Info("booking created",
		zap.String("booking_id", prep.booking.ID),
		zap.String("student_id", prep.booking.StudentID),
		zap.String("instructor_id", prep.booking.InstructorID),
		zap.Bool("immediate_auth", immediate),
	)
	return &CreateResult{Booking: prep.booking, Payment: prep.payment, ImmediateAuth: immediate}, nil
}

// prepareBooking runs every validation that does not need a transaction and
// builds the booking and payment rows. lockedFunds marks a late-reschedule
// successor whose money arrives through the parent's locked authorization.
func (s *Service) prepareBooking(ctx context.Context, actor domain.Actor, studentID string, draft BookingDraft, lockedFunds bool) (*preparedBooking, error) {
	now := s.clock.Now()

	svc, err := s.instructors.GetService(ctx, draft.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service %s: %w", draft.ServiceID, err)
	}
	if !svc.Active || svc.InstructorID != draft.InstructorID {
		return nil, domain.ErrServiceInactive
	}

	profile, err := s.instructors.GetProfile(ctx, draft.InstructorID)
	if err != nil {
		return nil, fmt.Errorf("load instructor %s: %w", draft.InstructorID, err)
	}
	if !profile.Active {
		return nil, domain.ErrServiceInactive
	}

	if !draft.LocationType.IsValid() {
		return nil, domain.ErrInvalidLocation
	}

	tz := draft.LessonTimezone
	if tz == "" {
		tz = profile.Timezone
	}
	if tz == "" {
		s.log.Warn("no lesson timezone available, falling back to UTC",
			zap.String("instructor_id", draft.InstructorID))
		tz = "UTC"
	}

	startSlot, err := availability.SlotIndex(draft.StartTime)
	if err != nil {
		return nil, err
	}
	if startSlot*30+draft.DurationMinutes > 24*60 {
		return nil, fmt.Errorf("%w: lesson crosses midnight", domain.ErrInvalidDuration)
	}

	startUTC, endUTC, err := s.clock.LessonWindowUTC(draft.BookingDate, draft.StartTime, draft.DurationMinutes, tz)
	if err != nil {
		return nil, err
	}
	localEnd, err := s.clock.LocalEndTime(draft.BookingDate, draft.StartTime, draft.DurationMinutes, tz)
	if err != nil {
		return nil, err
	}

	hoursUntil := s.clock.HoursUntil(startUTC)
	if hoursUntil <= 0 || hoursUntil < float64(svc.MinAdvanceHours) {
		return nil, fmt.Errorf("%w: %.1fh until start, minimum %dh",
			domain.ErrMinAdvanceViolated, hoursUntil, svc.MinAdvanceHours)
	}

	if err := s.avail.ValidateWindow(ctx, draft.InstructorID, draft.BookingDate, draft.StartTime, draft.DurationMinutes); err != nil {
		return nil, err
	}

	if scope, found, err := s.bookings.FindConflict(ctx, studentID, draft.InstructorID, startUTC, endUTC, ""); err != nil {
		return nil, fmt.Errorf("conflict check: %w", err)
	} else if found {
		return nil, &domain.BookingConflictError{Scope: scope}
	}

	applyCredits := draft.ApplyCreditCents
	if applyCredits > 0 && !lockedFunds {
		balance, err := s.credits.Balance(ctx, studentID)
		if err != nil {
			return nil, fmt.Errorf("read credit balance: %w", err)
		}
		if applyCredits > balance {
			applyCredits = balance
		}
	} else {
		applyCredits = 0
	}

	quote, err := s.pricing.QuoteLesson(svc.HourlyRateCents, draft.DurationMinutes, applyCredits)
	if err != nil {
		return nil, err
	}

	b := &domain.Booking{
		ID:              domain.NewBookingID(),
		StudentID:       studentID,
		InstructorID:    draft.InstructorID,
		ServiceID:       svc.ID,
		ServiceName:     svc.Name,
		HourlyRateCents: svc.HourlyRateCents,
		TotalPriceCents: quote.TotalCents,
		BookingDate:     draft.BookingDate,
		StartTime:       draft.StartTime,
		EndTime:         localEnd,
		DurationMinutes: draft.DurationMinutes,
		LessonTimezone:  tz,
		StartUTC:        startUTC,
		EndUTC:          endUTC,
		LocationType:    draft.LocationType,
		LocationAddress: draft.LocationAddress,
		Status:          domain.BookingStatusPending,
		HasLockedFunds:  lockedFunds,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	p := &domain.BookingPayment{
		ID:                    domain.NewPaymentID(),
		BookingID:             b.ID,
		Status:                domain.PaymentStatusScheduled,
		AmountCents:           quote.TotalCents,
		PlatformFeeCents:      quote.PlatformFeeCents,
		InstructorPayoutCents: quote.InstructorPayoutCents,
		CreditsReservedCents:  quote.CreditsAppliedCents,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	// Successor bookings with locked funds never place their own hold; the
	// parent's authorization is captured or released at resolution.
	if !lockedFunds {
		authAt := startUTC.Add(-s.cfg.AuthLeadTime)
		if authAt.Before(now) {
			authAt = now
		}
		p.AuthScheduledFor = &authAt
	}

	return &preparedBooking{booking: b, payment: p, credits: quote.CreditsAppliedCents, actor: actor}, nil
}

// persistBooking writes the prepared rows. Must run inside a transaction;
// the conflict check is repeated under it so two racing drafts cannot both land.
func (s *Service) persistBooking(ctx context.Context, prep *preparedBooking) error {
	b, p := prep.booking, prep.payment
	now := b.CreatedAt

	if scope, found, err := s.bookings.FindConflict(ctx, b.StudentID, b.InstructorID, b.StartUTC, b.EndUTC, b.ID); err != nil {
		return fmt.Errorf("conflict check: %w", err)
	} else if found {
		return &domain.BookingConflictError{Scope: scope}
	}

	if err := s.bookings.Create(ctx, b); err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	if prep.credits > 0 {
		if err := s.credits.Reserve(ctx, b.StudentID, b.ID, prep.credits, now); err != nil {
			return err
		}
	}
	if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, domain.EventBookingCreated, prep.actor, now).
		WithAmount(p.AmountCents)); err != nil {
		return err
	}
	if err := s.enqueueOutbox(ctx, domain.OutboxBookingCreated, b, b, now); err != nil {
		return err
	}
	s.recordAudit(ctx, prep.actor, "booking.create", "booking", b.ID, now)
	return nil
}

// confirmOutcome tells ConfirmBookingPayment what to do after its transaction
type confirmOutcome int

const (
	confirmDone confirmOutcome = iota // booking confirmed in the transaction
	confirmAuthNow                    // card hold required before confirming
)

// ConfirmBookingPayment stores the student's payment method and moves the
// booking toward confirmed. Lessons outside the authorization lead time
// confirm immediately with the charge deferred; lessons inside it authorize
// the card first and only confirm on success.
func (s *Service) ConfirmBookingPayment(ctx context.Context, actor domain.Actor, bookingID, paymentMethodID string) error {
	return s.withBookingLock(ctx, bookingID, func(ctx context.Context) error {
		now := s.clock.Now()

		var (
			outcome  confirmOutcome
			snap     authSnapshot
			bookingC *domain.Booking
		)
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			b, err := s.bookings.GetForUpdate(ctx, bookingID)
			if err != nil {
				return err
			}
			if !actor.Is(b.StudentID) && !actor.IsAdmin() {
				return domain.ErrForbidden
			}
			if b.Status == domain.BookingStatusConfirmed {
				outcome = confirmDone
				return nil
			}
			if err := domain.CheckBookingTransition(b.Status, domain.BookingStatusConfirmed); err != nil {
				return err
			}

			p, err := s.payments.GetByBookingIDForUpdate(ctx, bookingID)
			if err != nil {
				return err
			}
			if p.InCaptureRetry() ||
				(p.Status != domain.PaymentStatusScheduled && p.Status != domain.PaymentStatusMethodRequired) {
				return fmt.Errorf("payment %s: %w", p.Status, domain.ErrPaymentStateIneligible)
			}

			if paymentMethodID != "" {
				p.PaymentMethodID = paymentMethodID
				p.UpdatedAt = now
				if err := s.users.SetStudentPaymentMethod(ctx, b.StudentID, paymentMethodID); err != nil {
					return fmt.Errorf("store payment method: %w", err)
				}
			}

			cardCharge := p.AmountCents - p.CreditsReservedCents

			// Credits cover everything: no hold to place, settle the auth now.
			if cardCharge <= 0 {
				if err := domain.CheckPaymentTransition(p.Status, domain.PaymentStatusAuthorized); err != nil {
					return err
				}
				p.MarkAuthorized("", now)
				b.Confirm(now)
				if err := s.payments.Update(ctx, p); err != nil {
					return err
				}
				if err := s.bookings.Update(ctx, b); err != nil {
					return err
				}
				if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, domain.EventAuthSucceededCreditsOnly, actor, now).
					WithAmount(p.CreditsReservedCents)); err != nil {
					return err
				}
				if err := s.enqueueOutbox(ctx, domain.OutboxPaymentAuthorized, b, p, now); err != nil {
					return err
				}
				if err := s.enqueueOutbox(ctx, domain.OutboxBookingConfirmed, b, b, now); err != nil {
					return err
				}
				s.recordAudit(ctx, actor, "booking.confirm", "booking", b.ID, now)
				outcome = confirmDone
				bookingC = b
				return nil
			}

			// Deferred window: save the method, confirm, authorize later.
			// Locked-funds successors (no scheduled auth) confirm the same way.
			if p.AuthScheduledFor == nil || p.AuthScheduledFor.After(now) {
				b.Confirm(now)
				if err := s.payments.Update(ctx, p); err != nil {
					return err
				}
				if err := s.bookings.Update(ctx, b); err != nil {
					return err
				}
				if err := s.enqueueOutbox(ctx, domain.OutboxBookingConfirmed, b, b, now); err != nil {
					return err
				}
				s.recordAudit(ctx, actor, "booking.confirm", "booking", b.ID, now)
				outcome = confirmDone
				bookingC = b
				return nil
			}

			// Lesson starts inside the lead window: authorize right now.
			if err := s.payments.Update(ctx, p); err != nil {
				return err
			}
			snapped, err := s.snapshotForAuth(ctx, b, p)
			if err != nil {
				return err
			}
			snap = snapped
			outcome = confirmAuthNow
			return nil
		})
		if err != nil {
			return err
		}

		switch outcome {
		case confirmAuthNow:
			return s.performAuth(ctx, actor, bookingID, snap, authInitial)
		default:
			if bookingC != nil {
				if nerr := s.notifier.BookingConfirmed(ctx, bookingC); nerr != nil {
					s.log.Warn("confirmation notification failed",
						zap.String("booking_id", bookingID), zap.Error(nerr))
				}
			}
			return nil
		}
	})
}

// RetryAuthorization lets the student retry a failed authorization with a
// fresh payment method, bypassing the backoff schedule.
func (s *Service) RetryAuthorization(ctx context.Context, actor domain.Actor, bookingID, paymentMethodID string) error {
	return s.withBookingLock(ctx, bookingID, func(ctx context.Context) error {
		now := s.clock.Now()

		var snap authSnapshot
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			b, err := s.bookings.GetForUpdate(ctx, bookingID)
			if err != nil {
				return err
			}
			if !actor.Is(b.StudentID) && !actor.IsAdmin() {
				return domain.ErrForbidden
			}
			if !b.IsActive() {
				return domain.ErrBookingNotCancellable
			}
			p, err := s.payments.GetByBookingIDForUpdate(ctx, bookingID)
			if err != nil {
				return err
			}
			if p.Status != domain.PaymentStatusMethodRequired || p.InCaptureRetry() {
				return fmt.Errorf("payment %s: %w", p.Status, domain.ErrPaymentStateIneligible)
			}
			if paymentMethodID != "" {
				p.PaymentMethodID = paymentMethodID
				p.UpdatedAt = now
				if err := s.payments.Update(ctx, p); err != nil {
					return err
				}
				if err := s.users.SetStudentPaymentMethod(ctx, b.StudentID, paymentMethodID); err != nil {
					return fmt.Errorf("store payment method: %w", err)
				}
			}
			snap, err = s.snapshotForAuth(ctx, b, p)
			return err
		})
		if err != nil {
			return err
		}
		return s.performAuth(ctx, actor, bookingID, snap, authRetry)
	})
}

// CompleteBooking lets the instructor mark a finished lesson complete.
// Capture still waits for the post-lesson delay; only the status moves here.
func (s *Service) CompleteBooking(ctx context.Context, actor domain.Actor, bookingID string) error {
	return s.withBookingLock(ctx, bookingID, func(ctx context.Context) error {
		now := s.clock.Now()
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			b, err := s.bookings.GetForUpdate(ctx, bookingID)
			if err != nil {
				return err
			}
			if !actor.Is(b.InstructorID) && !actor.IsAdmin() {
				return domain.ErrForbidden
			}
			if err := domain.CheckBookingTransition(b.Status, domain.BookingStatusCompleted); err != nil {
				return err
			}
			if now.Before(b.EndUTC) {
				return fmt.Errorf("booking %s: %w", bookingID, domain.ErrLessonNotEnded)
			}
			b.Complete(now, now)
			if err := s.bookings.Update(ctx, b); err != nil {
				return err
			}
			if err := s.enqueueOutbox(ctx, domain.OutboxBookingCompleted, b, b, now); err != nil {
				return err
			}
			s.recordAudit(ctx, actor, "booking.complete", "booking", b.ID, now)
			return nil
		})
	})
}

// CancelBooking routes a cancellation to its settlement branch. Student
// cancellations inside the late window capture the full hold and split the
// proceeds; everything else releases the hold without charge.
func (s *Service) CancelBooking(ctx context.Context, actor domain.Actor, bookingID, reason string) error {
	var cancelled *domain.Booking
	err := s.withBookingLock(ctx, bookingID, func(ctx context.Context) error {
		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		role, err := domain.CheckCancelActor(actor, b)
		if err != nil {
			return err
		}
		if !b.IsCancellable() {
			return domain.ErrBookingNotCancellable
		}
		p, err := s.payments.GetByBookingID(ctx, bookingID)
		if err != nil {
			return err
		}

		hoursUntil := s.clock.HoursUntil(b.StartUTC)
		lateStudentCancel := role == domain.RoleStudent &&
			p.Status == domain.PaymentStatusAuthorized &&
			hoursUntil <= s.cfg.AuthAbandonCutoff.Hours()

		if lateStudentCancel {
			err = s.lateCancelCapture(ctx, actor, role, bookingID, reason)
		} else {
			outcome := domain.OutcomeStudentCancelGt24NoCharge
			if role == domain.RoleInstructor || role == domain.RoleAdmin {
				outcome = domain.OutcomeInstructorCancel
			}
			err = s.releaseAndCancel(ctx, actor, role, bookingID, reason, outcome, "")
		}
		if err != nil {
			return err
		}

		// A cancelled successor releases the funds still locked on its parent.
		if b.HasLockedFunds && b.RescheduledFromBookingID != "" {
			if rerr := s.ResolveLockedFunds(ctx, b.RescheduledFromBookingID, LockReasonInstructorCancelled); rerr != nil {
				s.log.Error("locked funds release after cancellation failed",
					zap.String("parent_booking_id", b.RescheduledFromBookingID),
					zap.String("booking_id", bookingID),
					zap.Error(rerr),
				)
			}
		}
		cancelled = b
		return nil
	})
	if err != nil {
		return err
	}
	s.afterCancellation(ctx, cancelled)
	return nil
}

// releaseAndCancel cancels the booking, releasing any card hold without
// charging. extraEvent, when set, records why the engine itself gave up.
func (s *Service) releaseAndCancel(ctx context.Context, actor domain.Actor, role domain.Role, bookingID, reason string, outcome domain.SettlementOutcome, extraEvent domain.EventType) error {
	p, err := s.payments.GetByBookingID(ctx, bookingID)
	if err != nil {
		return err
	}
	priorStatus := p.Status
	intentID := ""
	if p.Status == domain.PaymentStatusAuthorized {
		intentID = p.PaymentIntentID
	}

	if intentID != "" {
		err := s.psp.CancelAuth(ctx, intentID, psp.CancelKey(bookingID, intentID))
		if err != nil && !psp.IsClass(err, psp.ClassInvalidState) && !psp.IsClass(err, psp.ClassAuthExpired) {
			return fmt.Errorf("release hold for booking %s: %w", bookingID, err)
		}
	}

	now := s.clock.Now()
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status == domain.BookingStatusCancelled {
			return nil
		}
		if !b.IsCancellable() {
			return fmt.Errorf("booking %s became %s: %w", bookingID, b.Status, domain.ErrConcurrencyLost)
		}
		p, err := s.payments.GetByBookingIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if p.Status != priorStatus {
			return fmt.Errorf("payment moved %s -> %s: %w", priorStatus, p.Status, domain.ErrConcurrencyLost)
		}
		if err := domain.CheckPaymentTransition(p.Status, domain.PaymentStatusSettled); err != nil {
			return err
		}

		b.Cancel(now, reason, string(role))
		if intentID != "" {
			b.RefundedToCardCents = p.AmountCents - p.CreditsReservedCents
		}
		p.Settle(outcome, now)
		if err := s.bookings.Update(ctx, b); err != nil {
			return err
		}
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}

		if p.CreditsReservedCents > 0 {
			if err := s.credits.Release(ctx, b.StudentID, b.ID, p.CreditsReservedCents, now); err != nil {
				return err
			}
			if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, domain.EventCreditsReleased, actor, now).
				WithAmount(p.CreditsReservedCents)); err != nil {
				return err
			}
		}
		if extraEvent != "" {
			if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, extraEvent, actor, now).
				WithRef(intentID)); err != nil {
				return err
			}
		}
		if err := s.enqueueOutbox(ctx, domain.OutboxBookingCancelled, b, b, now); err != nil {
			return err
		}
		s.recordAudit(ctx, actor, "booking.cancel", "booking", b.ID, now)
		return nil
	})
}

// lateCancelCapture handles a student cancellation inside the late window:
// the full hold is captured, the instructor gets half the standard payout,
// and the remainder comes back to the student as credit.
func (s *Service) lateCancelCapture(ctx context.Context, actor domain.Actor, role domain.Role, bookingID, reason string) error {
	p, err := s.payments.GetByBookingID(ctx, bookingID)
	if err != nil {
		return err
	}
	intentID := p.PaymentIntentID

	result, capErr := s.psp.CaptureAuth(ctx, psp.CaptureRequest{
		IntentID:       intentID,
		IdempotencyKey: psp.LateCancelCaptureKey(bookingID, intentID),
	})
	now := s.clock.Now()

	if capErr != nil && !psp.IsClass(capErr, psp.ClassAlreadyCaptured) {
		s.metrics.RecordCapture(ctx, "late_cancel_failed")
		// The cancellation proceeds regardless; the capture retry worker
		// keeps chasing the money.
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			b, err := s.bookings.GetForUpdate(ctx, bookingID)
			if err != nil {
				return err
			}
			if !b.IsCancellable() {
				return fmt.Errorf("booking %s became %s: %w", bookingID, b.Status, domain.ErrConcurrencyLost)
			}
			p, err := s.payments.GetByBookingIDForUpdate(ctx, bookingID)
			if err != nil {
				return err
			}
			b.Cancel(now, reason, string(role))
			p.MarkCaptureFailed(now, string(psp.ClassOf(capErr)))
			if err := s.bookings.Update(ctx, b); err != nil {
				return err
			}
			if err := s.payments.Update(ctx, p); err != nil {
				return err
			}
			if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, domain.EventLateCancellationCapFailed, actor, now).
				WithRef(intentID).WithDetail("error", string(psp.ClassOf(capErr)))); err != nil {
				return err
			}
			if err := s.enqueueOutbox(ctx, domain.OutboxBookingCancelled, b, b, now); err != nil {
				return err
			}
			if err := s.enqueueOutbox(ctx, domain.OutboxPaymentFailed, b, p, now); err != nil {
				return err
			}
			s.recordAudit(ctx, actor, "booking.cancel", "booking", b.ID, now)
			return nil
		})
	}

	capturedCents := p.AmountCents - p.CreditsReservedCents
	if result != nil && result.CapturedCents > 0 {
		capturedCents = result.CapturedCents
	}

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if !b.IsCancellable() {
			return fmt.Errorf("booking %s became %s: %w", bookingID, b.Status, domain.ErrConcurrencyLost)
		}
		p, err := s.payments.GetByBookingIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentStatusAuthorized {
			return fmt.Errorf("payment moved to %s: %w", p.Status, domain.ErrConcurrencyLost)
		}

		split := s.pricing.LateCancelSplit(p.AmountCents)

		b.Cancel(now, reason, string(role))
		b.StudentCreditCents = split.StudentCreditCents
		p.MarkCaptured(now)
		p.InstructorPayoutCents = split.InstructorPayoutCents
		p.PlatformFeeCents = split.PlatformFeeCents
		p.Settle(domain.OutcomeStudentCancelLt12Split, now)

		if err := s.bookings.Update(ctx, b); err != nil {
			return err
		}
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}

		if p.CreditsReservedCents > 0 {
			if err := s.credits.Forfeit(ctx, b.StudentID, b.ID, p.CreditsReservedCents, now); err != nil {
				return err
			}
		}
		if split.StudentCreditCents > 0 {
			if err := s.credits.Grant(ctx, b.StudentID, b.ID, split.StudentCreditCents, "late_cancellation", now); err != nil {
				return err
			}
			if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, domain.EventCreditsGranted, actor, now).
				WithAmount(split.StudentCreditCents)); err != nil {
				return err
			}
		}
		if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, domain.EventLateCancellationCaptured, actor, now).
			WithRef(intentID).WithAmount(capturedCents)); err != nil {
			return err
		}
		if err := s.enqueueOutbox(ctx, domain.OutboxBookingCancelled, b, b, now); err != nil {
			return err
		}
		if err := s.enqueueOutbox(ctx, domain.OutboxPaymentCaptured, b, p, now); err != nil {
			return err
		}
		s.recordAudit(ctx, actor, "booking.cancel", "booking", b.ID, now)
		s.metrics.RecordCapture(ctx, "late_cancel")
		return nil
	})
}

// RescheduleBooking cancels the booking and creates its replacement. Inside
// the locked-funds band the parent's authorization is kept and locked for the
// new lesson instead of being released.
func (s *Service) RescheduleBooking(ctx context.Context, actor domain.Actor, bookingID string, draft BookingDraft) (*CreateResult, error) {
	var result *CreateResult
	err := s.withBookingLock(ctx, bookingID, func(ctx context.Context) error {
		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if !actor.Is(b.StudentID) && !actor.IsAdmin() {
			return domain.ErrForbidden
		}
		if !b.IsActive() {
			return domain.ErrBookingNotCancellable
		}
		p, err := s.payments.GetByBookingID(ctx, bookingID)
		if err != nil {
			return err
		}

		hoursUntil := s.clock.HoursUntil(b.StartUTC)
		if hoursUntil < s.cfg.LateRescheduleLow.Hours() {
			return domain.ErrRescheduleTooLate
		}
		lockFunds := hoursUntil < s.cfg.LateRescheduleHigh.Hours() &&
			(p.Status == domain.PaymentStatusAuthorized || p.Status == domain.PaymentStatusScheduled)

		if draft.InstructorID == "" {
			draft.InstructorID = b.InstructorID
		}
		if draft.ServiceID == "" {
			draft.ServiceID = b.ServiceID
		}

		prep, err := s.prepareBooking(ctx, actor, b.StudentID, draft, lockFunds)
		if err != nil {
			return err
		}
		prep.booking.RescheduledFromBookingID = b.ID
		now := s.clock.Now()

		if lockFunds {
			err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
				if err := s.persistBooking(ctx, prep); err != nil {
					return err
				}
				parent, err := s.bookings.GetForUpdate(ctx, bookingID)
				if err != nil {
					return err
				}
				if !parent.IsCancellable() {
					return fmt.Errorf("booking %s became %s: %w", bookingID, parent.Status, domain.ErrConcurrencyLost)
				}
				pp, err := s.payments.GetByBookingIDForUpdate(ctx, bookingID)
				if err != nil {
					return err
				}
				if err := domain.CheckPaymentTransition(pp.Status, domain.PaymentStatusLocked); err != nil {
					return err
				}
				pp.Lock(now)
				rec := domain.NewLockRecord(parent.ID, prep.booking.ID, pp.AmountCents, pp.PaymentIntentID, now)
				if err := s.lockRecords.Create(ctx, rec); err != nil {
					return fmt.Errorf("create lock record: %w", err)
				}
				parent.Cancel(now, "rescheduled", string(domain.RoleStudent))
				if err := s.payments.Update(ctx, pp); err != nil {
					return err
				}
				if err := s.bookings.Update(ctx, parent); err != nil {
					return err
				}
				if err := s.appendEvent(ctx, domain.NewPaymentEvent(parent.ID, domain.EventFundsLocked, actor, now).
					WithRef(pp.PaymentIntentID).WithAmount(pp.AmountCents).
					WithDetail("new_booking_id", prep.booking.ID)); err != nil {
					return err
				}
				if err := s.enqueueOutbox(ctx, domain.OutboxBookingCancelled, parent, parent, now); err != nil {
					return err
				}
				s.recordAudit(ctx, actor, "booking.reschedule", "booking", parent.ID, now)
				return nil
			})
		} else {
			err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
				return s.persistBooking(ctx, prep)
			})
			if err == nil {
				role := domain.RoleStudent
				if !actor.Is(b.StudentID) {
					role = domain.RoleAdmin
				}
				err = s.releaseAndCancel(ctx, actor, role, bookingID, "rescheduled",
					domain.OutcomeStudentCancelGt24NoCharge, "")
			}
		}
		if err != nil {
			return err
		}

		immediate := prep.payment.AuthScheduledFor != nil && !prep.payment.AuthScheduledFor.After(now)
		result = &CreateResult{Booking: prep.booking, Payment: prep.payment, ImmediateAuth: immediate}
		s.log.Info("booking rescheduled",
			zap.String("booking_id", bookingID),
			zap.String("new_booking_id", prep.booking.ID),
			zap.Bool("funds_locked", lockFunds),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// afterCancellation runs the best-effort post-commit work
func (s *Service) afterCancellation(ctx context.Context, b *domain.Booking) {
	if b == nil {
		return
	}
	if b.LocationType == domain.LocationOnline {
		if err := s.video.Teardown(ctx, b.ID); err != nil {
			s.log.Warn("video room teardown failed",
				zap.String("booking_id", b.ID), zap.Error(err))
		}
	}
	if err := s.notifier.BookingCancelled(ctx, b); err != nil {
		s.log.Warn("cancellation notification failed",
			zap.String("booking_id", b.ID), zap.Error(err))
	}
}

// authMode distinguishes the first authorization from scheduled retries
type authMode int

const (
	authInitial authMode = iota
	authRetry
)

// authSnapshot carries everything the PSP call needs, captured before the
// transaction commits so the call itself runs with no locks held.
type authSnapshot struct {
	customerID      string
	methodID        string
	destination     string
	cardChargeCents int64
	feeCents        int64
	failureCount    int
}

// snapshotForAuth loads the billing and payout identifiers for a hold
func (s *Service) snapshotForAuth(ctx context.Context, b *domain.Booking, p *domain.BookingPayment) (authSnapshot, error) {
	billing, err := s.users.GetStudentBilling(ctx, b.StudentID)
	if err != nil {
		return authSnapshot{}, fmt.Errorf("load student billing: %w", err)
	}
	profile, err := s.instructors.GetProfile(ctx, b.InstructorID)
	if err != nil {
		return authSnapshot{}, fmt.Errorf("load instructor profile: %w", err)
	}
	methodID := p.PaymentMethodID
	if methodID == "" {
		methodID = billing.PaymentMethodID
	}
	return authSnapshot{
		customerID:      billing.CustomerID,
		methodID:        methodID,
		destination:     profile.ConnectedAccountID,
		cardChargeCents: p.AmountCents - p.CreditsReservedCents,
		feeCents:        p.PlatformFeeCents,
		failureCount:    p.AuthFailureCount,
	}, nil
}

// performAuth places the hold and persists the result with re-validation.
// System errors return to the caller untouched; the worker replays them on
// the next pass with the same idempotency key.
func (s *Service) performAuth(ctx context.Context, actor domain.Actor, bookingID string, snap authSnapshot, mode authMode) error {
	now := s.clock.Now()

	if mode == authRetry {
		if err := s.appendEvent(ctx, domain.NewPaymentEvent(bookingID, domain.EventAuthRetryAttempted, actor, now).
			WithDetail("attempt", snap.failureCount+1)); err != nil {
			return err
		}
	}

	key := psp.AuthKey(bookingID)
	if snap.failureCount > 0 {
		key = psp.AuthRetryKey(bookingID, snap.failureCount)
	}

	intent, err := s.psp.CreateOrRetryAuth(ctx, psp.AuthRequest{
		CustomerID:           snap.customerID,
		PaymentMethodID:      snap.methodID,
		AmountCents:          snap.cardChargeCents,
		ApplicationFeeCents:  snap.feeCents,
		DestinationAccountID: snap.destination,
		Currency:             "usd",
		BookingID:            bookingID,
		IdempotencyKey:       key,
	})
	if err != nil {
		if psp.IsRetryable(err) {
			s.metrics.RecordAuthAttempt(ctx, "system_error")
			return fmt.Errorf("authorize booking %s: %w", bookingID, err)
		}
		return s.finishAuthFailure(ctx, actor, bookingID, mode, string(psp.ClassOf(err)))
	}
	if intent.Status == psp.IntentRequiresConfirmation {
		intent, err = s.psp.ConfirmAuth(ctx, intent.ID, psp.ConfirmKey(bookingID, intent.ID))
		if err != nil {
			if psp.IsRetryable(err) {
				s.metrics.RecordAuthAttempt(ctx, "system_error")
				return fmt.Errorf("confirm hold for booking %s: %w", bookingID, err)
			}
			return s.finishAuthFailure(ctx, actor, bookingID, mode, string(psp.ClassOf(err)))
		}
	}
	if intent.Status != psp.IntentRequiresCapture && intent.Status != psp.IntentSucceeded {
		return s.finishAuthFailure(ctx, actor, bookingID, mode, "requires_action")
	}
	return s.finishAuthSuccess(ctx, actor, bookingID, intent.ID, snap.cardChargeCents, mode)
}

func (s *Service) finishAuthSuccess(ctx context.Context, actor domain.Actor, bookingID, intentID string, chargedCents int64, mode authMode) error {
	now := s.clock.Now()
	var confirmed *domain.Booking

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		p, err := s.payments.GetByBookingIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if !b.IsActive() {
			return fmt.Errorf("booking %s became %s: %w", bookingID, b.Status, domain.ErrConcurrencyLost)
		}
		if p.Status != domain.PaymentStatusScheduled && p.Status != domain.PaymentStatusMethodRequired {
			return fmt.Errorf("payment moved to %s: %w", p.Status, domain.ErrConcurrencyLost)
		}
		if err := domain.CheckPaymentTransition(p.Status, domain.PaymentStatusAuthorized); err != nil {
			return err
		}

		p.MarkAuthorized(intentID, now)
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}

		eventType := domain.EventAuthSucceeded
		if mode == authRetry {
			eventType = domain.EventAuthRetrySucceeded
		}
		if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, eventType, actor, now).
			WithRef(intentID).WithAmount(chargedCents)); err != nil {
			return err
		}
		if err := s.enqueueOutbox(ctx, domain.OutboxPaymentAuthorized, b, p, now); err != nil {
			return err
		}

		if b.Status == domain.BookingStatusPending {
			b.Confirm(now)
			if err := s.bookings.Update(ctx, b); err != nil {
				return err
			}
			if err := s.enqueueOutbox(ctx, domain.OutboxBookingConfirmed, b, b, now); err != nil {
				return err
			}
			confirmed = b
		}
		s.recordAudit(ctx, actor, "payment.authorize", "payment", p.ID, now)
		return nil
	})
	if err != nil {
		return err
	}

	s.noteAuthSuccess(now)
	s.metrics.RecordAuthAttempt(ctx, "success")
	if confirmed != nil {
		if nerr := s.notifier.BookingConfirmed(ctx, confirmed); nerr != nil {
			s.log.Warn("confirmation notification failed",
				zap.String("booking_id", bookingID), zap.Error(nerr))
		}
	}
	return nil
}

func (s *Service) finishAuthFailure(ctx context.Context, actor domain.Actor, bookingID string, mode authMode, reason string) error {
	now := s.clock.Now()
	var (
		firstFailure bool
		failed       *domain.Booking
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		p, err := s.payments.GetByBookingIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentStatusScheduled && p.Status != domain.PaymentStatusMethodRequired {
			return fmt.Errorf("payment moved to %s: %w", p.Status, domain.ErrConcurrencyLost)
		}

		p.MarkAuthFailed(now, reason)
		if p.FirstFailureEmailSentAt == nil {
			p.FirstFailureEmailSentAt = &now
			firstFailure = true
			if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, domain.EventFirstFailureEmailSent, actor, now)); err != nil {
				return err
			}
		}
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}

		eventType := domain.EventAuthFailed
		if mode == authRetry {
			eventType = domain.EventAuthRetryFailed
		}
		if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, eventType, actor, now).
			WithDetail("error", reason).WithDetail("failure_count", p.AuthFailureCount)); err != nil {
			return err
		}
		if err := s.enqueueOutbox(ctx, domain.OutboxPaymentFailed, b, p, now); err != nil {
			return err
		}
		failed = b
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.RecordAuthAttempt(ctx, "declined")
	if firstFailure && failed != nil {
		if nerr := s.notifier.AuthFirstFailure(ctx, failed); nerr != nil {
			s.log.Warn("first failure notification failed",
				zap.String("booking_id", bookingID), zap.Error(nerr))
		}
	}
	return nil
}
