package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/msaedi/instructly-sub006/internal/domain"
	"github.com/msaedi/instructly-sub006/internal/psp"
)

// AuthorizeScheduled places the hold for a payment whose authorization window
// has opened. Called by the auth worker for each due booking.
func (s *Service) AuthorizeScheduled(ctx context.Context, bookingID string) error {
	return s.withBookingLock(ctx, bookingID, func(ctx context.Context) error {
		now := s.clock.Now()
		actor := domain.SystemActor()

		var (
			snap        authSnapshot
			needsAuth   bool
			creditsOnly *domain.Booking
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
			if p.Status != domain.PaymentStatusScheduled || !b.IsActive() {
				return nil
			}
			if p.AuthScheduledFor == nil || p.AuthScheduledFor.After(now) {
				return nil
			}

			if p.AmountCents-p.CreditsReservedCents <= 0 {
				if err := domain.CheckPaymentTransition(p.Status, domain.PaymentStatusAuthorized); err != nil {
					return err
				}
				p.MarkAuthorized("", now)
				if err := s.payments.Update(ctx, p); err != nil {
					return err
				}
				if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, domain.EventAuthSucceededCreditsOnly, actor, now).
					WithAmount(p.CreditsReservedCents)); err != nil {
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
					creditsOnly = b
				}
				return nil
			}

			snap, err = s.snapshotForAuth(ctx, b, p)
			if err != nil {
				return err
			}
			needsAuth = true
			return nil
		})
		if err != nil {
			return err
		}
		if creditsOnly != nil {
			s.noteAuthSuccess(now)
			if nerr := s.notifier.BookingConfirmed(ctx, creditsOnly); nerr != nil {
				s.log.Warn("confirmation notification failed",
					zap.String("booking_id", bookingID), zap.Error(nerr))
			}
		}
		if !needsAuth {
			return nil
		}
		return s.performAuth(ctx, actor, bookingID, snap, authInitial)
	})
}

// RetryFailedAuthorization drives one booking through the retry schedule:
// backoff waits of 1h, 4h, then 8h between attempts, a final warning in the
// hour before the cutoff, and abandonment once the cutoff passes.
func (s *Service) RetryFailedAuthorization(ctx context.Context, bookingID string) error {
	return s.withBookingLock(ctx, bookingID, func(ctx context.Context) error {
		actor := domain.SystemActor()

		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		p, err := s.payments.GetByBookingID(ctx, bookingID)
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentStatusMethodRequired || p.InCaptureRetry() || !b.IsActive() {
			return nil
		}

		hoursUntil := s.clock.HoursUntil(b.StartUTC)

		if hoursUntil <= s.cfg.AuthAbandonCutoff.Hours() {
			if err := s.releaseAndCancel(ctx, actor, domain.RoleSystem, bookingID,
				"authorization_abandoned", domain.OutcomeStudentCancelGt24NoCharge,
				domain.EventAuthAbandoned); err != nil {
				return err
			}
			s.metrics.RecordAbandon(ctx)
			if nerr := s.notifier.AuthAbandoned(ctx, b); nerr != nil {
				s.log.Warn("abandonment notification failed",
					zap.String("booking_id", bookingID), zap.Error(nerr))
			}
			return nil
		}

		if hoursUntil <= s.cfg.FinalWarningWindowHigh.Hours() && p.FinalWarningEmailSentAt == nil {
			if err := s.sendFinalWarning(ctx, b, bookingID); err != nil {
				return err
			}
		}

		if !s.authRetryEligible(p) {
			return nil
		}

		snap, err := s.snapshotForAuth(ctx, b, p)
		if err != nil {
			return err
		}
		return s.performAuth(ctx, actor, bookingID, snap, authRetry)
	})
}

// authRetryEligible applies the backoff schedule to the last attempt
func (s *Service) authRetryEligible(p *domain.BookingPayment) bool {
	if p.AuthAttemptedAt == nil || p.AuthFailureCount == 0 {
		return true
	}
	var wait time.Duration
	switch {
	case p.AuthFailureCount == 1:
		wait = time.Hour
	case p.AuthFailureCount == 2:
		wait = 4 * time.Hour
	default:
		wait = 8 * time.Hour
	}
	return s.clock.HoursSince(*p.AuthAttemptedAt) >= wait.Hours()
}

func (s *Service) sendFinalWarning(ctx context.Context, b *domain.Booking, bookingID string) error {
	now := s.clock.Now()
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetByBookingIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if p.FinalWarningEmailSentAt != nil {
			return nil
		}
		p.FinalWarningEmailSentAt = &now
		p.UpdatedAt = now
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}
		return s.appendEvent(ctx, domain.NewPaymentEvent(bookingID, domain.EventFinalWarningSent, domain.SystemActor(), now))
	})
	if err != nil {
		return err
	}
	if nerr := s.notifier.AuthFinalWarning(ctx, b); nerr != nil {
		s.log.Warn("final warning notification failed",
			zap.String("booking_id", bookingID), zap.Error(nerr))
	}
	return nil
}

// AutoCompleteAndCapture completes a confirmed booking whose lesson ended a
// full capture delay ago without the instructor marking it, then captures.
func (s *Service) AutoCompleteAndCapture(ctx context.Context, bookingID string) error {
	return s.withBookingLock(ctx, bookingID, func(ctx context.Context) error {
		now := s.clock.Now()
		actor := domain.SystemActor()

		completed := false
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			b, err := s.bookings.GetForUpdate(ctx, bookingID)
			if err != nil {
				return err
			}
			if b.Status != domain.BookingStatusConfirmed {
				return nil
			}
			if b.EndUTC.After(now.Add(-s.cfg.CaptureDelay)) {
				return nil
			}
			// Backdate completion to the lesson end, not to when the worker ran
			b.Complete(b.EndUTC, now)
			if err := s.bookings.Update(ctx, b); err != nil {
				return err
			}
			if s.cfg.MilestoneCreditCents > 0 {
				if err := s.credits.Grant(ctx, b.StudentID, b.ID, s.cfg.MilestoneCreditCents, "lesson_milestone", now); err != nil {
					return err
				}
				if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, domain.EventCreditsGranted, actor, now).
					WithAmount(s.cfg.MilestoneCreditCents)); err != nil {
					return err
				}
			}
			if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, domain.EventAutoCompleted, actor, now)); err != nil {
				return err
			}
			if err := s.enqueueOutbox(ctx, domain.OutboxBookingCompleted, b, b, now); err != nil {
				return err
			}
			completed = true
			return nil
		})
		if err != nil {
			return err
		}
		if !completed {
			return nil
		}
		return s.captureLocked(ctx, actor, bookingID, "completed")
	})
}

// CaptureCompleted captures the hold for a booking the instructor already
// marked complete, once the post-lesson delay has passed.
func (s *Service) CaptureCompleted(ctx context.Context, bookingID string) error {
	return s.withBookingLock(ctx, bookingID, func(ctx context.Context) error {
		return s.captureLocked(ctx, domain.SystemActor(), bookingID, "completed")
	})
}

// captureLocked runs one capture attempt. The caller holds the booking lock.
func (s *Service) captureLocked(ctx context.Context, actor domain.Actor, bookingID, reason string) error {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	p, err := s.payments.GetByBookingID(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.Status != domain.BookingStatusCompleted {
		return nil
	}

	// Locked-funds successors settle through the parent's held authorization
	if b.HasLockedFunds && b.RescheduledFromBookingID != "" && p.PaymentIntentID == "" {
		if p.Status != domain.PaymentStatusScheduled {
			return nil
		}
		return s.settleThroughLockedFunds(ctx, actor, b, p)
	}

	if p.Status != domain.PaymentStatusAuthorized {
		return nil
	}
	intentID := p.PaymentIntentID

	_, capErr := s.psp.CaptureAuth(ctx, psp.CaptureRequest{
		IntentID:       intentID,
		IdempotencyKey: psp.CaptureKey(reason, bookingID, intentID),
	})
	switch {
	case capErr == nil:
		return s.finishCaptureSuccess(ctx, actor, bookingID, intentID, domain.EventPaymentCaptured)
	case psp.IsClass(capErr, psp.ClassAlreadyCaptured):
		return s.finishCaptureSuccess(ctx, actor, bookingID, intentID, domain.EventCaptureAlreadyDone)
	case psp.IsClass(capErr, psp.ClassAuthExpired):
		if err := s.appendEvent(ctx, domain.NewPaymentEvent(bookingID, domain.EventCaptureFailedExpired, actor, s.clock.Now()).
			WithRef(intentID)); err != nil {
			return err
		}
		return s.reauthAndCapture(ctx, actor, b, p)
	case psp.IsClass(capErr, psp.ClassCardDeclined):
		return s.failCapture(ctx, actor, bookingID, domain.EventCaptureFailedCard, string(psp.ClassCardDeclined))
	default:
		return s.failCapture(ctx, actor, bookingID, domain.EventCaptureFailed, string(psp.ClassOf(capErr)))
	}
}

// settleThroughLockedFunds captures the parent's locked hold for a completed
// successor lesson and settles the successor's payment from the proceeds.
func (s *Service) settleThroughLockedFunds(ctx context.Context, actor domain.Actor, b *domain.Booking, p *domain.BookingPayment) error {
	capturedCents, parentIntent, err := s.resolveLockedFunds(ctx, b.RescheduledFromBookingID, LockReasonNewLessonCompleted)
	if err != nil {
		return err
	}
	if capturedCents == 0 {
		s.log.Error("locked funds capture came back empty, settling lesson without proceeds",
			zap.String("booking_id", b.ID),
			zap.String("parent_booking_id", b.RescheduledFromBookingID),
		)
	}

	now := s.clock.Now()
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetByBookingIDForUpdate(ctx, b.ID)
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentStatusScheduled {
			return nil
		}
		if err := domain.CheckPaymentTransition(p.Status, domain.PaymentStatusSettled); err != nil {
			return err
		}
		p.MarkCaptured(now)
		p.Settle(domain.OutcomeLessonCompletedFullPayout, now)
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, domain.EventPaymentCaptured, actor, now).
			WithRef(parentIntent).WithAmount(capturedCents).
			WithDetail("source", "locked_funds")); err != nil {
			return err
		}
		if err := s.enqueueOutbox(ctx, domain.OutboxPaymentCaptured, b, p, now); err != nil {
			return err
		}
		s.metrics.RecordCapture(ctx, "locked_funds")
		return nil
	})
}

// finishCaptureSuccess settles a captured payment with full instructor payout
func (s *Service) finishCaptureSuccess(ctx context.Context, actor domain.Actor, bookingID, intentID string, eventType domain.EventType) error {
	now := s.clock.Now()
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		p, err := s.payments.GetByBookingIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if p.Status == domain.PaymentStatusSettled {
			return nil
		}
		if p.Status != domain.PaymentStatusAuthorized && !p.InCaptureRetry() {
			return fmt.Errorf("payment moved to %s: %w", p.Status, domain.ErrConcurrencyLost)
		}
		if err := domain.CheckPaymentTransition(p.Status, domain.PaymentStatusSettled); err != nil {
			return err
		}

		if intentID != "" {
			p.PaymentIntentID = intentID
		}
		p.MarkCaptured(now)
		p.Settle(domain.OutcomeLessonCompletedFullPayout, now)
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}
		if p.CreditsReservedCents > 0 {
			if err := s.credits.Forfeit(ctx, b.StudentID, b.ID, p.CreditsReservedCents, now); err != nil {
				return err
			}
		}
		if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, eventType, actor, now).
			WithRef(intentID).WithAmount(p.AmountCents-p.CreditsReservedCents)); err != nil {
			return err
		}
		if err := s.enqueueOutbox(ctx, domain.OutboxPaymentCaptured, b, p, now); err != nil {
			return err
		}
		s.recordAudit(ctx, actor, "payment.capture", "payment", p.ID, now)
		s.metrics.RecordCapture(ctx, "success")
		return nil
	})
}

// failCapture records a failed capture and drops the payment back to
// payment_method_required for the retry schedule.
func (s *Service) failCapture(ctx context.Context, actor domain.Actor, bookingID string, eventType domain.EventType, reason string) error {
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
		if p.Status != domain.PaymentStatusAuthorized && !p.InCaptureRetry() {
			return fmt.Errorf("payment moved to %s: %w", p.Status, domain.ErrConcurrencyLost)
		}
		firstFailure = p.CaptureFailedAt == nil
		p.MarkCaptureFailed(now, reason)
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, eventType, actor, now).
			WithRef(p.PaymentIntentID).WithDetail("error", reason).
			WithDetail("retry_count", p.CaptureRetryCount)); err != nil {
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
	s.metrics.RecordCapture(ctx, "failed")
	if firstFailure && failed != nil {
		if nerr := s.notifier.CaptureFailed(ctx, failed); nerr != nil {
			s.log.Warn("capture failure notification failed",
				zap.String("booking_id", bookingID), zap.Error(nerr))
		}
	}
	return nil
}

// reauthAndCapture places a fresh hold after the original expired, then
// captures it immediately.
func (s *Service) reauthAndCapture(ctx context.Context, actor domain.Actor, b *domain.Booking, p *domain.BookingPayment) error {
	snap, err := s.snapshotForAuth(ctx, b, p)
	if err != nil {
		return err
	}
	oldIntent := p.PaymentIntentID

	intent, err := s.psp.CreateOrRetryAuth(ctx, psp.AuthRequest{
		CustomerID:           snap.customerID,
		PaymentMethodID:      snap.methodID,
		AmountCents:          snap.cardChargeCents,
		ApplicationFeeCents:  snap.feeCents,
		DestinationAccountID: snap.destination,
		Currency:             "usd",
		BookingID:            b.ID,
		IdempotencyKey:       psp.ReauthKey(b.ID, oldIntent),
	})
	if err != nil {
		if psp.IsRetryable(err) {
			return fmt.Errorf("reauthorize booking %s: %w", b.ID, err)
		}
		return s.failCapture(ctx, actor, b.ID, domain.EventReauthAndCaptureFailed, string(psp.ClassOf(err)))
	}
	if intent.Status != psp.IntentRequiresCapture && intent.Status != psp.IntentSucceeded {
		return s.failCapture(ctx, actor, b.ID, domain.EventReauthAndCaptureFailed, "requires_action")
	}

	if _, err := s.psp.CaptureAuth(ctx, psp.CaptureRequest{
		IntentID:       intent.ID,
		IdempotencyKey: psp.ReauthCaptureKey(b.ID, intent.ID),
	}); err != nil && !psp.IsClass(err, psp.ClassAlreadyCaptured) {
		if psp.IsRetryable(err) {
			return fmt.Errorf("capture after reauth for booking %s: %w", b.ID, err)
		}
		return s.failCapture(ctx, actor, b.ID, domain.EventReauthAndCaptureFailed, string(psp.ClassOf(err)))
	}

	return s.finishCaptureSuccess(ctx, actor, b.ID, intent.ID, domain.EventReauthAndCaptureSuccess)
}

// HandleAgedAuthorization deals with a hold approaching the PSP's validity
// limit: capture it if the lesson is already complete, otherwise drop the
// payment back to payment_method_required for re-authorization.
func (s *Service) HandleAgedAuthorization(ctx context.Context, bookingID string) error {
	return s.withBookingLock(ctx, bookingID, func(ctx context.Context) error {
		now := s.clock.Now()
		actor := domain.SystemActor()

		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		p, err := s.payments.GetByBookingID(ctx, bookingID)
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentStatusAuthorized {
			return nil
		}
		expiresAt := p.AuthExpiresAt(s.cfg.AuthValidity)
		if expiresAt.IsZero() || expiresAt.After(now) {
			return nil
		}

		if b.Status == domain.BookingStatusCompleted {
			return s.captureLocked(ctx, actor, bookingID, "completed")
		}
		if !b.IsActive() {
			return nil
		}

		// Expiry is judged from local timestamps. A hold the provider already
		// settled gets recorded as captured instead of being reset.
		if intent, ierr := s.psp.GetIntent(ctx, p.PaymentIntentID); ierr == nil && intent.Status == psp.IntentSucceeded {
			return s.finishCaptureSuccess(ctx, actor, bookingID, p.PaymentIntentID, domain.EventCaptureAlreadyDone)
		}

		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			p, err := s.payments.GetByBookingIDForUpdate(ctx, bookingID)
			if err != nil {
				return err
			}
			if p.Status != domain.PaymentStatusAuthorized {
				return nil
			}
			oldIntent := p.PaymentIntentID
			if err := domain.CheckPaymentTransition(p.Status, domain.PaymentStatusMethodRequired); err != nil {
				return err
			}
			p.MarkAuthFailed(now, "auth_expired")
			if err := s.payments.Update(ctx, p); err != nil {
				return err
			}
			if err := s.appendEvent(ctx, domain.NewPaymentEvent(bookingID, domain.EventAuthExpired, actor, now).
				WithRef(oldIntent)); err != nil {
				return err
			}
			return s.enqueueOutbox(ctx, domain.OutboxPaymentFailed, b, p, now)
		})
	})
}

// RetryFailedCapture drives one payment through the capture retry schedule,
// escalating to manual review once the escalation window elapses.
func (s *Service) RetryFailedCapture(ctx context.Context, bookingID string) error {
	return s.withBookingLock(ctx, bookingID, func(ctx context.Context) error {
		now := s.clock.Now()
		actor := domain.SystemActor()

		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		p, err := s.payments.GetByBookingID(ctx, bookingID)
		if err != nil {
			return err
		}
		if !p.InCaptureRetry() {
			return nil
		}

		if now.Sub(*p.CaptureFailedAt) >= s.cfg.CaptureEscalationAfter {
			return s.escalateCaptureFailure(ctx, b, p)
		}

		nextAttemptAt := p.CaptureFailedAt.Add(time.Duration(p.CaptureRetryCount) * s.cfg.CaptureRetryInterval)
		if now.Before(nextAttemptAt) {
			return nil
		}

		intentID := p.PaymentIntentID
		if intentID == "" {
			return s.failCapture(ctx, actor, bookingID, domain.EventCaptureFailed, "missing_intent")
		}

		_, capErr := s.psp.CaptureAuth(ctx, psp.CaptureRequest{
			IntentID:       intentID,
			IdempotencyKey: psp.CaptureKey(fmt.Sprintf("retry%d", p.CaptureRetryCount), bookingID, intentID),
		})
		switch {
		case capErr == nil:
			return s.finishRetriedCapture(ctx, actor, b, intentID, domain.EventPaymentCaptured)
		case psp.IsClass(capErr, psp.ClassAlreadyCaptured):
			return s.finishRetriedCapture(ctx, actor, b, intentID, domain.EventCaptureAlreadyDone)
		case psp.IsClass(capErr, psp.ClassAuthExpired):
			if err := s.appendEvent(ctx, domain.NewPaymentEvent(bookingID, domain.EventCaptureFailedExpired, actor, now).
				WithRef(intentID)); err != nil {
				return err
			}
			if b.Status == domain.BookingStatusCompleted {
				return s.reauthAndCapture(ctx, actor, b, p)
			}
			return s.failCapture(ctx, actor, bookingID, domain.EventCaptureFailedExpired, string(psp.ClassAuthExpired))
		case psp.IsClass(capErr, psp.ClassCardDeclined):
			return s.failCapture(ctx, actor, bookingID, domain.EventCaptureFailedCard, string(psp.ClassCardDeclined))
		default:
			return s.failCapture(ctx, actor, bookingID, domain.EventCaptureFailed, string(psp.ClassOf(capErr)))
		}
	})
}

// finishRetriedCapture settles a capture that finally landed, honoring the
// settlement branch the booking status demands.
func (s *Service) finishRetriedCapture(ctx context.Context, actor domain.Actor, b *domain.Booking, intentID string, eventType domain.EventType) error {
	switch b.Status {
	case domain.BookingStatusCancelled:
		return s.settleLateCancelRetry(ctx, actor, b, intentID)
	case domain.BookingStatusNoShow:
		return s.settleCapturedNoShow(ctx, actor, b.ID, intentID)
	default:
		return s.finishCaptureSuccess(ctx, actor, b.ID, intentID, eventType)
	}
}

// settleLateCancelRetry applies the late-cancellation split once the capture
// that failed during the cancellation finally succeeds.
func (s *Service) settleLateCancelRetry(ctx context.Context, actor domain.Actor, b *domain.Booking, intentID string) error {
	now := s.clock.Now()
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		booking, err := s.bookings.GetForUpdate(ctx, b.ID)
		if err != nil {
			return err
		}
		p, err := s.payments.GetByBookingIDForUpdate(ctx, b.ID)
		if err != nil {
			return err
		}
		if p.Status == domain.PaymentStatusSettled {
			return nil
		}
		if !p.InCaptureRetry() {
			return fmt.Errorf("payment moved to %s: %w", p.Status, domain.ErrConcurrencyLost)
		}
		if err := domain.CheckPaymentTransition(p.Status, domain.PaymentStatusSettled); err != nil {
			return err
		}

		split := s.pricing.LateCancelSplit(p.AmountCents)
		booking.StudentCreditCents = split.StudentCreditCents
		booking.UpdatedAt = now
		p.MarkCaptured(now)
		p.InstructorPayoutCents = split.InstructorPayoutCents
		p.PlatformFeeCents = split.PlatformFeeCents
		p.Settle(domain.OutcomeStudentCancelLt12Split, now)

		if err := s.bookings.Update(ctx, booking); err != nil {
			return err
		}
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}
		if p.CreditsReservedCents > 0 {
			if err := s.credits.Forfeit(ctx, booking.StudentID, booking.ID, p.CreditsReservedCents, now); err != nil {
				return err
			}
		}
		if split.StudentCreditCents > 0 {
			if err := s.credits.Grant(ctx, booking.StudentID, booking.ID, split.StudentCreditCents, "late_cancellation", now); err != nil {
				return err
			}
			if err := s.appendEvent(ctx, domain.NewPaymentEvent(booking.ID, domain.EventCreditsGranted, actor, now).
				WithAmount(split.StudentCreditCents)); err != nil {
				return err
			}
		}
		if err := s.appendEvent(ctx, domain.NewPaymentEvent(booking.ID, domain.EventLateCancellationCaptured, actor, now).
			WithRef(intentID).WithAmount(p.AmountCents-p.CreditsReservedCents)); err != nil {
			return err
		}
		if err := s.enqueueOutbox(ctx, domain.OutboxPaymentCaptured, booking, p, now); err != nil {
			return err
		}
		s.metrics.RecordCapture(ctx, "late_cancel")
		return nil
	})
}

// escalateCaptureFailure gives up on the student's card: the instructor is
// paid manually from the platform balance, the payment goes to manual review,
// and the student's account is locked until the debt is cleared.
func (s *Service) escalateCaptureFailure(ctx context.Context, b *domain.Booking, p *domain.BookingPayment) error {
	now := s.clock.Now()
	actor := domain.SystemActor()

	profile, err := s.instructors.GetProfile(ctx, b.InstructorID)
	if err != nil {
		return fmt.Errorf("load instructor profile: %w", err)
	}

	payoutCents := p.InstructorPayoutCents
	var (
		transferID  string
		transferErr error
	)
	if profile.ConnectedAccountID != "" && payoutCents > 0 {
		res, terr := s.psp.ManualTransfer(ctx, psp.TransferRequest{
			DestinationAccountID: profile.ConnectedAccountID,
			AmountCents:          payoutCents,
			Currency:             "usd",
			BookingID:            b.ID,
			IdempotencyKey:       psp.CaptureFailurePayoutKey(b.ID),
		})
		if terr != nil {
			transferErr = terr
			s.log.Error("manual instructor transfer failed",
				zap.String("booking_id", b.ID),
				zap.String("instructor_id", b.InstructorID),
				zap.Error(terr),
			)
		} else {
			transferID = res.TransferID
		}
	} else {
		transferErr = fmt.Errorf("no connected account for instructor %s", b.InstructorID)
	}

	var escalated *domain.Booking
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		booking, err := s.bookings.GetForUpdate(ctx, b.ID)
		if err != nil {
			return err
		}
		p, err := s.payments.GetByBookingIDForUpdate(ctx, b.ID)
		if err != nil {
			return err
		}
		if !p.InCaptureRetry() {
			return nil
		}
		if err := domain.CheckPaymentTransition(p.Status, domain.PaymentStatusManualReview); err != nil {
			return err
		}

		p.Escalate(now)
		if transferErr == nil {
			p.SettlementOutcome = domain.OutcomeCaptureFailureInstructorPaid
		} else {
			p.SettlementOutcome = domain.OutcomeCaptureFailureEscalated
		}
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}

		transfer := domain.NewTransfer(booking.ID, booking.InstructorID, payoutCents, domain.TransferReasonCaptureFailureCover, now)
		if transferErr == nil {
			transfer.Complete(transferID, now)
		} else {
			transfer.Fail(transferErr.Error())
		}
		if err := s.transfers.Create(ctx, transfer); err != nil {
			return fmt.Errorf("record transfer: %w", err)
		}

		if err := s.users.LockStudentAccount(ctx, booking.StudentID, "capture_failure_escalated:"+booking.ID); err != nil {
			return fmt.Errorf("lock student account: %w", err)
		}

		if err := s.appendEvent(ctx, domain.NewPaymentEvent(booking.ID, domain.EventCaptureFailureEscalated, actor, now).
			WithDetail("instructor_paid", transferErr == nil).
			WithDetail("retry_count", p.CaptureRetryCount)); err != nil {
			return err
		}
		if transferErr == nil {
			if err := s.appendEvent(ctx, domain.NewPaymentEvent(booking.ID, domain.EventPayoutTransferred, actor, now).
				WithRef(transferID).WithAmount(payoutCents)); err != nil {
				return err
			}
		}
		if err := s.enqueueOutbox(ctx, domain.OutboxPaymentEscalated, booking, p, now); err != nil {
			return err
		}
		s.recordAudit(ctx, actor, "payment.escalate", "payment", p.ID, now)
		escalated = booking
		return nil
	})
	if err != nil {
		return err
	}
	if escalated == nil {
		return nil
	}

	s.metrics.RecordEscalation(ctx)
	if nerr := s.notifier.CaptureEscalated(ctx, escalated); nerr != nil {
		s.log.Warn("escalation notification failed",
			zap.String("booking_id", b.ID), zap.Error(nerr))
	}
	return nil
}

// CheckImmediateAuthTimeout abandons a pending immediate booking whose
// student never produced a working payment method within the timeout.
func (s *Service) CheckImmediateAuthTimeout(ctx context.Context, bookingID string) error {
	return s.withBookingLock(ctx, bookingID, func(ctx context.Context) error {
		now := s.clock.Now()

		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != domain.BookingStatusPending {
			return nil
		}
		// Only immediate bookings time out; scheduled ones wait for their window
		if b.StartUTC.Sub(b.CreatedAt) > s.cfg.AuthLeadTime {
			return nil
		}
		if now.Sub(b.CreatedAt) < s.cfg.ImmediateAuthTimeout {
			return nil
		}
		p, err := s.payments.GetByBookingID(ctx, bookingID)
		if err != nil {
			return err
		}
		if p.InCaptureRetry() ||
			(p.Status != domain.PaymentStatusScheduled && p.Status != domain.PaymentStatusMethodRequired) {
			return nil
		}

		if err := s.releaseAndCancel(ctx, domain.SystemActor(), domain.RoleSystem, bookingID,
			"authorization_timeout", domain.OutcomeStudentCancelGt24NoCharge,
			domain.EventAuthAbandoned); err != nil {
			return err
		}
		s.metrics.RecordAbandon(ctx)
		if nerr := s.notifier.AuthAbandoned(ctx, b); nerr != nil {
			s.log.Warn("abandonment notification failed",
				zap.String("booking_id", bookingID), zap.Error(nerr))
		}
		return nil
	})
}

// AuditPayoutSchedules walks every connected account and pins its payout
// cadence to the platform standard. Drift happens when accounts are touched
// in the provider dashboard.
func (s *Service) AuditPayoutSchedules(ctx context.Context) error {
	schedule := psp.PayoutSchedule{Interval: "weekly", WeeklyDay: "tuesday"}
	afterID := ""
	for {
		page, err := s.instructors.ListConnectedAccounts(ctx, afterID, 100)
		if err != nil {
			return fmt.Errorf("list connected accounts: %w", err)
		}
		if len(page) == 0 {
			return nil
		}
		for _, profile := range page {
			afterID = profile.UserID
			if profile.ConnectedAccountID == "" {
				continue
			}
			if err := s.psp.SetPayoutSchedule(ctx, profile.ConnectedAccountID, schedule); err != nil {
				s.log.Error("payout schedule update failed",
					zap.String("instructor_id", profile.UserID),
					zap.String("account_id", profile.ConnectedAccountID),
					zap.Error(err),
				)
			}
		}
	}
}

// HealthStatus summarizes the authorization pipeline's health
type HealthStatus struct {
	Healthy               bool       `json:"healthy"`
	OverdueAuthorizations int64      `json:"overdue_authorizations"`
	LastAuthSuccess       *time.Time `json:"last_auth_success,omitempty"`
}

// AuthorizationHealth reports whether scheduled authorizations are keeping up
func (s *Service) AuthorizationHealth(ctx context.Context) (HealthStatus, error) {
	now := s.clock.Now()
	overdue, err := s.payments.CountAuthOverdue(ctx, now)
	if err != nil {
		return HealthStatus{}, err
	}

	status := HealthStatus{Healthy: overdue <= 5, OverdueAuthorizations: overdue}
	if last := s.lastAuthSuccess.Load(); last > 0 {
		t := time.Unix(last, 0).UTC()
		status.LastAuthSuccess = &t
		if overdue > 0 && now.Sub(t) > 120*time.Minute {
			status.Healthy = false
		}
	}
	if !status.Healthy {
		s.log.Warn("authorization pipeline unhealthy",
			zap.Int64("overdue", overdue))
	}
	return status, nil
}
