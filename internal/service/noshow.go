package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/msaedi/instructly-sub006/internal/domain"
	"github.com/msaedi/instructly-sub006/internal/psp"
)

// MarkNoShow files a no-show report once the lesson has started. The booking
// stays confirmed; settlement waits for the dispute window or an admin.
func (s *Service) MarkNoShow(ctx context.Context, actor domain.Actor, bookingID string, nsType domain.NoShowType, details string) (*domain.NoShowReport, error) {
	var report *domain.NoShowReport
	err := s.withBookingLock(ctx, bookingID, func(ctx context.Context) error {
		now := s.clock.Now()
		var reported *domain.Booking

		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			b, err := s.bookings.GetForUpdate(ctx, bookingID)
			if err != nil {
				return err
			}
			if b.Status != domain.BookingStatusConfirmed {
				return fmt.Errorf("booking %s: %w", b.Status, domain.ErrInvalidTransition)
			}
			if now.Before(b.StartUTC) {
				return fmt.Errorf("booking %s: %w", bookingID, domain.ErrLessonNotStarted)
			}
			role, err := domain.CheckReportActor(actor, b, nsType)
			if err != nil {
				return err
			}
			if existing, err := s.noShows.GetOpenByBookingID(ctx, bookingID); err != nil {
				if !errors.Is(err, domain.ErrReportNotFound) {
					return err
				}
			} else if existing != nil {
				return domain.ErrReportAlreadyFiled
			}

			report = domain.NewNoShowReport(bookingID, nsType, actor, role, details, now)
			if err := s.noShows.Create(ctx, report); err != nil {
				return fmt.Errorf("create no-show report: %w", err)
			}
			if err := s.appendEvent(ctx, domain.NewPaymentEvent(bookingID, domain.EventNoShowReported, actor, now).
				WithDetail("type", string(nsType))); err != nil {
				return err
			}
			s.recordAudit(ctx, actor, "noshow.report", "booking", bookingID, now)
			reported = b
			return nil
		})
		if err != nil {
			return err
		}

		if nerr := s.notifier.NoShowReported(ctx, reported, report); nerr != nil {
			s.log.Warn("no-show notification failed",
				zap.String("booking_id", bookingID), zap.Error(nerr))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// DisputeNoShow records the counterparty's objection inside the dispute
// window. Disputed reports never auto-resolve; an admin settles them.
func (s *Service) DisputeNoShow(ctx context.Context, actor domain.Actor, bookingID, details string) error {
	now := s.clock.Now()
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		report, err := s.noShows.GetOpenByBookingID(ctx, bookingID)
		if err != nil {
			return err
		}
		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := domain.CheckDisputeActor(actor, b, report); err != nil {
			return err
		}
		if report.Disputed {
			return nil
		}
		if now.After(report.ReportedAt.Add(s.cfg.NoShowResolveAfter)) {
			return domain.ErrDisputeWindowClosed
		}

		report.Dispute(now, details)
		if err := s.noShows.Update(ctx, report); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, domain.NewPaymentEvent(bookingID, domain.EventNoShowDisputed, actor, now)); err != nil {
			return err
		}
		s.recordAudit(ctx, actor, "noshow.dispute", "booking", bookingID, now)
		return nil
	})
}

// ResolveNoShow settles an open report. Charged upholds a student no-show by
// capturing the hold for the instructor; released drops the hold; dismissed
// rejects the report and leaves the booking confirmed.
func (s *Service) ResolveNoShow(ctx context.Context, actor domain.Actor, bookingID string, resolution domain.NoShowResolution) error {
	if !actor.IsAdmin() {
		return domain.ErrForbidden
	}
	return s.withBookingLock(ctx, bookingID, func(ctx context.Context) error {
		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		report, err := s.noShows.GetOpenByBookingID(ctx, bookingID)
		if err != nil {
			return err
		}

		if resolution == domain.NoShowResolvedDismissed {
			return s.dismissNoShow(ctx, actor, b, report)
		}

		p, err := s.payments.GetByBookingID(ctx, bookingID)
		if err != nil {
			return err
		}

		// Charged only makes sense against the student; a charged resolution
		// of an instructor or mutual report still releases the hold.
		capture := resolution == domain.NoShowResolvedCharged && report.Type == domain.NoShowStudent
		outcome := domain.OutcomeInstructorNoShow
		if capture {
			outcome = domain.OutcomeStudentNoShow
		}

		resolved, err := s.settleNoShow(ctx, actor, b, p, report, resolution, capture, outcome)
		if err != nil {
			return err
		}
		if resolved {
			if nerr := s.notifier.NoShowResolved(ctx, b, report); nerr != nil {
				s.log.Warn("no-show resolution notification failed",
					zap.String("booking_id", bookingID), zap.Error(nerr))
			}
		}
		return nil
	})
}

// AutoResolveNoShow upholds an undisputed report after the dispute window:
// a student no-show charges the student, anything else releases the hold.
func (s *Service) AutoResolveNoShow(ctx context.Context, report *domain.NoShowReport) error {
	resolution := domain.NoShowResolvedReleased
	if report.Type == domain.NoShowStudent {
		resolution = domain.NoShowResolvedCharged
	}
	return s.ResolveNoShow(ctx, domain.SystemActor(), report.BookingID, resolution)
}

func (s *Service) dismissNoShow(ctx context.Context, actor domain.Actor, b *domain.Booking, report *domain.NoShowReport) error {
	now := s.clock.Now()
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		report, err := s.noShows.GetByID(ctx, report.ID)
		if err != nil {
			return err
		}
		if !report.IsOpen() {
			return domain.ErrReportAlreadyResolved
		}
		report.Resolve(domain.NoShowResolvedDismissed, actor.UserID, now)
		if err := s.noShows.Update(ctx, report); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, domain.EventNoShowResolved, actor, now).
			WithDetail("resolution", string(domain.NoShowResolvedDismissed))); err != nil {
			return err
		}
		s.recordAudit(ctx, actor, "noshow.resolve", "booking", b.ID, now)
		return nil
	})
}

// settleNoShow moves the booking to no_show and settles the payment. Capture
// failures do not block the status change; the retry worker chases the money
// against the already-no_show booking.
func (s *Service) settleNoShow(ctx context.Context, actor domain.Actor, b *domain.Booking, p *domain.BookingPayment, report *domain.NoShowReport, resolution domain.NoShowResolution, capture bool, outcome domain.SettlementOutcome) (bool, error) {
	now := s.clock.Now()

	// Locked-funds successors settle through the parent's held authorization
	if b.HasLockedFunds && b.RescheduledFromBookingID != "" && p.PaymentIntentID == "" {
		reason := LockReasonMutualNoShow
		if capture {
			reason = LockReasonStudentNoShow
		}
		if _, _, err := s.resolveLockedFunds(ctx, b.RescheduledFromBookingID, reason); err != nil {
			return false, err
		}
	}

	captured := false
	captureFailed := ""
	intentID := p.PaymentIntentID

	if intentID != "" && p.Status == domain.PaymentStatusAuthorized {
		if capture {
			_, err := s.psp.CaptureAuth(ctx, psp.CaptureRequest{
				IntentID:       intentID,
				IdempotencyKey: psp.CaptureKey("no_show", b.ID, intentID),
			})
			switch {
			case err == nil, psp.IsClass(err, psp.ClassAlreadyCaptured):
				captured = true
			case psp.IsRetryable(err):
				return false, fmt.Errorf("capture no-show hold for booking %s: %w", b.ID, err)
			default:
				captureFailed = string(psp.ClassOf(err))
			}
		} else {
			err := s.psp.CancelAuth(ctx, intentID, psp.CancelKey(b.ID, intentID))
			if err != nil && !psp.IsClass(err, psp.ClassInvalidState) && !psp.IsClass(err, psp.ClassAuthExpired) {
				return false, fmt.Errorf("release no-show hold for booking %s: %w", b.ID, err)
			}
		}
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		booking, err := s.bookings.GetForUpdate(ctx, b.ID)
		if err != nil {
			return err
		}
		if err := domain.CheckBookingTransition(booking.Status, domain.BookingStatusNoShow); err != nil {
			return err
		}
		pp, err := s.payments.GetByBookingIDForUpdate(ctx, b.ID)
		if err != nil {
			return err
		}
		rep, err := s.noShows.GetByID(ctx, report.ID)
		if err != nil {
			return err
		}
		if !rep.IsOpen() {
			return domain.ErrReportAlreadyResolved
		}

		booking.MarkNoShow(now)
		if !captured && captureFailed == "" && intentID != "" && !pp.Status.IsTerminal() {
			booking.RefundedToCardCents = pp.AmountCents - pp.CreditsReservedCents
		}
		if err := s.bookings.Update(ctx, booking); err != nil {
			return err
		}

		switch {
		case captured:
			settlement := s.pricing.StudentNoShowSettlement(pp.AmountCents)
			pp.MarkCaptured(now)
			pp.InstructorPayoutCents = settlement.InstructorPayoutCents
			pp.PlatformFeeCents = settlement.PlatformFeeCents
			pp.Settle(outcome, now)
			if pp.CreditsReservedCents > 0 {
				if err := s.credits.Forfeit(ctx, booking.StudentID, booking.ID, pp.CreditsReservedCents, now); err != nil {
					return err
				}
			}
		case captureFailed != "":
			pp.MarkCaptureFailed(now, captureFailed)
			if err := s.appendEvent(ctx, domain.NewPaymentEvent(booking.ID, domain.EventCaptureFailed, actor, now).
				WithRef(intentID).WithDetail("error", captureFailed)); err != nil {
				return err
			}
		default:
			if !pp.Status.IsTerminal() {
				if err := domain.CheckPaymentTransition(pp.Status, domain.PaymentStatusSettled); err != nil {
					return err
				}
				pp.Settle(outcome, now)
				if pp.CreditsReservedCents > 0 {
					if err := s.credits.Release(ctx, booking.StudentID, booking.ID, pp.CreditsReservedCents, now); err != nil {
						return err
					}
					if err := s.appendEvent(ctx, domain.NewPaymentEvent(booking.ID, domain.EventCreditsReleased, actor, now).
						WithAmount(pp.CreditsReservedCents)); err != nil {
						return err
					}
				}
			}
		}
		if err := s.payments.Update(ctx, pp); err != nil {
			return err
		}

		rep.Resolve(resolution, actor.UserID, now)
		if err := s.noShows.Update(ctx, rep); err != nil {
			return err
		}

		if err := s.appendEvent(ctx, domain.NewPaymentEvent(booking.ID, domain.EventNoShowResolved, actor, now).
			WithDetail("resolution", string(resolution)).
			WithDetail("type", string(rep.Type))); err != nil {
			return err
		}
		if err := s.enqueueOutbox(ctx, domain.OutboxBookingNoShow, booking, booking, now); err != nil {
			return err
		}
		if captured {
			if err := s.enqueueOutbox(ctx, domain.OutboxPaymentCaptured, booking, pp, now); err != nil {
				return err
			}
		}
		s.recordAudit(ctx, actor, "noshow.resolve", "booking", booking.ID, now)
		return nil
	})
	if err != nil {
		return false, err
	}
	if captured {
		s.metrics.RecordCapture(ctx, "no_show")
	}
	return true, nil
}

// settleCapturedNoShow finishes a no-show settlement whose capture only
// succeeded on a later retry.
func (s *Service) settleCapturedNoShow(ctx context.Context, actor domain.Actor, bookingID, intentID string) error {
	now := s.clock.Now()
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
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
		if !p.InCaptureRetry() {
			return fmt.Errorf("payment moved to %s: %w", p.Status, domain.ErrConcurrencyLost)
		}
		if err := domain.CheckPaymentTransition(p.Status, domain.PaymentStatusSettled); err != nil {
			return err
		}

		settlement := s.pricing.StudentNoShowSettlement(p.AmountCents)
		p.MarkCaptured(now)
		p.InstructorPayoutCents = settlement.InstructorPayoutCents
		p.PlatformFeeCents = settlement.PlatformFeeCents
		p.Settle(domain.OutcomeStudentNoShow, now)
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}
		if p.CreditsReservedCents > 0 {
			if err := s.credits.Forfeit(ctx, b.StudentID, b.ID, p.CreditsReservedCents, now); err != nil {
				return err
			}
		}
		if err := s.appendEvent(ctx, domain.NewPaymentEvent(b.ID, domain.EventPaymentCaptured, actor, now).
			WithRef(intentID).WithAmount(p.AmountCents-p.CreditsReservedCents)); err != nil {
			return err
		}
		return s.enqueueOutbox(ctx, domain.OutboxPaymentCaptured, b, p, now)
	})
	if err != nil {
		return err
	}
	s.metrics.RecordCapture(ctx, "no_show")
	return nil
}
