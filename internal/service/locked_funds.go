package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/msaedi/instructly-sub006/internal/domain"
	"github.com/msaedi/instructly-sub006/internal/psp"
)

// LockReason names why locked funds are being resolved. Capture reasons
// settle the parent's hold in the instructor's favor; the rest release it.
type LockReason string

const (
	LockReasonNewLessonCompleted  LockReason = "new_lesson_completed"
	LockReasonInstructorCancelled LockReason = "instructor_cancelled"
	LockReasonStudentNoShow       LockReason = "student_no_show"
	LockReasonMutualNoShow        LockReason = "mutual_no_show"
)

func (r LockReason) captures() bool {
	return r == LockReasonNewLessonCompleted || r == LockReasonStudentNoShow
}

func (r LockReason) outcome() domain.SettlementOutcome {
	switch r {
	case LockReasonNewLessonCompleted:
		return domain.OutcomeLessonCompletedFullPayout
	case LockReasonStudentNoShow:
		return domain.OutcomeStudentNoShow
	case LockReasonInstructorCancelled:
		return domain.OutcomeInstructorCancel
	default:
		return domain.OutcomeInstructorNoShow
	}
}

// ResolveLockedFunds settles the hold a late reschedule parked on the parent
// booking. Lock ordering is always successor before parent, so the two
// per-booking locks cannot deadlock.
func (s *Service) ResolveLockedFunds(ctx context.Context, parentBookingID string, reason LockReason) error {
	_, _, err := s.resolveLockedFunds(ctx, parentBookingID, reason)
	return err
}

// resolveLockedFunds returns how much was captured (zero when released) and
// the parent's intent id, so successor settlement can reference them.
func (s *Service) resolveLockedFunds(ctx context.Context, parentBookingID string, reason LockReason) (int64, string, error) {
	var (
		capturedCents int64
		intentID      string
	)
	err := s.withBookingLock(ctx, parentBookingID, func(ctx context.Context) error {
		now := s.clock.Now()
		actor := domain.SystemActor()

		parent, err := s.bookings.GetByID(ctx, parentBookingID)
		if err != nil {
			return err
		}
		p, err := s.payments.GetByBookingID(ctx, parentBookingID)
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentStatusLocked {
			return nil
		}
		rec, err := s.lockRecords.GetOpenByParentBookingID(ctx, parentBookingID)
		if err != nil {
			if errors.Is(err, domain.ErrLockRecordNotFound) {
				return nil
			}
			return err
		}

		intentID = rec.PaymentIntentID
		if intentID == "" {
			intentID = p.PaymentIntentID
		}

		capture := reason.captures()
		captured := false

		if intentID != "" {
			if capture {
				_, capErr := s.psp.CaptureAuth(ctx, psp.CaptureRequest{
					IntentID:       intentID,
					IdempotencyKey: psp.LockedFundsKey(string(reason), parentBookingID),
				})
				switch {
				case capErr == nil, psp.IsClass(capErr, psp.ClassAlreadyCaptured):
					captured = true
				default:
					// The hold is unusable; release instead of leaving the
					// student's money stuck on a dead authorization.
					s.log.Error("locked funds capture failed, releasing hold",
						zap.String("parent_booking_id", parentBookingID),
						zap.String("reason", string(reason)),
						zap.Error(capErr),
					)
					if cerr := s.psp.CancelAuth(ctx, intentID, psp.CancelKey(parentBookingID, intentID)); cerr != nil &&
						!psp.IsClass(cerr, psp.ClassInvalidState) && !psp.IsClass(cerr, psp.ClassAuthExpired) {
						return fmt.Errorf("release locked hold for booking %s: %w", parentBookingID, cerr)
					}
				}
			} else {
				err := s.psp.CancelAuth(ctx, intentID, psp.CancelKey(parentBookingID, intentID))
				if err != nil && !psp.IsClass(err, psp.ClassInvalidState) && !psp.IsClass(err, psp.ClassAuthExpired) {
					return fmt.Errorf("release locked hold for booking %s: %w", parentBookingID, err)
				}
			}
		}

		if captured {
			capturedCents = p.AmountCents
		}

		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			pb, err := s.bookings.GetForUpdate(ctx, parentBookingID)
			if err != nil {
				return err
			}
			pp, err := s.payments.GetByBookingIDForUpdate(ctx, parentBookingID)
			if err != nil {
				return err
			}
			if pp.Status != domain.PaymentStatusLocked {
				return nil
			}
			rec, err := s.lockRecords.GetOpenByParentBookingID(ctx, parentBookingID)
			if err != nil {
				if errors.Is(err, domain.ErrLockRecordNotFound) {
					return nil
				}
				return err
			}
			if err := domain.CheckPaymentTransition(pp.Status, domain.PaymentStatusSettled); err != nil {
				return err
			}

			if captured {
				pp.MarkCaptured(now)
			}
			pp.Settle(reason.outcome(), now)
			if err := s.payments.Update(ctx, pp); err != nil {
				return err
			}

			if !captured && intentID != "" {
				pb.RefundedToCardCents = pp.AmountCents - pp.CreditsReservedCents
				pb.UpdatedAt = now
				if err := s.bookings.Update(ctx, pb); err != nil {
					return err
				}
			}

			resolution := domain.LockResolutionReleased
			if captured {
				resolution = domain.LockResolutionCapturedForNew
			}
			rec.Resolve(resolution, now)
			if err := s.lockRecords.Update(ctx, rec); err != nil {
				return err
			}

			if pp.CreditsReservedCents > 0 {
				if captured {
					if err := s.credits.Forfeit(ctx, parent.StudentID, parent.ID, pp.CreditsReservedCents, now); err != nil {
						return err
					}
				} else {
					if err := s.credits.Release(ctx, parent.StudentID, parent.ID, pp.CreditsReservedCents, now); err != nil {
						return err
					}
					if err := s.appendEvent(ctx, domain.NewPaymentEvent(parent.ID, domain.EventCreditsReleased, actor, now).
						WithAmount(pp.CreditsReservedCents)); err != nil {
						return err
					}
				}
			}

			if err := s.appendEvent(ctx, domain.NewPaymentEvent(parent.ID, domain.EventLockedFundsResolved, actor, now).
				WithRef(intentID).WithAmount(capturedCents).
				WithDetail("reason", string(reason)).
				WithDetail("resolution", string(resolution))); err != nil {
				return err
			}
			if captured {
				if err := s.enqueueOutbox(ctx, domain.OutboxPaymentCaptured, parent, pp, now); err != nil {
					return err
				}
			}
			s.recordAudit(ctx, actor, "payment.resolve_locked_funds", "payment", pp.ID, now)
			return nil
		})
	})
	if err != nil {
		return 0, "", err
	}
	return capturedCents, intentID, nil
}
