package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/msaedi/instructly-sub006/internal/domain"
	"github.com/msaedi/instructly-sub006/internal/repository"
	"github.com/msaedi/instructly-sub006/pkg/logger"
)

// CreditService moves student credit balances. Every movement appends a
// history entry, so the sum of entries always equals the balance. Callers
// invoke these methods inside the transaction that settles the booking.
type CreditService struct {
	credits repository.CreditRepository
	log     *logger.Logger
}

func NewCreditService(credits repository.CreditRepository, log *logger.Logger) *CreditService {
	if log == nil {
		log = logger.Get()
	}
	return &CreditService{credits: credits, log: log}
}

// Balance reads the student's current credit balance
func (s *CreditService) Balance(ctx context.Context, studentID string) (int64, error) {
	return s.credits.GetBalance(ctx, studentID)
}

// Reserve deducts credits for a booking at creation time. The reserved
// amount rides on the payment row until settlement releases or forfeits it.
func (s *CreditService) Reserve(ctx context.Context, studentID, bookingID string, amountCents int64, now time.Time) error {
	if amountCents <= 0 {
		return nil
	}
	balance, err := s.credits.GetBalanceForUpdate(ctx, studentID)
	if err != nil {
		return fmt.Errorf("read credit balance: %w", err)
	}
	if balance < amountCents {
		return fmt.Errorf("%w: have %d, need %d", domain.ErrInsufficientCredits, balance, amountCents)
	}
	if err := s.credits.SetBalance(ctx, studentID, balance-amountCents); err != nil {
		return fmt.Errorf("deduct credits: %w", err)
	}
	return s.append(ctx, studentID, bookingID, -amountCents, "reserved", now)
}

// Release returns previously reserved credits to the student
func (s *CreditService) Release(ctx context.Context, studentID, bookingID string, amountCents int64, now time.Time) error {
	if amountCents <= 0 {
		return nil
	}
	return s.add(ctx, studentID, bookingID, amountCents, "released", now)
}

// Forfeit consumes reserved credits without returning them. The balance was
// already reduced at reservation, so only a zero-movement history entry is
// written to close the loop.
func (s *CreditService) Forfeit(ctx context.Context, studentID, bookingID string, amountCents int64, now time.Time) error {
	if amountCents <= 0 {
		return nil
	}
	s.log.Info("credits forfeited",
		zap.String("student_id", studentID),
		zap.String("booking_id", bookingID),
		zap.Int64("amount_cents", amountCents),
	)
	return s.append(ctx, studentID, bookingID, 0, "forfeited", now)
}

// Grant adds new credits to the student's balance
func (s *CreditService) Grant(ctx context.Context, studentID, bookingID string, amountCents int64, reason string, now time.Time) error {
	if amountCents <= 0 {
		return nil
	}
	return s.add(ctx, studentID, bookingID, amountCents, reason, now)
}

func (s *CreditService) add(ctx context.Context, studentID, bookingID string, amountCents int64, reason string, now time.Time) error {
	balance, err := s.credits.GetBalanceForUpdate(ctx, studentID)
	if err != nil {
		return fmt.Errorf("read credit balance: %w", err)
	}
	if err := s.credits.SetBalance(ctx, studentID, balance+amountCents); err != nil {
		return fmt.Errorf("add credits: %w", err)
	}
	return s.append(ctx, studentID, bookingID, amountCents, reason, now)
}

func (s *CreditService) append(ctx context.Context, studentID, bookingID string, amountCents int64, reason string, now time.Time) error {
	entry := &repository.CreditEntry{
		ID:          uuid.New().String(),
		StudentID:   studentID,
		BookingID:   bookingID,
		AmountCents: amountCents,
		Reason:      reason,
		CreatedAt:   now,
	}
	if err := s.credits.AppendEntry(ctx, entry); err != nil {
		return fmt.Errorf("append credit entry: %w", err)
	}
	return nil
}
