package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/msaedi/instructly-sub006/internal/availability"
	"github.com/msaedi/instructly-sub006/internal/clock"
	"github.com/msaedi/instructly-sub006/internal/domain"
	"github.com/msaedi/instructly-sub006/internal/lock"
	"github.com/msaedi/instructly-sub006/internal/metrics"
	"github.com/msaedi/instructly-sub006/internal/pricing"
	"github.com/msaedi/instructly-sub006/internal/psp"
	"github.com/msaedi/instructly-sub006/internal/repository"
	"github.com/msaedi/instructly-sub006/pkg/config"
	"github.com/msaedi/instructly-sub006/pkg/logger"
)

// Deps carries everything the engine needs. All fields except Notifier,
// Video, Logger and Metrics are required.
type Deps struct {
	Tx          repository.TxManager
	Bookings    repository.BookingRepository
	Payments    repository.PaymentRepository
	Transfers   repository.TransferRepository
	NoShows     repository.NoShowRepository
	LockRecords repository.LockRecordRepository
	Ledger      repository.EventLedger
	Outbox      repository.OutboxRepository
	Credits     *CreditService
	Instructors repository.InstructorRepository
	Users       repository.UserRepository
	Audit       repository.AuditRepository

	Availability *availability.Validator
	PSP          psp.Adapter
	Locks        lock.BookingLock
	Clock        *clock.Service
	Pricing      *pricing.Calculator

	Notifier Notifier
	Video    VideoRoom

	Engine  config.EngineConfig
	Logger  *logger.Logger
	Metrics *metrics.Recorder
}

// Service is the booking payment lifecycle engine. Every money-affecting
// operation runs the same three-phase shape: a short transaction to validate
// and snapshot, the PSP call with no transaction held, then a short
// transaction that re-validates before persisting the result.
type Service struct {
	tx          repository.TxManager
	bookings    repository.BookingRepository
	payments    repository.PaymentRepository
	transfers   repository.TransferRepository
	noShows     repository.NoShowRepository
	lockRecords repository.LockRecordRepository
	ledger      repository.EventLedger
	outbox      repository.OutboxRepository
	credits     *CreditService
	instructors repository.InstructorRepository
	users       repository.UserRepository
	audit       repository.AuditRepository

	avail   *availability.Validator
	psp     psp.Adapter
	locks   lock.BookingLock
	clock   *clock.Service
	pricing *pricing.Calculator

	notifier Notifier
	video    VideoRoom

	cfg     config.EngineConfig
	log     *logger.Logger
	metrics *metrics.Recorder

	// unix seconds of the last successful authorization, for health checks
	lastAuthSuccess atomic.Int64
}

func NewService(d Deps) *Service {
	if d.Notifier == nil {
		d.Notifier = NoopNotifier{}
	}
	if d.Video == nil {
		d.Video = NoopVideoRoom{}
	}
	if d.Logger == nil {
		d.Logger = logger.Get()
	}
	return &Service{
		tx:          d.Tx,
		bookings:    d.Bookings,
		payments:    d.Payments,
		transfers:   d.Transfers,
		noShows:     d.NoShows,
		lockRecords: d.LockRecords,
		ledger:      d.Ledger,
		outbox:      d.Outbox,
		credits:     d.Credits,
		instructors: d.Instructors,
		users:       d.Users,
		audit:       d.Audit,
		avail:       d.Availability,
		psp:         d.PSP,
		locks:       d.Locks,
		clock:       d.Clock,
		pricing:     d.Pricing,
		notifier:    d.Notifier,
		video:       d.Video,
		cfg:         d.Engine,
		log:         d.Logger,
		metrics:     d.Metrics,
	}
}

// withBookingLock runs fn while holding the distributed per-booking lock.
// Contention returns domain.ErrLockNotAcquired without blocking; workers skip
// the booking and pick it up on the next pass.
func (s *Service) withBookingLock(ctx context.Context, bookingID string, fn func(ctx context.Context) error) error {
	guard, acquired, err := s.locks.TryAcquire(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("acquire booking lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("booking %s: %w", bookingID, domain.ErrLockNotAcquired)
	}
	defer guard.Release()
	return fn(ctx)
}

// appendEvent writes a ledger entry, tolerating duplicates
func (s *Service) appendEvent(ctx context.Context, e *domain.PaymentEvent) error {
	written, err := s.ledger.Append(ctx, e)
	if err != nil {
		return fmt.Errorf("append ledger event %s: %w", e.Type, err)
	}
	if !written {
		s.log.Debug("ledger event already recorded",
			zap.String("booking_id", e.BookingID),
			zap.String("event_type", string(e.Type)),
		)
	}
	return nil
}

// enqueueOutbox stages an event for the dispatcher inside the current transaction
func (s *Service) enqueueOutbox(ctx context.Context, eventType string, b *domain.Booking, data any, now time.Time) error {
	msg, err := domain.NewOutboxMessage(eventType, b, data, now)
	if err != nil {
		return fmt.Errorf("build outbox message %s: %w", eventType, err)
	}
	if err := s.outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue outbox %s: %w", eventType, err)
	}
	return nil
}

// recordAudit appends to the audit log; failures are logged, never fatal
func (s *Service) recordAudit(ctx context.Context, actor domain.Actor, action, entityType, entityID string, now time.Time) {
	entry := domain.NewAuditEntry(actor, action, entityType, entityID, now)
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Error("audit record failed",
			zap.String("action", action),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) noteAuthSuccess(now time.Time) {
	s.lastAuthSuccess.Store(now.Unix())
}

// GetBooking reads a booking, enforcing participant visibility
func (s *Service) GetBooking(ctx context.Context, actor domain.Actor, bookingID string) (*domain.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanActOn(b) {
		return nil, domain.ErrForbidden
	}
	return b, nil
}

// GetPayment reads the payment for a booking, enforcing participant visibility
func (s *Service) GetPayment(ctx context.Context, actor domain.Actor, bookingID string) (*domain.BookingPayment, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanActOn(b) {
		return nil, domain.ErrForbidden
	}
	return s.payments.GetByBookingID(ctx, bookingID)
}

// ListLedger returns the payment event history for a booking
func (s *Service) ListLedger(ctx context.Context, actor domain.Actor, bookingID string) ([]*domain.PaymentEvent, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanActOn(b) {
		return nil, domain.ErrForbidden
	}
	return s.ledger.ListForBooking(ctx, bookingID)
}
