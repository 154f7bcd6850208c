package repository

import (
	"context"
	"time"

	"github.com/msaedi/instructly-sub006/internal/availability"
	"github.com/msaedi/instructly-sub006/internal/domain"
)

// TxManager runs a function inside one database transaction. The transaction
// travels in the context; repository methods pick it up transparently, so the
// same repository code serves both transactional and standalone calls.
// Postgres deadlocks surface as domain.ErrDeadlockRetryable.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// BookingRepository persists bookings
type BookingRepository interface {
	Create(ctx context.Context, b *domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	// GetForUpdate reads the booking with a row lock inside the current
	// transaction
	GetForUpdate(ctx context.Context, id string) (*domain.Booking, error)
	Update(ctx context.Context, b *domain.Booking) error

	// FindConflict checks both calendars for an active booking overlapping
	// the UTC window, excluding excludeID
	FindConflict(ctx context.Context, studentID, instructorID string, startUTC, endUTC time.Time, excludeID string) (domain.ConflictScope, bool, error)

	// ListConfirmedEndedBefore returns ids of confirmed bookings whose lesson
	// ended before the cutoff
	ListConfirmedEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	// ListPendingCreatedBefore returns ids of bookings still pending since
	// before the cutoff
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// PaymentRepository persists booking payments
type PaymentRepository interface {
	Create(ctx context.Context, p *domain.BookingPayment) error
	GetByBookingID(ctx context.Context, bookingID string) (*domain.BookingPayment, error)
	GetByBookingIDForUpdate(ctx context.Context, bookingID string) (*domain.BookingPayment, error)
	Update(ctx context.Context, p *domain.BookingPayment) error

	// Candidate queries return booking ids; workers re-read state under the
	// per-booking lock before acting.

	// ListAuthDue returns bookings whose scheduled authorization time has passed
	ListAuthDue(ctx context.Context, now time.Time, limit int) ([]string, error)
	// ListAuthRetryCandidates returns bookings waiting on a payment method
	// whose lesson has not started
	ListAuthRetryCandidates(ctx context.Context, now time.Time, limit int) ([]string, error)
	// ListCaptureDue returns completed bookings with authorized funds whose
	// lesson ended before the cutoff
	ListCaptureDue(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	// ListCaptureFailed returns bookings whose capture failed and that await
	// retry or escalation
	ListCaptureFailed(ctx context.Context, limit int) ([]string, error)
	// ListAuthAged returns bookings holding an authorization placed before the
	// cutoff, which is about to lapse at the PSP
	ListAuthAged(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	// CountAuthOverdue counts payments that should have been authorized by
	// now but were not
	CountAuthOverdue(ctx context.Context, now time.Time) (int64, error)
}

// TransferRepository persists instructor payout transfers
type TransferRepository interface {
	Create(ctx context.Context, t *domain.Transfer) error
	Update(ctx context.Context, t *domain.Transfer) error
	ListByBooking(ctx context.Context, bookingID string) ([]*domain.Transfer, error)
}

// NoShowRepository persists no-show reports
type NoShowRepository interface {
	Create(ctx context.Context, r *domain.NoShowReport) error
	GetByID(ctx context.Context, id string) (*domain.NoShowReport, error)
	GetOpenByBookingID(ctx context.Context, bookingID string) (*domain.NoShowReport, error)
	Update(ctx context.Context, r *domain.NoShowReport) error
	// ListUndisputedOlderThan returns open, undisputed reports filed before
	// the cutoff
	ListUndisputedOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*domain.NoShowReport, error)
}

// LockRecordRepository persists locked-funds records for late reschedules
type LockRecordRepository interface {
	Create(ctx context.Context, l *domain.LockRecord) error
	GetOpenByNewBookingID(ctx context.Context, newBookingID string) (*domain.LockRecord, error)
	GetOpenByParentBookingID(ctx context.Context, parentBookingID string) (*domain.LockRecord, error)
	Update(ctx context.Context, l *domain.LockRecord) error
}

// EventLedger is the append-only per-booking payment event log
type EventLedger interface {
	// Append writes the event unless an identical (booking, type, external
	// ref) entry already exists. Returns true when a row was written.
	Append(ctx context.Context, e *domain.PaymentEvent) (bool, error)
	Exists(ctx context.Context, bookingID string, eventType domain.EventType, externalRef string) (bool, error)
	ListForBooking(ctx context.Context, bookingID string) ([]*domain.PaymentEvent, error)
}

// OutboxRepository stages events for the dispatcher
type OutboxRepository interface {
	Enqueue(ctx context.Context, m *domain.OutboxMessage) error
	GetPending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error)
	GetFailed(ctx context.Context, maxRetries, limit int) ([]*domain.OutboxMessage, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CreditEntry is one movement on a student's credit balance
type CreditEntry struct {
	ID          string
	StudentID   string
	BookingID   string
	AmountCents int64 // positive grants, negative consumption
	Reason      string
	CreatedAt   time.Time
}

// CreditRepository persists student credit balances and their history
type CreditRepository interface {
	GetBalance(ctx context.Context, studentID string) (int64, error)
	// GetBalanceForUpdate locks the balance row inside the current transaction
	GetBalanceForUpdate(ctx context.Context, studentID string) (int64, error)
	SetBalance(ctx context.Context, studentID string, balanceCents int64) error
	AppendEntry(ctx context.Context, e *CreditEntry) error
}

// InstructorService is a bookable offering with its pricing and lead-time rule
type InstructorService struct {
	ID              string
	InstructorID    string
	Name            string
	HourlyRateCents int64
	MinAdvanceHours int
	Active          bool
}

// InstructorProfile carries the payout and timezone facts the engine needs
type InstructorProfile struct {
	UserID             string
	Timezone           string
	ConnectedAccountID string
	Active             bool
}

// StudentBilling carries the PSP identifiers for charging a student
type StudentBilling struct {
	UserID          string
	CustomerID      string
	PaymentMethodID string
}

// InstructorRepository reads instructor data owned by other services
type InstructorRepository interface {
	GetService(ctx context.Context, serviceID string) (*InstructorService, error)
	GetProfile(ctx context.Context, instructorID string) (*InstructorProfile, error)
	// ListConnectedAccounts pages through all active connected account ids
	ListConnectedAccounts(ctx context.Context, afterID string, limit int) ([]InstructorProfile, error)
}

// UserRepository reads and flags student accounts
type UserRepository interface {
	GetStudentBilling(ctx context.Context, studentID string) (*StudentBilling, error)
	SetStudentPaymentMethod(ctx context.Context, studentID, paymentMethodID string) error
	LockStudentAccount(ctx context.Context, studentID, reason string) error
}

// AvailabilityRepository reads instructor availability bitmaps
type AvailabilityRepository interface {
	availability.MaskProvider
}

// AuditRepository appends to the audit log
type AuditRepository interface {
	Record(ctx context.Context, e *domain.AuditEntry) error
}
