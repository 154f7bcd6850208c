package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/msaedi/instructly-sub006/internal/domain"
)

// PostgresPaymentRepository implements PaymentRepository using PostgreSQL
type PostgresPaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresPaymentRepository(pool *pgxpool.Pool) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{pool: pool}
}

const paymentColumns = `
	id, booking_id, status,
	amount_cents, platform_fee_cents, instructor_payout_cents, credits_reserved_cents,
	COALESCE(payment_intent_id, ''), COALESCE(payment_method_id, ''),
	auth_scheduled_for, authorized_at, auth_attempted_at,
	auth_failure_count, COALESCE(last_auth_error, ''),
	captured_at, capture_failed_at, capture_retry_count, COALESCE(capture_error, ''), capture_escalated_at,
	first_failure_email_sent_at, final_warning_email_sent_at,
	COALESCE(settlement_outcome, ''), settled_at,
	created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.BookingPayment, error) {
	var p domain.BookingPayment
	err := row.Scan(
		&p.ID, &p.BookingID, &p.Status,
		&p.AmountCents, &p.PlatformFeeCents, &p.InstructorPayoutCents, &p.CreditsReservedCents,
		&p.PaymentIntentID, &p.PaymentMethodID,
		&p.AuthScheduledFor, &p.AuthorizedAt, &p.AuthAttemptedAt,
		&p.AuthFailureCount, &p.LastAuthError,
		&p.CapturedAt, &p.CaptureFailedAt, &p.CaptureRetryCount, &p.CaptureError, &p.CaptureEscalatedAt,
		&p.FirstFailureEmailSentAt, &p.FinalWarningEmailSentAt,
		&p.SettlementOutcome, &p.SettledAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}

func (r *PostgresPaymentRepository) Create(ctx context.Context, p *domain.BookingPayment) error {
	query := `
		INSERT INTO booking_payments (
			id, booking_id, status,
			amount_cents, platform_fee_cents, instructor_payout_cents, credits_reserved_cents,
			payment_intent_id, payment_method_id,
			auth_scheduled_for, auth_failure_count,
			capture_retry_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := db(ctx, r.pool).Exec(ctx, query,
		p.ID, p.BookingID, p.Status,
		p.AmountCents, p.PlatformFeeCents, p.InstructorPayoutCents, p.CreditsReservedCents,
		nullString(p.PaymentIntentID), nullString(p.PaymentMethodID),
		p.AuthScheduledFor, p.AuthFailureCount,
		p.CaptureRetryCount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment for booking %s already exists: %w", p.BookingID, err)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PostgresPaymentRepository) GetByBookingID(ctx context.Context, bookingID string) (*domain.BookingPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM booking_payments WHERE booking_id = $1`
	return scanPayment(db(ctx, r.pool).QueryRow(ctx, query, bookingID))
}

func (r *PostgresPaymentRepository) GetByBookingIDForUpdate(ctx context.Context, bookingID string) (*domain.BookingPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM booking_payments WHERE booking_id = $1 FOR UPDATE`
	return scanPayment(db(ctx, r.pool).QueryRow(ctx, query, bookingID))
}

func (r *PostgresPaymentRepository) Update(ctx context.Context, p *domain.BookingPayment) error {
	query := `
		UPDATE booking_payments SET
			status = $2,
			amount_cents = $3, platform_fee_cents = $4,
			instructor_payout_cents = $5, credits_reserved_cents = $6,
			payment_intent_id = $7, payment_method_id = $8,
			auth_scheduled_for = $9, authorized_at = $10, auth_attempted_at = $11,
			auth_failure_count = $12, last_auth_error = $13,
			captured_at = $14, capture_failed_at = $15,
			capture_retry_count = $16, capture_error = $17, capture_escalated_at = $18,
			first_failure_email_sent_at = $19, final_warning_email_sent_at = $20,
			settlement_outcome = $21, settled_at = $22,
			updated_at = $23
		WHERE id = $1`

	tag, err := db(ctx, r.pool).Exec(ctx, query,
		p.ID,
		p.Status,
		p.AmountCents, p.PlatformFeeCents,
		p.InstructorPayoutCents, p.CreditsReservedCents,
		nullString(p.PaymentIntentID), nullString(p.PaymentMethodID),
		p.AuthScheduledFor, p.AuthorizedAt, p.AuthAttemptedAt,
		p.AuthFailureCount, nullString(p.LastAuthError),
		p.CapturedAt, p.CaptureFailedAt,
		p.CaptureRetryCount, nullString(p.CaptureError), p.CaptureEscalatedAt,
		p.FirstFailureEmailSentAt, p.FinalWarningEmailSentAt,
		nullString(string(p.SettlementOutcome)), p.SettledAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *PostgresPaymentRepository) ListAuthDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT p.booking_id
		FROM booking_payments p
		JOIN bookings b ON b.id = p.booking_id
		WHERE p.status = 'scheduled'
		  AND p.auth_scheduled_for <= $1
		  AND b.status IN ('pending', 'confirmed')
		ORDER BY p.auth_scheduled_for
		LIMIT $2`
	return scanIDs(db(ctx, r.pool).Query(ctx, query, now, limit))
}

func (r *PostgresPaymentRepository) ListAuthRetryCandidates(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT p.booking_id
		FROM booking_payments p
		JOIN bookings b ON b.id = p.booking_id
		WHERE p.status = 'payment_method_required'
		  AND p.capture_failed_at IS NULL
		  AND b.status IN ('pending', 'confirmed')
		  AND b.start_utc > $1
		ORDER BY p.auth_attempted_at NULLS FIRST
		LIMIT $2`
	return scanIDs(db(ctx, r.pool).Query(ctx, query, now, limit))
}

func (r *PostgresPaymentRepository) ListCaptureDue(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	query := `
		SELECT p.booking_id
		FROM booking_payments p
		JOIN bookings b ON b.id = p.booking_id
		WHERE p.status = 'authorized'
		  AND b.status = 'completed'
		  AND b.end_utc <= $1
		ORDER BY b.end_utc
		LIMIT $2`
	return scanIDs(db(ctx, r.pool).Query(ctx, query, cutoff, limit))
}

func (r *PostgresPaymentRepository) ListCaptureFailed(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT booking_id FROM booking_payments
		WHERE status = 'payment_method_required' AND capture_failed_at IS NOT NULL
		ORDER BY capture_failed_at
		LIMIT $1`
	return scanIDs(db(ctx, r.pool).Query(ctx, query, limit))
}

func (r *PostgresPaymentRepository) ListAuthAged(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	query := `
		SELECT booking_id FROM booking_payments
		WHERE status = 'authorized'
		  AND authorized_at <= $1
		ORDER BY authorized_at
		LIMIT $2`
	return scanIDs(db(ctx, r.pool).Query(ctx, query, cutoff, limit))
}

func (r *PostgresPaymentRepository) CountAuthOverdue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM booking_payments p
		JOIN bookings b ON b.id = p.booking_id
		WHERE p.status IN ('scheduled', 'payment_method_required')
		  AND p.auth_scheduled_for <= $1
		  AND b.status IN ('pending', 'confirmed')`

	var count int64
	if err := db(ctx, r.pool).QueryRow(ctx, query, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("count overdue authorizations: %w", err)
	}
	return count, nil
}
