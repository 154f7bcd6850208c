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

// PostgresBookingRepository implements BookingRepository using PostgreSQL
type PostgresBookingRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresBookingRepository(pool *pgxpool.Pool) *PostgresBookingRepository {
	return &PostgresBookingRepository{pool: pool}
}

const bookingColumns = `
	id, student_id, instructor_id, service_id, service_name,
	hourly_rate_cents, total_price_cents,
	booking_date, start_time, end_time, duration_minutes, lesson_timezone,
	start_utc, end_utc,
	location_type, COALESCE(location_address, ''),
	status,
	created_at, confirmed_at, completed_at, cancelled_at,
	COALESCE(rescheduled_from_booking_id, ''), has_locked_funds,
	COALESCE(cancellation_reason, ''), COALESCE(cancelled_by_role, ''),
	student_credit_cents, refunded_to_card_cents, updated_at`

// nullString converts an empty string to a SQL NULL
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.ID, &b.StudentID, &b.InstructorID, &b.ServiceID, &b.ServiceName,
		&b.HourlyRateCents, &b.TotalPriceCents,
		&b.BookingDate, &b.StartTime, &b.EndTime, &b.DurationMinutes, &b.LessonTimezone,
		&b.StartUTC, &b.EndUTC,
		&b.LocationType, &b.LocationAddress,
		&b.Status,
		&b.CreatedAt, &b.ConfirmedAt, &b.CompletedAt, &b.CancelledAt,
		&b.RescheduledFromBookingID, &b.HasLockedFunds,
		&b.CancellationReason, &b.CancelledByRole,
		&b.StudentCreditCents, &b.RefundedToCardCents, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		return nil, fmt.Errorf("scan booking: %w", err)
	}
	return &b, nil
}

func (r *PostgresBookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	query := `
		INSERT INTO bookings (
			id, student_id, instructor_id, service_id, service_name,
			hourly_rate_cents, total_price_cents,
			booking_date, start_time, end_time, duration_minutes, lesson_timezone,
			start_utc, end_utc,
			location_type, location_address,
			status,
			created_at, rescheduled_from_booking_id, has_locked_funds,
			student_credit_cents, refunded_to_card_cents, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23
		)`

	_, err := db(ctx, r.pool).Exec(ctx, query,
		b.ID, b.StudentID, b.InstructorID, b.ServiceID, b.ServiceName,
		b.HourlyRateCents, b.TotalPriceCents,
		b.BookingDate, b.StartTime, b.EndTime, b.DurationMinutes, b.LessonTimezone,
		b.StartUTC, b.EndUTC,
		b.LocationType, nullString(b.LocationAddress),
		b.Status,
		b.CreatedAt, nullString(b.RescheduledFromBookingID), b.HasLockedFunds,
		b.StudentCreditCents, b.RefundedToCardCents, b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("booking %s already exists: %w", b.ID, err)
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *PostgresBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	return scanBooking(db(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *PostgresBookingRepository) GetForUpdate(ctx context.Context, id string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	return scanBooking(db(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *PostgresBookingRepository) Update(ctx context.Context, b *domain.Booking) error {
	query := `
		UPDATE bookings SET
			booking_date = $2, start_time = $3, end_time = $4,
			duration_minutes = $5, lesson_timezone = $6,
			start_utc = $7, end_utc = $8,
			status = $9,
			confirmed_at = $10, completed_at = $11, cancelled_at = $12,
			has_locked_funds = $13,
			cancellation_reason = $14, cancelled_by_role = $15,
			student_credit_cents = $16, refunded_to_card_cents = $17,
			updated_at = $18
		WHERE id = $1`

	tag, err := db(ctx, r.pool).Exec(ctx, query,
		b.ID,
		b.BookingDate, b.StartTime, b.EndTime,
		b.DurationMinutes, b.LessonTimezone,
		b.StartUTC, b.EndUTC,
		b.Status,
		b.ConfirmedAt, b.CompletedAt, b.CancelledAt,
		b.HasLockedFunds,
		nullString(b.CancellationReason), nullString(b.CancelledByRole),
		b.StudentCreditCents, b.RefundedToCardCents,
		b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

func (r *PostgresBookingRepository) FindConflict(ctx context.Context, studentID, instructorID string, startUTC, endUTC time.Time, excludeID string) (domain.ConflictScope, bool, error) {
	query := `
		SELECT
			bool_or(instructor_id = $2) AS instructor_hit,
			bool_or(student_id = $1) AS student_hit
		FROM bookings
		WHERE (student_id = $1 OR instructor_id = $2)
		  AND status IN ('pending', 'confirmed')
		  AND start_utc < $4 AND $3 < end_utc
		  AND id <> $5`

	var instructorHit, studentHit *bool
	err := db(ctx, r.pool).QueryRow(ctx, query, studentID, instructorID, startUTC, endUTC, excludeID).
		Scan(&instructorHit, &studentHit)
	if err != nil {
		return "", false, fmt.Errorf("check booking conflict: %w", err)
	}

	ins := instructorHit != nil && *instructorHit
	stu := studentHit != nil && *studentHit
	switch {
	case ins && stu:
		return domain.ConflictBoth, true, nil
	case ins:
		return domain.ConflictInstructor, true, nil
	case stu:
		return domain.ConflictStudent, true, nil
	}
	return "", false, nil
}

func (r *PostgresBookingRepository) ListConfirmedEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM bookings
		WHERE status = 'confirmed' AND end_utc <= $1
		ORDER BY end_utc
		LIMIT $2`
	return scanIDs(db(ctx, r.pool).Query(ctx, query, cutoff, limit))
}

func (r *PostgresBookingRepository) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM bookings
		WHERE status = 'pending' AND created_at <= $1
		ORDER BY created_at
		LIMIT $2`
	return scanIDs(db(ctx, r.pool).Query(ctx, query, cutoff, limit))
}

func scanIDs(rows pgx.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
