package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/msaedi/instructly-sub006/internal/availability"
	"github.com/msaedi/instructly-sub006/internal/domain"
)

// PostgresCreditRepository implements CreditRepository using PostgreSQL
type PostgresCreditRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresCreditRepository(pool *pgxpool.Pool) *PostgresCreditRepository {
	return &PostgresCreditRepository{pool: pool}
}

func (r *PostgresCreditRepository) GetBalance(ctx context.Context, studentID string) (int64, error) {
	return r.getBalance(ctx, studentID, "")
}

func (r *PostgresCreditRepository) GetBalanceForUpdate(ctx context.Context, studentID string) (int64, error) {
	return r.getBalance(ctx, studentID, " FOR UPDATE")
}

func (r *PostgresCreditRepository) getBalance(ctx context.Context, studentID, suffix string) (int64, error) {
	query := `SELECT balance_cents FROM student_credits WHERE student_id = $1` + suffix

	var balance int64
	err := db(ctx, r.pool).QueryRow(ctx, query, studentID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query credit balance: %w", err)
	}
	return balance, nil
}

func (r *PostgresCreditRepository) SetBalance(ctx context.Context, studentID string, balanceCents int64) error {
	query := `
		INSERT INTO student_credits (student_id, balance_cents, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (student_id) DO UPDATE
		SET balance_cents = EXCLUDED.balance_cents, updated_at = NOW()`

	if _, err := db(ctx, r.pool).Exec(ctx, query, studentID, balanceCents); err != nil {
		return fmt.Errorf("set credit balance: %w", err)
	}
	return nil
}

func (r *PostgresCreditRepository) AppendEntry(ctx context.Context, e *CreditEntry) error {
	query := `
		INSERT INTO credit_entries (id, student_id, booking_id, amount_cents, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := db(ctx, r.pool).Exec(ctx, query,
		e.ID, e.StudentID, nullString(e.BookingID), e.AmountCents, e.Reason, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert credit entry: %w", err)
	}
	return nil
}

// PostgresInstructorRepository implements InstructorRepository using PostgreSQL
type PostgresInstructorRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresInstructorRepository(pool *pgxpool.Pool) *PostgresInstructorRepository {
	return &PostgresInstructorRepository{pool: pool}
}

func (r *PostgresInstructorRepository) GetService(ctx context.Context, serviceID string) (*InstructorService, error) {
	query := `
		SELECT id, instructor_id, name, hourly_rate_cents, min_advance_hours, active
		FROM instructor_services WHERE id = $1`

	var s InstructorService
	err := db(ctx, r.pool).QueryRow(ctx, query, serviceID).
		Scan(&s.ID, &s.InstructorID, &s.Name, &s.HourlyRateCents, &s.MinAdvanceHours, &s.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrServiceInactive
	}
	if err != nil {
		return nil, fmt.Errorf("query instructor service: %w", err)
	}
	return &s, nil
}

func (r *PostgresInstructorRepository) GetProfile(ctx context.Context, instructorID string) (*InstructorProfile, error) {
	query := `
		SELECT user_id, COALESCE(timezone, ''), COALESCE(connected_account_id, ''), active
		FROM instructor_profiles WHERE user_id = $1`

	var p InstructorProfile
	err := db(ctx, r.pool).QueryRow(ctx, query, instructorID).
		Scan(&p.UserID, &p.Timezone, &p.ConnectedAccountID, &p.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("instructor %s: %w", instructorID, domain.ErrBookingNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query instructor profile: %w", err)
	}
	return &p, nil
}

func (r *PostgresInstructorRepository) ListConnectedAccounts(ctx context.Context, afterID string, limit int) ([]InstructorProfile, error) {
	query := `
		SELECT user_id, COALESCE(timezone, ''), COALESCE(connected_account_id, ''), active
		FROM instructor_profiles
		WHERE active = TRUE AND connected_account_id IS NOT NULL
		  AND connected_account_id <> '' AND user_id > $1
		ORDER BY user_id
		LIMIT $2`

	rows, err := db(ctx, r.pool).Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query connected accounts: %w", err)
	}
	defer rows.Close()

	var out []InstructorProfile
	for rows.Next() {
		var p InstructorProfile
		if err := rows.Scan(&p.UserID, &p.Timezone, &p.ConnectedAccountID, &p.Active); err != nil {
			return nil, fmt.Errorf("scan instructor profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PostgresUserRepository implements UserRepository using PostgreSQL
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

func (r *PostgresUserRepository) GetStudentBilling(ctx context.Context, studentID string) (*StudentBilling, error) {
	query := `
		SELECT user_id, COALESCE(psp_customer_id, ''), COALESCE(default_payment_method_id, '')
		FROM student_billing WHERE user_id = $1`

	var b StudentBilling
	err := db(ctx, r.pool).QueryRow(ctx, query, studentID).
		Scan(&b.UserID, &b.CustomerID, &b.PaymentMethodID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("student %s: %w", studentID, domain.ErrBookingNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query student billing: %w", err)
	}
	return &b, nil
}

func (r *PostgresUserRepository) SetStudentPaymentMethod(ctx context.Context, studentID, paymentMethodID string) error {
	query := `
		UPDATE student_billing SET default_payment_method_id = $2, updated_at = NOW()
		WHERE user_id = $1`

	if _, err := db(ctx, r.pool).Exec(ctx, query, studentID, paymentMethodID); err != nil {
		return fmt.Errorf("update student payment method: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) LockStudentAccount(ctx context.Context, studentID, reason string) error {
	query := `
		UPDATE users SET booking_locked = TRUE, booking_locked_reason = $2, updated_at = NOW()
		WHERE id = $1`

	if _, err := db(ctx, r.pool).Exec(ctx, query, studentID, reason); err != nil {
		return fmt.Errorf("lock student account: %w", err)
	}
	return nil
}

// PostgresAvailabilityRepository implements AvailabilityRepository on the
// six-byte per-day bitmap rows
type PostgresAvailabilityRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresAvailabilityRepository(pool *pgxpool.Pool) *PostgresAvailabilityRepository {
	return &PostgresAvailabilityRepository{pool: pool}
}

func (r *PostgresAvailabilityRepository) DayMask(ctx context.Context, instructorID, date string) (availability.DayMask, bool, error) {
	query := `SELECT slots FROM instructor_availability WHERE instructor_id = $1 AND day = $2`

	var raw []byte
	err := db(ctx, r.pool).QueryRow(ctx, query, instructorID, date).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return availability.DayMask{}, false, nil
	}
	if err != nil {
		return availability.DayMask{}, false, fmt.Errorf("query availability: %w", err)
	}
	if len(raw) != len(availability.DayMask{}) {
		return availability.DayMask{}, false, fmt.Errorf("availability row for %s/%s has %d bytes", instructorID, date, len(raw))
	}

	var mask availability.DayMask
	copy(mask[:], raw)
	return mask, true, nil
}
