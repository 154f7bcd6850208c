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

// PostgresTransferRepository implements TransferRepository using PostgreSQL
type PostgresTransferRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresTransferRepository(pool *pgxpool.Pool) *PostgresTransferRepository {
	return &PostgresTransferRepository{pool: pool}
}

const transferColumns = `
	id, booking_id, instructor_id, amount_cents, currency, reason, status,
	COALESCE(external_transfer_id, ''), COALESCE(failure_reason, ''),
	created_at, completed_at`

func (r *PostgresTransferRepository) Create(ctx context.Context, t *domain.Transfer) error {
	query := `
		INSERT INTO transfers (
			id, booking_id, instructor_id, amount_cents, currency, reason, status,
			external_transfer_id, failure_reason, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := db(ctx, r.pool).Exec(ctx, query,
		t.ID, t.BookingID, t.InstructorID, t.AmountCents, t.Currency, t.Reason, t.Status,
		nullString(t.ExternalTransferID), nullString(t.FailureReason), t.CreatedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

func (r *PostgresTransferRepository) Update(ctx context.Context, t *domain.Transfer) error {
	query := `
		UPDATE transfers SET
			status = $2, external_transfer_id = $3, failure_reason = $4, completed_at = $5
		WHERE id = $1`

	_, err := db(ctx, r.pool).Exec(ctx, query,
		t.ID, t.Status, nullString(t.ExternalTransferID), nullString(t.FailureReason), t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update transfer: %w", err)
	}
	return nil
}

func (r *PostgresTransferRepository) ListByBooking(ctx context.Context, bookingID string) ([]*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE booking_id = $1 ORDER BY created_at`

	rows, err := db(ctx, r.pool).Query(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transfer
	for rows.Next() {
		var t domain.Transfer
		if err := rows.Scan(
			&t.ID, &t.BookingID, &t.InstructorID, &t.AmountCents, &t.Currency, &t.Reason, &t.Status,
			&t.ExternalTransferID, &t.FailureReason, &t.CreatedAt, &t.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// PostgresNoShowRepository implements NoShowRepository using PostgreSQL
type PostgresNoShowRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresNoShowRepository(pool *pgxpool.Pool) *PostgresNoShowRepository {
	return &PostgresNoShowRepository{pool: pool}
}

const noShowColumns = `
	id, booking_id, type,
	COALESCE(reported_by_user_id, ''), reported_by_role, COALESCE(details, ''),
	disputed, disputed_at, COALESCE(dispute_details, ''),
	COALESCE(resolution, ''), resolved_at, COALESCE(resolved_by_user_id, ''),
	reported_at`

func scanNoShow(row pgx.Row) (*domain.NoShowReport, error) {
	var r domain.NoShowReport
	err := row.Scan(
		&r.ID, &r.BookingID, &r.Type,
		&r.ReportedByUserID, &r.ReportedByRole, &r.Details,
		&r.Disputed, &r.DisputedAt, &r.DisputeDetails,
		&r.Resolution, &r.ResolvedAt, &r.ResolvedByUserID,
		&r.ReportedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReportNotFound
		}
		return nil, fmt.Errorf("scan no-show report: %w", err)
	}
	return &r, nil
}

func (r *PostgresNoShowRepository) Create(ctx context.Context, report *domain.NoShowReport) error {
	query := `
		INSERT INTO no_show_reports (
			id, booking_id, type, reported_by_user_id, reported_by_role, details,
			disputed, reported_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := db(ctx, r.pool).Exec(ctx, query,
		report.ID, report.BookingID, report.Type,
		nullString(report.ReportedByUserID), report.ReportedByRole, nullString(report.Details),
		report.Disputed, report.ReportedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("open no-show report for booking %s already exists: %w", report.BookingID, err)
		}
		return fmt.Errorf("insert no-show report: %w", err)
	}
	return nil
}

func (r *PostgresNoShowRepository) GetByID(ctx context.Context, id string) (*domain.NoShowReport, error) {
	query := `SELECT ` + noShowColumns + ` FROM no_show_reports WHERE id = $1`
	return scanNoShow(db(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *PostgresNoShowRepository) GetOpenByBookingID(ctx context.Context, bookingID string) (*domain.NoShowReport, error) {
	query := `SELECT ` + noShowColumns + ` FROM no_show_reports WHERE booking_id = $1 AND resolution IS NULL`
	return scanNoShow(db(ctx, r.pool).QueryRow(ctx, query, bookingID))
}

func (r *PostgresNoShowRepository) Update(ctx context.Context, report *domain.NoShowReport) error {
	query := `
		UPDATE no_show_reports SET
			disputed = $2, disputed_at = $3, dispute_details = $4,
			resolution = $5, resolved_at = $6, resolved_by_user_id = $7
		WHERE id = $1`

	_, err := db(ctx, r.pool).Exec(ctx, query,
		report.ID,
		report.Disputed, report.DisputedAt, nullString(report.DisputeDetails),
		nullString(string(report.Resolution)), report.ResolvedAt, nullString(report.ResolvedByUserID),
	)
	if err != nil {
		return fmt.Errorf("update no-show report: %w", err)
	}
	return nil
}

func (r *PostgresNoShowRepository) ListUndisputedOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*domain.NoShowReport, error) {
	query := `
		SELECT ` + noShowColumns + `
		FROM no_show_reports
		WHERE resolution IS NULL AND disputed = FALSE AND reported_at <= $1
		ORDER BY reported_at
		LIMIT $2`

	rows, err := db(ctx, r.pool).Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query no-show reports: %w", err)
	}
	defer rows.Close()

	var out []*domain.NoShowReport
	for rows.Next() {
		report, err := scanNoShow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, rows.Err()
}

// PostgresLockRecordRepository implements LockRecordRepository using PostgreSQL
type PostgresLockRecordRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresLockRecordRepository(pool *pgxpool.Pool) *PostgresLockRecordRepository {
	return &PostgresLockRecordRepository{pool: pool}
}

const lockRecordColumns = `
	id, parent_booking_id, new_booking_id, amount_cents, payment_intent_id,
	COALESCE(resolution, ''), resolved_at, created_at`

func scanLockRecord(row pgx.Row) (*domain.LockRecord, error) {
	var l domain.LockRecord
	err := row.Scan(
		&l.ID, &l.ParentBookingID, &l.NewBookingID, &l.AmountCents, &l.PaymentIntentID,
		&l.Resolution, &l.ResolvedAt, &l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLockRecordNotFound
		}
		return nil, fmt.Errorf("scan lock record: %w", err)
	}
	return &l, nil
}

func (r *PostgresLockRecordRepository) Create(ctx context.Context, l *domain.LockRecord) error {
	query := `
		INSERT INTO lock_records (
			id, parent_booking_id, new_booking_id, amount_cents, payment_intent_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := db(ctx, r.pool).Exec(ctx, query,
		l.ID, l.ParentBookingID, l.NewBookingID, l.AmountCents, l.PaymentIntentID, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert lock record: %w", err)
	}
	return nil
}

func (r *PostgresLockRecordRepository) GetOpenByNewBookingID(ctx context.Context, newBookingID string) (*domain.LockRecord, error) {
	query := `SELECT ` + lockRecordColumns + ` FROM lock_records WHERE new_booking_id = $1 AND resolution IS NULL`
	return scanLockRecord(db(ctx, r.pool).QueryRow(ctx, query, newBookingID))
}

func (r *PostgresLockRecordRepository) GetOpenByParentBookingID(ctx context.Context, parentBookingID string) (*domain.LockRecord, error) {
	query := `SELECT ` + lockRecordColumns + ` FROM lock_records WHERE parent_booking_id = $1 AND resolution IS NULL`
	return scanLockRecord(db(ctx, r.pool).QueryRow(ctx, query, parentBookingID))
}

func (r *PostgresLockRecordRepository) Update(ctx context.Context, l *domain.LockRecord) error {
	query := `UPDATE lock_records SET resolution = $2, resolved_at = $3 WHERE id = $1`

	_, err := db(ctx, r.pool).Exec(ctx, query, l.ID, nullString(string(l.Resolution)), l.ResolvedAt)
	if err != nil {
		return fmt.Errorf("update lock record: %w", err)
	}
	return nil
}
