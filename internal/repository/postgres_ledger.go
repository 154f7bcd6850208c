package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/msaedi/instructly-sub006/internal/domain"
)

// PostgresEventLedger implements EventLedger using PostgreSQL. Idempotence
// rides on a unique index over (booking_id, type, external_ref).
type PostgresEventLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLedger(pool *pgxpool.Pool) *PostgresEventLedger {
	return &PostgresEventLedger{pool: pool}
}

func (r *PostgresEventLedger) Append(ctx context.Context, e *domain.PaymentEvent) (bool, error) {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return false, fmt.Errorf("marshal event detail: %w", err)
	}

	query := `
		INSERT INTO payment_events (
			id, booking_id, type, external_ref, actor_user_id, actor_role,
			amount_cents, detail, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (booking_id, type, external_ref) DO NOTHING`

	tag, err := db(ctx, r.pool).Exec(ctx, query,
		e.ID, e.BookingID, e.Type, e.ExternalRef, nullString(e.ActorUserID), e.ActorRole,
		e.AmountCents, detail, e.OccurredAt,
	)
	if err != nil {
		return false, fmt.Errorf("append payment event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresEventLedger) Exists(ctx context.Context, bookingID string, eventType domain.EventType, externalRef string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM payment_events
			WHERE booking_id = $1 AND type = $2 AND external_ref = $3
		)`

	var exists bool
	if err := db(ctx, r.pool).QueryRow(ctx, query, bookingID, eventType, externalRef).Scan(&exists); err != nil {
		return false, fmt.Errorf("check payment event: %w", err)
	}
	return exists, nil
}

func (r *PostgresEventLedger) ListForBooking(ctx context.Context, bookingID string) ([]*domain.PaymentEvent, error) {
	query := `
		SELECT id, booking_id, type, external_ref, COALESCE(actor_user_id, ''), actor_role,
		       amount_cents, detail, occurred_at
		FROM payment_events
		WHERE booking_id = $1
		ORDER BY occurred_at, id`

	rows, err := db(ctx, r.pool).Query(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("query payment events: %w", err)
	}
	defer rows.Close()

	var out []*domain.PaymentEvent
	for rows.Next() {
		var e domain.PaymentEvent
		var detail []byte
		if err := rows.Scan(
			&e.ID, &e.BookingID, &e.Type, &e.ExternalRef, &e.ActorUserID, &e.ActorRole,
			&e.AmountCents, &detail, &e.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan payment event: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal event detail: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// PostgresOutboxRepository implements OutboxRepository using PostgreSQL
type PostgresOutboxRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresOutboxRepository(pool *pgxpool.Pool) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{pool: pool}
}

const outboxColumns = `
	id, aggregate_type, aggregate_id, event_type, payload, status,
	retry_count, COALESCE(last_error, ''), created_at, published_at`

func (r *PostgresOutboxRepository) Enqueue(ctx context.Context, m *domain.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload, status, retry_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := db(ctx, r.pool).Exec(ctx, query,
		m.ID, m.AggregateType, m.AggregateID, m.EventType, m.Payload, m.Status, m.RetryCount, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue outbox message: %w", err)
	}
	return nil
}

func (r *PostgresOutboxRepository) GetPending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	// FOR UPDATE SKIP LOCKED lets concurrent dispatchers drain disjoint batches
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_messages
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`
	return r.queryMessages(ctx, query, limit)
}

func (r *PostgresOutboxRepository) GetFailed(ctx context.Context, maxRetries, limit int) ([]*domain.OutboxMessage, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_messages
		WHERE status = 'failed' AND retry_count < $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`
	return r.queryMessages(ctx, query, maxRetries, limit)
}

func (r *PostgresOutboxRepository) queryMessages(ctx context.Context, query string, args ...any) ([]*domain.OutboxMessage, error) {
	rows, err := db(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox messages: %w", err)
	}
	defer rows.Close()

	var out []*domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(
			&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload, &m.Status,
			&m.RetryCount, &m.LastError, &m.CreatedAt, &m.PublishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *PostgresOutboxRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE outbox_messages SET status = 'published', published_at = $2 WHERE id = $1`
	if _, err := db(ctx, r.pool).Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func (r *PostgresOutboxRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	query := `
		UPDATE outbox_messages
		SET status = 'failed', retry_count = retry_count + 1, last_error = $2
		WHERE id = $1`
	if _, err := db(ctx, r.pool).Exec(ctx, query, id, reason); err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

func (r *PostgresOutboxRepository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM outbox_messages WHERE status = 'published' AND published_at <= $1`
	tag, err := db(ctx, r.pool).Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete published outbox messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PostgresAuditRepository implements AuditRepository using PostgreSQL
type PostgresAuditRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresAuditRepository(pool *pgxpool.Pool) *PostgresAuditRepository {
	return &PostgresAuditRepository{pool: pool}
}

func (r *PostgresAuditRepository) Record(ctx context.Context, e *domain.AuditEntry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}

	query := `
		INSERT INTO audit_log (
			id, actor_user_id, actor_role, action, entity_type, entity_id, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = db(ctx, r.pool).Exec(ctx, query,
		e.ID, nullString(e.ActorUserID), e.ActorRole, e.Action, e.EntityType, e.EntityID, detail, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
