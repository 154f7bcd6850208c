package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus represents the delivery status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Outbox event types published to the message bus
const (
	OutboxBookingCreated    = "booking.created"
	OutboxBookingConfirmed  = "booking.confirmed"
	OutboxBookingCancelled  = "booking.cancelled"
	OutboxBookingCompleted  = "booking.completed"
	OutboxBookingNoShow     = "booking.no_show"
	OutboxPaymentAuthorized = "payment.authorized"
	OutboxPaymentCaptured   = "payment.captured"
	OutboxPaymentFailed     = "payment.failed"
	OutboxPaymentEscalated  = "payment.escalated"
)

// OutboxMessage is one event staged for publication inside the same
// transaction that produced it. A dispatcher drains pending rows to Kafka.
type OutboxMessage struct {
	ID            string       `json:"id"`
	AggregateType string       `json:"aggregate_type"`
	AggregateID   string       `json:"aggregate_id"`
	EventType     string       `json:"event_type"`
	Payload       []byte       `json:"payload"`
	Status        OutboxStatus `json:"status"`
	RetryCount    int          `json:"retry_count"`
	LastError     string       `json:"last_error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	PublishedAt   *time.Time   `json:"published_at,omitempty"`
}

// EventEnvelope is the wire shape of every published event
type EventEnvelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	BookingID    string          `json:"booking_id"`
	StudentID    string          `json:"student_id"`
	InstructorID string          `json:"instructor_id"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Data         json.RawMessage `json:"data"`
}

// NewOutboxMessage stages an event for the dispatcher. The envelope's
// event_id doubles as the outbox row id so consumers can dedupe.
func NewOutboxMessage(eventType string, b *Booking, data any, now time.Time) (*OutboxMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	envelope := EventEnvelope{
		EventID:      id,
		EventType:    eventType,
		BookingID:    b.ID,
		StudentID:    b.StudentID,
		InstructorID: b.InstructorID,
		OccurredAt:   now,
		Data:         raw,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		ID:            id,
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     eventType,
		Payload:       payload,
		Status:        OutboxStatusPending,
		CreatedAt:     now,
	}, nil
}

// MarkPublished records successful delivery
func (m *OutboxMessage) MarkPublished(at time.Time) {
	m.Status = OutboxStatusPublished
	m.PublishedAt = &at
}

// MarkFailed records a delivery failure
func (m *OutboxMessage) MarkFailed(reason string) {
	m.Status = OutboxStatusFailed
	m.RetryCount++
	m.LastError = reason
}
