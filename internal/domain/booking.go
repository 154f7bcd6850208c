package domain

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the lifecycle status of a booking (matches DB ENUM)
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusNoShow    BookingStatus = "no_show"
)

// IsTerminal returns true for statuses that admit no further transitions
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusCompleted, BookingStatusCancelled, BookingStatusNoShow:
		return true
	}
	return false
}

// LocationType represents where the lesson takes place (matches DB ENUM)
type LocationType string

const (
	LocationStudent    LocationType = "student_location"
	LocationInstructor LocationType = "instructor_location"
	LocationOnline     LocationType = "online"
	LocationNeutral    LocationType = "neutral_location"
)

// IsValid checks the location type against the known set
func (l LocationType) IsValid() bool {
	switch l {
	case LocationStudent, LocationInstructor, LocationOnline, LocationNeutral:
		return true
	}
	return false
}

// Booking represents one scheduled lesson between a student and an instructor.
// Local date/times are wall-clock values in LessonTimezone; the UTC window is
// denormalized at creation and immutable thereafter.
type Booking struct {
	ID           string `json:"id"`
	StudentID    string `json:"student_id"`
	InstructorID string `json:"instructor_id"`

	ServiceID       string `json:"service_id"`
	ServiceName     string `json:"service_name"`
	HourlyRateCents int64  `json:"hourly_rate_cents"`
	TotalPriceCents int64  `json:"total_price_cents"`

	BookingDate     string    `json:"booking_date"` // YYYY-MM-DD, lesson-local
	StartTime       string    `json:"start_time"`   // HH:MM, lesson-local
	EndTime         string    `json:"end_time"`     // HH:MM, lesson-local
	DurationMinutes int       `json:"duration_minutes"`
	LessonTimezone  string    `json:"lesson_timezone"` // IANA name
	StartUTC        time.Time `json:"start_utc"`
	EndUTC          time.Time `json:"end_utc"`

	LocationType    LocationType `json:"location_type"`
	LocationAddress string       `json:"location_address,omitempty"`

	Status BookingStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	RescheduledFromBookingID string `json:"rescheduled_from_booking_id,omitempty"`
	HasLockedFunds           bool   `json:"has_locked_funds"`

	CancellationReason string `json:"cancellation_reason,omitempty"`
	CancelledByRole    string `json:"cancelled_by_role,omitempty"`

	StudentCreditCents      int64 `json:"student_credit_cents"`
	RefundedToCardCents     int64 `json:"refunded_to_card_cents"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewBookingID returns a fresh booking identifier
func NewBookingID() string {
	return uuid.New().String()
}

// Overlaps reports whether the booking's UTC window intersects [start, end).
// Both windows are half-open.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartUTC.Before(end) && start.Before(b.EndUTC)
}

// IsActive returns true while the booking still occupies calendar time
func (b *Booking) IsActive() bool {
	return b.Status == BookingStatusPending || b.Status == BookingStatusConfirmed
}

// IsCancellable reports whether a cancel request may proceed
func (b *Booking) IsCancellable() bool {
	return b.Status == BookingStatusPending || b.Status == BookingStatusConfirmed
}

// Confirm marks the booking confirmed
func (b *Booking) Confirm(at time.Time) {
	b.Status = BookingStatusConfirmed
	b.ConfirmedAt = &at
	b.UpdatedAt = at
}

// Complete marks the booking completed. completedAt may predate "now" for
// auto-completion, which backdates to the lesson end.
func (b *Booking) Complete(completedAt, now time.Time) {
	b.Status = BookingStatusCompleted
	b.CompletedAt = &completedAt
	b.UpdatedAt = now
}

// Cancel marks the booking cancelled with attribution
func (b *Booking) Cancel(at time.Time, reason, byRole string) {
	b.Status = BookingStatusCancelled
	b.CancelledAt = &at
	b.CancellationReason = reason
	b.CancelledByRole = byRole
	b.UpdatedAt = at
}

// MarkNoShow marks the booking as a no-show outcome
func (b *Booking) MarkNoShow(at time.Time) {
	b.Status = BookingStatusNoShow
	b.UpdatedAt = at
}
