package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBookingOverlaps(t *testing.T) {
	base := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	booking := &Booking{
		StartUTC: base,
		EndUTC:   base.Add(time.Hour),
	}

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  bool
	}{
		{"identical window", base, base.Add(time.Hour), true},
		{"contained window", base.Add(15 * time.Minute), base.Add(30 * time.Minute), true},
		{"overlaps start", base.Add(-30 * time.Minute), base.Add(30 * time.Minute), true},
		{"overlaps end", base.Add(30 * time.Minute), base.Add(90 * time.Minute), true},
		{"back to back before", base.Add(-time.Hour), base, false},
		{"back to back after", base.Add(time.Hour), base.Add(2 * time.Hour), false},
		{"disjoint", base.Add(3 * time.Hour), base.Add(4 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, booking.Overlaps(tt.start, tt.end))
		})
	}
}

func TestBookingStatusPredicates(t *testing.T) {
	assert.False(t, BookingStatusPending.IsTerminal())
	assert.False(t, BookingStatusConfirmed.IsTerminal())
	assert.True(t, BookingStatusCompleted.IsTerminal())
	assert.True(t, BookingStatusCancelled.IsTerminal())
	assert.True(t, BookingStatusNoShow.IsTerminal())

	b := &Booking{Status: BookingStatusPending}
	assert.True(t, b.IsActive())
	assert.True(t, b.IsCancellable())

	b.Status = BookingStatusCompleted
	assert.False(t, b.IsActive())
	assert.False(t, b.IsCancellable())
}

func TestBookingCompleteBackdates(t *testing.T) {
	lessonEnd := time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)
	now := lessonEnd.Add(24 * time.Hour)

	b := &Booking{Status: BookingStatusConfirmed}
	b.Complete(lessonEnd, now)

	assert.Equal(t, BookingStatusCompleted, b.Status)
	assert.Equal(t, lessonEnd, *b.CompletedAt)
	assert.Equal(t, now, b.UpdatedAt)
}

func TestPaymentCaptureFailureAnchorsFirstFailure(t *testing.T) {
	first := time.Date(2026, 3, 11, 16, 0, 0, 0, time.UTC)
	second := first.Add(4 * time.Hour)

	p := &BookingPayment{Status: PaymentStatusAuthorized}
	p.MarkCaptureFailed(first, "card_declined")
	p.MarkCaptureFailed(second, "card_declined")

	assert.Equal(t, PaymentStatusMethodRequired, p.Status)
	assert.True(t, p.InCaptureRetry())
	assert.Equal(t, first, *p.CaptureFailedAt)
	assert.Equal(t, 2, p.CaptureRetryCount)
}

func TestPaymentAuthExpiry(t *testing.T) {
	p := &BookingPayment{}
	assert.True(t, p.AuthExpiresAt(168*time.Hour).IsZero())

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p.MarkAuthorized("pi_123", at)
	assert.Equal(t, at.Add(168*time.Hour), p.AuthExpiresAt(168*time.Hour))
	assert.Equal(t, PaymentStatusAuthorized, p.Status)
	assert.Equal(t, "pi_123", p.PaymentIntentID)
}

func TestActorPredicates(t *testing.T) {
	sys := SystemActor()
	assert.True(t, sys.IsAdmin())
	assert.False(t, sys.Is("anyone"))
	assert.True(t, sys.HasRole(RoleSystem))

	stu := Actor{UserID: "u1", Roles: []Role{RoleStudent}}
	assert.True(t, stu.Is("u1"))
	assert.False(t, stu.Is("u2"))
	assert.False(t, stu.IsAdmin())

	b := &Booking{StudentID: "u1", InstructorID: "u9"}
	assert.True(t, stu.CanActOn(b))
	assert.False(t, Actor{UserID: "outsider"}.CanActOn(b))
	assert.True(t, sys.CanActOn(b))
}
