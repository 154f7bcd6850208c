package service

import (
	"context"

	"github.com/msaedi/instructly-sub006/internal/domain"
)

// Notifier delivers user-facing messages. Every call is best effort: the
// engine commits its transaction first and tolerates notification failures,
// so implementations must never block state progression.
type Notifier interface {
	BookingConfirmed(ctx context.Context, b *domain.Booking) error
	BookingCancelled(ctx context.Context, b *domain.Booking) error

	// AuthFirstFailure is the one-time email sent when the scheduled
	// authorization first declines
	AuthFirstFailure(ctx context.Context, b *domain.Booking) error
	// AuthFinalWarning is the one-time email sent inside the final hour
	// before the booking is abandoned
	AuthFinalWarning(ctx context.Context, b *domain.Booking) error
	AuthAbandoned(ctx context.Context, b *domain.Booking) error

	CaptureFailed(ctx context.Context, b *domain.Booking) error
	CaptureEscalated(ctx context.Context, b *domain.Booking) error

	NoShowReported(ctx context.Context, b *domain.Booking, report *domain.NoShowReport) error
	NoShowResolved(ctx context.Context, b *domain.Booking, report *domain.NoShowReport) error
}

// NoopNotifier drops every notification
type NoopNotifier struct{}

func (NoopNotifier) BookingConfirmed(context.Context, *domain.Booking) error { return nil }
func (NoopNotifier) BookingCancelled(context.Context, *domain.Booking) error { return nil }
func (NoopNotifier) AuthFirstFailure(context.Context, *domain.Booking) error { return nil }
func (NoopNotifier) AuthFinalWarning(context.Context, *domain.Booking) error { return nil }
func (NoopNotifier) AuthAbandoned(context.Context, *domain.Booking) error    { return nil }
func (NoopNotifier) CaptureFailed(context.Context, *domain.Booking) error    { return nil }
func (NoopNotifier) CaptureEscalated(context.Context, *domain.Booking) error { return nil }
func (NoopNotifier) NoShowReported(context.Context, *domain.Booking, *domain.NoShowReport) error {
	return nil
}
func (NoopNotifier) NoShowResolved(context.Context, *domain.Booking, *domain.NoShowReport) error {
	return nil
}

// VideoRoom tears down online lesson rooms when a booking dies. Best effort,
// called after commit.
type VideoRoom interface {
	Teardown(ctx context.Context, bookingID string) error
}

// NoopVideoRoom ignores teardown requests
type NoopVideoRoom struct{}

func (NoopVideoRoom) Teardown(context.Context, string) error { return nil }
