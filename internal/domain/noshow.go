package domain

import (
	"time"

	"github.com/google/uuid"
)

// NoShowType identifies who failed to appear
type NoShowType string

const (
	NoShowStudent    NoShowType = "student"
	NoShowInstructor NoShowType = "instructor"
	NoShowMutual     NoShowType = "mutual"
)

// IsValid checks the no-show type against the known set
func (t NoShowType) IsValid() bool {
	return t == NoShowStudent || t == NoShowInstructor || t == NoShowMutual
}

// NoShowResolution records how a report was settled
type NoShowResolution string

const (
	// NoShowResolvedCharged means the reported party's counterpart was compensated
	NoShowResolvedCharged NoShowResolution = "resolved_charged"
	// NoShowResolvedReleased means the hold was released with no charge
	NoShowResolvedReleased NoShowResolution = "resolved_released"
	// NoShowResolvedDismissed means an admin rejected the report
	NoShowResolvedDismissed NoShowResolution = "resolved_dismissed"
)

// NoShowReport is filed by one party against the other (or by the engine for
// mutual absence). Undisputed reports auto-resolve after the dispute window.
type NoShowReport struct {
	ID        string     `json:"id"`
	BookingID string     `json:"booking_id"`
	Type      NoShowType `json:"type"`

	ReportedByUserID string `json:"reported_by_user_id,omitempty"`
	ReportedByRole   Role   `json:"reported_by_role"`
	Details          string `json:"details,omitempty"`

	Disputed         bool       `json:"disputed"`
	DisputedAt       *time.Time `json:"disputed_at,omitempty"`
	DisputeDetails   string     `json:"dispute_details,omitempty"`

	Resolution       NoShowResolution `json:"resolution,omitempty"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	ResolvedByUserID string           `json:"resolved_by_user_id,omitempty"`

	ReportedAt time.Time `json:"reported_at"`
}

// NewNoShowReport builds an open report
func NewNoShowReport(bookingID string, nsType NoShowType, reporter Actor, role Role, details string, now time.Time) *NoShowReport {
	return &NoShowReport{
		ID:               uuid.New().String(),
		BookingID:        bookingID,
		Type:             nsType,
		ReportedByUserID: reporter.UserID,
		ReportedByRole:   role,
		Details:          details,
		ReportedAt:       now,
	}
}

// IsOpen reports whether the report still awaits resolution
func (r *NoShowReport) IsOpen() bool {
	return r.Resolution == ""
}

// Dispute records the counterparty's objection
func (r *NoShowReport) Dispute(at time.Time, details string) {
	r.Disputed = true
	r.DisputedAt = &at
	r.DisputeDetails = details
}

// Resolve closes the report
func (r *NoShowReport) Resolve(resolution NoShowResolution, by string, at time.Time) {
	r.Resolution = resolution
	r.ResolvedByUserID = by
	r.ResolvedAt = &at
}
