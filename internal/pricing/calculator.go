package pricing

import (
	"fmt"

	"github.com/msaedi/instructly-sub006/internal/domain"
)

// Calculator derives every money amount the engine moves. All arithmetic is
// integer cents. Fees round down and payouts absorb the remainder, so fee
// plus payout always equals the amount charged.
type Calculator struct {
	platformFeePercent int64
}

func NewCalculator(platformFeePercent int64) (*Calculator, error) {
	if platformFeePercent < 0 || platformFeePercent > 100 {
		return nil, fmt.Errorf("platform fee percent out of range: %d", platformFeePercent)
	}
	return &Calculator{platformFeePercent: platformFeePercent}, nil
}

// Quote is the full price breakdown for one booking
type Quote struct {
	TotalCents            int64
	PlatformFeeCents      int64
	InstructorPayoutCents int64
	CreditsAppliedCents   int64
	CardChargeCents       int64
}

// QuoteLesson prices a lesson from the hourly rate and duration, then applies
// available credits. Credits reduce the card charge, never the instructor's
// payout.
func (c *Calculator) QuoteLesson(hourlyRateCents int64, durationMinutes int, availableCreditCents int64) (Quote, error) {
	if hourlyRateCents <= 0 {
		return Quote{}, fmt.Errorf("hourly rate must be positive: %d", hourlyRateCents)
	}
	if durationMinutes <= 0 || durationMinutes%30 != 0 {
		return Quote{}, fmt.Errorf("%w: %d minutes", domain.ErrInvalidDuration, durationMinutes)
	}

	total := hourlyRateCents * int64(durationMinutes) / 60
	fee := total * c.platformFeePercent / 100
	payout := total - fee

	credits := availableCreditCents
	if credits > total {
		credits = total
	}
	if credits < 0 {
		credits = 0
	}

	return Quote{
		TotalCents:            total,
		PlatformFeeCents:      fee,
		InstructorPayoutCents: payout,
		CreditsAppliedCents:   credits,
		CardChargeCents:       total - credits,
	}, nil
}

// StandardPayout returns the instructor's payout for a fully captured amount
func (c *Calculator) StandardPayout(amountCents int64) int64 {
	return amountCents - c.PlatformFee(amountCents)
}

// PlatformFee returns the platform's cut of a captured amount, rounded down
func (c *Calculator) PlatformFee(amountCents int64) int64 {
	return amountCents * c.platformFeePercent / 100
}

// SplitSettlement is the breakdown of a half-compensation capture
type SplitSettlement struct {
	CaptureCents          int64
	InstructorPayoutCents int64
	PlatformFeeCents      int64
	StudentCreditCents    int64
}

// LateCancelSplit prices a student cancellation inside the 12 hour window.
// The full amount is captured. The instructor receives half the standard
// payout, the platform keeps its standard fee, and the student is credited
// the remainder, so the three parts always sum to the capture.
func (c *Calculator) LateCancelSplit(amountCents int64) SplitSettlement {
	fee := c.PlatformFee(amountCents)
	standardPayout := amountCents - fee
	payout := standardPayout / 2
	return SplitSettlement{
		CaptureCents:          amountCents,
		InstructorPayoutCents: payout,
		PlatformFeeCents:      fee,
		StudentCreditCents:    amountCents - fee - payout,
	}
}

// StudentNoShowSettlement prices a resolved student no-show. The instructor
// is paid in full; the student receives no credit.
func (c *Calculator) StudentNoShowSettlement(amountCents int64) SplitSettlement {
	fee := c.PlatformFee(amountCents)
	return SplitSettlement{
		CaptureCents:          amountCents,
		InstructorPayoutCents: amountCents - fee,
		PlatformFeeCents:      fee,
	}
}
