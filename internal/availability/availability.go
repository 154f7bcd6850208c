package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/msaedi/instructly-sub006/internal/domain"
)

// SlotsPerDay is the number of 30-minute slots in one instructor-local day
const SlotsPerDay = 48

// DayMask is a 48-bit bitmap of 30-minute slots for one instructor-local day.
// Bit 0 is 00:00-00:30, bit 47 is 23:30-24:00. Byte 0 holds bits 0-7 with
// bit 0 as the least significant bit.
type DayMask [6]byte

// FullDay returns a mask with every slot open
func FullDay() DayMask {
	return DayMask{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
}

// IsSet reports whether the slot is open
func (m DayMask) IsSet(slot int) bool {
	if slot < 0 || slot >= SlotsPerDay {
		return false
	}
	return m[slot/8]&(1<<(slot%8)) != 0
}

// Set marks a slot open
func (m *DayMask) Set(slot int) {
	if slot < 0 || slot >= SlotsPerDay {
		return
	}
	m[slot/8] |= 1 << (slot % 8)
}

// Clear marks a slot unavailable
func (m *DayMask) Clear(slot int) {
	if slot < 0 || slot >= SlotsPerDay {
		return
	}
	m[slot/8] &^= 1 << (slot % 8)
}

// SetRange marks slots [from, to) open
func (m *DayMask) SetRange(from, to int) {
	for s := from; s < to; s++ {
		m.Set(s)
	}
}

// MaskProvider returns the availability mask for one instructor-local day.
// A missing row means the whole day is unavailable.
type MaskProvider interface {
	DayMask(ctx context.Context, instructorID, date string) (DayMask, bool, error)
}

// Validator checks lesson windows against instructor availability bitmaps
type Validator struct {
	provider MaskProvider
}

func NewValidator(p MaskProvider) *Validator {
	return &Validator{provider: p}
}

// SlotIndex converts an instructor-local wall-clock time to its slot number.
// The time must sit on a 30-minute boundary.
func SlotIndex(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidTimeFormat, hhmm)
	}
	minutes := t.Hour()*60 + t.Minute()
	if minutes%30 != 0 {
		return 0, fmt.Errorf("%w: %q is not on a 30-minute boundary", domain.ErrInvalidTimeFormat, hhmm)
	}
	return minutes / 30, nil
}

// ValidateWindow checks that every 30-minute slot the lesson overlaps is open
// in the instructor's bitmap. A lesson that crosses midnight checks the tail
// slots against the following day's mask.
func (v *Validator) ValidateWindow(ctx context.Context, instructorID, date, startTime string, durationMinutes int) error {
	if durationMinutes <= 0 || durationMinutes%30 != 0 {
		return fmt.Errorf("%w: %d minutes", domain.ErrInvalidDuration, durationMinutes)
	}

	startSlot, err := SlotIndex(startTime)
	if err != nil {
		return err
	}
	slots := durationMinutes / 30

	todayEnd := startSlot + slots
	if todayEnd > SlotsPerDay {
		todayEnd = SlotsPerDay
	}
	if err := v.checkDay(ctx, instructorID, date, startSlot, todayEnd); err != nil {
		return err
	}

	overflow := startSlot + slots - SlotsPerDay
	if overflow > 0 {
		next, err := nextDate(date)
		if err != nil {
			return err
		}
		if err := v.checkDay(ctx, instructorID, next, 0, overflow); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) checkDay(ctx context.Context, instructorID, date string, from, to int) error {
	mask, ok, err := v.provider.DayMask(ctx, instructorID, date)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.BookingConflictError{Scope: domain.ConflictInstructor}
	}
	for s := from; s < to; s++ {
		if !mask.IsSet(s) {
			return &domain.BookingConflictError{Scope: domain.ConflictInstructor}
		}
	}
	return nil
}

func nextDate(date string) (string, error) {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidTimeFormat, date)
	}
	return d.AddDate(0, 0, 1).Format("2006-01-02"), nil
}
