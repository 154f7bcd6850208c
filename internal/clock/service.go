package clock

import (
	"fmt"
	"time"

	"github.com/msaedi/instructly-sub006/internal/domain"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Service converts lesson-local wall-clock values to UTC instants and answers
// the window questions the engine branches on. All persisted instants are UTC;
// localization happens only at the edges.
type Service struct {
	clock Clock
}

func NewService(c Clock) *Service {
	if c == nil {
		c = SystemClock{}
	}
	return &Service{clock: c}
}

// Now returns the current instant in UTC
func (s *Service) Now() time.Time {
	return s.clock.Now().UTC()
}

// LessonWindowUTC resolves a lesson-local date, start time, and duration into
// a UTC window. The end is computed as start plus duration rather than by
// converting the local end time, so the window length is exact even when a
// DST shift falls inside the lesson.
func (s *Service) LessonWindowUTC(date, startTime string, durationMinutes int, tz string) (time.Time, time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", domain.ErrInvalidTimezone, tz)
	}

	local, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+startTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s %s", domain.ErrInvalidTimeFormat, date, startTime)
	}

	start := local.UTC()
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	return start, end, nil
}

// LocalEndTime formats the wall-clock end of a lesson in its own timezone.
// Used only for display fields; window math never depends on it.
func (s *Service) LocalEndTime(date, startTime string, durationMinutes int, tz string) (string, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidTimezone, tz)
	}
	local, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+startTime, loc)
	if err != nil {
		return "", fmt.Errorf("%w: %s %s", domain.ErrInvalidTimeFormat, date, startTime)
	}
	return local.Add(time.Duration(durationMinutes) * time.Minute).Format(timeLayout), nil
}

// HoursUntil returns the signed number of hours from now to the instant.
// Negative once the instant has passed.
func (s *Service) HoursUntil(t time.Time) float64 {
	return t.Sub(s.Now()).Hours()
}

// HoursSince returns the signed number of hours from the instant to now
func (s *Service) HoursSince(t time.Time) float64 {
	return s.Now().Sub(t).Hours()
}

// ValidateTimezone checks the IANA name without building a window
func ValidateTimezone(tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTimezone, tz)
	}
	return nil
}
