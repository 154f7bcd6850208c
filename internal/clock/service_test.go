package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msaedi/instructly-sub006/internal/domain"
)

func TestLessonWindowUTC(t *testing.T) {
	svc := NewService(NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	tests := []struct {
		name      string
		date      string
		start     string
		duration  int
		tz        string
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "new york winter",
			date:      "2026-01-15",
			start:     "14:00",
			duration:  60,
			tz:        "America/New_York",
			wantStart: time.Date(2026, 1, 15, 19, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 1, 15, 20, 0, 0, 0, time.UTC),
		},
		{
			name:      "new york summer",
			date:      "2026-07-15",
			start:     "14:00",
			duration:  90,
			tz:        "America/New_York",
			wantStart: time.Date(2026, 7, 15, 18, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 7, 15, 19, 30, 0, 0, time.UTC),
		},
		{
			name:     "spring forward keeps exact duration",
			date:     "2026-03-08",
			start:    "01:30",
			duration: 120,
			tz:       "America/New_York",
			// 01:30 EST = 06:30 UTC, lesson spans the 02:00 skip
			wantStart: time.Date(2026, 3, 8, 6, 30, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 8, 8, 30, 0, 0, time.UTC),
		},
		{
			name:      "utc passthrough",
			date:      "2026-05-01",
			start:     "09:00",
			duration:  30,
			tz:        "UTC",
			wantStart: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := svc.LessonWindowUTC(tt.date, tt.start, tt.duration, tt.tz)
			require.NoError(t, err)
			assert.True(t, start.Equal(tt.wantStart), "start: got %v want %v", start, tt.wantStart)
			assert.True(t, end.Equal(tt.wantEnd), "end: got %v want %v", end, tt.wantEnd)
			assert.Equal(t, time.Duration(tt.duration)*time.Minute, end.Sub(start))
		})
	}
}

func TestLessonWindowUTCErrors(t *testing.T) {
	svc := NewService(nil)

	_, _, err := svc.LessonWindowUTC("2026-01-15", "14:00", 60, "Mars/Olympus")
	assert.ErrorIs(t, err, domain.ErrInvalidTimezone)

	_, _, err = svc.LessonWindowUTC("15-01-2026", "14:00", 60, "UTC")
	assert.ErrorIs(t, err, domain.ErrInvalidTimeFormat)

	_, _, err = svc.LessonWindowUTC("2026-01-15", "2pm", 60, "UTC")
	assert.ErrorIs(t, err, domain.ErrInvalidTimeFormat)
}

func TestHoursUntil(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := NewFakeClock(now)
	svc := NewService(fake)

	assert.InDelta(t, 24.0, svc.HoursUntil(now.Add(24*time.Hour)), 0.001)
	assert.InDelta(t, -6.0, svc.HoursUntil(now.Add(-6*time.Hour)), 0.001)
	assert.InDelta(t, 6.0, svc.HoursSince(now.Add(-6*time.Hour)), 0.001)

	fake.Advance(12 * time.Hour)
	assert.InDelta(t, 12.0, svc.HoursUntil(now.Add(24*time.Hour)), 0.001)
}

func TestLocalEndTime(t *testing.T) {
	svc := NewService(nil)

	end, err := svc.LocalEndTime("2026-01-15", "23:30", 60, "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, "00:30", end)
}
