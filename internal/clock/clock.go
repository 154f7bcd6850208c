package clock

import "time"

// Clock abstracts time so workers and window math are testable
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FakeClock is a settable clock for tests
type FakeClock struct {
	Current time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{Current: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.Current
}

// Advance moves the fake clock forward
func (c *FakeClock) Advance(d time.Duration) {
	c.Current = c.Current.Add(d)
}

// Set pins the fake clock to a specific instant
func (c *FakeClock) Set(t time.Time) {
	c.Current = t.UTC()
}
