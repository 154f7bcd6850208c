package lock

import (
	"context"
	"sync"
)

// MemoryLock implements BookingLock for a single process. Used in tests and
// local development without Redis.
type MemoryLock struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewMemoryLock creates an in-process booking lock
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{held: make(map[string]bool)}
}

// TryAcquire attempts to take the per-booking lock without blocking
func (l *MemoryLock) TryAcquire(ctx context.Context, bookingID string) (*Guard, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[bookingID] {
		return nil, false, nil
	}
	l.held[bookingID] = true

	guard := newGuard(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, bookingID)
	})
	return guard, true, nil
}

// IsHeld reports whether the booking is currently locked
func (l *MemoryLock) IsHeld(bookingID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[bookingID]
}
