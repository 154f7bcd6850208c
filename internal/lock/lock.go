package lock

import (
	"context"
	"sync"
)

// BookingLock provides per-booking mutual exclusion across engine instances.
// TryAcquire never blocks: a contended booking returns acquired=false and the
// caller skips the booking until the next pass.
type BookingLock interface {
	TryAcquire(ctx context.Context, bookingID string) (*Guard, bool, error)
}

// Guard releases the lock exactly once, no matter how many times Release is
// called. Callers defer Release immediately after a successful acquire.
type Guard struct {
	once    sync.Once
	release func()
}

func newGuard(release func()) *Guard {
	return &Guard{release: release}
}

// Release frees the lock. Safe to call more than once.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(g.release)
}
