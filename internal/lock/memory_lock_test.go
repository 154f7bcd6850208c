package lock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLock()

	guard, ok, err := l.TryAcquire(ctx, "b1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, l.IsHeld("b1"))

	// second acquire on the same booking is refused, not blocked
	_, ok, err = l.TryAcquire(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, ok)

	// a different booking is independent
	g2, ok, err := l.TryAcquire(ctx, "b2")
	require.NoError(t, err)
	require.True(t, ok)
	g2.Release()

	guard.Release()
	assert.False(t, l.IsHeld("b1"))

	// released lock can be re-acquired
	g3, ok, err := l.TryAcquire(ctx, "b1")
	require.NoError(t, err)
	require.True(t, ok)
	g3.Release()
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLock()

	guard, ok, err := l.TryAcquire(ctx, "b1")
	require.NoError(t, err)
	require.True(t, ok)

	guard.Release()
	guard.Release()
	assert.False(t, l.IsHeld("b1"))

	// double release must not free a lock someone else now holds
	g2, ok, err := l.TryAcquire(ctx, "b1")
	require.NoError(t, err)
	require.True(t, ok)
	guard.Release()
	assert.True(t, l.IsHeld("b1"))
	g2.Release()

	// nil guard is a no-op
	var nilGuard *Guard
	nilGuard.Release()
}

func TestMemoryLockConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := l.TryAcquire(ctx, "b1"); ok {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, acquired)
}
