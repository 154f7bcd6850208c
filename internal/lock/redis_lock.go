package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/msaedi/instructly-sub006/pkg/logger"
	"github.com/msaedi/instructly-sub006/pkg/redis"
)

const lockKeyPrefix = "payment:booking-lock:"

// releaseScript deletes the lock only if the caller still owns it, so a lock
// that expired and was re-acquired by another worker is never released out
// from under the new owner.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLock implements BookingLock with SET NX PX and a compare-and-delete
// release. The TTL bounds how long a crashed worker can wedge a booking.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLock creates a Redis-backed booking lock
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLock{client: client, ttl: ttl}
}

// TryAcquire attempts to take the per-booking lock without blocking
func (l *RedisLock) TryAcquire(ctx context.Context, bookingID string) (*Guard, bool, error) {
	key := lockKeyPrefix + bookingID
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	guard := newGuard(func() {
		// release uses a fresh context: the operation's context may already
		// be cancelled by the time the deferred release runs
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		cmd := l.client.EvalWithFallback(releaseCtx, "booking_lock_release", releaseScript, []string{key}, token)
		if cmd.Err() != nil {
			logger.Get().Warn("failed to release booking lock, TTL will reclaim it",
				zap.String("booking_id", bookingID),
				zap.Error(cmd.Err()))
		}
	})
	return guard, true, nil
}
