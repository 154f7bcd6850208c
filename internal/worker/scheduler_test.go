package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerRunsJobsAndStops(t *testing.T) {
	s := NewScheduler(nil, nil)

	var runs atomic.Int64
	s.Register(Job{
		Name:     "counter",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	s.Stop()

	stopped := runs.Load()
	assert.GreaterOrEqual(t, stopped, int64(2))

	// No further runs after Stop
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())
}

func TestSchedulerContainsPanics(t *testing.T) {
	s := NewScheduler(nil, nil)

	var panics, healthy atomic.Int64
	s.Register(Job{
		Name:     "panicky",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			panics.Add(1)
			panic("boom")
		},
	})
	s.Register(Job{
		Name:     "healthy",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			healthy.Add(1)
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	s.Stop()

	// The panicking job keeps being retried and never takes the healthy one down
	assert.GreaterOrEqual(t, panics.Load(), int64(2))
	assert.GreaterOrEqual(t, healthy.Load(), int64(2))
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	s := NewScheduler(nil, nil)

	var runs atomic.Int64
	s.Register(Job{
		Name:     "ctx_bound",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	stopped := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())

	s.Stop()
}
