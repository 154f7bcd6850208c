package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/msaedi/instructly-sub006/internal/metrics"
	"github.com/msaedi/instructly-sub006/pkg/logger"
)

// Job is one periodic unit of background work
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives registered jobs on their intervals. Each job runs once at
// startup and then on its ticker; a panicking job is contained and retried on
// the next tick.
type Scheduler struct {
	jobs    []Job
	stopCh  chan struct{}
	wg      sync.WaitGroup
	log     *logger.Logger
	metrics *metrics.Recorder
}

func NewScheduler(log *logger.Logger, m *metrics.Recorder) *Scheduler {
	if log == nil {
		log = logger.Get()
	}
	return &Scheduler{
		stopCh:  make(chan struct{}),
		log:     log,
		metrics: m,
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches every registered job
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.log.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop signals all jobs and waits for in-flight runs to finish
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	s.runOnce(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	start := time.Now()
	err := s.protect(ctx, job)
	elapsed := time.Since(start)

	s.metrics.RecordWorkerRun(ctx, job.Name, err == nil)
	if err != nil {
		s.log.Error("worker job failed",
			zap.String("job", job.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return
	}
	s.log.Debug("worker job finished",
		zap.String("job", job.Name),
		zap.Duration("elapsed", elapsed),
	)
}

func (s *Scheduler) protect(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v\n%s", job.Name, r, debug.Stack())
		}
	}()
	return job.Run(ctx)
}
