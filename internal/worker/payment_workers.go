package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/msaedi/instructly-sub006/internal/clock"
	"github.com/msaedi/instructly-sub006/internal/domain"
	"github.com/msaedi/instructly-sub006/internal/metrics"
	"github.com/msaedi/instructly-sub006/internal/repository"
	"github.com/msaedi/instructly-sub006/internal/service"
	"github.com/msaedi/instructly-sub006/pkg/config"
	"github.com/msaedi/instructly-sub006/pkg/logger"
)

// PaymentWorkers owns the scheduled jobs that drive the payment lifecycle.
// Every job lists candidate booking ids and hands each one to the engine,
// which re-reads state under the per-booking lock before acting. A booking
// another worker holds is skipped, not waited on.
type PaymentWorkers struct {
	svc      *service.Service
	bookings repository.BookingRepository
	payments repository.PaymentRepository
	noShows  repository.NoShowRepository
	clock    *clock.Service
	cfg      config.EngineConfig
	log      *logger.Logger
	metrics  *metrics.Recorder
}

func NewPaymentWorkers(
	svc *service.Service,
	bookings repository.BookingRepository,
	payments repository.PaymentRepository,
	noShows repository.NoShowRepository,
	clk *clock.Service,
	cfg config.EngineConfig,
	log *logger.Logger,
	m *metrics.Recorder,
) *PaymentWorkers {
	if log == nil {
		log = logger.Get()
	}
	return &PaymentWorkers{
		svc:      svc,
		bookings: bookings,
		payments: payments,
		noShows:  noShows,
		clock:    clk,
		cfg:      cfg,
		log:      log,
		metrics:  m,
	}
}

// RegisterAll wires every lifecycle job into the scheduler
func (w *PaymentWorkers) RegisterAll(s *Scheduler) {
	s.Register(Job{Name: "process_scheduled_authorizations", Interval: w.cfg.AuthWorkerInterval, Run: w.ProcessScheduledAuthorizations})
	s.Register(Job{Name: "retry_failed_authorizations", Interval: w.cfg.RetryWorkerInterval, Run: w.RetryFailedAuthorizations})
	s.Register(Job{Name: "capture_completed_lessons", Interval: w.cfg.CaptureWorkerInterval, Run: w.CaptureCompletedLessons})
	s.Register(Job{Name: "retry_failed_captures", Interval: w.cfg.CaptureRetryWorker, Run: w.RetryFailedCaptures})
	s.Register(Job{Name: "resolve_undisputed_no_shows", Interval: w.cfg.NoShowWorkerInterval, Run: w.ResolveUndisputedNoShows})
	s.Register(Job{Name: "check_immediate_auth_timeouts", Interval: w.cfg.RetryWorkerInterval, Run: w.CheckImmediateAuthTimeouts})
	s.Register(Job{Name: "audit_payout_schedules", Interval: w.cfg.PayoutAuditInterval, Run: w.svc.AuditPayoutSchedules})
	s.Register(Job{Name: "authorization_health_check", Interval: w.cfg.HealthCheckInterval, Run: w.CheckAuthorizationHealth})
}

// ProcessScheduledAuthorizations places holds whose window has opened
func (w *PaymentWorkers) ProcessScheduledAuthorizations(ctx context.Context) error {
	ids, err := w.payments.ListAuthDue(ctx, w.clock.Now(), w.cfg.WorkerBatchSize)
	if err != nil {
		return fmt.Errorf("list due authorizations: %w", err)
	}
	w.each(ctx, "process_scheduled_authorizations", ids, w.svc.AuthorizeScheduled)
	return nil
}

// RetryFailedAuthorizations walks the retry schedule for declined holds
func (w *PaymentWorkers) RetryFailedAuthorizations(ctx context.Context) error {
	ids, err := w.payments.ListAuthRetryCandidates(ctx, w.clock.Now(), w.cfg.WorkerBatchSize)
	if err != nil {
		return fmt.Errorf("list auth retry candidates: %w", err)
	}
	w.each(ctx, "retry_failed_authorizations", ids, w.svc.RetryFailedAuthorization)
	return nil
}

// CaptureCompletedLessons settles lessons a full capture delay past their
// end: instructor-completed bookings are captured, confirmed bookings are
// auto-completed first, and holds nearing the provider's validity limit are
// rescued before they lapse.
func (w *PaymentWorkers) CaptureCompletedLessons(ctx context.Context) error {
	now := w.clock.Now()
	cutoff := now.Add(-w.cfg.CaptureDelay)

	ids, err := w.payments.ListCaptureDue(ctx, cutoff, w.cfg.WorkerBatchSize)
	if err != nil {
		return fmt.Errorf("list captures due: %w", err)
	}
	w.each(ctx, "capture_completed_lessons", ids, w.svc.CaptureCompleted)

	ids, err = w.bookings.ListConfirmedEndedBefore(ctx, cutoff, w.cfg.WorkerBatchSize)
	if err != nil {
		return fmt.Errorf("list unmarked completed lessons: %w", err)
	}
	w.each(ctx, "capture_completed_lessons", ids, w.svc.AutoCompleteAndCapture)

	ids, err = w.payments.ListAuthAged(ctx, now.Add(-w.cfg.AuthValidity), w.cfg.WorkerBatchSize)
	if err != nil {
		return fmt.Errorf("list aged authorizations: %w", err)
	}
	w.each(ctx, "capture_completed_lessons", ids, w.svc.HandleAgedAuthorization)
	return nil
}

// RetryFailedCaptures retries failed captures and escalates stale ones
func (w *PaymentWorkers) RetryFailedCaptures(ctx context.Context) error {
	ids, err := w.payments.ListCaptureFailed(ctx, w.cfg.WorkerBatchSize)
	if err != nil {
		return fmt.Errorf("list failed captures: %w", err)
	}
	w.each(ctx, "retry_failed_captures", ids, w.svc.RetryFailedCapture)
	return nil
}

// ResolveUndisputedNoShows settles reports whose dispute window has passed
func (w *PaymentWorkers) ResolveUndisputedNoShows(ctx context.Context) error {
	cutoff := w.clock.Now().Add(-w.cfg.NoShowResolveAfter)
	reports, err := w.noShows.ListUndisputedOlderThan(ctx, cutoff, w.cfg.WorkerBatchSize)
	if err != nil {
		return fmt.Errorf("list undisputed no-show reports: %w", err)
	}
	for _, report := range reports {
		if err := w.svc.AutoResolveNoShow(ctx, report); err != nil {
			w.noteSkip(ctx, "resolve_undisputed_no_shows", report.BookingID, err)
		}
	}
	return nil
}

// CheckImmediateAuthTimeouts abandons immediate bookings stuck pending
func (w *PaymentWorkers) CheckImmediateAuthTimeouts(ctx context.Context) error {
	cutoff := w.clock.Now().Add(-w.cfg.ImmediateAuthTimeout)
	ids, err := w.bookings.ListPendingCreatedBefore(ctx, cutoff, w.cfg.WorkerBatchSize)
	if err != nil {
		return fmt.Errorf("list stale pending bookings: %w", err)
	}
	w.each(ctx, "check_immediate_auth_timeouts", ids, w.svc.CheckImmediateAuthTimeout)
	return nil
}

// CheckAuthorizationHealth surfaces a stuck authorization pipeline
func (w *PaymentWorkers) CheckAuthorizationHealth(ctx context.Context) error {
	status, err := w.svc.AuthorizationHealth(ctx)
	if err != nil {
		return err
	}
	if !status.Healthy {
		return fmt.Errorf("authorization pipeline unhealthy: %d overdue", status.OverdueAuthorizations)
	}
	return nil
}

func (w *PaymentWorkers) each(ctx context.Context, job string, ids []string, fn func(context.Context, string) error) {
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := fn(ctx, id); err != nil {
			w.noteSkip(ctx, job, id, err)
		}
	}
}

func (w *PaymentWorkers) noteSkip(ctx context.Context, job, bookingID string, err error) {
	if errors.Is(err, domain.ErrLockNotAcquired) {
		w.metrics.RecordLockContention(ctx, job)
		return
	}
	w.log.Error("worker skipped booking",
		zap.String("job", job),
		zap.String("booking_id", bookingID),
		zap.Error(err),
	)
}
