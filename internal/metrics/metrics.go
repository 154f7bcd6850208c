package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/msaedi/instructly-sub006/pkg/telemetry"
)

// Recorder bundles the engine's meters. A nil Recorder is valid and records
// nothing, so tests can pass nil instead of wiring OTel.
type Recorder struct {
	authAttempts    *telemetry.Counter
	captures        *telemetry.Counter
	escalations     *telemetry.Counter
	abandons        *telemetry.Counter
	lockContention  *telemetry.Counter
	workerRuns      *telemetry.Counter
	outboxPublished *telemetry.Counter
	outboxFailed    *telemetry.Counter
	pspLatency      *telemetry.Histogram
}

// NewRecorder registers all engine instruments on the global meter
func NewRecorder() (*Recorder, error) {
	r := &Recorder{}
	var err error

	if r.authAttempts, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_auth_attempts_total",
		Description: "Authorization attempts by result",
		Unit:        "{attempt}",
	}); err != nil {
		return nil, fmt.Errorf("register auth attempts counter: %w", err)
	}
	if r.captures, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_captures_total",
		Description: "Capture attempts by result",
		Unit:        "{attempt}",
	}); err != nil {
		return nil, fmt.Errorf("register captures counter: %w", err)
	}
	if r.escalations, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_capture_escalations_total",
		Description: "Capture failures escalated to manual review",
		Unit:        "{escalation}",
	}); err != nil {
		return nil, fmt.Errorf("register escalations counter: %w", err)
	}
	if r.abandons, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_auth_abandons_total",
		Description: "Bookings cancelled because authorization never succeeded",
		Unit:        "{booking}",
	}); err != nil {
		return nil, fmt.Errorf("register abandons counter: %w", err)
	}
	if r.lockContention, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "booking_lock_contention_total",
		Description: "Bookings skipped because another worker held the lock",
		Unit:        "{skip}",
	}); err != nil {
		return nil, fmt.Errorf("register lock contention counter: %w", err)
	}
	if r.workerRuns, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "payment_worker_runs_total",
		Description: "Worker job executions by job and result",
		Unit:        "{run}",
	}); err != nil {
		return nil, fmt.Errorf("register worker runs counter: %w", err)
	}
	if r.outboxPublished, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "outbox_messages_published_total",
		Description: "Outbox messages delivered to the broker",
		Unit:        "{message}",
	}); err != nil {
		return nil, fmt.Errorf("register outbox published counter: %w", err)
	}
	if r.outboxFailed, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "outbox_messages_failed_total",
		Description: "Outbox delivery failures",
		Unit:        "{message}",
	}); err != nil {
		return nil, fmt.Errorf("register outbox failed counter: %w", err)
	}
	if r.pspLatency, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "psp_call_duration_seconds",
		Description: "PSP call latency by operation",
		Unit:        "s",
	}, []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}); err != nil {
		return nil, fmt.Errorf("register psp latency histogram: %w", err)
	}
	return r, nil
}

// RecordAuthAttempt counts one authorization attempt
func (r *Recorder) RecordAuthAttempt(ctx context.Context, result string) {
	if r == nil {
		return
	}
	r.authAttempts.Inc(ctx, attribute.String("result", result))
}

// RecordCapture counts one capture attempt
func (r *Recorder) RecordCapture(ctx context.Context, result string) {
	if r == nil {
		return
	}
	r.captures.Inc(ctx, attribute.String("result", result))
}

// RecordEscalation counts one manual-review escalation
func (r *Recorder) RecordEscalation(ctx context.Context) {
	if r == nil {
		return
	}
	r.escalations.Inc(ctx)
}

// RecordAbandon counts one abandoned authorization
func (r *Recorder) RecordAbandon(ctx context.Context) {
	if r == nil {
		return
	}
	r.abandons.Inc(ctx)
}

// RecordLockContention counts one skipped booking
func (r *Recorder) RecordLockContention(ctx context.Context, job string) {
	if r == nil {
		return
	}
	r.lockContention.Inc(ctx, attribute.String("job", job))
}

// RecordWorkerRun counts one job execution
func (r *Recorder) RecordWorkerRun(ctx context.Context, job string, success bool) {
	if r == nil {
		return
	}
	r.workerRuns.Inc(ctx,
		attribute.String("job", job),
		attribute.Bool("success", success),
	)
}

// RecordOutboxPublished counts delivered outbox messages
func (r *Recorder) RecordOutboxPublished(ctx context.Context, n int64) {
	if r == nil {
		return
	}
	r.outboxPublished.Add(ctx, n)
}

// RecordOutboxFailed counts failed outbox deliveries
func (r *Recorder) RecordOutboxFailed(ctx context.Context) {
	if r == nil {
		return
	}
	r.outboxFailed.Inc(ctx)
}

// ObservePSPCall records PSP call latency
func (r *Recorder) ObservePSPCall(ctx context.Context, op string, seconds float64) {
	if r == nil {
		return
	}
	r.pspLatency.Record(ctx, seconds, attribute.String("operation", op))
}
