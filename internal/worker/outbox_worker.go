package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/msaedi/instructly-sub006/internal/clock"
	"github.com/msaedi/instructly-sub006/internal/domain"
	"github.com/msaedi/instructly-sub006/internal/metrics"
	"github.com/msaedi/instructly-sub006/internal/repository"
	"github.com/msaedi/instructly-sub006/pkg/kafka"
	"github.com/msaedi/instructly-sub006/pkg/logger"
)

// Publisher delivers one message to the broker
type Publisher interface {
	Produce(ctx context.Context, msg *kafka.Message) error
}

// DispatcherConfig tunes the outbox dispatcher
type DispatcherConfig struct {
	Topic      string
	BatchSize  int
	MaxRetries int
	Retention  time.Duration
	Interval   time.Duration
}

// Dispatcher drains the transactional outbox to Kafka. Pending rows are
// claimed with row locks inside one transaction per batch, so multiple
// dispatcher instances never double-publish within the same pass; consumers
// still dedupe on event_id because delivery is at-least-once.
type Dispatcher struct {
	tx        repository.TxManager
	outbox    repository.OutboxRepository
	publisher Publisher
	clock     *clock.Service
	cfg       DispatcherConfig
	log       *logger.Logger
	metrics   *metrics.Recorder
}

func NewDispatcher(
	tx repository.TxManager,
	outbox repository.OutboxRepository,
	publisher Publisher,
	clk *clock.Service,
	cfg DispatcherConfig,
	log *logger.Logger,
	m *metrics.Recorder,
) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if log == nil {
		log = logger.Get()
	}
	return &Dispatcher{
		tx:        tx,
		outbox:    outbox,
		publisher: publisher,
		clock:     clk,
		cfg:       cfg,
		log:       log,
		metrics:   m,
	}
}

// RegisterAll wires the dispatcher's jobs into the scheduler
func (d *Dispatcher) RegisterAll(s *Scheduler) {
	s.Register(Job{Name: "dispatch_pending_outbox", Interval: d.cfg.Interval, Run: d.DispatchPending})
	s.Register(Job{Name: "redeliver_failed_outbox", Interval: time.Minute, Run: d.RedeliverFailed})
	s.Register(Job{Name: "cleanup_published_outbox", Interval: time.Hour, Run: d.CleanupPublished})
}

// DispatchPending publishes one batch of pending messages
func (d *Dispatcher) DispatchPending(ctx context.Context) error {
	return d.tx.WithinTx(ctx, func(ctx context.Context) error {
		msgs, err := d.outbox.GetPending(ctx, d.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("fetch pending outbox: %w", err)
		}
		return d.publishBatch(ctx, msgs)
	})
}

// RedeliverFailed retries messages whose earlier deliveries failed
func (d *Dispatcher) RedeliverFailed(ctx context.Context) error {
	return d.tx.WithinTx(ctx, func(ctx context.Context) error {
		msgs, err := d.outbox.GetFailed(ctx, d.cfg.MaxRetries, d.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("fetch failed outbox: %w", err)
		}
		return d.publishBatch(ctx, msgs)
	})
}

// CleanupPublished deletes delivered rows past the retention window
func (d *Dispatcher) CleanupPublished(ctx context.Context) error {
	cutoff := d.clock.Now().Add(-d.cfg.Retention)
	deleted, err := d.outbox.DeletePublishedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup published outbox: %w", err)
	}
	if deleted > 0 {
		d.log.Info("outbox cleanup", zap.Int64("deleted", deleted))
	}
	return nil
}

func (d *Dispatcher) publishBatch(ctx context.Context, msgs []*domain.OutboxMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	now := d.clock.Now()
	published := int64(0)

	for _, msg := range msgs {
		err := d.publisher.Produce(ctx, &kafka.Message{
			Topic: d.cfg.Topic,
			// Keyed by booking so one booking's events stay ordered
			Key:       []byte(msg.AggregateID),
			Value:     msg.Payload,
			Headers:   map[string]string{"event_type": msg.EventType},
			Timestamp: now,
		})
		if err != nil {
			d.metrics.RecordOutboxFailed(ctx)
			d.log.Error("outbox publish failed",
				zap.String("message_id", msg.ID),
				zap.String("event_type", msg.EventType),
				zap.Error(err),
			)
			if merr := d.outbox.MarkFailed(ctx, msg.ID, err.Error()); merr != nil {
				return fmt.Errorf("mark outbox failed: %w", merr)
			}
			continue
		}
		if merr := d.outbox.MarkPublished(ctx, msg.ID, now); merr != nil {
			return fmt.Errorf("mark outbox published: %w", merr)
		}
		published++
	}

	d.metrics.RecordOutboxPublished(ctx, published)
	return nil
}
