package di

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/msaedi/instructly-sub006/internal/availability"
	"github.com/msaedi/instructly-sub006/internal/clock"
	"github.com/msaedi/instructly-sub006/internal/lock"
	"github.com/msaedi/instructly-sub006/internal/metrics"
	"github.com/msaedi/instructly-sub006/internal/pricing"
	"github.com/msaedi/instructly-sub006/internal/psp"
	"github.com/msaedi/instructly-sub006/internal/repository"
	"github.com/msaedi/instructly-sub006/internal/service"
	"github.com/msaedi/instructly-sub006/internal/worker"
	"github.com/msaedi/instructly-sub006/pkg/config"
	"github.com/msaedi/instructly-sub006/pkg/database"
	"github.com/msaedi/instructly-sub006/pkg/kafka"
	"github.com/msaedi/instructly-sub006/pkg/logger"
	"github.com/msaedi/instructly-sub006/pkg/redis"
	"github.com/msaedi/instructly-sub006/pkg/telemetry"
)

// Options selects which background jobs a process registers. The API process
// runs only the outbox dispatcher so events leave quickly after the write;
// the worker process runs the full lifecycle job set. Running both everywhere
// is also safe, the per-booking lock and SKIP LOCKED claims keep concurrent
// instances from stepping on each other.
type Options struct {
	LifecycleWorkers bool
	OutboxDispatcher bool
}

// Container wires configuration, infrastructure, and the payment engine
type Container struct {
	Config    *config.Config
	Log       *logger.Logger
	Telemetry *telemetry.Telemetry
	DB        *database.PostgresDB
	Redis     *redis.Client
	Producer  *kafka.Producer
	PSP       psp.Adapter
	Metrics   *metrics.Recorder
	Service   *service.Service
	Scheduler *worker.Scheduler
}

// New builds the full dependency graph. Infrastructure that fails to connect
// fails the whole process; nothing here degrades silently.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Container, error) {
	log, err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.App.Environment,
		ServiceName: cfg.App.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	tel, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		EnableTracing:   cfg.OTel.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient, err := redis.NewClient(ctx, &redis.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	producer, err := kafka.NewProducer(&kafka.Config{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
	})
	if err != nil {
		redisClient.Close()
		db.Close()
		return nil, fmt.Errorf("connect kafka: %w", err)
	}

	adapter, err := buildPSP(cfg, log)
	if err != nil {
		producer.Close()
		redisClient.Close()
		db.Close()
		return nil, err
	}

	pool := db.Pool()
	txManager := repository.NewPgxTxManager(pool)
	bookings := repository.NewPostgresBookingRepository(pool)
	payments := repository.NewPostgresPaymentRepository(pool)
	transfers := repository.NewPostgresTransferRepository(pool)
	noShows := repository.NewPostgresNoShowRepository(pool)
	lockRecords := repository.NewPostgresLockRecordRepository(pool)
	ledger := repository.NewPostgresEventLedger(pool)
	outbox := repository.NewPostgresOutboxRepository(pool)
	audit := repository.NewPostgresAuditRepository(pool)
	credits := repository.NewPostgresCreditRepository(pool)
	instructors := repository.NewPostgresInstructorRepository(pool)
	users := repository.NewPostgresUserRepository(pool)
	availabilityRepo := repository.NewPostgresAvailabilityRepository(pool)

	calculator, err := pricing.NewCalculator(int64(cfg.Engine.PlatformFeePercent))
	if err != nil {
		producer.Close()
		redisClient.Close()
		db.Close()
		return nil, fmt.Errorf("build pricing calculator: %w", err)
	}

	clockSvc := clock.NewService(nil)
	recorder, err := metrics.NewRecorder()
	if err != nil {
		producer.Close()
		redisClient.Close()
		db.Close()
		return nil, fmt.Errorf("build metrics recorder: %w", err)
	}

	svc := service.NewService(service.Deps{
		Tx:           txManager,
		Bookings:     bookings,
		Payments:     payments,
		Transfers:    transfers,
		NoShows:      noShows,
		LockRecords:  lockRecords,
		Ledger:       ledger,
		Outbox:       outbox,
		Credits:      service.NewCreditService(credits, log),
		Instructors:  instructors,
		Users:        users,
		Audit:        audit,
		Availability: availability.NewValidator(availabilityRepo),
		PSP:          adapter,
		Locks:        lock.NewRedisLock(redisClient, cfg.Engine.LockTTL),
		Clock:        clockSvc,
		Pricing:      calculator,
		Engine:       cfg.Engine,
		Logger:       log,
		Metrics:      recorder,
	})

	scheduler := worker.NewScheduler(log, recorder)
	if opts.LifecycleWorkers {
		workers := worker.NewPaymentWorkers(svc, bookings, payments, noShows, clockSvc, cfg.Engine, log, recorder)
		workers.RegisterAll(scheduler)
	}
	if opts.OutboxDispatcher {
		dispatcher := worker.NewDispatcher(txManager, outbox, producer, clockSvc, worker.DispatcherConfig{
			Topic:     cfg.Kafka.Topic,
			BatchSize: cfg.Engine.WorkerBatchSize,
		}, log, recorder)
		dispatcher.RegisterAll(scheduler)
	}

	return &Container{
		Config:    cfg,
		Log:       log,
		Telemetry: tel,
		DB:        db,
		Redis:     redisClient,
		Producer:  producer,
		PSP:       adapter,
		Metrics:   recorder,
		Service:   svc,
		Scheduler: scheduler,
	}, nil
}

// buildPSP picks the live Stripe adapter when credentials are present and the
// in-memory mock otherwise. Production requires credentials at config
// validation time, so the mock can only appear in development and staging.
func buildPSP(cfg *config.Config, log *logger.Logger) (psp.Adapter, error) {
	if cfg.Stripe.SecretKey == "" {
		log.Warn("stripe credentials absent, using mock payment adapter",
			zap.String("environment", cfg.App.Environment),
		)
		return psp.NewMockAdapter(), nil
	}
	adapter, err := psp.NewStripeAdapter(&psp.StripeConfig{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Environment:   cfg.Stripe.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("build stripe adapter: %w", err)
	}
	return adapter, nil
}

// Close releases infrastructure in reverse dependency order. The scheduler
// must already be stopped by the caller.
func (c *Container) Close(ctx context.Context) {
	c.Producer.Close()
	if err := c.Redis.Close(); err != nil {
		c.Log.Error("redis close failed", zap.Error(err))
	}
	c.DB.Close()
	if err := telemetry.Shutdown(ctx); err != nil {
		c.Log.Error("telemetry shutdown failed", zap.Error(err))
	}
	_ = c.Log.Sync()
}
