package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Engine   EngineConfig   `mapstructure:"engine"`
	OTel     OTelConfig     `mapstructure:"otel"`
	Log      LogConfig      `mapstructure:"log"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Version     string `mapstructure:"version"`
}

// ServerConfig holds HTTP server settings for the ops endpoints
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka connection settings
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
	Topic    string   `mapstructure:"topic"`
}

// StripeConfig holds PSP credentials and behavior
type StripeConfig struct {
	SecretKey      string        `mapstructure:"secret_key"`
	WebhookSecret  string        `mapstructure:"webhook_secret"`
	Environment    string        `mapstructure:"environment"` // "test" or "live"
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// EngineConfig holds the payment lifecycle windows and worker cadences.
// All windows are relative to the lesson start unless stated otherwise.
type EngineConfig struct {
	AuthLeadTime           time.Duration `mapstructure:"auth_lead_time"`            // pre-auth at start − lead (24h)
	AuthAbandonCutoff      time.Duration `mapstructure:"auth_abandon_cutoff"`       // give up retrying at start − cutoff (12h)
	FinalWarningWindowHigh time.Duration `mapstructure:"final_warning_window_high"` // final-warning band upper bound (13h)
	CaptureDelay           time.Duration `mapstructure:"capture_delay"`             // capture at lesson end + delay (24h)
	CaptureRetryInterval   time.Duration `mapstructure:"capture_retry_interval"`    // 4h
	CaptureEscalationAfter time.Duration `mapstructure:"capture_escalation_after"`  // 72h
	AuthValidity           time.Duration `mapstructure:"auth_validity"`             // PSP hold lifetime (7d)
	ImmediateAuthTimeout   time.Duration `mapstructure:"immediate_auth_timeout"`    // 30m
	NoShowResolveAfter     time.Duration `mapstructure:"no_show_resolve_after"`     // undisputed reports resolve after 24h
	LateRescheduleLow      time.Duration `mapstructure:"late_reschedule_low"`       // locked-funds band: 12h..24h
	LateRescheduleHigh     time.Duration `mapstructure:"late_reschedule_high"`
	PlatformFeePercent     int           `mapstructure:"platform_fee_percent"`
	MilestoneCreditCents   int64         `mapstructure:"milestone_credit_cents"`

	AuthWorkerInterval    time.Duration `mapstructure:"auth_worker_interval"`
	RetryWorkerInterval   time.Duration `mapstructure:"retry_worker_interval"`
	CaptureWorkerInterval time.Duration `mapstructure:"capture_worker_interval"`
	CaptureRetryWorker    time.Duration `mapstructure:"capture_retry_worker_interval"`
	NoShowWorkerInterval  time.Duration `mapstructure:"no_show_worker_interval"`
	HealthCheckInterval   time.Duration `mapstructure:"health_check_interval"`
	PayoutAuditInterval   time.Duration `mapstructure:"payout_audit_interval"`
	WorkerBatchSize       int           `mapstructure:"worker_batch_size"`
	LockTTL               time.Duration `mapstructure:"lock_ttl"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	return LoadWithPath(".env")
}

// LoadWithPath loads configuration from a specific env file path.
// The file is optional; environment variables always take precedence.
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// A present-but-unreadable file is tolerated too; env vars may
			// carry the full configuration.
			_ = err
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "instructly-payments")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_VERSION", "1.0.0")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "instructly")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_CONNS", 25)
	v.SetDefault("DATABASE_MIN_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 50)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 5)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CLIENT_ID", "instructly-payments")
	v.SetDefault("KAFKA_TOPIC", "booking-payment-events")

	// Stripe defaults
	v.SetDefault("STRIPE_SECRET_KEY", "")
	v.SetDefault("STRIPE_WEBHOOK_SECRET", "")
	v.SetDefault("STRIPE_ENVIRONMENT", "test")
	v.SetDefault("STRIPE_REQUEST_TIMEOUT", "30s")

	// Engine defaults; windows follow the published cancellation policy
	v.SetDefault("ENGINE_AUTH_LEAD_TIME", "24h")
	v.SetDefault("ENGINE_AUTH_ABANDON_CUTOFF", "12h")
	v.SetDefault("ENGINE_FINAL_WARNING_WINDOW_HIGH", "13h")
	v.SetDefault("ENGINE_CAPTURE_DELAY", "24h")
	v.SetDefault("ENGINE_CAPTURE_RETRY_INTERVAL", "4h")
	v.SetDefault("ENGINE_CAPTURE_ESCALATION_AFTER", "72h")
	v.SetDefault("ENGINE_AUTH_VALIDITY", "168h")
	v.SetDefault("ENGINE_IMMEDIATE_AUTH_TIMEOUT", "30m")
	v.SetDefault("ENGINE_NO_SHOW_RESOLVE_AFTER", "24h")
	v.SetDefault("ENGINE_LATE_RESCHEDULE_LOW", "12h")
	v.SetDefault("ENGINE_LATE_RESCHEDULE_HIGH", "24h")
	v.SetDefault("ENGINE_PLATFORM_FEE_PERCENT", 15)
	v.SetDefault("ENGINE_MILESTONE_CREDIT_CENTS", 0)

	v.SetDefault("ENGINE_AUTH_WORKER_INTERVAL", "30m")
	v.SetDefault("ENGINE_RETRY_WORKER_INTERVAL", "30m")
	v.SetDefault("ENGINE_CAPTURE_WORKER_INTERVAL", "1h")
	v.SetDefault("ENGINE_CAPTURE_RETRY_WORKER_INTERVAL", "4h")
	v.SetDefault("ENGINE_NO_SHOW_WORKER_INTERVAL", "1h")
	v.SetDefault("ENGINE_HEALTH_CHECK_INTERVAL", "15m")
	v.SetDefault("ENGINE_PAYOUT_AUDIT_INTERVAL", "24h")
	v.SetDefault("ENGINE_WORKER_BATCH_SIZE", 100)
	v.SetDefault("ENGINE_LOCK_TTL", "2m")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "instructly-payments")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Log defaults
	v.SetDefault("LOG_LEVEL", "info")
}

func bindConfig(v *viper.Viper, cfg *Config) {
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Version = v.GetString("APP_VERSION")

	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxConns = v.GetInt32("DATABASE_MAX_CONNS")
	cfg.Database.MinConns = v.GetInt32("DATABASE_MIN_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")

	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	cfg.Kafka.Brokers = strings.Split(v.GetString("KAFKA_BROKERS"), ",")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.Topic = v.GetString("KAFKA_TOPIC")

	cfg.Stripe.SecretKey = v.GetString("STRIPE_SECRET_KEY")
	cfg.Stripe.WebhookSecret = v.GetString("STRIPE_WEBHOOK_SECRET")
	cfg.Stripe.Environment = v.GetString("STRIPE_ENVIRONMENT")
	cfg.Stripe.RequestTimeout = v.GetDuration("STRIPE_REQUEST_TIMEOUT")

	cfg.Engine.AuthLeadTime = v.GetDuration("ENGINE_AUTH_LEAD_TIME")
	cfg.Engine.AuthAbandonCutoff = v.GetDuration("ENGINE_AUTH_ABANDON_CUTOFF")
	cfg.Engine.FinalWarningWindowHigh = v.GetDuration("ENGINE_FINAL_WARNING_WINDOW_HIGH")
	cfg.Engine.CaptureDelay = v.GetDuration("ENGINE_CAPTURE_DELAY")
	cfg.Engine.CaptureRetryInterval = v.GetDuration("ENGINE_CAPTURE_RETRY_INTERVAL")
	cfg.Engine.CaptureEscalationAfter = v.GetDuration("ENGINE_CAPTURE_ESCALATION_AFTER")
	cfg.Engine.AuthValidity = v.GetDuration("ENGINE_AUTH_VALIDITY")
	cfg.Engine.ImmediateAuthTimeout = v.GetDuration("ENGINE_IMMEDIATE_AUTH_TIMEOUT")
	cfg.Engine.NoShowResolveAfter = v.GetDuration("ENGINE_NO_SHOW_RESOLVE_AFTER")
	cfg.Engine.LateRescheduleLow = v.GetDuration("ENGINE_LATE_RESCHEDULE_LOW")
	cfg.Engine.LateRescheduleHigh = v.GetDuration("ENGINE_LATE_RESCHEDULE_HIGH")
	cfg.Engine.PlatformFeePercent = v.GetInt("ENGINE_PLATFORM_FEE_PERCENT")
	cfg.Engine.MilestoneCreditCents = v.GetInt64("ENGINE_MILESTONE_CREDIT_CENTS")

	cfg.Engine.AuthWorkerInterval = v.GetDuration("ENGINE_AUTH_WORKER_INTERVAL")
	cfg.Engine.RetryWorkerInterval = v.GetDuration("ENGINE_RETRY_WORKER_INTERVAL")
	cfg.Engine.CaptureWorkerInterval = v.GetDuration("ENGINE_CAPTURE_WORKER_INTERVAL")
	cfg.Engine.CaptureRetryWorker = v.GetDuration("ENGINE_CAPTURE_RETRY_WORKER_INTERVAL")
	cfg.Engine.NoShowWorkerInterval = v.GetDuration("ENGINE_NO_SHOW_WORKER_INTERVAL")
	cfg.Engine.HealthCheckInterval = v.GetDuration("ENGINE_HEALTH_CHECK_INTERVAL")
	cfg.Engine.PayoutAuditInterval = v.GetDuration("ENGINE_PAYOUT_AUDIT_INTERVAL")
	cfg.Engine.WorkerBatchSize = v.GetInt("ENGINE_WORKER_BATCH_SIZE")
	cfg.Engine.LockTTL = v.GetDuration("ENGINE_LOCK_TTL")

	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	cfg.Log.Level = v.GetString("LOG_LEVEL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host and dbname are required")
	}
	if c.Engine.AuthLeadTime <= c.Engine.AuthAbandonCutoff {
		return fmt.Errorf("auth lead time must exceed the abandon cutoff")
	}
	if c.Engine.FinalWarningWindowHigh <= c.Engine.AuthAbandonCutoff {
		return fmt.Errorf("final warning window must sit above the abandon cutoff")
	}
	if c.IsProduction() && c.Stripe.SecretKey == "" {
		return fmt.Errorf("stripe secret key is required in production")
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
