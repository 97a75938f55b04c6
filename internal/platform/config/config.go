// Package config loads process configuration from defaults, an optional config
// file, and CAREVERIFY_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	Env       string          `mapstructure:"env"`
	Server    Server          `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Claims    ClaimsConfig    `mapstructure:"claims"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	SLA       SLAConfig       `mapstructure:"sla"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Trust     TrustConfig     `mapstructure:"trust"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig selects the storage backend. An empty URL keeps every store in memory.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	TxTimeout       time.Duration `mapstructure:"tx_timeout"`
}

// RedisConfig enables the distributed per-claim lock when URL is set.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
}

// KafkaConfig enables the Kafka job queue, audit relay and notification sink when Brokers is set.
type KafkaConfig struct {
	Brokers            []string `mapstructure:"brokers"`
	JobsTopic          string   `mapstructure:"jobs_topic"`
	AuditTopic         string   `mapstructure:"audit_topic"`
	NotificationsTopic string   `mapstructure:"notifications_topic"`
	ConsumerGroup      string   `mapstructure:"consumer_group"`
	Partitions         int32    `mapstructure:"partitions"`
	ReplicationFactor  int16    `mapstructure:"replication_factor"`
}

type ClaimsConfig struct {
	MaxAppeals        int           `mapstructure:"max_appeals"`
	AppealReviewDue   time.Duration `mapstructure:"appeal_review_due"`
	DraftRetention    time.Duration `mapstructure:"draft_retention"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	ScoringStallAfter time.Duration `mapstructure:"scoring_stall_after"`
	RecoveryInterval  time.Duration `mapstructure:"recovery_interval"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	DefaultCurrency   string        `mapstructure:"default_currency"`
	DefaultPriority   int           `mapstructure:"default_priority"`
}

type ScoringConfig struct {
	ScorerTimeout         time.Duration `mapstructure:"scorer_timeout"`
	FraudAlertThreshold   float64       `mapstructure:"fraud_alert_threshold"`
	AnomalyAlertThreshold float64       `mapstructure:"anomaly_alert_threshold"`
	BreakerFailures       int           `mapstructure:"breaker_failures"`
	BreakerSuccesses      int           `mapstructure:"breaker_successes"`
	ModelVersion          string        `mapstructure:"model_version"`
}

type SLAConfig struct {
	Window         time.Duration `mapstructure:"window"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	ResyncInterval time.Duration `mapstructure:"resync_interval"`
}

type RoutingConfig struct {
	RelationshipsFile string `mapstructure:"relationships_file"`
}

type DispatchConfig struct {
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
}

type TrustConfig struct {
	Window          time.Duration `mapstructure:"window"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// RateLimitConfig caps write requests per actor, or per client IP for
// anonymous callers. Windows live in Redis when redis.url is set.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// Load reads configuration. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CAREVERIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// Comma-separated env values arrive as a single element.
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.SLA.Window <= 0 {
		return fmt.Errorf("sla.window must be positive")
	}
	if c.SLA.SweepInterval <= 0 {
		return fmt.Errorf("sla.sweep_interval must be positive")
	}
	if c.Claims.MaxAppeals < 0 {
		return fmt.Errorf("claims.max_appeals must not be negative")
	}
	if c.Claims.DefaultPriority < 1 || c.Claims.DefaultPriority > 5 {
		return fmt.Errorf("claims.default_priority must be between 1 and 5")
	}
	if c.Scoring.ScorerTimeout <= 0 {
		return fmt.Errorf("scoring.scorer_timeout must be positive")
	}
	if c.Claims.CleanupInterval <= 0 || c.Trust.RefreshInterval <= 0 {
		return fmt.Errorf("claims.cleanup_interval and trust.refresh_interval must be positive")
	}
	if c.Claims.ScoringStallAfter <= 0 || c.Claims.RecoveryInterval <= 0 {
		return fmt.Errorf("claims.scoring_stall_after and claims.recovery_interval must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate_limit.requests and rate_limit.window must be positive when enabled")
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch.workers must be positive")
	}
	return nil
}

func (c *Config) IsDev() bool { return c.Env == "development" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.tx_timeout", 5*time.Second)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.lock_ttl", 10*time.Second)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.jobs_topic", "careverify.jobs")
	v.SetDefault("kafka.audit_topic", "careverify.audit")
	v.SetDefault("kafka.notifications_topic", "careverify.notifications")
	v.SetDefault("kafka.consumer_group", "careverify-workers")
	v.SetDefault("kafka.partitions", 6)
	v.SetDefault("kafka.replication_factor", 1)

	v.SetDefault("claims.max_appeals", 2)
	v.SetDefault("claims.appeal_review_due", 72*time.Hour)
	v.SetDefault("claims.draft_retention", 30*24*time.Hour)
	v.SetDefault("claims.cleanup_interval", 24*time.Hour)
	v.SetDefault("claims.scoring_stall_after", 30*time.Minute)
	v.SetDefault("claims.recovery_interval", 10*time.Minute)
	v.SetDefault("claims.lock_timeout", 5*time.Second)
	v.SetDefault("claims.default_currency", "INR")
	v.SetDefault("claims.default_priority", 2)

	v.SetDefault("scoring.scorer_timeout", 5*time.Second)
	v.SetDefault("scoring.fraud_alert_threshold", 0.75)
	v.SetDefault("scoring.anomaly_alert_threshold", 0.65)
	v.SetDefault("scoring.breaker_failures", 5)
	v.SetDefault("scoring.breaker_successes", 2)
	v.SetDefault("scoring.model_version", "rules-v1")

	v.SetDefault("sla.window", 72*time.Hour)
	v.SetDefault("sla.sweep_interval", 30*time.Minute)
	v.SetDefault("sla.resync_interval", 6*time.Hour)

	v.SetDefault("routing.relationships_file", "")

	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue_size", 256)
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.base_backoff", 500*time.Millisecond)

	v.SetDefault("trust.window", 180*24*time.Hour)
	v.SetDefault("trust.refresh_interval", 24*time.Hour)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 120)
	v.SetDefault("rate_limit.window", time.Minute)
}
