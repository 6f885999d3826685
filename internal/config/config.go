// Package config defines the top-level configuration for notifyhub and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by NOTIFYHUB_* environment variables.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Queue    QueueConfig    `toml:"queue"`
	Storage  StorageConfig  `toml:"storage"`
	Delivery DeliveryConfig `toml:"delivery"`
	Channels ChannelsConfig `toml:"channels"`
	Catalog  CatalogConfig  `toml:"catalog"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Alert    AlertConfig    `toml:"alert"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// KafkaConfig holds broker addresses and topic names for the kafka queue
// backend.
type KafkaConfig struct {
	Brokers    []string `toml:"brokers"`
	Topic      string   `toml:"topic"`
	RetryTopic string   `toml:"retry_topic"`
	GroupID    string   `toml:"group_id"`
}

// QueueConfig selects the task queue backend and tunes the delivery runner.
type QueueConfig struct {
	// Backend is one of "redis", "kafka" or "memory".
	Backend           string   `toml:"backend"`
	Stream            string   `toml:"stream"`
	DelayedKey        string   `toml:"delayed_key"`
	ConsumerGroup     string   `toml:"consumer_group"`
	Concurrency       int      `toml:"concurrency"`
	VisibilityTimeout duration `toml:"visibility_timeout"`
	PollInterval      duration `toml:"poll_interval"`
}

// StorageConfig selects where delivery records and the catalog live.
type StorageConfig struct {
	// Backend is one of "postgres" or "memory".
	Backend string `toml:"backend"`
}

// DeliveryConfig holds the retry policy and reaper settings.
type DeliveryConfig struct {
	MaxAttempts     int        `toml:"max_attempts"`
	Backoff         []duration `toml:"backoff"`
	ProcessingLease duration   `toml:"processing_lease"`
	ReaperInterval  duration   `toml:"reaper_interval"`
	ReaperBatch     int        `toml:"reaper_batch"`
}

// BackoffSteps returns the configured backoff sequence as plain durations.
func (d DeliveryConfig) BackoffSteps() []time.Duration {
	out := make([]time.Duration, len(d.Backoff))
	for i, b := range d.Backoff {
		out[i] = b.Duration
	}
	return out
}

// ChannelsConfig groups the per-channel driver settings.
type ChannelsConfig struct {
	Email EmailConfig `toml:"email"`
	SMS   SMSConfig   `toml:"sms"`
	Chat  ChatConfig  `toml:"chat"`
}

// EmailConfig configures the email driver.
type EmailConfig struct {
	Enabled     bool    `toml:"enabled"`
	Transport   string  `toml:"transport"` // "ses" or "log"
	FromAddress string  `toml:"from_address"`
	FromName    string  `toml:"from_name"`
	Region      string  `toml:"region"`
	RatePerSec  float64 `toml:"rate_per_sec"`
}

// SMSConfig configures the SMS driver.
type SMSConfig struct {
	Enabled    bool    `toml:"enabled"`
	Transport  string  `toml:"transport"` // only "log" today
	RatePerSec float64 `toml:"rate_per_sec"`
}

// ChatConfig configures the chat webhook driver.
type ChatConfig struct {
	Enabled        bool     `toml:"enabled"`
	Format         string   `toml:"format"` // "slack" or "discord"
	DefaultWebhook string   `toml:"default_webhook"`
	SigningSecret  string   `toml:"signing_secret"` // empty disables request signing
	Timeout        duration `toml:"timeout"`
	RatePerSec     float64  `toml:"rate_per_sec"`
}

// CatalogConfig points at the declarative sources/templates/rules file.
type CatalogConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the delivery record archiver.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// APIKeyHash is a bcrypt hash accepted instead of a plaintext APIKey.
	APIKeyHash string   `toml:"api_key_hash"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// AlertConfig holds operator alert channel credentials. Alerts fire on
// permanent delivery failures and configuration errors.
type AlertConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "notifyhub",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Kafka: KafkaConfig{
			Brokers:    []string{"localhost:9092"},
			Topic:      "notifyhub.deliveries",
			RetryTopic: "notifyhub.deliveries.retry",
			GroupID:    "notifyhub-workers",
		},
		Queue: QueueConfig{
			Backend:           "redis",
			Stream:            "notifyhub:deliveries",
			DelayedKey:        "notifyhub:deliveries:delayed",
			ConsumerGroup:     "notifyhub-workers",
			Concurrency:       4,
			VisibilityTimeout: duration{2 * time.Minute},
			PollInterval:      duration{time.Second},
		},
		Storage: StorageConfig{Backend: "postgres"},
		Delivery: DeliveryConfig{
			MaxAttempts: 3,
			Backoff: []duration{
				{60 * time.Second},
				{300 * time.Second},
				{900 * time.Second},
			},
			ProcessingLease: duration{10 * time.Minute},
			ReaperInterval:  duration{time.Minute},
			ReaperBatch:     100,
		},
		Channels: ChannelsConfig{
			Email: EmailConfig{
				Enabled:     true,
				Transport:   "log",
				FromAddress: "noreply@example.com",
				FromName:    "notifyhub",
				Region:      "us-east-1",
			},
			SMS: SMSConfig{
				Enabled:   true,
				Transport: "log",
			},
			Chat: ChatConfig{
				Enabled: true,
				Format:  "slack",
				Timeout: duration{10 * time.Second},
			},
		},
		Catalog: CatalogConfig{Path: "catalog.yaml"},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "notifyhub-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"*"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"api":    true,
	"worker": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.Storage.Backend {
	case "postgres":
		if c.Database.DSN == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: postgres, memory)", c.Storage.Backend))
	}

	switch c.Queue.Backend {
	case "redis":
		if c.Queue.Stream == "" || c.Queue.DelayedKey == "" || c.Queue.ConsumerGroup == "" {
			errs = append(errs, "queue: stream, delayed_key and consumer_group must be set for the redis backend")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty")
		}
		if c.Kafka.Topic == "" || c.Kafka.RetryTopic == "" || c.Kafka.GroupID == "" {
			errs = append(errs, "kafka: topic, retry_topic and group_id must be set")
		}
	case "memory":
		if c.Storage.Backend == "postgres" && c.Mode != "full" {
			errs = append(errs, "queue: the memory backend only works in full mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("queue: unknown backend %q (valid: redis, kafka, memory)", c.Queue.Backend))
	}
	if c.Queue.Concurrency < 1 {
		errs = append(errs, "queue: concurrency must be >= 1")
	}
	if c.Storage.Backend == "memory" && c.Mode != "full" {
		errs = append(errs, "storage: the memory backend only works in full mode")
	}

	needsRedis := c.Queue.Backend == "redis" || c.Server.RateLimit > 0
	if needsRedis && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.Delivery.MaxAttempts < 1 {
		errs = append(errs, "delivery: max_attempts must be >= 1")
	}
	if len(c.Delivery.Backoff) == 0 {
		errs = append(errs, "delivery: backoff must contain at least one step")
	}
	for i, b := range c.Delivery.Backoff {
		if b.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("delivery: backoff[%d] must be positive", i))
		}
	}
	if c.Delivery.ProcessingLease.Duration <= 0 {
		errs = append(errs, "delivery: processing_lease must be positive")
	}

	if c.Channels.Email.Enabled {
		switch c.Channels.Email.Transport {
		case "ses":
			if c.Channels.Email.FromAddress == "" {
				errs = append(errs, "channels.email: from_address is required for the ses transport")
			}
		case "log":
		default:
			errs = append(errs, fmt.Sprintf("channels.email: unknown transport %q (valid: ses, log)", c.Channels.Email.Transport))
		}
	}
	if c.Channels.SMS.Enabled && c.Channels.SMS.Transport != "log" {
		errs = append(errs, fmt.Sprintf("channels.sms: unknown transport %q (valid: log)", c.Channels.SMS.Transport))
	}
	if c.Channels.Chat.Enabled && c.Channels.Chat.Format != "slack" && c.Channels.Chat.Format != "discord" {
		errs = append(errs, fmt.Sprintf("channels.chat: unknown format %q (valid: slack, discord)", c.Channels.Chat.Format))
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
