package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies NOTIFYHUB_* environment variable overrides, and
// returns the final Config. A missing file is not an error: defaults plus the
// environment are enough to run in memory mode. The returned Config has NOT
// been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known NOTIFYHUB_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "NOTIFYHUB_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // platform convention
	setStr(&cfg.Database.Host, "NOTIFYHUB_DATABASE_HOST")
	setInt(&cfg.Database.Port, "NOTIFYHUB_DATABASE_PORT")
	setStr(&cfg.Database.Database, "NOTIFYHUB_DATABASE_NAME")
	setStr(&cfg.Database.User, "NOTIFYHUB_DATABASE_USER")
	setStr(&cfg.Database.Password, "NOTIFYHUB_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "NOTIFYHUB_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "NOTIFYHUB_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "NOTIFYHUB_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "NOTIFYHUB_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "NOTIFYHUB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "NOTIFYHUB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "NOTIFYHUB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "NOTIFYHUB_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "NOTIFYHUB_REDIS_TLS_ENABLED")

	// ── Kafka ──
	setStringSlice(&cfg.Kafka.Brokers, "NOTIFYHUB_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "NOTIFYHUB_KAFKA_TOPIC")
	setStr(&cfg.Kafka.RetryTopic, "NOTIFYHUB_KAFKA_RETRY_TOPIC")
	setStr(&cfg.Kafka.GroupID, "NOTIFYHUB_KAFKA_GROUP_ID")

	// ── Queue / storage ──
	setStr(&cfg.Queue.Backend, "NOTIFYHUB_QUEUE_BACKEND")
	setInt(&cfg.Queue.Concurrency, "NOTIFYHUB_QUEUE_CONCURRENCY")
	setDuration(&cfg.Queue.VisibilityTimeout, "NOTIFYHUB_QUEUE_VISIBILITY_TIMEOUT")
	setStr(&cfg.Storage.Backend, "NOTIFYHUB_STORAGE_BACKEND")

	// ── Delivery ──
	setInt(&cfg.Delivery.MaxAttempts, "NOTIFYHUB_DELIVERY_MAX_ATTEMPTS")
	setDurationSlice(&cfg.Delivery.Backoff, "NOTIFYHUB_DELIVERY_BACKOFF")
	setDuration(&cfg.Delivery.ProcessingLease, "NOTIFYHUB_DELIVERY_PROCESSING_LEASE")

	// ── Channels ──
	setBool(&cfg.Channels.Email.Enabled, "NOTIFYHUB_EMAIL_ENABLED")
	setStr(&cfg.Channels.Email.Transport, "NOTIFYHUB_EMAIL_TRANSPORT")
	setStr(&cfg.Channels.Email.FromAddress, "NOTIFYHUB_EMAIL_FROM_ADDRESS")
	setStr(&cfg.Channels.Email.FromName, "NOTIFYHUB_EMAIL_FROM_NAME")
	setStr(&cfg.Channels.Email.Region, "NOTIFYHUB_EMAIL_REGION")
	setBool(&cfg.Channels.SMS.Enabled, "NOTIFYHUB_SMS_ENABLED")
	setStr(&cfg.Channels.SMS.Transport, "NOTIFYHUB_SMS_TRANSPORT")
	setBool(&cfg.Channels.Chat.Enabled, "NOTIFYHUB_CHAT_ENABLED")
	setStr(&cfg.Channels.Chat.Format, "NOTIFYHUB_CHAT_FORMAT")
	setStr(&cfg.Channels.Chat.DefaultWebhook, "NOTIFYHUB_CHAT_DEFAULT_WEBHOOK")
	setStr(&cfg.Channels.Chat.SigningSecret, "NOTIFYHUB_CHAT_SIGNING_SECRET")

	// ── Catalog ──
	setStr(&cfg.Catalog.Path, "NOTIFYHUB_CATALOG_PATH")
	setBool(&cfg.Catalog.Watch, "NOTIFYHUB_CATALOG_WATCH")

	// ── S3 / archive ──
	setStr(&cfg.S3.Endpoint, "NOTIFYHUB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "NOTIFYHUB_S3_REGION")
	setStr(&cfg.S3.Bucket, "NOTIFYHUB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "NOTIFYHUB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "NOTIFYHUB_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "NOTIFYHUB_S3_FORCE_PATH_STYLE")
	setBool(&cfg.Archive.Enabled, "NOTIFYHUB_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "NOTIFYHUB_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "NOTIFYHUB_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "NOTIFYHUB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "NOTIFYHUB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "NOTIFYHUB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "NOTIFYHUB_SERVER_API_KEY")
	setStr(&cfg.Server.APIKeyHash, "NOTIFYHUB_SERVER_API_KEY_HASH")
	setInt(&cfg.Server.RateLimit, "NOTIFYHUB_SERVER_RATE_LIMIT")

	// ── Alert ──
	setStr(&cfg.Alert.TelegramToken, "NOTIFYHUB_ALERT_TELEGRAM_TOKEN")
	setStr(&cfg.Alert.TelegramChatID, "NOTIFYHUB_ALERT_TELEGRAM_CHAT_ID")
	setStr(&cfg.Alert.DiscordWebhookURL, "NOTIFYHUB_ALERT_DISCORD_WEBHOOK_URL")

	// ── Top-level ──
	setStr(&cfg.Mode, "NOTIFYHUB_MODE")
	setStr(&cfg.LogLevel, "NOTIFYHUB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// setDurationSlice parses a comma separated list such as "60s,5m,15m". The
// target is left untouched if any element fails to parse.
func setDurationSlice(dst *[]duration, key string) {
	parts := splitList(os.Getenv(key))
	if len(parts) == 0 {
		return
	}
	out := make([]duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(p)
		if err != nil {
			return
		}
		out = append(out, duration{d})
	}
	*dst = out
}

func setStringSlice(dst *[]string, key string) {
	if cleaned := splitList(os.Getenv(key)); len(cleaned) > 0 {
		*dst = cleaned
	}
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}
