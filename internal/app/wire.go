package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/alanyoungcy/notifyhub/internal/alert"
	s3blob "github.com/alanyoungcy/notifyhub/internal/blob/s3"
	"github.com/alanyoungcy/notifyhub/internal/cache/redis"
	"github.com/alanyoungcy/notifyhub/internal/channel"
	"github.com/alanyoungcy/notifyhub/internal/config"
	"github.com/alanyoungcy/notifyhub/internal/crypto"
	"github.com/alanyoungcy/notifyhub/internal/domain"
	"github.com/alanyoungcy/notifyhub/internal/memory"
	"github.com/alanyoungcy/notifyhub/internal/queue/kafka"
	"github.com/alanyoungcy/notifyhub/internal/rules"
	"github.com/alanyoungcy/notifyhub/internal/server/handler"
	"github.com/alanyoungcy/notifyhub/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Catalog    domain.CatalogStore
	Deliveries domain.DeliveryStore
	Audit      domain.AuditStore

	// Transport
	Queue       domain.TaskQueue
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Archive target; nil unless archive.enabled.
	Archiver domain.Archiver

	Channels *channel.Registry
	Resolver *rules.Resolver
	Alerter  *alert.Alerter

	// Checks are reported by GET /api/health.
	Checks map[string]handler.Pinger
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// needsRedis reports whether a Redis connection is required: for the
// redis queue, for the API rate limiter, and to share the status bus
// between separate api and worker processes.
func needsRedis(cfg *config.Config) bool {
	return cfg.Queue.Backend == "redis" || cfg.Server.RateLimit > 0 || cfg.Mode != "full"
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function that releases them in
// reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: map[string]handler.Pinger{}}

	// --- Stores ---
	switch cfg.Storage.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Catalog = postgres.NewCatalogStore(pool)
		deps.Deliveries = postgres.NewDeliveryStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient

	case "memory":
		deps.Catalog = memory.NewCatalogStore()
		deps.Deliveries = memory.NewDeliveryStore()
		deps.Audit = memory.NewAuditStore()
	}

	// --- Redis ---
	var redisClient *redis.Client
	if needsRedis(cfg) {
		var err error
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Checks["redis"] = redisClient
		deps.SignalBus = redis.NewSignalBus(redisClient)
		if cfg.Server.RateLimit > 0 {
			deps.RateLimiter = redis.NewRateLimiter(redisClient)
		}
	} else {
		deps.SignalBus = memory.NewBus()
	}

	// --- Task queue ---
	switch cfg.Queue.Backend {
	case "redis":
		q, err := redis.NewTaskQueue(ctx, redisClient, redis.TaskQueueConfig{
			Stream:            cfg.Queue.Stream,
			DelayedKey:        cfg.Queue.DelayedKey,
			Group:             cfg.Queue.ConsumerGroup,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout.Duration,
			PollInterval:      cfg.Queue.PollInterval.Duration,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: redis task queue: %w", err))
		}
		deps.Queue = q

	case "kafka":
		q, err := kafka.NewTaskQueue(kafkaConfig(cfg), logger)
		if err != nil {
			return fail(fmt.Errorf("wire: kafka task queue: %w", err))
		}
		closers = append(closers, func() { _ = q.Close() })
		deps.Queue = q

	case "memory":
		q := memory.NewQueue()
		closers = append(closers, func() { _ = q.Close() })
		deps.Queue = q
	}

	// --- Archive storage ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Checks["s3"] = pingFunc(s3Client.Health)
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Deliveries,
			deps.Audit,
		)
	}

	// --- Channels ---
	deps.Channels = channel.NewRegistry(channelFactories(cfg, logger))
	deps.Resolver = rules.NewResolver(map[domain.Channel]string{
		domain.ChannelChat: cfg.Channels.Chat.DefaultWebhook,
	})

	// --- Operator alerts ---
	var senders []alert.Sender
	if cfg.Alert.TelegramToken != "" && cfg.Alert.TelegramChatID != "" {
		senders = append(senders, alert.NewTelegramSender(cfg.Alert.TelegramToken, cfg.Alert.TelegramChatID))
	}
	if cfg.Alert.DiscordWebhookURL != "" {
		senders = append(senders, alert.NewDiscordSender(cfg.Alert.DiscordWebhookURL))
	}
	deps.Alerter = alert.New(senders, logger)

	return deps, cleanup, nil
}

func kafkaConfig(cfg *config.Config) kafka.Config {
	return kafka.Config{
		Brokers:    cfg.Kafka.Brokers,
		Topic:      cfg.Kafka.Topic,
		RetryTopic: cfg.Kafka.RetryTopic,
		GroupID:    cfg.Kafka.GroupID,
	}
}

// channelFactories builds one lazy factory per enabled channel. A disabled
// channel has no factory, so the registry reports it as unknown.
func channelFactories(cfg *config.Config, logger *slog.Logger) map[domain.Channel]channel.Factory {
	factories := make(map[domain.Channel]channel.Factory, len(domain.Channels))

	if c := cfg.Channels.Email; c.Enabled {
		factories[domain.ChannelEmail] = func() (channel.Driver, error) {
			var transport channel.EmailTransport
			switch c.Transport {
			case "ses":
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
				if err != nil {
					return nil, fmt.Errorf("email: load aws config: %w", err)
				}
				transport = channel.NewSESTransport(awsCfg)
			default:
				transport = channel.NewLogEmailTransport(logger)
			}
			return channel.Throttle(channel.NewEmailDriver(transport, c.FromAddress, c.FromName), c.RatePerSec), nil
		}
	}

	if c := cfg.Channels.SMS; c.Enabled {
		factories[domain.ChannelSMS] = func() (channel.Driver, error) {
			return channel.Throttle(channel.NewSMSDriver(channel.NewLogSMSTransport(logger)), c.RatePerSec), nil
		}
	}

	if c := cfg.Channels.Chat; c.Enabled {
		factories[domain.ChannelChat] = func() (channel.Driver, error) {
			d := channel.NewChatDriver(c.Format, c.Timeout.Duration).WithSigner(crypto.NewWebhookSigner(c.SigningSecret))
			return channel.Throttle(d, c.RatePerSec), nil
		}
	}

	return factories
}
