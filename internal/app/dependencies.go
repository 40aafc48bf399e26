package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/ratelimit"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const (
	kafkaClientID   = "storefront"
	rateLimitPrefix = "storefront:ratelimit:"
)

// runtimeDependencies — репозитории выбранного драйвера хранения.
type runtimeDependencies struct {
	catalog         domain.CatalogRepository
	carts           domain.CartRepository
	orders          domain.OrderRepository
	users           domain.UserRepository
	sessions        domain.SessionRepository
	timelineRepo    domain.TimelineRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initRuntimeDependencies поднимает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("storage driver: memory")
		return &runtimeDependencies{
			catalog:         memory.NewCatalogRepository(store),
			carts:           memory.NewCartRepository(store),
			orders:          memory.NewOrderRepository(store),
			users:           memory.NewUserRepository(store),
			sessions:        memory.NewSessionRepository(store),
			timelineRepo:    memory.NewTimelineRepository(store),
			outboxRepo:      memory.NewOutboxRepository(store),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			storageChecker:  healthcheck.NewPingChecker("storage", store.Ping),
			closeFn:         func() error { return nil },
		}, nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres dsn is required for storage driver %q", cfg.StorageDriver)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
			state, err := store.MigrationStatus(ctx)
			if err == nil {
				logger.WithFields(log.Fields{
					"version": state.Version,
					"applied": state.Applied,
				}).Info("postgres migrations applied")
			}
		}
		logger.Info("storage driver: postgres")
		return &runtimeDependencies{
			catalog:         postgres.NewCatalogRepository(store),
			carts:           postgres.NewCartRepository(store),
			orders:          postgres.NewOrderRepository(store),
			users:           postgres.NewUserRepository(store),
			sessions:        postgres.NewSessionRepository(store),
			timelineRepo:    postgres.NewTimelineRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			storageChecker:  healthcheck.NewPingChecker("storage", store.Ping),
			closeFn:         store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// rateLimitDependencies — лимитер и его хранилище счётчиков.
type rateLimitDependencies struct {
	limiter *ratelimit.Limiter
	// memoryStore не nil, если счётчики в памяти: его нужно периодически чистить.
	memoryStore  *ratelimit.MemoryStore
	redisChecker healthcheck.Checker
	closeFn      func() error
}

// initRateLimiter выбирает Redis при заданном адресе, иначе память процесса.
// Недоступный Redis не мешает старту: лимитер пропускает запросы при ошибке
// хранилища, а health отдаёт degraded.
func initRateLimiter(cfg Config, logger *log.Entry) *rateLimitDependencies {
	if !cfg.RateLimitEnabled {
		logger.Info("rate limiting disabled")
		return &rateLimitDependencies{}
	}
	limiterLogger := logger.WithField("component", "ratelimit")
	// Config.Validate уже проверил список.
	proxies, _ := ratelimit.ParseTrustedProxies(cfg.TrustedProxies)
	trust := ratelimit.WithTrustedProxies(proxies)
	if len(cfg.TrustedProxies) == 0 {
		logger.Info("no trusted proxies configured, forwarded client address headers are ignored")
	}
	if cfg.RedisAddr == "" {
		store := ratelimit.NewMemoryStore()
		return &rateLimitDependencies{
			limiter:     ratelimit.NewLimiter(store, limiterLogger, trust),
			memoryStore: store,
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	logger.WithField("redis_addr", cfg.RedisAddr).Info("rate limit counters stored in redis")
	return &rateLimitDependencies{
		limiter: ratelimit.NewLimiter(ratelimit.NewRedisStore(client, rateLimitPrefix), limiterLogger, trust),
		redisChecker: healthcheck.NewOptionalChecker("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}),
		closeFn: client.Close,
	}
}

func (d *rateLimitDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close redis client")
	}
}

// initKafkaProducer создаёт producer, если заданы брокеры. Без брокеров
// возвращает nil, nil: outbox копится в хранилище, уведомления пишутся в лог.
func initKafkaProducer(cfg Config, logger *log.Entry) (*kafka.Producer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, nil
	}
	producer, err := kafka.NewProducer(cfg.KafkaBrokers, kafkaClientID)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafkaProducer закрывает producer, если он был создан.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
