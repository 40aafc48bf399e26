package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/ratelimit"
)

const (
	// StorageDriverMemory хранит данные в памяти процесса (разработка, тесты).
	StorageDriverMemory = "memory"
	// StorageDriverPostgres использует PostgreSQL.
	StorageDriverPostgres = "postgres"

	// EnvPrefix — префикс переменных окружения: STOREFRONT_HTTP_ADDR и т.д.
	EnvPrefix = "STOREFRONT"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	// GRPCAddr пустой — gRPC health listener не поднимается.
	GRPCAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// RedisAddr пустой — счётчики rate limit живут в памяти.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers           []string
	KafkaOrderTopic        string
	KafkaNotificationTopic string
	KafkaDLQTopic          string

	TaxRateBps    int64
	Currency      string
	AdminUserIDs  []string
	SecureCookies bool

	RateLimitEnabled bool
	// TrustedProxies — IP и CIDR прокси, чьим X-Forwarded-For можно верить.
	// Пустой список: ключ лимита всегда адрес соединения.
	TrustedProxies   []string

	OutboxEnabled        bool
	OutboxPollInterval   time.Duration
	OutboxBatchSize      int
	OutboxMaxAttempts    int
	OutboxRetryBaseDelay time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	NotificationTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaOrderTopic:        kafka.TopicOrderEvents,
		KafkaNotificationTopic: kafka.TopicNotifications,
		KafkaDLQTopic:          kafka.TopicDeadLetterQueue,

		Currency: "INR",

		RateLimitEnabled: true,

		OutboxEnabled:        true,
		OutboxPollInterval:   time.Second,
		OutboxBatchSize:      100,
		OutboxMaxAttempts:    5,
		OutboxRetryBaseDelay: time.Second,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Hour,
		IdempotencyCleanupBatchSize: 500,

		NotificationTimeout: 5 * time.Second,

		LogLevel:  "info",
		LogFormat: LogFormatText,
	}
}

// LoadConfig читает конфигурацию из переменных окружения STOREFRONT_* и,
// если path не пустой, из файла (yaml, json, toml, env). Окружение
// перекрывает файл, файл перекрывает значения по умолчанию.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		HTTPAddr:    strings.TrimSpace(v.GetString("http_addr")),
		MetricsAddr: strings.TrimSpace(v.GetString("metrics_addr")),
		GRPCAddr:    strings.TrimSpace(v.GetString("grpc_addr")),

		StorageDriver:       strings.ToLower(strings.TrimSpace(v.GetString("storage_driver"))),
		PostgresDSN:         strings.TrimSpace(v.GetString("postgres_dsn")),
		PostgresAutoMigrate: v.GetBool("postgres_auto_migrate"),

		RedisAddr:     strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),

		KafkaBrokers:           splitList(v.GetString("kafka_brokers")),
		KafkaOrderTopic:        strings.TrimSpace(v.GetString("kafka_order_topic")),
		KafkaNotificationTopic: strings.TrimSpace(v.GetString("kafka_notification_topic")),
		KafkaDLQTopic:          strings.TrimSpace(v.GetString("kafka_dlq_topic")),

		TaxRateBps:    v.GetInt64("tax_rate_bps"),
		Currency:      strings.ToUpper(strings.TrimSpace(v.GetString("currency"))),
		AdminUserIDs:  splitList(v.GetString("admin_user_ids")),
		SecureCookies: v.GetBool("secure_cookies"),

		RateLimitEnabled: v.GetBool("rate_limit_enabled"),
		TrustedProxies:   splitList(v.GetString("trusted_proxies")),

		OutboxEnabled:        v.GetBool("outbox_enabled"),
		OutboxPollInterval:   v.GetDuration("outbox_poll_interval"),
		OutboxBatchSize:      v.GetInt("outbox_batch_size"),
		OutboxMaxAttempts:    v.GetInt("outbox_max_attempts"),
		OutboxRetryBaseDelay: v.GetDuration("outbox_retry_base_delay"),

		IdempotencyTTL:              v.GetDuration("idempotency_ttl"),
		IdempotencyCleanupInterval:  v.GetDuration("idempotency_cleanup_interval"),
		IdempotencyCleanupBatchSize: v.GetInt("idempotency_cleanup_batch_size"),

		NotificationTimeout: v.GetDuration("notification_timeout"),

		LogLevel:  strings.ToLower(strings.TrimSpace(v.GetString("log_level"))),
		LogFormat: strings.ToLower(strings.TrimSpace(v.GetString("log_format"))),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("http_addr", cfg.HTTPAddr)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("grpc_addr", cfg.GRPCAddr)
	v.SetDefault("storage_driver", cfg.StorageDriver)
	v.SetDefault("postgres_dsn", cfg.PostgresDSN)
	v.SetDefault("postgres_auto_migrate", cfg.PostgresAutoMigrate)
	v.SetDefault("redis_addr", cfg.RedisAddr)
	v.SetDefault("redis_password", cfg.RedisPassword)
	v.SetDefault("redis_db", cfg.RedisDB)
	v.SetDefault("kafka_brokers", strings.Join(cfg.KafkaBrokers, ","))
	v.SetDefault("kafka_order_topic", cfg.KafkaOrderTopic)
	v.SetDefault("kafka_notification_topic", cfg.KafkaNotificationTopic)
	v.SetDefault("kafka_dlq_topic", cfg.KafkaDLQTopic)
	v.SetDefault("tax_rate_bps", cfg.TaxRateBps)
	v.SetDefault("currency", cfg.Currency)
	v.SetDefault("admin_user_ids", strings.Join(cfg.AdminUserIDs, ","))
	v.SetDefault("secure_cookies", cfg.SecureCookies)
	v.SetDefault("rate_limit_enabled", cfg.RateLimitEnabled)
	v.SetDefault("trusted_proxies", strings.Join(cfg.TrustedProxies, ","))
	v.SetDefault("outbox_enabled", cfg.OutboxEnabled)
	v.SetDefault("outbox_poll_interval", cfg.OutboxPollInterval)
	v.SetDefault("outbox_batch_size", cfg.OutboxBatchSize)
	v.SetDefault("outbox_max_attempts", cfg.OutboxMaxAttempts)
	v.SetDefault("outbox_retry_base_delay", cfg.OutboxRetryBaseDelay)
	v.SetDefault("idempotency_ttl", cfg.IdempotencyTTL)
	v.SetDefault("idempotency_cleanup_interval", cfg.IdempotencyCleanupInterval)
	v.SetDefault("idempotency_cleanup_batch_size", cfg.IdempotencyCleanupBatchSize)
	v.SetDefault("notification_timeout", cfg.NotificationTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
}

// Validate проверяет согласованность настроек до старта сервиса.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.TaxRateBps < 0 || c.TaxRateBps > domain.MaxTaxRateBps {
		errs = append(errs, fmt.Errorf("tax rate bps must be within 0..%d", domain.MaxTaxRateBps))
	}
	if len(c.Currency) != 3 {
		errs = append(errs, fmt.Errorf("currency %q must be a 3-letter code", c.Currency))
	}
	if len(c.KafkaBrokers) > 0 && (c.KafkaOrderTopic == "" || c.KafkaNotificationTopic == "" || c.KafkaDLQTopic == "") {
		errs = append(errs, errors.New("kafka topics must not be empty when brokers are set"))
	}
	if c.OutboxPollInterval <= 0 || c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox poll interval, batch size and max attempts must be positive"))
	}
	if c.OutboxRetryBaseDelay < 0 {
		errs = append(errs, errors.New("outbox retry base delay must not be negative"))
	}
	if c.IdempotencyTTL <= 0 || c.IdempotencyCleanupInterval <= 0 || c.IdempotencyCleanupBatchSize <= 0 {
		errs = append(errs, errors.New("idempotency ttl, cleanup interval and batch size must be positive"))
	}
	if _, err := ratelimit.ParseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, err)
	}
	if c.NotificationTimeout <= 0 {
		errs = append(errs, errors.New("notification timeout must be positive"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != LogFormatText && c.LogFormat != LogFormatJSON {
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// ConfigureLogging применяет уровень и формат логов к стандартному логгеру logrus.
func ConfigureLogging(cfg Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if cfg.LogFormat == LogFormatJSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
