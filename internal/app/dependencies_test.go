package app

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	deps, err := initRuntimeDependencies(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("initRuntimeDependencies() error = %v", err)
	}
	defer deps.close(quietLogger())

	if deps.catalog == nil || deps.carts == nil || deps.orders == nil || deps.users == nil || deps.sessions == nil {
		t.Fatalf("memory repositories must be initialized: %+v", deps)
	}
	if deps.timelineRepo == nil || deps.outboxRepo == nil || deps.idempotencyRepo == nil {
		t.Fatalf("memory event repositories must be initialized: %+v", deps)
	}
	check := deps.storageChecker.Check(context.Background())
	if check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy memory storage, got %+v", check)
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres

	_, err := initRuntimeDependencies(context.Background(), cfg, quietLogger())
	if err == nil || !strings.Contains(err.Error(), "postgres dsn is required") {
		t.Fatalf("expected dsn error, got %v", err)
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.StorageDriver = "mongo"

	_, err := initRuntimeDependencies(context.Background(), cfg, quietLogger())
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("STOREFRONT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("STOREFRONT_POSTGRES_TEST_DSN is not set")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	deps, err := initRuntimeDependencies(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.close(quietLogger())

	if deps.orders == nil || deps.outboxRepo == nil || deps.timelineRepo == nil || deps.idempotencyRepo == nil {
		t.Fatalf("postgres dependencies must be initialized: %+v", deps)
	}
	if check := deps.storageChecker.Check(context.Background()); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}

func TestInitRateLimiter(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RateLimitEnabled = false
		rl := initRateLimiter(cfg, quietLogger())
		if rl.limiter != nil || rl.memoryStore != nil {
			t.Fatalf("limiter must be nil when disabled: %+v", rl)
		}
		rl.close(quietLogger())
	})

	t.Run("memory", func(t *testing.T) {
		rl := initRateLimiter(DefaultConfig(), quietLogger())
		if rl.limiter == nil || rl.memoryStore == nil {
			t.Fatalf("expected in-memory limiter: %+v", rl)
		}
		if rl.redisChecker != nil {
			t.Fatal("redis checker must not be registered without redis")
		}
	})

	t.Run("redis", func(t *testing.T) {
		cfg := DefaultConfig()
		// клиент создаётся лениво, соединение при старте не требуется
		cfg.RedisAddr = "127.0.0.1:1"
		rl := initRateLimiter(cfg, quietLogger())
		defer rl.close(quietLogger())
		if rl.limiter == nil || rl.memoryStore != nil {
			t.Fatalf("expected redis-backed limiter: %+v", rl)
		}
		if rl.redisChecker == nil {
			t.Fatal("expected redis health checker")
		}
		if check := rl.redisChecker.Check(context.Background()); check.Status != healthcheck.StatusDegraded {
			t.Fatalf("unreachable redis must degrade health, got %+v", check)
		}
	})
}

func TestInitKafkaProducer_WithoutBrokers(t *testing.T) {
	t.Parallel()
	producer, err := initKafkaProducer(DefaultConfig(), quietLogger())
	if err != nil || producer != nil {
		t.Fatalf("expected no producer without brokers, got %v, %v", producer, err)
	}
	closeKafkaProducer(nil, quietLogger())
}
