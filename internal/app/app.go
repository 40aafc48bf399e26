package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	httpsvc "github.com/vladislavdragonenkov/storefront/internal/service/http"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/identity"
	"github.com/vladislavdragonenkov/storefront/internal/service/notification"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	shutdownTimeout     = 5 * time.Second
	readHeaderTimeout   = 10 * time.Second
	healthSyncInterval  = 10 * time.Second
	rateLimitSweepEvery = time.Minute
)

// Run поднимает HTTP API, сервер метрик, gRPC health (если задан адрес) и
// фоновые воркеры. Возвращает ctx.Err() после остановки по сигналу.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	rl := initRateLimiter(cfg, logger)
	defer rl.close(logger)

	producer, err := initKafkaProducer(cfg, logger)
	if err != nil {
		return err
	}
	defer closeKafkaProducer(producer, logger)

	checkoutMetrics := metrics.NewCheckoutMetrics()
	dispatcher := newDispatcher(cfg, producer, checkoutMetrics, logger)
	api, err := newAPIServer(cfg, deps, rl, dispatcher, checkoutMetrics, logger)
	if err != nil {
		return err
	}

	healthHandler := healthcheck.NewHandler(version.Version())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if rl.redisChecker != nil {
		healthHandler.RegisterChecker("redis", rl.redisChecker)
	}

	listeners, err := openListeners(cfg)
	if err != nil {
		return err
	}

	apiSrv := &http.Server{Handler: api.Handler(), ReadHeaderTimeout: readHeaderTimeout}
	metricsSrv := newMetricsServer(healthHandler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", listeners.api.Addr())
		return serveHTTP(apiSrv, listeners.api, "http api")
	})
	g.Go(func() error {
		logger.Infof("метрики доступны по адресу %s/metrics", listeners.metrics.Addr())
		logger.Infof("health checks: /healthz, /livez, /readyz на %s", listeners.metrics.Addr())
		return serveHTTP(metricsSrv, listeners.metrics, "metrics")
	})

	var grpcSrv *grpc.Server
	if listeners.grpc != nil {
		var healthSrv *grpchealth.Server
		grpcSrv, healthSrv = newGRPCServer(logger)
		g.Go(func() error {
			healthHandler.SyncGRPC(gctx, healthSrv, healthSyncInterval)
			return nil
		})
		g.Go(func() error {
			logger.Infof("gRPC health слушает %s", listeners.grpc.Addr())
			if err := grpcSrv.Serve(listeners.grpc); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc: %w", err)
			}
			return nil
		})
	}

	startWorkers(gctx, g, cfg, deps, rl, producer, logger)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		stopGRPC(grpcSrv, logger)
		return nil
	})

	runErr := g.Wait()

	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := dispatcher.Wait(waitCtx); err != nil {
		logger.WithError(err).Warn("pending order confirmations were not sent before shutdown")
	}

	if runErr != nil {
		return runErr
	}
	return ctx.Err()
}

func newDispatcher(cfg Config, producer *kafka.Producer, m *metrics.CheckoutMetrics, logger *log.Entry) *notification.Dispatcher {
	var sender domain.Notifier = notification.NewLogSender(logger.WithField("component", "notification-log"))
	if producer != nil {
		sender = kafka.NewNotificationPublisher(producer, cfg.KafkaNotificationTopic)
	}
	return notification.NewDispatcher(sender,
		notification.WithLogger(logger.WithField("component", "notification-dispatcher")),
		notification.WithTimeout(cfg.NotificationTimeout),
		notification.WithFailureRecorder(m),
	)
}

func newAPIServer(
	cfg Config,
	deps *runtimeDependencies,
	rl *rateLimitDependencies,
	dispatcher *notification.Dispatcher,
	m *metrics.CheckoutMetrics,
	logger *log.Entry,
) (*httpsvc.Server, error) {
	resolver := identity.NewResolver(deps.carts, logger.WithField("component", "identity"))
	cartSvc := cart.NewService(deps.carts, deps.catalog, deps.users, resolver, logger.WithField("component", "cart"))
	checkoutSvc, err := checkout.NewService(deps.catalog, deps.carts, deps.orders, deps.users,
		checkout.WithLogger(logger.WithField("component", "checkout")),
		checkout.WithResolver(resolver),
		checkout.WithDispatcher(dispatcher),
		checkout.WithMetrics(m),
		checkout.WithTaxRateBps(cfg.TaxRateBps),
		checkout.WithCurrency(cfg.Currency),
	)
	if err != nil {
		return nil, fmt.Errorf("create checkout service: %w", err)
	}
	ordersSvc := orders.NewService(deps.orders, deps.timelineRepo, deps.users,
		orders.WithAdminUserIDs(cfg.AdminUserIDs...),
		orders.WithMetrics(m),
		orders.WithLogger(logger.WithField("component", "orders")),
	)

	catalogSvc := catalog.NewService(deps.catalog, ordersSvc, logger.WithField("component", "catalog"))

	return httpsvc.NewServer(httpsvc.Deps{
		Catalog:     deps.catalog,
		Products:    catalogSvc,
		Carts:       cartSvc,
		Checkout:    checkoutSvc,
		Orders:      ordersSvc,
		Sessions:    deps.sessions,
		Idempotency: deps.idempotencyRepo,
		Limiter:     rl.limiter,
	}, httpsvc.Config{
		IdempotencyTTL: cfg.IdempotencyTTL,
		SecureCookies:  cfg.SecureCookies,
	}, logger.WithField("layer", "http")), nil
}

// startWorkers запускает фоновые процессы; каждый завершается по отмене ctx.
func startWorkers(
	ctx context.Context,
	g *errgroup.Group,
	cfg Config,
	deps *runtimeDependencies,
	rl *rateLimitDependencies,
	producer *kafka.Producer,
	logger *log.Entry,
) {
	switch {
	case !cfg.OutboxEnabled:
		logger.Info("outbox worker disabled by config")
	case producer == nil:
		logger.Warn("outbox worker disabled: kafka brokers are not configured, events stay pending")
	default:
		worker := outbox.NewWorker(deps.outboxRepo, kafka.NewOutboxPublisher(producer, cfg.KafkaOrderTopic),
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryBaseDelay),
		)
		g.Go(func() error {
			worker.Run(ctx)
			return nil
		})
	}

	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithKeyTTL(cfg.IdempotencyTTL),
	)
	g.Go(func() error {
		cleanup.Run(ctx)
		return nil
	})

	if rl.memoryStore != nil {
		g.Go(func() error {
			rl.memoryStore.RunSweeper(ctx, rateLimitSweepEvery)
			return nil
		})
	}
}

type listenerSet struct {
	api     net.Listener
	metrics net.Listener
	grpc    net.Listener
}

func (l listenerSet) close() {
	for _, lis := range []net.Listener{l.api, l.metrics, l.grpc} {
		if lis != nil {
			_ = lis.Close()
		}
	}
}

// openListeners занимает все порты до старта серверов: ошибка любого адреса
// прерывает запуск целиком.
func openListeners(cfg Config) (listenerSet, error) {
	var (
		set listenerSet
		err error
	)
	if set.api, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
		return listenerSet{}, fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	if set.metrics, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
		set.close()
		return listenerSet{}, fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
	}
	if cfg.GRPCAddr != "" {
		if set.grpc, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			set.close()
			return listenerSet{}, fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
		}
	}
	return set, nil
}

// newMetricsServer собирает служебный HTTP-сервер: /metrics и health.
func newMetricsServer(healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
}

func serveHTTP(srv *http.Server, lis net.Listener, name string) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// newGRPCServer создаёт gRPC-сервер с health и reflection. Метрики сервера
// регистрируются один раз на процесс.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *grpchealth.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthSrv := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	reflection.Register(srv)
	grpcMetrics.InitializeMetrics(srv)
	return srv, healthSrv
}

// stopGRPC ждёт завершения активных вызовов не дольше shutdownTimeout.
func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
