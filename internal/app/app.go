package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/utafrali/storefront-sync/internal/auth"
	"github.com/utafrali/storefront-sync/internal/cart"
	"github.com/utafrali/storefront-sync/internal/checkout"
	"github.com/utafrali/storefront-sync/internal/config"
	"github.com/utafrali/storefront-sync/internal/event"
	"github.com/utafrali/storefront-sync/internal/gateway"
	"github.com/utafrali/storefront-sync/internal/gateway/mock"
	handler "github.com/utafrali/storefront-sync/internal/handler/http"
	"github.com/utafrali/storefront-sync/internal/migration"
	"github.com/utafrali/storefront-sync/internal/remote"
	"github.com/utafrali/storefront-sync/internal/repository"
	memoryrepo "github.com/utafrali/storefront-sync/internal/repository/memory"
	redisrepo "github.com/utafrali/storefront-sync/internal/repository/redis"
	"github.com/utafrali/storefront-sync/internal/session"
	"github.com/utafrali/storefront-sync/internal/store"
	"github.com/utafrali/storefront-sync/internal/wishlist"
	"github.com/utafrali/storefront-sync/pkg/database"
	"github.com/utafrali/storefront-sync/pkg/health"
	"github.com/utafrali/storefront-sync/pkg/httpclient"
	pkgkafka "github.com/utafrali/storefront-sync/pkg/kafka"
	"github.com/utafrali/storefront-sync/pkg/middleware"
	"github.com/utafrali/storefront-sync/pkg/tracing"
)

// App wires together all dependencies and runs the sync sidecar.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	cache          *store.Cache
	migrations     *migration.Reconciler
	cancelBase     context.CancelFunc
	handler        http.Handler
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "storefront-syncd",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
		DeviceID:       cfg.DeviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, tracerShutdown: tracerShutdown}

	// Checkout session store.
	var sessions repository.SessionRepository
	switch cfg.SessionStore {
	case "redis":
		rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			SlowCommand: time.Duration(cfg.RedisSlowCommandMs) * time.Millisecond,
		}, logger)
		if err != nil {
			_ = tracerShutdown(context.Background())
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.rdb = rdb
		sessions = redisrepo.NewSessionRepository(rdb, cfg.DeviceID, cfg.SessionTTL())
		logger.Info("connected to Redis",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("db", cfg.RedisDB),
		)
	default:
		sessions = memoryrepo.NewSessionRepository()
		logger.Info("using in-memory checkout session store")
	}

	// Kafka is optional; without brokers events are dropped.
	var publisher event.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = a.producer
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}
	events := event.NewProducer(publisher, logger)

	// HTTP client with circuit breaker for the commerce API.
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.HTTPTimeout()
	httpCfg.MaxRetries = cfg.HTTPGetRetries
	baseClient := httpclient.New(httpCfg)

	cbCfg := httpclient.CircuitBreakerConfig{
		Name:         "commerce-api",
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     cfg.CircuitBreakerInterval(),
		Timeout:      cfg.CircuitBreakerTimeout(),
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}
	cbClient := httpclient.NewCircuitBreakerClient(baseClient, cbCfg, logger).
		WithFallback(remote.CircuitOpenFallback)
	logger.Info("circuit breaker initialized",
		slog.String("name", cbCfg.Name),
		slog.Uint64("max_requests", uint64(cbCfg.MaxRequests)),
		slog.Int("timeout_seconds", cfg.CBTimeout),
		slog.Uint64("min_requests", uint64(cbCfg.MinRequests)),
	)

	// Build the dependency graph.
	identity := auth.NewSession(cfg.GuestToken)
	commerce := remote.NewClient(cbClient, cfg.CommerceAPIURL, identity, logger)

	a.cache = store.NewCache(logger, cfg.HTTPTimeout())
	counters := store.NewCounters()

	cartService := cart.NewService(commerce, a.cache, counters, cfg.CartMaxAge(), events, logger)
	wishlistService := wishlist.NewService(commerce, identity, a.cache, counters, cfg.WishlistMaxAge(), events, logger)

	a.migrations = migration.NewReconciler(migration.Config{
		Settle:      cfg.MigrationSettle(),
		MaxAttempts: cfg.MigrationMaxAttempts,
		Step:        cfg.MigrationStep(),
	}, cartService, commerce, events, logger)

	var gw gateway.Gateway
	switch cfg.GatewayMode {
	case "mock":
		gw = mock.New([]byte(cfg.GatewayMockSecret), mock.Succeed)
		logger.Warn("using mock payment gateway")
	default:
		gw = gateway.NewHandoff(logger)
	}

	machine := checkout.NewMachine(checkout.Config{
		Gateway: gateway.Config{
			Key:          cfg.GatewayKey,
			Theme:        cfg.GatewayTheme,
			MerchantName: cfg.GatewayMerchantName,
		},
		CartAttempts: cfg.CheckoutCartAttempts,
		CartStep:     cfg.CheckoutCartStep(),
	}, checkout.Deps{
		Remote:    commerce,
		Cart:      cartService,
		Migration: a.migrations,
		Identity:  identity,
		Sessions:  sessions,
		Cache:     a.cache,
		Gateway:   gw,
		Events:    events,
	}, logger)

	// Migrations outlive the login request that starts them.
	base, cancelBase := context.WithCancel(context.Background())
	a.cancelBase = cancelBase
	sessionManager := session.NewManager(base, identity, cartService, wishlistService,
		a.migrations, machine, cfg.MigrationWindow(), logger)

	// Health checks.
	healthHandler := health.NewHandler()
	if a.rdb != nil {
		rdb := a.rdb
		healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	if a.producer != nil {
		producer := a.producer
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
	}
	healthHandler.RegisterNonCritical("commerce_api", func(context.Context) error {
		if cbClient.State() == gobreaker.StateOpen {
			return errors.New("circuit breaker open")
		}
		return nil
	})

	// HTTP router.
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.UIOrigins
	corsCfg.Environment = cfg.Environment

	a.handler = handler.NewRouter(handler.Services{
		Cart:     cartService,
		Wishlist: wishlistService,
		Session:  sessionManager,
		Checkout: machine,
		Counters: counters,
	}, healthHandler, logger, handler.RouterConfig{
		CORS:           corsCfg,
		PprofCIDRs:     cfg.PprofAllowedCIDRs,
		RequestTimeout: cfg.MigrationWindow() + cfg.HTTPTimeout(),
	})

	a.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.MigrationWindow() + cfg.HTTPTimeout() + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return a, nil
}

// Handler returns the sidecar's HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	// Graceful HTTP server shutdown with a 10-second deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	a.closeAll()

	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(shutdownCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}

	a.logger.Info("application shutdown complete")
	return nil
}

// closeAll releases everything but the HTTP server and tracer. It is safe
// on a partially built App.
func (a *App) closeAll() {
	if a.migrations != nil {
		a.migrations.Cancel()
	}
	if a.cancelBase != nil {
		a.cancelBase()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
}
