package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roombook/internal/api"
	"roombook/internal/cache"
	"roombook/internal/clock"
	"roombook/internal/config"
	"roombook/internal/database"
	"roombook/internal/events"
	"roombook/internal/logging"
	"roombook/internal/metrics"
	"roombook/internal/retry"
	"roombook/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.Open(cfg.Database.Path, database.Options{BusyTimeout: cfg.Database.BusyTimeout}, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	clk := clock.NewReal()
	backend, redisClient, err := initCacheBackend(cfg, clk, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer (func() { _ = cache.Close(redisClient) })()
	}
	availabilityCache := cache.New(backend, clk, cache.Options{
		OnlineTTL:      cfg.Cache.OnlineTTL,
		OfflineTTL:     cfg.Cache.OfflineTTL,
		SweepThreshold: cfg.Cache.SweepThreshold,
	}, logger)

	eventBus := events.NewEventBus()
	eventBus.OnError(func(e *events.Event, err error) {
		logger.Warn().Err(err).Str("event", e.Type).Msg("event handler failed")
	})
	events.RegisterAuditLog(eventBus, logger)
	events.RegisterMetrics(eventBus)

	conn := service.NewConnectivity(logger)
	policy := retry.DefaultPolicy()
	policy.Timeout = cfg.Store.Timeout
	policy.MaxAttempts = cfg.Store.MaxAttempts
	policy.BaseDelay = cfg.Store.BaseDelay
	policy.MaxDelay = cfg.Store.MaxDelay
	exec := retry.NewExecutor(policy, logger, retry.WithObserver(conn))

	availability, err := service.NewAvailabilityService(db, availabilityCache, exec, conn, service.AvailabilityOptions{
		Slots:           cfg.Schedule.SlotConfig(),
		PrefetchNextDay: cfg.Schedule.PrefetchNextDay,
		Clock:           clk,
	}, logger)
	if err != nil {
		return fmt.Errorf("init availability service: %w", err)
	}
	booking := service.NewBookingService(db, availabilityCache, exec, eventBus, logger)
	checker := service.NewHealthChecker(db, availabilityCache, conn, 2*time.Second)

	httpServer := api.NewHTTPServer(cfg.API, availability, booking, checker, logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API.GRPC, checker, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, logger)

	if cfg.Backup.Enabled {
		backups := database.NewBackupService(db, cfg.Backup, logger)
		go backups.Start(ctx)
	}

	err = startServers(ctx, grpcServer, httpServer, cfg, logger)
	availability.WaitPrefetch()
	return err
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = config.DefaultPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, &logger, closer, nil
}

// initCacheBackend picks the availability cache backend. An unreachable
// Redis downgrades "redis" to memory; "failover" keeps retrying it.
func initCacheBackend(cfg *config.Config, clk clock.Clock, logger *zerolog.Logger) (cache.Backend, *redis.Client, error) {
	memory, err := cache.NewMemoryBackend(cfg.Cache.Capacity)
	if err != nil {
		return nil, nil, fmt.Errorf("init memory cache: %w", err)
	}
	if cfg.Cache.Backend == config.CacheBackendMemory {
		logger.Info().Int("capacity", cfg.Cache.Capacity).Msg("using in-memory availability cache")
		return memory, nil, nil
	}

	client := cache.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pingErr := cache.Ping(pingCtx, client)
	redisBackend := cache.NewRedisBackend(client, cfg.Cache.StaleRetention)

	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		if pingErr != nil {
			logger.Warn().Err(pingErr).Msg("redis connection failed, continuing with in-memory cache")
			_ = cache.Close(client)
			return memory, nil, nil
		}
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
		return redisBackend, client, nil
	case config.CacheBackendFailover:
		if pingErr != nil {
			logger.Warn().Err(pingErr).Msg("redis not reachable yet, serving from memory until it recovers")
		}
		return cache.NewFailoverBackend(redisBackend, memory, clk, logger), client, nil
	default:
		_ = cache.Close(client)
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	errCh := make(chan error, 2)

	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
		go grpcServer.Watch(ctx, 15*time.Second)
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	logger.Info().
		Int("http_port", cfg.API.HTTP.Port).
		Bool("grpc_enabled", grpcServer != nil).
		Str("cache_backend", cfg.Cache.Backend).
		Msg("API server started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return runErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
