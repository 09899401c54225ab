// Package app собирает зависимости сервиса и управляет его жизненным циклом.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/ordersvc/internal/cache"
	"github.com/vladislavdragonenkov/ordersvc/internal/discovery"
	healthcheck "github.com/vladislavdragonenkov/ordersvc/internal/health"
	"github.com/vladislavdragonenkov/ordersvc/internal/metrics"
	"github.com/vladislavdragonenkov/ordersvc/internal/observability"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/catalog"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordersvc/internal/service/outbox"
	"github.com/vladislavdragonenkov/ordersvc/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/ordersvc/internal/version"
)

// Run поднимает HTTP API, gRPC health, метрики и фоновые воркеры и ждёт отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Endpoint:       cfg.OTelEndpoint,
		Insecure:       cfg.OTelInsecure,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version.GetVersion(),
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		logger.WithError(err).Warn("failed to initialize tracing, continuing without export")
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracingProvider(shutdownTracing, cfg.ShutdownTimeout, logger)

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)

	var productCache catalog.Cache
	if redisCache := initProductCache(ctx, cfg, logger); redisCache != nil {
		productCache = redisCache
		healthHandler.RegisterChecker("cache", healthcheck.NewOptionalChecker("cache", redisCache.Ping))
		defer func() {
			if err := redisCache.Close(); err != nil {
				logger.WithError(err).Warn("failed to close redis cache")
			}
		}()
	}

	bus, _ := initMessaging(cfg, logger.WithField("layer", "kafka"))
	bus.registerHealth(healthHandler)
	defer bus.close(logger)

	svc := buildServices(cfg, deps, bus, productCache, metrics.NewOrderMetrics(), logger)

	api := httpapi.NewHandler(svc.engine, svc.catalog,
		httpapi.WithIdempotency(deps.idempotencyRepo, cfg.IdempotencyTTL),
		httpapi.WithLogger(logger.WithField("layer", "http")),
	)
	router := api.Router()
	router.GET("/healthz", gin.WrapH(healthHandler))

	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}

	grpcServer, healthServer := newGRPCServer(logger)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpLis.Close()
		return err
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	workerMetrics := metrics.NewWorkerMetrics()
	outboxCancel, outboxDone := startOutboxWorker(ctx, cfg, deps, bus, workerMetrics, logger)
	cleanupCancel, cleanupDone := startBackground(ctx, idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithMetrics(workerMetrics),
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
	).Run)

	deregister := registerInConsul(cfg, httpLis.Addr(), logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервис")
		runErr = ctx.Err()
	case err := <-errCh:
		logger.WithError(err).Error("server failed")
		runErr = err
	}

	deregister()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTP(httpSrv, cfg.ShutdownTimeout, logger)
	stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)
	shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)
	shutdownWorker("outbox", outboxCancel, outboxDone, cfg.ShutdownTimeout, logger)
	shutdownWorker("idempotency-cleanup", cleanupCancel, cleanupDone, cfg.ShutdownTimeout, logger)

	return runErr
}

func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

func initProductCache(ctx context.Context, cfg Config, logger *log.Entry) *cache.RedisCache {
	if cfg.RedisAddr == "" {
		return nil
	}
	redisCache, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.CacheTTL)
	if err != nil {
		logger.WithError(err).Warn("failed to connect to redis, product reads go to storage")
		return nil
	}
	logger.WithField("addr", cfg.RedisAddr).Info("product cache initialized")
	return redisCache
}

// startOutboxWorker запускает публикацию outbox, если есть куда публиковать.
func startOutboxWorker(
	ctx context.Context,
	cfg Config,
	deps *runtimeDependencies,
	bus *messaging,
	workerMetrics *metrics.WorkerMetrics,
	logger *log.Entry,
) (context.CancelFunc, <-chan struct{}) {
	if bus == nil {
		return nil, nil
	}

	worker := outbox.NewWorker(deps.outboxRepo, bus.outbox,
		outbox.WithDeadLetter(bus.deadLetter),
		outbox.WithMetrics(workerMetrics),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		outbox.WithLogger(logger.WithField("layer", "outbox")),
	)
	return startBackground(ctx, worker.Run)
}

// startBackground запускает run в отдельной горутине со своим cancel.
func startBackground(parent context.Context, run func(ctx context.Context)) (context.CancelFunc, <-chan struct{}) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()
	return cancel, done
}

func registerInConsul(cfg Config, addr net.Addr, logger *log.Entry) func() {
	noop := func() {}
	if cfg.ConsulAddr == "" {
		return noop
	}

	client, err := discovery.NewConsulClient(cfg.ConsulAddr)
	if err != nil {
		logger.WithError(err).Warn("consul is unavailable, skipping registration")
		return noop
	}

	port := 0
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	} else if _, raw, err := net.SplitHostPort(addr.String()); err == nil {
		port, _ = strconv.Atoi(raw)
	}

	serviceID, err := client.Register(discovery.ServiceConfig{
		Name: cfg.ServiceName,
		Port: port,
		Tags: []string{"http", "api", version.GetVersion()},
	})
	if err != nil {
		logger.WithError(err).Warn("failed to register in consul")
		return noop
	}

	return func() {
		if err := client.Deregister(serviceID); err != nil {
			logger.WithError(err).Warn("failed to deregister from consul")
		}
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics и health probes.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, 5*time.Second, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// shutdownWorker отменяет воркер и ждёт его завершения не дольше timeout.
func shutdownWorker(name string, cancel context.CancelFunc, done <-chan struct{}, timeout time.Duration, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.WithField("worker", name).Info("worker stopped")
	case <-time.After(timeout):
		logger.WithField("worker", name).Warn("worker did not stop in time")
	}
}

func shutdownTracingProvider(shutdown observability.ShutdownFunc, timeout time.Duration, logger *log.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.WithError(err).Warn("failed to flush traces")
	}
}
