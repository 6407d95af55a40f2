package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/ordersaga/internal/health"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/retry"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/coupon"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/inventory"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/ledger"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/order"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/outbox"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/reaper"
	"github.com/vladislavdragonenkov/ordersaga/internal/version"
)

const shutdownTimeout = 5 * time.Second

// runner: фоновый процесс, работающий до отмены контекста.
type runner interface {
	Run(ctx context.Context)
}

// App: собранный сервис одной роли.
type App struct {
	cfg    Config
	deps   *Dependencies
	logger *log.Entry

	// Orders заполнен для роли order, Inventory для роли inventory.
	Orders    *order.Service
	Coupons   *coupon.Service
	Inventory *inventory.Service

	routes  []map[string]retry.Handler
	runners map[string]runner
}

// New собирает зависимости и сервисы роли. Close освобождает ресурсы.
func New(ctx context.Context, cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	v, _, _ := version.Info()
	logger := log.WithFields(log.Fields{"component": "app", "role": cfg.Role})

	deps, err := NewDependencies(ctx, cfg, healthcheck.NewHandler(v), logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		runners: make(map[string]runner),
	}

	switch cfg.Role {
	case RoleOrder:
		a.buildOrderRole()
	case RoleInventory:
		a.buildInventoryRole()
	}

	a.runners["ledger-retention"] = ledger.NewRetentionWorker(deps.Store,
		ledger.WithLogger(log.WithField("component", "ledger-retention-worker")),
		ledger.WithInterval(cfg.LedgerCleanupInterval),
		ledger.WithBatchSize(cfg.LedgerCleanupBatch),
		ledger.WithRetention(cfg.LedgerRetention),
	)
	if deps.Producer != nil {
		a.runners["outbox-relay"] = outbox.NewWorker(deps.Store, kafka.NewOutboxPublisher(deps.Producer),
			outbox.WithLogger(log.WithField("component", "outbox-worker")),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
		)
	}

	return a, nil
}

func (a *App) buildOrderRole() {
	d := a.deps
	a.Orders = order.NewService(d.Store, d.Shipping,
		order.WithLogger(log.WithField("component", "order-service")),
		order.WithMetrics(d.Metrics),
	)
	a.Coupons = coupon.NewService(d.Store, log.WithField("component", "coupon-service"), d.Metrics)
	a.routes = append(a.routes, a.Orders.Routes(), a.Coupons.Routes())

	opts := []reaper.Option{
		reaper.WithLogger(log.WithField("component", "order-reaper")),
		reaper.WithMetrics(d.Metrics),
		reaper.WithInterval(a.cfg.ReaperInterval),
		reaper.WithTimeout(a.cfg.PaymentTimeout),
		reaper.WithBatchSize(a.cfg.ReaperBatchSize),
	}
	if d.Locker != nil {
		opts = append(opts, reaper.WithLocker(d.Locker))
	}
	a.runners["order-reaper"] = reaper.New(d.Store, a.Orders, opts...)
}

func (a *App) buildInventoryRole() {
	d := a.deps
	a.Inventory = inventory.NewService(d.Store,
		inventory.WithLogger(log.WithField("component", "inventory-service")),
		inventory.WithMetrics(d.Metrics),
	)
	a.routes = append(a.routes, a.Inventory.Routes())
}

// Pipeline собирает пайплайн повторов для маршрутов роли.
func (a *App) Pipeline(sender retry.Sender) (*retry.Pipeline, error) {
	return buildPipeline(a.cfg.Retry, sender, a.deps.Store, a.deps.Metrics, a.logger, a.routes...)
}

// Close освобождает внешние ресурсы.
func (a *App) Close() {
	a.deps.Close()
}

// Run собирает приложение и блокируется до отмены ctx или ошибки сервера.
func Run(ctx context.Context, cfg Config) error {
	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Run(ctx)
}

// Run запускает воркеры, consumer, gRPC health server и HTTP-сервер метрик.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for name, r := range a.runners {
		wg.Add(1)
		go func(name string, r runner) {
			defer wg.Done()
			a.logger.WithField("worker", name).Info("worker started")
			r.Run(runCtx)
		}(name, r)
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	if a.deps.Producer != nil {
		consumer, err := a.startConsumer(runCtx)
		if err != nil {
			return err
		}
		defer func() {
			if err := consumer.Stop(); err != nil {
				a.logger.WithError(err).Warn("failed to stop kafka consumer")
			}
		}()
	}

	grpcServer, healthServer := newGRPCServer(a.logger)
	metricsSrv := startMetricsServer(a.cfg.MetricsAddr, a.logger, a.deps.Health)
	defer shutdownHTTP(metricsSrv, a.logger)

	lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("gRPC сервер слушает %s", a.cfg.GRPCAddr)
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("получен сигнал остановки, останавливаем сервис")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, a.logger)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

func (a *App) startConsumer(ctx context.Context) (*kafka.Consumer, error) {
	pipeline, err := a.Pipeline(a.deps.Producer)
	if err != nil {
		return nil, err
	}

	consumer, err := kafka.NewConsumer(a.cfg.KafkaBrokers, a.cfg.GroupID(), pipeline.Subscriptions(), pipeline)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		return nil, err
	}

	a.logger.WithFields(log.Fields{
		"group":  a.cfg.GroupID(),
		"policy": pipeline.Policy().String(),
	}).Info("saga consumer started")
	return consumer, nil
}

// newGRPCServer создаёт gRPC-сервер со стандартным health-сервисом и метриками.
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

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

func stopGRPC(grpcServer *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

// newHTTPMux собирает обработчики /metrics и health probes.
func newHTTPMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

// startMetricsServer запускает HTTP-сервер метрик и health checks.
func startMetricsServer(addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newHTTPMux(healthHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
