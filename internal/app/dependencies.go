package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/health"
	"github.com/vladislavdragonenkov/ordersaga/internal/lock"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/shipping"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/postgres"
)

// Dependencies содержит инфраструктуру, общую для обеих ролей.
type Dependencies struct {
	Store    domain.Transactor
	Shipping domain.ShippingClient
	Producer *kafka.Producer
	Locker   lock.Locker
	Metrics  *metrics.SagaMetrics
	Health   *health.Handler
	Logger   *log.Entry

	closers []func() error
}

// NewDependencies поднимает хранилище, клиентов внешних систем и метрики.
// При ошибке уже открытые ресурсы закрываются.
func NewDependencies(ctx context.Context, cfg Config, healthHandler *health.Handler, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps := &Dependencies{
		Metrics: metrics.NewSagaMetrics(),
		Health:  healthHandler,
		Logger:  logger,
	}

	steps := []func() error{
		func() error { return deps.initStorage(ctx, cfg) },
		func() error { return deps.initShipping(cfg) },
		func() error { return deps.initKafka(cfg) },
		func() error { return deps.initLocker(ctx, cfg) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			deps.Close()
			return nil, err
		}
	}

	healthHandler.RegisterChecker("outbox", health.NewOutboxChecker(deps.Store, cfg.OutboxMaxLag))
	return deps, nil
}

func (d *Dependencies) initStorage(ctx context.Context, cfg Config) error {
	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
		}
		d.Health.RegisterChecker("postgres", health.NewSimpleChecker("postgres", store.Ping))
		d.Store = store
		d.Logger.Info("postgres storage initialized")
	default:
		d.Store = memory.NewStore()
		d.Logger.Warn("using in-memory storage, state is lost on restart")
	}
	return nil
}

func (d *Dependencies) initShipping(cfg Config) error {
	if cfg.ShippingAddr == "" {
		d.Shipping = shipping.NewMockClient()
		d.Logger.Warn("SHIPPING_ADDR is empty, using mock shipping client")
		return nil
	}

	conn, err := shipping.Dial(cfg.ShippingAddr)
	if err != nil {
		return fmt.Errorf("dial shipping: %w", err)
	}
	d.closers = append(d.closers, conn.Close)
	d.Shipping = shipping.NewClient(conn,
		shipping.WithTimeout(cfg.ShippingTimeout),
		shipping.WithLogger(d.Logger.WithField("component", "shipping-client")),
	)
	d.Logger.WithField("addr", cfg.ShippingAddr).Info("shipping client initialized")
	return nil
}

func (d *Dependencies) initKafka(cfg Config) error {
	producer, err := initKafkaProducer(cfg.KafkaBrokers, d.Logger)
	if err != nil {
		return err
	}
	if producer != nil {
		d.Producer = producer
		d.closers = append(d.closers, producer.Close)
	}
	return nil
}

func (d *Dependencies) initLocker(ctx context.Context, cfg Config) error {
	if cfg.RedisAddr == "" {
		return nil
	}

	client, err := lock.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	d.closers = append(d.closers, client.Close)
	d.Locker = lock.NewRedisLocker(client)
	d.Health.RegisterChecker("redis", health.NewSimpleChecker("redis", func(ctx context.Context) error {
		return pingRedis(ctx, client)
	}))
	d.Logger.WithField("addr", cfg.RedisAddr).Info("redis lock initialized")
	return nil
}

func pingRedis(ctx context.Context, client redis.Cmdable) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

// Close освобождает ресурсы в обратном порядке.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.Logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}
