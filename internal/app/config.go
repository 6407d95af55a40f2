package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/retry"
)

// Role определяет, какую часть саги запускает процесс.
type Role string

const (
	RoleOrder     Role = "order"
	RoleInventory Role = "inventory"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	Role        Role
	GRPCAddr    string
	MetricsAddr string
	LogLevel    string
	LogFormat   string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers  []string
	ConsumerGroup string
	Retry         retry.Policy

	// ShippingAddr пустой означает встроенный mock службы доставки.
	ShippingAddr    string
	ShippingTimeout time.Duration

	// RedisAddr пустой отключает распределённую блокировку reaper.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxLag       time.Duration

	PaymentTimeout  time.Duration
	ReaperInterval  time.Duration
	ReaperBatchSize int

	LedgerRetention       time.Duration
	LedgerCleanupInterval time.Duration
	LedgerCleanupBatch    int
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		Role:                  RoleOrder,
		GRPCAddr:              ":50051",
		MetricsAddr:           ":9090",
		LogLevel:              "info",
		LogFormat:             "text",
		StorageDriver:         StorageDriverMemory,
		PostgresAutoMigrate:   true,
		Retry:                 retry.DefaultPolicy(),
		ShippingTimeout:       5 * time.Second,
		OutboxPollInterval:    time.Second,
		OutboxBatchSize:       100,
		OutboxMaxLag:          time.Minute,
		PaymentTimeout:        30 * time.Minute,
		ReaperInterval:        time.Minute,
		ReaperBatchSize:       100,
		LedgerRetention:       14 * 24 * time.Hour,
		LedgerCleanupInterval: time.Hour,
		LedgerCleanupBatch:    500,
	}
}

// LoadDotEnv подгружает переменные из файла .env, если он есть.
// Уже заданные переменные окружения не перезаписываются.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ConfigFromEnv накладывает переменные окружения на DefaultConfig.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	p := envParser{}

	if v, ok := lookup("SAGA_ROLE"); ok {
		cfg.Role = Role(strings.ToLower(v))
	}
	p.str("SAGA_GRPC_ADDR", &cfg.GRPCAddr)
	p.str("SAGA_METRICS_ADDR", &cfg.MetricsAddr)
	p.str("SAGA_LOG_LEVEL", &cfg.LogLevel)
	p.str("SAGA_LOG_FORMAT", &cfg.LogFormat)

	if v, ok := lookup("SAGA_STORAGE"); ok {
		cfg.StorageDriver = StorageDriver(strings.ToLower(v))
	}
	p.str("SAGA_POSTGRES_DSN", &cfg.PostgresDSN)
	p.boolean("SAGA_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)

	if v, ok := lookup("KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	p.str("SAGA_CONSUMER_GROUP", &cfg.ConsumerGroup)
	p.integer("SAGA_RETRY_ATTEMPTS", &cfg.Retry.Attempts)
	p.duration("SAGA_RETRY_BASE_DELAY", &cfg.Retry.BaseDelay)
	p.duration("SAGA_RETRY_MAX_DELAY", &cfg.Retry.MaxDelay)

	p.str("SHIPPING_ADDR", &cfg.ShippingAddr)
	p.duration("SAGA_SHIPPING_TIMEOUT", &cfg.ShippingTimeout)

	p.str("REDIS_ADDR", &cfg.RedisAddr)
	p.str("REDIS_PASSWORD", &cfg.RedisPassword)
	p.integer("REDIS_DB", &cfg.RedisDB)

	p.duration("SAGA_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	p.integer("SAGA_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	p.duration("SAGA_OUTBOX_MAX_LAG", &cfg.OutboxMaxLag)

	p.duration("SAGA_PAYMENT_TIMEOUT", &cfg.PaymentTimeout)
	p.duration("SAGA_REAPER_INTERVAL", &cfg.ReaperInterval)
	p.integer("SAGA_REAPER_BATCH_SIZE", &cfg.ReaperBatchSize)

	p.duration("SAGA_LEDGER_RETENTION", &cfg.LedgerRetention)
	p.duration("SAGA_LEDGER_CLEANUP_INTERVAL", &cfg.LedgerCleanupInterval)
	p.integer("SAGA_LEDGER_CLEANUP_BATCH", &cfg.LedgerCleanupBatch)

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.Role {
	case RoleOrder, RoleInventory:
	default:
		errs = append(errs, fmt.Errorf("unknown role %q (use order|inventory)", c.Role))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("SAGA_POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q (use memory|postgres)", c.StorageDriver))
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.OutboxPollInterval <= 0 || c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox poll interval and batch size must be positive"))
	}
	if c.PaymentTimeout <= 0 || c.ReaperInterval <= 0 {
		errs = append(errs, errors.New("payment timeout and reaper interval must be positive"))
	}
	if c.LedgerRetention <= 0 {
		errs = append(errs, errors.New("ledger retention must be positive"))
	}

	return errors.Join(errs...)
}

// GroupID возвращает consumer group: явно заданную или производную от роли.
func (c Config) GroupID() string {
	if c.ConsumerGroup != "" {
		return c.ConsumerGroup
	}
	return "ordersaga-" + string(c.Role)
}

type envParser struct {
	errs []error
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *envParser) str(key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func (p *envParser) integer(key string, dst *int) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (p *envParser) boolean(key string, dst *bool) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (p *envParser) duration(key string, dst *time.Duration) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
