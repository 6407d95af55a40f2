package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvKeys = []string{
	"SAGA_ROLE", "SAGA_GRPC_ADDR", "SAGA_METRICS_ADDR", "SAGA_LOG_LEVEL", "SAGA_LOG_FORMAT",
	"SAGA_STORAGE", "SAGA_POSTGRES_DSN", "SAGA_POSTGRES_AUTO_MIGRATE",
	"KAFKA_BROKERS", "SAGA_CONSUMER_GROUP",
	"SAGA_RETRY_ATTEMPTS", "SAGA_RETRY_BASE_DELAY", "SAGA_RETRY_MAX_DELAY",
	"SHIPPING_ADDR", "SAGA_SHIPPING_TIMEOUT",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"SAGA_OUTBOX_POLL_INTERVAL", "SAGA_OUTBOX_BATCH_SIZE", "SAGA_OUTBOX_MAX_LAG",
	"SAGA_PAYMENT_TIMEOUT", "SAGA_REAPER_INTERVAL", "SAGA_REAPER_BATCH_SIZE",
	"SAGA_LEDGER_RETENTION", "SAGA_LEDGER_CLEANUP_INTERVAL", "SAGA_LEDGER_CLEANUP_BATCH",
}

// clearConfigEnv обнуляет переменные, чтобы окружение CI не влияло на тесты.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvKeys {
		t.Setenv(k, "")
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, "ordersaga-order", cfg.GroupID())
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SAGA_ROLE", "Inventory")
	t.Setenv("SAGA_STORAGE", "postgres")
	t.Setenv("SAGA_POSTGRES_DSN", "postgres://saga@localhost/saga")
	t.Setenv("SAGA_POSTGRES_AUTO_MIGRATE", "false")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("SAGA_RETRY_ATTEMPTS", "5")
	t.Setenv("SAGA_RETRY_BASE_DELAY", "2s")
	t.Setenv("SAGA_RETRY_MAX_DELAY", "1m")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SAGA_PAYMENT_TIMEOUT", "45m")
	t.Setenv("SAGA_LEDGER_CLEANUP_BATCH", "50")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, RoleInventory, cfg.Role)
	assert.Equal(t, StorageDriverPostgres, cfg.StorageDriver)
	assert.False(t, cfg.PostgresAutoMigrate)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, time.Minute, cfg.Retry.MaxDelay)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 45*time.Minute, cfg.PaymentTimeout)
	assert.Equal(t, 50, cfg.LedgerCleanupBatch)
	assert.Equal(t, "ordersaga-inventory", cfg.GroupID())
}

func TestConfigFromEnv_ParseErrorsAreJoined(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SAGA_OUTBOX_BATCH_SIZE", "many")
	t.Setenv("SAGA_REAPER_INTERVAL", "soon")
	t.Setenv("SAGA_POSTGRES_AUTO_MIGRATE", "maybe")

	_, err := ConfigFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAGA_OUTBOX_BATCH_SIZE")
	assert.Contains(t, err.Error(), "SAGA_REAPER_INTERVAL")
	assert.Contains(t, err.Error(), "SAGA_POSTGRES_AUTO_MIGRATE")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "unknown role", mutate: func(c *Config) { c.Role = "billing" }, wantErr: "unknown role"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.StorageDriver = StorageDriverPostgres }, wantErr: "SAGA_POSTGRES_DSN"},
		{name: "unknown storage", mutate: func(c *Config) { c.StorageDriver = "mongo" }, wantErr: "unknown storage driver"},
		{name: "zero retry attempts", mutate: func(c *Config) { c.Retry.Attempts = 0 }, wantErr: "attempts"},
		{name: "zero outbox batch", mutate: func(c *Config) { c.OutboxBatchSize = 0 }, wantErr: "outbox"},
		{name: "zero reaper interval", mutate: func(c *Config) { c.ReaperInterval = 0 }, wantErr: "reaper"},
		{name: "zero retention", mutate: func(c *Config) { c.LedgerRetention = 0 }, wantErr: "retention"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_GroupIDPrefersExplicitValue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsumerGroup = "custom"
	assert.Equal(t, "custom", cfg.GroupID())
}

func TestLoadDotEnv(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SAGA_GRPC_ADDR", ":6000")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SAGA_ROLE=inventory\nSAGA_GRPC_ADDR=:7000\n"), 0o600))
	// godotenv не перезаписывает заданные переменные, даже пустые
	require.NoError(t, os.Unsetenv("SAGA_ROLE"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, RoleInventory, cfg.Role)
	assert.Equal(t, ":6000", cfg.GRPCAddr, "existing variables must win")
}
