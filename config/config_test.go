package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2*time.Hour, cfg.Payment.RetryBackoff)
	assert.Equal(t, 3, cfg.Payment.MaxCaptureAttempts)
	assert.Equal(t, "postgres", cfg.Business.CapacityBackend)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PAYMENT_RETRY_BACKOFF", "30m")
	t.Setenv("BUSINESS_STORE_BACKEND", "memory")
	t.Setenv("BUSINESS_CAPACITY_BACKEND", "redis")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Minute, cfg.Payment.RetryBackoff)
	assert.Equal(t, "memory", cfg.Business.StoreBackend)
}

func TestLoadRejectsInconsistentBackends(t *testing.T) {
	t.Setenv("BUSINESS_STORE_BACKEND", "memory")
	t.Setenv("BUSINESS_CAPACITY_BACKEND", "postgres")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresWebhookSecretInProduction(t *testing.T) {
	t.Setenv("SERVER_ENV", "production")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("PAYMENT_WEBHOOK_SECRET", "whsec_live")
	_, err = Load()
	assert.NoError(t, err)
}
