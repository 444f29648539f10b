package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace/internal/service/outbox"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/rediscache"
)

func testConfig() Config {
	return Config{
		HTTPAddr:        "127.0.0.1:0",
		MetricsAddr:     "127.0.0.1:0",
		ShutdownTimeout: time.Second,
		Storage:         StorageConfig{Backend: StorageMemory, OpTimeout: time.Second},
		Kafka:           KafkaConfig{Topic: kafka.TopicOrderEvents, DLQTopic: kafka.TopicDeadLetterQueue, ClientID: "test"},
		Auth:            AuthConfig{JWTSecret: "test-secret"},
		Outbox:          OutboxConfig{PollInterval: 10 * time.Millisecond, BatchSize: 10, MaxAttempts: 3, RetryBaseDelay: time.Millisecond},
		Idempotency:     IdempotencyConfig{TTL: time.Hour, CleanupInterval: time.Minute, CleanupBatchSize: 10},
		Alerts:          AlertsConfig{CacheTTL: time.Minute},
		Log:             LogConfig{Level: "info", Format: "text"},
	}
}

func TestNewDependencies_Memory(t *testing.T) {
	deps, err := NewDependencies(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	assert.IsType(t, &memory.Store{}, deps.Store)
	assert.IsType(t, &memory.IdempotencyRepository{}, deps.Idempotency)
	assert.True(t, deps.CleanupIdempotency)
	assert.Nil(t, deps.Redis)
	assert.Nil(t, deps.AlertCache)
	assert.IsType(t, &outbox.LogPublisher{}, deps.Publisher)
	assert.IsType(t, &outbox.LogPublisher{}, deps.DLQPublisher)
	require.NoError(t, deps.Store.Ping(context.Background()))
}

func TestNewDependencies_UnsupportedBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Backend = "sqlite"

	_, err := NewDependencies(context.Background(), cfg, log.WithField("test", t.Name()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage backend")
}

func TestNewDependencies_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.Addr = mr.Addr()

	deps, err := NewDependencies(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	require.NotNil(t, deps.Redis)
	require.NotNil(t, deps.AlertCache)
	assert.IsType(t, &rediscache.IdempotencyRepository{}, deps.Idempotency)
	assert.False(t, deps.CleanupIdempotency)
}

func TestNewDependencies_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig()
	cfg.Redis.Addr = addr

	deps, err := NewDependencies(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	assert.Nil(t, deps.Redis)
	assert.IsType(t, &memory.IdempotencyRepository{}, deps.Idempotency)
	assert.True(t, deps.CleanupIdempotency)
}

func TestNewDependencies_KafkaUnavailableFallsBackToLog(t *testing.T) {
	cfg := testConfig()
	cfg.Kafka.Brokers = []string{"127.0.0.1:1"}

	deps, err := NewDependencies(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	assert.IsType(t, &outbox.LogPublisher{}, deps.Publisher)
	assert.Nil(t, deps.producer)
}

func TestDependencies_CloseIsSafeWithoutOptionalResources(t *testing.T) {
	deps, err := NewDependencies(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, deps.Close())
}
