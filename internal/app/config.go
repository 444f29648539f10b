package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Поддерживаемые хранилища.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageMongo    = "mongo"
)

const envPrefix = "MARKETPLACE"

// Config описывает все настройки процесса.
type Config struct {
	HTTPAddr        string
	MetricsAddr     string
	GRPCAddr        string
	ShutdownTimeout time.Duration

	Storage     StorageConfig
	Postgres    PostgresConfig
	Mongo       MongoConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Auth        AuthConfig
	Outbox      OutboxConfig
	Idempotency IdempotencyConfig
	Alerts      AlertsConfig
	Log         LogConfig
}

type StorageConfig struct {
	Backend     string
	OpTimeout   time.Duration
	AutoMigrate bool
}

type PostgresConfig struct {
	DSN string
}

type MongoConfig struct {
	URI      string
	Database string
}

// RedisConfig: пустой Addr отключает Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig: без брокеров события пишутся в лог.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// InventoryTopic принимает события агрегата product (inventory.low_stock).
	InventoryTopic string
	DLQTopic       string
	ClientID       string
}

type AuthConfig struct {
	JWTSecret string
}

type OutboxConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

type IdempotencyConfig struct {
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

type AlertsConfig struct {
	CacheTTL time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("grpc.addr", "")
	v.SetDefault("shutdown.timeout", 5*time.Second)

	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.op_timeout", 5*time.Second)
	v.SetDefault("storage.auto_migrate", true)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "marketplace")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "marketplace.order-events")
	v.SetDefault("kafka.inventory_topic", "marketplace.inventory-events")
	v.SetDefault("kafka.dlq_topic", "marketplace.order-events.dlq")
	v.SetDefault("kafka.client_id", "marketplace")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("outbox.poll_interval", time.Second)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_attempts", 3)
	v.SetDefault("outbox.retry_base_delay", 100*time.Millisecond)

	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("idempotency.cleanup_interval", 10*time.Minute)
	v.SetDefault("idempotency.cleanup_batch_size", 500)

	v.SetDefault("alerts.cache_ttl", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load читает конфигурацию. Приоритет: переменные MARKETPLACE_*, YAML-файл,
// значения по умолчанию. Путь к файлу берётся из аргумента или MARKETPLACE_CONFIG.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Config{
		HTTPAddr:        v.GetString("http.addr"),
		MetricsAddr:     v.GetString("metrics.addr"),
		GRPCAddr:        v.GetString("grpc.addr"),
		ShutdownTimeout: v.GetDuration("shutdown.timeout"),
		Storage: StorageConfig{
			Backend:     strings.ToLower(strings.TrimSpace(v.GetString("storage.backend"))),
			OpTimeout:   v.GetDuration("storage.op_timeout"),
			AutoMigrate: v.GetBool("storage.auto_migrate"),
		},
		Postgres: PostgresConfig{DSN: strings.TrimSpace(v.GetString("postgres.dsn"))},
		Mongo: MongoConfig{
			URI:      strings.TrimSpace(v.GetString("mongo.uri")),
			Database: strings.TrimSpace(v.GetString("mongo.database")),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(v.GetString("redis.addr")),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Kafka: KafkaConfig{
			Brokers:  splitList(v.GetStringSlice("kafka.brokers")),
			Topic:          v.GetString("kafka.topic"),
			InventoryTopic: v.GetString("kafka.inventory_topic"),
			DLQTopic:       v.GetString("kafka.dlq_topic"),
			ClientID:       v.GetString("kafka.client_id"),
		},
		Auth: AuthConfig{JWTSecret: v.GetString("auth.jwt_secret")},
		Outbox: OutboxConfig{
			PollInterval:   v.GetDuration("outbox.poll_interval"),
			BatchSize:      v.GetInt("outbox.batch_size"),
			MaxAttempts:    v.GetInt("outbox.max_attempts"),
			RetryBaseDelay: v.GetDuration("outbox.retry_base_delay"),
		},
		Idempotency: IdempotencyConfig{
			TTL:              v.GetDuration("idempotency.ttl"),
			CleanupInterval:  v.GetDuration("idempotency.cleanup_interval"),
			CleanupBatchSize: v.GetInt("idempotency.cleanup_batch_size"),
		},
		Alerts: AlertsConfig{CacheTTL: v.GetDuration("alerts.cache_ttl")},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case StorageMemory:
	case StoragePostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for postgres storage"))
		}
	case StorageMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("mongo.uri is required for mongo storage"))
		}
		if c.Mongo.Database == "" {
			errs = append(errs, errors.New("mongo.database is required for mongo storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage backend %q", c.Storage.Backend))
	}

	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Storage.OpTimeout <= 0 {
		errs = append(errs, errors.New("storage.op_timeout must be > 0"))
	}
	if c.Outbox.PollInterval <= 0 || c.Outbox.BatchSize <= 0 || c.Outbox.MaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox poll_interval, batch_size and max_attempts must be > 0"))
	}
	if c.Idempotency.TTL <= 0 {
		errs = append(errs, errors.New("idempotency.ttl must be > 0"))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unsupported log.format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// splitList раскладывает значения вида "a:9092,b:9092" из окружения.
func splitList(raw []string) []string {
	var out []string
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
