package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace/internal/service/outbox"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/mongodb"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/postgres"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/rediscache"
)

// Dependencies хранит внешние ресурсы процесса (хранилище, Redis, Kafka).
type Dependencies struct {
	Store       domain.Store
	Idempotency domain.IdempotencyRepository
	// CleanupIdempotency включает фоновую очистку; Redis удаляет ключи сам по TTL.
	CleanupIdempotency bool
	Redis              *redis.Client
	AlertCache         *rediscache.AlertCache
	Publisher          domain.OutboxPublisher
	DLQPublisher       domain.OutboxPublisher

	producer *kafka.Producer
	logger   *log.Entry
}

// NewDependencies открывает хранилище и необязательные Redis и Kafka.
// Недоступный Redis или Kafka не мешают запуску: сервис работает без кэша
// и пишет события в лог.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps := &Dependencies{logger: logger}

	if err := deps.openStore(ctx, cfg); err != nil {
		return nil, err
	}
	deps.openRedis(ctx, cfg.Redis, cfg.Alerts)
	deps.initPublishers(cfg.Kafka)
	return deps, nil
}

func (d *Dependencies) openStore(ctx context.Context, cfg Config) error {
	switch cfg.Storage.Backend {
	case StorageMemory, "":
		d.Store = memory.NewStore()
		d.Idempotency = memory.NewIdempotencyRepository()
		d.CleanupIdempotency = true
		d.logger.Warn("using in-memory storage, data is lost on restart")
	case StoragePostgres:
		store, err := postgres.Open(ctx, cfg.Postgres.DSN, postgres.WithOpTimeout(cfg.Storage.OpTimeout))
		if err != nil {
			return fmt.Errorf("open postgres storage: %w", err)
		}
		if cfg.Storage.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		d.Store = store
		d.Idempotency = postgres.NewIdempotencyRepository(store)
		d.CleanupIdempotency = true
	case StorageMongo:
		store, err := mongodb.Open(ctx, cfg.Mongo.URI, cfg.Mongo.Database, mongodb.WithOpTimeout(cfg.Storage.OpTimeout))
		if err != nil {
			return fmt.Errorf("open mongo storage: %w", err)
		}
		d.Store = store
		// без Redis ключи идемпотентности живут в памяти процесса
		d.Idempotency = memory.NewIdempotencyRepository()
		d.CleanupIdempotency = true
	default:
		return fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
	d.logger.WithField("backend", cfg.Storage.Backend).Info("storage initialized")
	return nil
}

func (d *Dependencies) openRedis(ctx context.Context, cfg RedisConfig, alerts AlertsConfig) {
	if cfg.Addr == "" {
		return
	}
	client, err := rediscache.Open(ctx, rediscache.Config{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err != nil {
		d.logger.WithError(err).Warn("redis is unavailable, continuing without cache")
		return
	}
	d.Redis = client
	d.AlertCache = rediscache.NewAlertCache(client, alerts.CacheTTL)
	d.Idempotency = rediscache.NewIdempotencyRepository(client)
	d.CleanupIdempotency = false
	d.logger.WithField("addr", cfg.Addr).Info("redis initialized")
}

// initPublishers выбирает Kafka, если заданы брокеры, иначе публикацию в лог.
func (d *Dependencies) initPublishers(cfg KafkaConfig) {
	logPublisher := func() {
		pub := outbox.NewLogPublisher(d.logger.WithField("component", "notifications"))
		d.Publisher = pub
		d.DLQPublisher = pub
	}
	if len(cfg.Brokers) == 0 {
		logPublisher()
		return
	}

	producer, err := kafka.NewProducer(cfg.Brokers, cfg.ClientID,
		kafka.WithProducerLogger(d.logger.WithField("component", "kafka-producer")))
	if err != nil {
		d.logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		logPublisher()
		return
	}
	d.producer = producer
	d.Publisher = kafka.NewOutboxPublisher(producer, cfg.Topic,
		kafka.WithAggregateTopic(domain.AggregateProduct, cfg.InventoryTopic))
	d.DLQPublisher = kafka.NewOutboxPublisher(producer, cfg.DLQTopic)
	d.logger.WithField("brokers", cfg.Brokers).Info("kafka producer initialized")
}

// Close освобождает ресурсы в обратном порядке открытия.
func (d *Dependencies) Close() error {
	var errs []error
	if d.producer != nil {
		if err := d.producer.Close(); err != nil {
			errs = append(errs, err)
		} else {
			d.logger.Info("kafka producer closed")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	return errors.Join(errs...)
}
