// Package mongodb хранит товары, корзины и заказы в MongoDB.
// Заказы: документы с вложенными позициями и историей статусов.
// Транзакции требуют replica set.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	defaultConnTimeout = 10 * time.Second
	defaultOpTimeout   = 5 * time.Second

	collProducts = "products"
	collCarts    = "cart_items"
	collOrders   = "orders"
	collOutbox   = "outbox_messages"

	collCartLocks = "cart_locks"
)

// Store оборачивает клиента MongoDB.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	opTimeout time.Duration
	now       func() time.Time
}

// Option настраивает Store.
type Option func(*Store)

// WithOpTimeout задаёт таймаут одной операции.
func WithOpTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.opTimeout = timeout
		}
	}
}

// Open подключается к MongoDB, проверяет доступность и создаёт индексы.
func Open(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	s := &Store{
		client:    client,
		db:        client.Database(database),
		opTimeout: defaultOpTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, option := range opts {
		option(s)
	}

	if err := s.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// EnsureIndexes создаёт уникальные и служебные индексы.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collCarts: {
			{Keys: bson.D{{Key: "retailer_id", Value: 1}, {Key: "added_at", Value: 1}}},
		},
		collOrders: {
			{Keys: bson.D{{Key: "order_code", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "tracking_number", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "retailer_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		collOutbox: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", coll, err)
		}
	}
	return nil
}

// Repositories возвращает репозитории вне транзакции.
func (s *Store) Repositories() domain.Repositories {
	b := base{db: s.db, timeout: s.opTimeout, now: s.now}
	return domain.Repositories{
		Products: &productRepository{base: b},
		Carts:    &cartRepository{base: b},
		Orders:   &orderRepository{base: b},
		Outbox:   &outboxRepository{base: b},
	}
}

// WithinTx выполняет fn в multi-document транзакции. Репозитории те же:
// сессия передаётся через контекст. Драйвер может повторить fn при
// транзиентной ошибке, поэтому fn не должна иметь внешних эффектов.
func (s *Store) WithinTx(ctx context.Context, fn domain.TxFunc) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return domain.Unavailable("start session", err)
	}
	defer sess.EndSession(context.Background())

	txCtx, cancel := context.WithTimeout(ctx, s.opTimeout*4)
	defer cancel()

	var fnErr error
	repos := s.Repositories()
	_, err = sess.WithTransaction(txCtx, func(sc mongo.SessionContext) (interface{}, error) {
		fnErr = fn(sc, repos)
		return nil, fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return domain.Unavailable("mongodb transaction", err)
	}
	return nil
}

// Ping проверяет доступность primary.
func (s *Store) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.client.Ping(pingCtx, readpref.Primary())
}

// Close отключает клиента.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultConnTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

type base struct {
	db      *mongo.Database
	timeout time.Duration
	now     func() time.Time
}

func (b base) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.timeout)
}

var _ domain.Store = (*Store)(nil)
