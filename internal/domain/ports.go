package domain

import (
	"context"
	"time"
)

// ProductRepository — доступ ядра к складским остаткам.
type ProductRepository interface {
	// Get возвращает товар или ErrProductNotFound.
	Get(ctx context.Context, id string) (Product, error)
	// Upsert создаёт или обновляет карточку товара (приём данных из каталога).
	Upsert(ctx context.Context, product Product) error
	// DecrementStock атомарно уменьшает остаток, только если stock >= qty.
	// Возвращает обновлённый товар, *StockError или ErrProductNotFound.
	DecrementStock(ctx context.Context, id string, qty int) (Product, error)
	// IncrementStock возвращает qty единиц на склад.
	IncrementStock(ctx context.Context, id string, qty int) (Product, error)
	// ListLowStock возвращает активные товары с stock <= min_stock.
	ListLowStock(ctx context.Context) ([]Product, error)
}

// CartRepository хранит корзины ритейлеров.
type CartRepository interface {
	// Get возвращает позицию или ErrCartItemNotFound.
	Get(ctx context.Context, retailerID, productID string) (CartEntry, error)
	Upsert(ctx context.Context, entry CartEntry) error
	// Delete удаляет позицию и сообщает, существовала ли она.
	Delete(ctx context.Context, retailerID, productID string) (bool, error)
	// List возвращает позиции корзины в порядке добавления.
	List(ctx context.Context, retailerID string) ([]CartEntry, error)
	// Clear удаляет перечисленные позиции ритейлера и возвращает число удалённых.
	Clear(ctx context.Context, retailerID string, productIDs []string) (int, error)
	// Lock сериализует изменения корзины ритейлера до конца текущей транзакции.
	Lock(ctx context.Context, retailerID string) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. При коллизии id, кода или трек-номера возвращает ErrOrderConflict.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по внутреннему идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetByCode возвращает заказ по коду ORD-... или ErrOrderNotFound.
	GetByCode(ctx context.Context, code string) (Order, error)
	// ListByRetailer возвращает страницу заказов ритейлера (новые первыми) и общее число.
	ListByRetailer(ctx context.Context, retailerID string, offset, limit int) ([]Order, int, error)
	// Save сохраняет статус и историю с учётом optimistic locking по Version.
	Save(ctx context.Context, order Order) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
	// Release удаляет запись, чтобы повтор с тем же ключом выполнился заново.
	// Отсутствующая запись не считается ошибкой.
	Release(ctx context.Context, key string) error
}

// Repositories — набор репозиториев, привязанных к одной транзакции
// (или к хранилищу без транзакции).
type Repositories struct {
	Products ProductRepository
	Carts    CartRepository
	Orders   OrderRepository
	Outbox   OutboxRepository
}

// TxFunc выполняется внутри транзакции. Любая ошибка откатывает все изменения.
type TxFunc func(ctx context.Context, repos Repositories) error

// Store — явно создаваемый клиент хранилища.
type Store interface {
	// Repositories возвращает репозитории вне транзакции.
	Repositories() Repositories
	// WithinTx выполняет fn атомарно.
	WithinTx(ctx context.Context, fn TxFunc) error
	Ping(ctx context.Context) error
	Close() error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Attempts      int
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
