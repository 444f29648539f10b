package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Store: in-memory хранилище для локальной разработки и тестов.
// Все коллекции защищены одним мьютексом; транзакция держит его целиком
// и ведёт журнал отмены, который проигрывается при ошибке.
type Store struct {
	mu sync.Mutex

	products map[string]domain.Product
	carts    map[cartKey]domain.CartEntry
	orders   map[string]domain.Order
	// codes и tracking: уникальные индексы заказов.
	codes    map[string]string
	tracking map[string]string
	outbox   map[string]outboxRecord

	seq int64
	now func() time.Time
}

type cartKey struct {
	retailerID string
	productID  string
}

// Option настраивает Store.
type Option func(*Store)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore(options ...Option) *Store {
	s := &Store{
		products: make(map[string]domain.Product),
		carts:    make(map[cartKey]domain.CartEntry),
		orders:   make(map[string]domain.Order),
		codes:    make(map[string]string),
		tracking: make(map[string]string),
		outbox:   make(map[string]outboxRecord),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Repositories возвращает репозитории, каждый вызов которых берёт блокировку сам.
func (s *Store) Repositories() domain.Repositories {
	return s.repositories(nil)
}

// WithinTx выполняет fn под блокировкой хранилища. Вызывать
// нетранзакционные репозитории изнутри fn нельзя: это взаимоблокировка.
func (s *Store) WithinTx(ctx context.Context, fn domain.TxFunc) (err error) {
	if err := ctx.Err(); err != nil {
		return domain.Unavailable("begin tx", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j := &journal{}
	defer func() {
		if r := recover(); r != nil {
			j.rollback()
			panic(r)
		}
		if err != nil {
			j.rollback()
		}
	}()

	return fn(ctx, s.repositories(j))
}

// Ping всегда успешен.
func (s *Store) Ping(context.Context) error { return nil }

// Close ничего не освобождает.
func (s *Store) Close() error { return nil }

func (s *Store) repositories(j *journal) domain.Repositories {
	return domain.Repositories{
		Products: &productRepository{s: s, tx: j},
		Carts:    &cartRepository{s: s, tx: j},
		Orders:   &orderRepository{s: s, tx: j},
		Outbox:   &outboxRepository{s: s, tx: j},
	}
}

// exec выполняет fn под блокировкой, если вызов идёт вне транзакции.
func (s *Store) exec(tx *journal, fn func() error) error {
	if tx == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn()
}

// journal копит операции отмены для транзакции.
type journal struct {
	undo []func()
}

func (j *journal) record(undo func()) {
	if j == nil {
		return
	}
	j.undo = append(j.undo, undo)
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

func put[K comparable, V any](j *journal, m map[K]V, key K, value V) {
	prev, existed := m[key]
	m[key] = value
	j.record(func() {
		if existed {
			m[key] = prev
			return
		}
		delete(m, key)
	})
}

func remove[K comparable, V any](j *journal, m map[K]V, key K) bool {
	prev, existed := m[key]
	if !existed {
		return false
	}
	delete(m, key)
	j.record(func() { m[key] = prev })
	return true
}

var _ domain.Store = (*Store)(nil)
