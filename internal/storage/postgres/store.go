package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultOpTimeout       = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	// txTimeoutFactor ограничивает всю транзакцию несколькими операциями.
	txTimeoutFactor = 4
)

// querier: общее подмножество *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store оборачивает SQL-подключение к PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
	now       func() time.Time
}

// Option настраивает Store.
type Option func(*Store)

// WithOpTimeout задаёт таймаут одной операции с базой.
func WithOpTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.opTimeout = timeout
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return NewStore(db, options...), nil
}

// NewStore создаёт Store поверх готового подключения.
func NewStore(db *sql.DB, options ...Option) *Store {
	s := &Store{
		db:        db,
		opTimeout: defaultOpTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Repositories возвращает репозитории, работающие вне транзакции.
func (s *Store) Repositories() domain.Repositories {
	return s.repositories(s.db)
}

// WithinTx выполняет fn в транзакции READ COMMITTED. Защиту от overselling
// дают условные UPDATE, а не уровень изоляции.
func (s *Store) WithinTx(ctx context.Context, fn domain.TxFunc) (err error) {
	txCtx, cancel := context.WithTimeout(ctx, s.opTimeout*txTimeoutFactor)
	defer cancel()

	tx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return domain.Unavailable("begin tx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(txCtx, s.repositories(tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return domain.Unavailable("commit tx", err)
	}
	return nil
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) repositories(q querier) domain.Repositories {
	b := base{q: q, timeout: s.opTimeout, now: s.now}
	return domain.Repositories{
		Products: &productRepository{base: b},
		Carts:    &cartRepository{base: b},
		Orders:   &orderRepository{base: b},
		Outbox:   &outboxRepository{base: b},
	}
}

// base: общие зависимости репозиториев.
type base struct {
	q       querier
	timeout time.Duration
	now     func() time.Time
}

func (b base) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.timeout)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// rowScanner: общее подмножество *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

var _ domain.Store = (*Store)(nil)
