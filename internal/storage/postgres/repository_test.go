package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewStore(db, WithClock(func() time.Time { return fixedNow })), mock
}

func productRow(id string, stock, minStock int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "image_url", "price", "stock", "min_stock", "is_active", "distributor_id", "created_at", "updated_at",
	}).AddRow(id, "Rice 5kg", "", "20.00", stock, minStock, true, "d-1", fixedNow, fixedNow)
}

func TestProductRepository_DecrementStockSuccess(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE products SET stock = stock - \$2`).
		WithArgs("p-1", 3, fixedNow).
		WillReturnRows(productRow("p-1", 2, 10))

	product, err := store.Repositories().Products.DecrementStock(context.Background(), "p-1", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, product.Stock)
	assert.True(t, product.Price.Equal(decimal.RequireFromString("20")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_DecrementStockInsufficient(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE products SET stock = stock - \$2`).
		WithArgs("p-1", 5, fixedNow).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT stock FROM products WHERE id = \$1`).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"stock"}).AddRow(2))

	_, err := store.Repositories().Products.DecrementStock(context.Background(), "p-1", 5)

	var stockErr *domain.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 5, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductRepository_DecrementStockMissingProduct(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE products SET stock = stock - \$2`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT stock FROM products`).WillReturnError(sql.ErrNoRows)

	_, err := store.Repositories().Products.DecrementStock(context.Background(), "ghost", 1)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestProductRepository_DriverErrorIsStorageUnavailable(t *testing.T) {
	store, mock := newMockStore(t)

	driverErr := errors.New("connection refused")
	mock.ExpectQuery(`SELECT .* FROM products WHERE id = \$1`).WillReturnError(driverErr)

	_, err := store.Repositories().Products.Get(context.Background(), "p-1")
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	require.ErrorIs(t, err, driverErr)
}

func TestStore_WithinTxCommit(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\('cart_items'\), hashtext\(\$1\)\)`).
		WithArgs("r-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM cart_items WHERE retailer_id = \$1 AND product_id IN \(\$2, \$3\)`).
		WithArgs("r-1", "p-1", "p-2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(ctx context.Context, repos domain.Repositories) error {
		if err := repos.Carts.Lock(ctx, "r-1"); err != nil {
			return err
		}
		removed, err := repos.Carts.Clear(ctx, "r-1", []string{"p-1", "p-2"})
		if err != nil {
			return err
		}
		if removed != 2 {
			t.Errorf("expected 2 removed rows, got %d", removed)
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCartRepository_ClearWithoutProductsSkipsQuery(t *testing.T) {
	store, mock := newMockStore(t)

	removed, err := store.Repositories().Carts.Clear(context.Background(), "r-1", nil)
	require.NoError(t, err)
	assert.Zero(t, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCartRepository_LockFailureIsStorageUnavailable(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnError(errors.New("canceling statement due to lock timeout"))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(ctx context.Context, repos domain.Repositories) error {
		return repos.Carts.Lock(ctx, "r-1")
	})
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithinTxRollbackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE products SET stock = stock - \$2`).
		WithArgs("p-1", 1, fixedNow).
		WillReturnRows(productRow("p-1", 0, 10))
	mock.ExpectRollback()

	boom := errors.New("order insert failed")
	err := store.WithinTx(context.Background(), func(ctx context.Context, repos domain.Repositories) error {
		if _, err := repos.Products.DecrementStock(ctx, "p-1", 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithinTxBeginFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	err := store.WithinTx(context.Background(), func(context.Context, domain.Repositories) error {
		t.Fatal("fn must not run")
		return nil
	})
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("o-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	order := domain.Order{ID: "o-1", Status: domain.OrderStatusConfirmed, Version: 3, UpdatedAt: fixedNow}
	err := store.Repositories().Orders.Save(context.Background(), order)
	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_SaveMissingOrder(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := store.Repositories().Orders.Save(context.Background(), domain.Order{ID: "o-404"})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_GetDecodesEmbeddedDocuments(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "order_code", "retailer_id", "items", "total_amount", "status", "status_history",
		"tracking_number", "payment_status", "payment_method", "delivery_address", "version", "created_at", "updated_at",
	}).AddRow(
		"o-1", "ORD-20250301-ABCD1234", "r-1",
		[]byte(`[{"product_id":"p-1","product_name":"Rice","quantity":5,"unit_price":"20","total":"100"}]`),
		"100.00", "pending",
		[]byte(`[{"status":"pending","timestamp":"2025-03-01T12:00:00Z","note":"Order placed"}]`),
		"TRK-ABCDEF123456", "pending", "COD", "Test St", 0, fixedNow, fixedNow,
	)
	mock.ExpectQuery(`FROM orders WHERE order_code = \$1`).WithArgs("ORD-20250301-ABCD1234").WillReturnRows(rows)

	order, err := store.Repositories().Orders.GetByCode(context.Background(), "ORD-20250301-ABCD1234")
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 5, order.Items[0].Quantity)
	assert.True(t, order.TotalAmount.Equal(decimal.NewFromInt(100)))
	require.Len(t, order.StatusHistory, 1)
	assert.Equal(t, domain.NotePlaced, order.StatusHistory[0].Note)
	assert.Empty(t, order.ValidateInvariants())
}

func TestIdempotencyRepository_CreateProcessingConflict(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewIdempotencyRepository(store)

	mock.ExpectExec(`INSERT INTO idempotency_keys`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM idempotency_keys`).
		WithArgs("key-1", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{
			"key", "request_hash", "response_body", "http_status", "status", "ttl_at", "created_at", "updated_at",
		}).AddRow("key-1", "hash-a", nil, 0, "processing", fixedNow.Add(time.Hour), fixedNow, fixedNow))

	_, err := repo.CreateProcessing(context.Background(), "key-1", "hash-b", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepository_Release(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewIdempotencyRepository(store)

	mock.ExpectExec(`DELETE FROM idempotency_keys WHERE key = \$1`).
		WithArgs("key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM idempotency_keys WHERE key = \$1`).
		WithArgs("key-2").
		WillReturnError(errors.New("connection reset"))

	require.NoError(t, repo.Release(context.Background(), " key-1 "))
	require.ErrorIs(t, repo.Release(context.Background(), "key-2"), domain.ErrStorageUnavailable)
	require.ErrorIs(t, repo.Release(context.Background(), ""), domain.ErrIdempotencyKeyRequired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_EnqueueAssignsIDAndTimestamps(t *testing.T) {
	store, mock := newMockStore(t)
	outbox := store.Repositories().Outbox

	mock.ExpectExec(`INSERT INTO outbox_messages`).
		WithArgs(sqlmock.AnyArg(), domain.AggregateProduct, "p-1", domain.EventInventoryLowStock,
			[]byte(`{"stock":1}`), "pending", fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg, err := outbox.Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: domain.AggregateProduct,
		AggregateID:   "p-1",
		EventType:     domain.EventInventoryLowStock,
		Payload:       []byte(`{"stock":1}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.True(t, msg.CreatedAt.Equal(fixedNow))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_PullPendingDefaultsLimit(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM outbox_messages`).
		WithArgs("pending", 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "aggregate_type", "aggregate_id", "event_type", "payload", "attempt_count", "created_at",
		}).
			AddRow("m-1", domain.AggregateOrder, "o-1", domain.EventOrderPlaced, []byte(`{}`), 0, fixedNow).
			AddRow("m-2", domain.AggregateOrder, "o-1", domain.EventOrderStatusChanged, []byte(`{}`), 2, fixedNow.Add(time.Second)))

	pending, err := store.Repositories().Outbox.PullPending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "m-1", pending[0].ID)
	assert.Equal(t, 2, pending[1].Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepository_StatsAndMissingMessage(t *testing.T) {
	store, mock := newMockStore(t)
	outbox := store.Repositories().Outbox

	mock.ExpectQuery(`SELECT COUNT\(\*\), MIN\(created_at\) FROM outbox_messages`).
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows([]string{"count", "min"}).AddRow(3, fixedNow))
	mock.ExpectExec(`UPDATE outbox_messages`).
		WithArgs("absent", "sent", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	stats, err := outbox.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.PendingCount)
	assert.True(t, stats.OldestPendingAt.Equal(fixedNow))

	require.ErrorIs(t, outbox.MarkSent(context.Background(), "absent"), domain.ErrOutboxMessageNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
