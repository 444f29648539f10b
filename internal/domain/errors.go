package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound — общий признак отсутствующей сущности.
	ErrNotFound = errors.New("not found")
	// ErrProductNotFound возвращается, если товар отсутствует или неактивен.
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrCartItemNotFound возвращается, если позиции нет в корзине.
	ErrCartItemNotFound = fmt.Errorf("cart item %w", ErrNotFound)

	// ErrInsufficientStock — запрошенное количество превышает текущий остаток.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrEmptyCart — в корзине нет ни одной позиции, пригодной для заказа.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidStatus — статус не входит в набор поддерживаемых значений.
	ErrInvalidStatus = errors.New("invalid order status")
	// ErrInvalidTransition — переход запрещён машиной состояний.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrValidation — некорректные входные данные.
	ErrValidation = errors.New("validation error")
	// ErrStorageUnavailable — временная недоступность хранилища.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderConflict — коллизия id, кода заказа или трек-номера.
	ErrOrderConflict = errors.New("order already exists")

	// ErrRetailerRequired — запрос без идентификатора ритейлера.
	ErrRetailerRequired = fmt.Errorf("%w: retailer_id is required", ErrValidation)

	// Ошибки инвариантов заказа.
	ErrItemsRequired    = errors.New("order must contain at least one item")
	ErrItemQtyInvalid   = errors.New("item quantity must be greater than zero")
	ErrItemPriceInvalid = errors.New("item unit price must be non-negative")
	ErrAmountNegative   = errors.New("total_amount must be non-negative")
	ErrAmountMismatch   = errors.New("order total does not match items sum")
	ErrHistoryRequired  = errors.New("status history must start with the creation entry")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageNotFound возвращается при пометке несуществующего сообщения.
	ErrOutboxMessageNotFound = fmt.Errorf("outbox message %w", ErrNotFound)

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = fmt.Errorf("idempotency key %w", ErrNotFound)
)

// StockError уточняет ErrInsufficientStock конкретным товаром.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// Is позволяет сравнивать StockError с ErrInsufficientStock через errors.Is.
func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// NewStockError создаёт ошибку нехватки остатка.
func NewStockError(productID string, requested, available int) error {
	return &StockError{ProductID: productID, Requested: requested, Available: available}
}

// Validationf формирует ErrValidation с пояснением.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Unavailable оборачивает ошибку драйвера в ErrStorageUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict сообщает, что ключ уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
