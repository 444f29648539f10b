package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ оформлен, склад уже списал остатки.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — дистрибьютор подтвердил заказ.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing — заказ комплектуется.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен (терминальный статус).
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён, остатки возвращены (терминальный статус).
	OrderStatusCancelled OrderStatus = "cancelled"
)

const (
	// DefaultPaymentMethod — способ оплаты, если ритейлер его не указал.
	DefaultPaymentMethod = "COD"
	// PaymentStatusPending — начальный статус оплаты.
	PaymentStatusPending = "pending"
	// NotePlaced — заметка первой записи истории.
	NotePlaced = "Order placed"
)

// statusRank задаёт порядок прямого продвижения заказа.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusConfirmed:  1,
	OrderStatusProcessing: 2,
	OrderStatusShipped:    3,
	OrderStatusDelivered:  4,
}

// AllOrderStatuses возвращает статусы в порядке жизненного цикла.
func AllOrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusConfirmed,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
	}
}

// ParseOrderStatus приводит строку к OrderStatus или возвращает ErrInvalidStatus.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(raw)
	if !status.Valid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}

// Valid сообщает, входит ли статус в набор из шести поддерживаемых.
func (s OrderStatus) Valid() bool {
	if s == OrderStatusCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo проверяет переход: только вперёд по цепочке
// (пропуск шагов разрешён) либо в cancelled из любого нетерминального статуса.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !s.Valid() || !next.Valid() || s.Terminal() {
		return false
	}
	if next == OrderStatusCancelled {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// OrderItem — неизменяемый снимок позиции на момент оформления.
type OrderItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
}

// NewOrderItem считает стоимость позиции от цены и количества.
func NewOrderItem(productID, name string, quantity int, unitPrice decimal.Decimal) OrderItem {
	return OrderItem{
		ProductID:   productID,
		ProductName: name,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Total:       unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2),
	}
}

// StatusChange — запись истории статусов.
type StatusChange struct {
	Status    OrderStatus
	Timestamp time.Time
	Note      string
}

// Order агрегирует состояние заказа, его позиции и историю.
type Order struct {
	ID              string
	Code            string
	RetailerID      string
	Items           []OrderItem
	TotalAmount     decimal.Decimal
	Status          OrderStatus
	StatusHistory   []StatusChange
	TrackingNumber  string
	PaymentStatus   string
	PaymentMethod   string
	DeliveryAddress string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SumItems пересчитывает сумму позиций.
func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Total)
	}
	return total.Round(2)
}

// ApplyStatus добавляет запись в историю и переводит заказ в новый статус.
// Проверку допустимости перехода выполняет вызывающий.
func (o *Order) ApplyStatus(status OrderStatus, note string, at time.Time) {
	o.Status = status
	o.StatusHistory = append(o.StatusHistory, StatusChange{Status: status, Timestamp: at, Note: note})
	o.UpdatedAt = at
}

// Clone возвращает копию заказа без общих слайсов.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	dst.StatusHistory = append([]StatusChange(nil), o.StatusHistory...)
	return dst
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.RetailerID == "" {
		errs = append(errs, ErrRetailerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalAmount.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidStatus)
	}

	// Сумма заказа должна совпадать с суммой позиций: quantity * unit_price.
	calc := decimal.Zero
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc = calc.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if !calc.Round(2).Equal(o.TotalAmount.Round(2)) {
		errs = append(errs, ErrAmountMismatch)
	}

	if len(o.StatusHistory) == 0 || o.StatusHistory[0].Status != OrderStatusPending {
		errs = append(errs, ErrHistoryRequired)
	}

	return errs
}

// Pagination описывает страницу списка заказов.
type Pagination struct {
	Page  int
	Limit int
	Total int
	Pages int
}

// NewPagination считает число страниц.
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

// OrderPage — страница заказов ритейлера.
type OrderPage struct {
	Orders     []Order
	Pagination Pagination
}
