// Package checkout превращает корзину ритейлера в заказ.
//
// Всё оформление выполняется одной транзакцией хранилища: чтение корзины,
// условное списание остатков, создание заказа, очистка корзины и запись
// событий в outbox. Ошибка на любом шаге откатывает все изменения.
package checkout

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

// maxCodeAttempts ограничивает повторы при коллизии кода заказа.
const maxCodeAttempts = 3

// Request: параметры оформления.
type Request struct {
	RetailerID      string
	DeliveryAddress string
	PaymentMethod   string
}

// Builder оформляет заказы.
type Builder struct {
	store   domain.Store
	codes   CodeGenerator
	logger  *log.Entry
	metrics *metrics.Marketplace
	now     func() time.Time
}

// Option настраивает Builder.
type Option func(*Builder)

// WithCodeGenerator подменяет генератор кодов.
func WithCodeGenerator(codes CodeGenerator) Option {
	return func(b *Builder) {
		if codes != nil {
			b.codes = codes
		}
	}
}

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.Marketplace) Option {
	return func(b *Builder) { b.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBuilder создаёт Builder.
func NewBuilder(store domain.Store, logger *log.Entry, opts ...Option) *Builder {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	b := &Builder{
		store:  store,
		codes:  UUIDCodes{},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Checkout оформляет заказ из корзины ритейлера.
func (b *Builder) Checkout(ctx context.Context, req Request) (domain.Order, error) {
	req.RetailerID = strings.TrimSpace(req.RetailerID)
	req.DeliveryAddress = strings.TrimSpace(req.DeliveryAddress)
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)

	if req.RetailerID == "" {
		return domain.Order{}, domain.ErrRetailerRequired
	}
	if req.DeliveryAddress == "" {
		return domain.Order{}, domain.Validationf("delivery_address is required")
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.DefaultPaymentMethod
	}

	start := time.Now()
	var (
		order domain.Order
		err   error
	)
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		order, err = b.checkoutOnce(ctx, req)
		if !errors.Is(err, domain.ErrOrderConflict) {
			break
		}
		b.logger.WithFields(log.Fields{
			"retailer_id": req.RetailerID,
			"attempt":     attempt,
		}).Warn("order code collision, regenerating")
	}
	b.metrics.RecordCheckout(checkoutResult(err), time.Since(start))

	if err != nil {
		b.logger.WithError(err).WithField("retailer_id", req.RetailerID).Info("checkout rejected")
		return domain.Order{}, err
	}

	units := 0
	for _, item := range order.Items {
		units += item.Quantity
	}
	b.metrics.RecordUnitsSold(units)
	b.logger.WithFields(log.Fields{
		"retailer_id":  order.RetailerID,
		"order_id":     order.ID,
		"order_code":   order.Code,
		"total_amount": order.TotalAmount.StringFixed(2),
		"items":        len(order.Items),
	}).Info("order placed")
	return order, nil
}

func (b *Builder) checkoutOnce(ctx context.Context, req Request) (domain.Order, error) {
	var order domain.Order
	err := b.store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		// Параллельное оформление той же корзины ждёт здесь и после
		// коммита первого видит пустую корзину.
		if err := repos.Carts.Lock(ctx, req.RetailerID); err != nil {
			return err
		}
		entries, err := repos.Carts.List(ctx, req.RetailerID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return domain.ErrEmptyCart
		}
		listed := make([]string, len(entries))
		for i, entry := range entries {
			listed[i] = entry.ProductID
		}

		items := make([]domain.OrderItem, 0, len(entries))
		for _, entry := range entries {
			product, err := repos.Products.Get(ctx, entry.ProductID)
			if errors.Is(err, domain.ErrNotFound) {
				b.logger.WithFields(log.Fields{
					"retailer_id": req.RetailerID,
					"product_id":  entry.ProductID,
				}).Warn("skipping cart entry of deleted product")
				continue
			}
			if err != nil {
				return err
			}
			if !product.Purchasable() {
				b.logger.WithFields(log.Fields{
					"retailer_id": req.RetailerID,
					"product_id":  entry.ProductID,
				}).Warn("skipping cart entry of inactive product")
				continue
			}
			items = append(items, domain.NewOrderItem(product.ID, product.Name, entry.Quantity, product.Price))
		}
		if len(items) == 0 {
			return domain.ErrEmptyCart
		}

		lowStock, err := decrementAll(ctx, repos.Products, items)
		if err != nil {
			return err
		}

		now := b.now()
		order = domain.Order{
			ID:              uuid.NewString(),
			Code:            b.codes.OrderCode(now),
			RetailerID:      req.RetailerID,
			Items:           items,
			TotalAmount:     domain.SumItems(items),
			Status:          domain.OrderStatusPending,
			StatusHistory:   []domain.StatusChange{{Status: domain.OrderStatusPending, Timestamp: now, Note: domain.NotePlaced}},
			TrackingNumber:  b.codes.TrackingNumber(),
			PaymentStatus:   domain.PaymentStatusPending,
			PaymentMethod:   req.PaymentMethod,
			DeliveryAddress: req.DeliveryAddress,
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return errors.Join(errs...)
		}
		if err := repos.Orders.Create(ctx, order); err != nil {
			return err
		}
		if _, err := repos.Carts.Clear(ctx, req.RetailerID, listed); err != nil {
			return err
		}

		return enqueueEvents(ctx, repos.Outbox, order, lowStock)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// decrementAll списывает остатки в порядке возрастания product id, чтобы
// параллельные оформления блокировали строки в одном порядке.
// Возвращает товары, остаток которых только что опустился до порога дозаказа.
func decrementAll(ctx context.Context, products domain.ProductRepository, items []domain.OrderItem) ([]domain.Product, error) {
	quantities := make(map[string]int, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := quantities[item.ProductID]; !ok {
			ids = append(ids, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}
	sort.Strings(ids)

	var crossed []domain.Product
	for _, id := range ids {
		qty := quantities[id]
		updated, err := products.DecrementStock(ctx, id, qty)
		if err != nil {
			return nil, err
		}
		if updated.LowStock() && updated.Stock+qty > updated.MinStock {
			crossed = append(crossed, updated)
		}
	}
	return crossed, nil
}

func enqueueEvents(ctx context.Context, outbox domain.OutboxRepository, order domain.Order, lowStock []domain.Product) error {
	placed, err := domain.OrderPlacedEvent(order)
	if err != nil {
		return err
	}
	if _, err := outbox.Enqueue(ctx, placed); err != nil {
		return err
	}
	for _, product := range lowStock {
		msg, err := domain.LowStockEvent(product)
		if err != nil {
			return err
		}
		if _, err := outbox.Enqueue(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func checkoutResult(err error) string {
	switch {
	case err == nil:
		return metrics.CheckoutSuccess
	case errors.Is(err, domain.ErrEmptyCart):
		return metrics.CheckoutEmptyCart
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.CheckoutInsufficientStock
	default:
		return metrics.CheckoutError
	}
}
