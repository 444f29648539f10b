// Package lifecycle ведёт заказ по статусам после оформления.
//
// Переходы идут только вперёд по цепочке pending → confirmed → processing →
// shipped → delivered (пропуск шагов разрешён), cancelled доступен из любого
// нетерминального статуса. Отмена возвращает остатки в той же транзакции,
// что и смена статуса.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// RetryConfig задаёт повторы при конфликте версий заказа.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond}
}

// Tracker управляет статусами заказов и отдаёт их на чтение.
type Tracker struct {
	store   domain.Store
	logger  *log.Entry
	metrics *metrics.Marketplace
	retry   RetryConfig
	now     func() time.Time
}

// Option настраивает Tracker.
type Option func(*Tracker)

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.Marketplace) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithRetry задаёт политику повторов.
func WithRetry(cfg RetryConfig) Option {
	return func(t *Tracker) {
		if cfg.MaxAttempts > 0 {
			t.retry = cfg
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker создаёт Tracker.
func NewTracker(store domain.Store, logger *log.Entry, opts ...Option) *Tracker {
	if logger == nil {
		logger = log.New().WithField("component", "lifecycle")
	}
	t := &Tracker{
		store:  store,
		logger: logger,
		retry:  DefaultRetryConfig(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transition переводит заказ в status и дописывает историю.
// ref: внутренний id или код ORD-...
func (t *Tracker) Transition(ctx context.Context, ref, status, note string) (domain.Order, error) {
	next, err := domain.ParseOrderStatus(status)
	if err != nil {
		return domain.Order{}, err
	}
	return t.apply(ctx, ref, next, note, nil)
}

// CancelByRetailer отменяет собственный заказ ритейлера, пока он в pending.
// Чужой заказ выглядит как отсутствующий.
func (t *Tracker) CancelByRetailer(ctx context.Context, retailerID, ref, note string) (domain.Order, error) {
	if strings.TrimSpace(retailerID) == "" {
		return domain.Order{}, domain.ErrRetailerRequired
	}
	guard := func(order domain.Order) error {
		if order.RetailerID != retailerID {
			return domain.ErrOrderNotFound
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: retailer can cancel only pending orders, order is %s", domain.ErrInvalidTransition, order.Status)
		}
		return nil
	}
	if note == "" {
		note = "Cancelled by retailer"
	}
	return t.apply(ctx, ref, domain.OrderStatusCancelled, note, guard)
}

func (t *Tracker) apply(ctx context.Context, ref string, next domain.OrderStatus, note string, guard func(domain.Order) error) (domain.Order, error) {
	var (
		order    domain.Order
		from     domain.OrderStatus
		restored int
	)

	delay := t.retry.InitialDelay
	var err error
	for attempt := 1; attempt <= t.retry.MaxAttempts; attempt++ {
		err = t.store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
			current, err := resolve(ctx, repos.Orders, ref)
			if err != nil {
				return err
			}
			if guard != nil {
				if err := guard(current); err != nil {
					return err
				}
			}
			if !current.Status.CanTransitionTo(next) {
				return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, next)
			}

			from = current.Status
			restored = 0
			var restoredItems []domain.EventItem
			if next == domain.OrderStatusCancelled {
				restoredItems, err = t.restoreStock(ctx, repos.Products, current)
				if err != nil {
					return err
				}
				for _, item := range restoredItems {
					restored += item.Quantity
				}
			}

			updated := current.Clone()
			updated.ApplyStatus(next, note, t.now())
			if err := repos.Orders.Save(ctx, updated); err != nil {
				return err
			}
			updated.Version++

			if err := enqueueTransition(ctx, repos.Outbox, updated, from, note, restoredItems); err != nil {
				return err
			}
			order = updated
			return nil
		})
		if !domain.IsVersionConflict(err) || attempt == t.retry.MaxAttempts {
			break
		}

		t.logger.WithFields(log.Fields{
			"order_ref": ref,
			"attempt":   attempt,
			"delay":     delay,
		}).Warn("order version conflict, retrying")
		select {
		case <-ctx.Done():
			return domain.Order{}, domain.Unavailable("retry order transition", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	if err != nil {
		return domain.Order{}, err
	}

	t.metrics.RecordTransition(string(from), string(next))
	t.metrics.RecordStockRestored(restored)
	t.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"order_code": order.Code,
		"from":       from,
		"to":         next,
	}).Info("order status changed")
	return order, nil
}

// restoreStock возвращает на склад количество каждой позиции. Товары,
// удалённые после оформления, пропускаются.
func (t *Tracker) restoreStock(ctx context.Context, products domain.ProductRepository, order domain.Order) ([]domain.EventItem, error) {
	quantities := make(map[string]int, len(order.Items))
	ids := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		if _, ok := quantities[item.ProductID]; !ok {
			ids = append(ids, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}
	sort.Strings(ids)

	restored := make([]domain.EventItem, 0, len(ids))
	for _, id := range ids {
		if _, err := products.IncrementStock(ctx, id, quantities[id]); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				t.logger.WithFields(log.Fields{
					"order_id":   order.ID,
					"product_id": id,
				}).Warn("product deleted, stock not restored")
				continue
			}
			return nil, err
		}
		restored = append(restored, domain.EventItem{ProductID: id, Quantity: quantities[id]})
	}
	return restored, nil
}

func enqueueTransition(ctx context.Context, outbox domain.OutboxRepository, order domain.Order, from domain.OrderStatus, note string, restored []domain.EventItem) error {
	changed, err := domain.NewOutboxMessage(domain.AggregateOrder, order.ID, domain.EventOrderStatusChanged, domain.OrderStatusChangedPayload{
		OrderID:   order.ID,
		OrderCode: order.Code,
		From:      from,
		To:        order.Status,
		Note:      note,
	})
	if err != nil {
		return err
	}
	if _, err := outbox.Enqueue(ctx, changed); err != nil {
		return err
	}
	if order.Status != domain.OrderStatusCancelled {
		return nil
	}

	cancelled, err := domain.NewOutboxMessage(domain.AggregateOrder, order.ID, domain.EventOrderCancelled, domain.OrderCancelledPayload{
		OrderID:    order.ID,
		OrderCode:  order.Code,
		RetailerID: order.RetailerID,
		Restored:   restored,
	})
	if err != nil {
		return err
	}
	_, err = outbox.Enqueue(ctx, cancelled)
	return err
}

// Get возвращает заказ по id или коду.
func (t *Tracker) Get(ctx context.Context, ref string) (domain.Order, error) {
	return resolve(ctx, t.store.Repositories().Orders, ref)
}

// GetForRetailer возвращает заказ, только если он принадлежит ритейлеру.
func (t *Tracker) GetForRetailer(ctx context.Context, retailerID, ref string) (domain.Order, error) {
	order, err := t.Get(ctx, ref)
	if err != nil {
		return domain.Order{}, err
	}
	if order.RetailerID != retailerID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// List возвращает страницу заказов ритейлера, новые первыми.
func (t *Tracker) List(ctx context.Context, retailerID string, page, limit int) (domain.OrderPage, error) {
	if strings.TrimSpace(retailerID) == "" {
		return domain.OrderPage{}, domain.ErrRetailerRequired
	}
	page, limit = normalizePage(page, limit)
	if page > math.MaxInt/limit {
		return domain.OrderPage{}, domain.Validationf("page %d is out of range", page)
	}

	orders, total, err := t.store.Repositories().Orders.ListByRetailer(ctx, retailerID, (page-1)*limit, limit)
	if err != nil {
		return domain.OrderPage{}, err
	}
	return domain.OrderPage{
		Orders:     orders,
		Pagination: domain.NewPagination(page, limit, total),
	}, nil
}

// Track возвращает представление доставки заказа.
func (t *Tracker) Track(ctx context.Context, ref string) (domain.TrackingView, error) {
	order, err := t.Get(ctx, ref)
	if err != nil {
		return domain.TrackingView{}, err
	}
	return domain.Track(order), nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

// resolve ищет заказ по коду ORD-... или по внутреннему id.
func resolve(ctx context.Context, orders domain.OrderRepository, ref string) (domain.Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Order{}, domain.Validationf("order reference is required")
	}
	if strings.HasPrefix(ref, "ORD-") {
		return orders.GetByCode(ctx, ref)
	}
	return orders.Get(ctx, ref)
}
