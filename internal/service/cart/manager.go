// Package cart управляет корзинами ритейлеров.
// Проверки остатка здесь носят справочный характер: склад не резервируется
// до оформления заказа.
package cart

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

// Manager реализует операции с корзиной.
type Manager struct {
	store   domain.Store
	logger  *log.Entry
	metrics *metrics.Marketplace
	now     func() time.Time
}

// Option настраивает Manager.
type Option func(*Manager)

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.Marketplace) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) {
		if now != nil {
			mgr.now = now
		}
	}
}

// NewManager создаёт Manager поверх хранилища.
func NewManager(store domain.Store, logger *log.Entry, opts ...Option) *Manager {
	if logger == nil {
		logger = log.New().WithField("component", "cart")
	}
	mgr := &Manager{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// Add добавляет quantity единиц товара в корзину или увеличивает существующую позицию.
func (m *Manager) Add(ctx context.Context, retailerID, productID string, quantity int) (domain.CartEntry, error) {
	if err := validateKey(retailerID, productID); err != nil {
		return domain.CartEntry{}, err
	}
	if quantity < 1 {
		return domain.CartEntry{}, domain.Validationf("quantity must be at least 1")
	}

	var entry domain.CartEntry
	err := m.store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		if err := repos.Carts.Lock(ctx, retailerID); err != nil {
			return err
		}
		product, err := purchasableProduct(ctx, repos, productID)
		if err != nil {
			return err
		}

		existing, err := repos.Carts.Get(ctx, retailerID, productID)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNotFound):
			existing = domain.CartEntry{}
		default:
			return err
		}

		total := existing.Quantity + quantity
		if total > product.Stock {
			return domain.NewStockError(productID, total, product.Stock)
		}

		now := m.now()
		entry = domain.CartEntry{
			RetailerID: retailerID,
			ProductID:  productID,
			Quantity:   total,
			AddedAt:    existing.AddedAt,
			UpdatedAt:  now,
		}
		if entry.AddedAt.IsZero() {
			entry.AddedAt = now
		}
		return repos.Carts.Upsert(ctx, entry)
	})
	if err != nil {
		return domain.CartEntry{}, err
	}

	m.metrics.RecordCartOperation("add")
	m.logger.WithFields(log.Fields{
		"retailer_id": retailerID,
		"product_id":  productID,
		"quantity":    entry.Quantity,
	}).Debug("cart item added")
	return entry, nil
}

// SetQuantity перезаписывает количество. quantity <= 0 удаляет позицию;
// удаление отсутствующей позиции не считается ошибкой.
// Возвращает false, если позиция была удалена.
func (m *Manager) SetQuantity(ctx context.Context, retailerID, productID string, quantity int) (domain.CartEntry, bool, error) {
	if err := validateKey(retailerID, productID); err != nil {
		return domain.CartEntry{}, false, err
	}

	if quantity <= 0 {
		if _, err := m.deleteEntry(ctx, retailerID, productID); err != nil {
			return domain.CartEntry{}, false, err
		}
		m.metrics.RecordCartOperation("remove")
		return domain.CartEntry{}, false, nil
	}

	var entry domain.CartEntry
	err := m.store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		if err := repos.Carts.Lock(ctx, retailerID); err != nil {
			return err
		}
		product, err := purchasableProduct(ctx, repos, productID)
		if err != nil {
			return err
		}
		if quantity > product.Stock {
			return domain.NewStockError(productID, quantity, product.Stock)
		}

		existing, err := repos.Carts.Get(ctx, retailerID, productID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		now := m.now()
		entry = domain.CartEntry{
			RetailerID: retailerID,
			ProductID:  productID,
			Quantity:   quantity,
			AddedAt:    existing.AddedAt,
			UpdatedAt:  now,
		}
		if entry.AddedAt.IsZero() {
			entry.AddedAt = now
		}
		return repos.Carts.Upsert(ctx, entry)
	})
	if err != nil {
		return domain.CartEntry{}, false, err
	}

	m.metrics.RecordCartOperation("set")
	return entry, true, nil
}

// Remove удаляет позицию; отсутствующая позиция: ErrCartItemNotFound.
func (m *Manager) Remove(ctx context.Context, retailerID, productID string) error {
	if err := validateKey(retailerID, productID); err != nil {
		return err
	}

	deleted, err := m.deleteEntry(ctx, retailerID, productID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrCartItemNotFound
	}
	m.metrics.RecordCartOperation("remove")
	return nil
}

// deleteEntry удаляет позицию под блокировкой корзины, чтобы удаление не
// вклинилось между чтением корзины и заказом при оформлении.
func (m *Manager) deleteEntry(ctx context.Context, retailerID, productID string) (bool, error) {
	var deleted bool
	err := m.store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		if err := repos.Carts.Lock(ctx, retailerID); err != nil {
			return err
		}
		var err error
		deleted, err = repos.Carts.Delete(ctx, retailerID, productID)
		return err
	})
	return deleted, err
}

// View возвращает корзину с актуальными данными товаров. Позиции удалённых
// товаров остаются в выдаче с Product == nil и не входят в TotalAmount.
func (m *Manager) View(ctx context.Context, retailerID string) (domain.CartView, error) {
	if strings.TrimSpace(retailerID) == "" {
		return domain.CartView{}, domain.ErrRetailerRequired
	}

	repos := m.store.Repositories()
	entries, err := repos.Carts.List(ctx, retailerID)
	if err != nil {
		return domain.CartView{}, err
	}

	view := domain.CartView{
		RetailerID:  retailerID,
		Items:       make([]domain.CartItemView, 0, len(entries)),
		TotalAmount: decimal.Zero,
	}
	for _, entry := range entries {
		item := domain.CartItemView{
			ProductID: entry.ProductID,
			Quantity:  entry.Quantity,
			AddedAt:   entry.AddedAt,
			UpdatedAt: entry.UpdatedAt,
		}

		product, err := repos.Products.Get(ctx, entry.ProductID)
		switch {
		case err == nil:
			snapshot := product.Snapshot()
			item.Product = &snapshot
		case errors.Is(err, domain.ErrNotFound):
			m.logger.WithFields(log.Fields{
				"retailer_id": retailerID,
				"product_id":  entry.ProductID,
			}).Debug("cart references deleted product")
		default:
			return domain.CartView{}, err
		}

		view.Items = append(view.Items, item)
		view.TotalItems += item.Quantity
		view.TotalAmount = view.TotalAmount.Add(item.LineTotal())
	}
	return view, nil
}

func validateKey(retailerID, productID string) error {
	if strings.TrimSpace(retailerID) == "" {
		return domain.ErrRetailerRequired
	}
	if strings.TrimSpace(productID) == "" {
		return domain.Validationf("product_id is required")
	}
	return nil
}

// purchasableProduct возвращает товар или ErrProductNotFound, если товара
// нет либо он снят с продажи.
func purchasableProduct(ctx context.Context, repos domain.Repositories, productID string) (domain.Product, error) {
	product, err := repos.Products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if !product.Purchasable() {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}
