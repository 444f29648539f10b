// Package inventory принимает карточки товаров от внешнего каталога.
// Остаток после приёма меняют только оформление и отмена заказов.
package inventory

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Invalidator сбрасывает производные данные (кэш складских предупреждений)
// после изменения карточки товара.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Intake сохраняет карточки товаров.
type Intake struct {
	store       domain.Store
	invalidator Invalidator
	logger      *log.Entry
}

// Option настраивает Intake.
type Option func(*Intake)

// WithInvalidator подключает сброс кэша после Upsert.
func WithInvalidator(inv Invalidator) Option {
	return func(i *Intake) {
		i.invalidator = inv
	}
}

// NewIntake создаёт сервис приёма товаров.
func NewIntake(store domain.Store, logger *log.Entry, opts ...Option) *Intake {
	if logger == nil {
		logger = log.New().WithField("component", "inventory-intake")
	}
	i := &Intake{store: store, logger: logger}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Upsert валидирует карточку и сохраняет её. MinStock < 0 не принимается,
// а нулевой порог сохраняется как есть.
func (i *Intake) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	product.ID = strings.TrimSpace(product.ID)
	product.Name = strings.TrimSpace(product.Name)
	product.Price = product.Price.Round(2)
	if err := validateProduct(product); err != nil {
		return domain.Product{}, err
	}

	var saved domain.Product
	err := i.store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		if err := repos.Products.Upsert(ctx, product); err != nil {
			return fmt.Errorf("upsert product %s: %w", product.ID, err)
		}
		var err error
		saved, err = repos.Products.Get(ctx, product.ID)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}

	if i.invalidator != nil {
		if err := i.invalidator.Invalidate(ctx); err != nil {
			i.logger.WithError(err).Warn("failed to invalidate stock alert cache")
		}
	}

	i.logger.WithFields(log.Fields{
		"product_id": saved.ID,
		"stock":      saved.Stock,
		"min_stock":  saved.MinStock,
		"active":     saved.IsActive,
	}).Info("product upserted")
	return saved, nil
}

// Get возвращает карточку товара.
func (i *Intake) Get(ctx context.Context, id string) (domain.Product, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Product{}, domain.Validationf("product id is required")
	}
	return i.store.Repositories().Products.Get(ctx, id)
}
