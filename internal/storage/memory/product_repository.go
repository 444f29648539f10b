package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type productRepository struct {
	s  *Store
	tx *journal
}

func (r *productRepository) Get(_ context.Context, id string) (domain.Product, error) {
	var product domain.Product
	err := r.s.exec(r.tx, func() error {
		p, ok := r.s.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		product = p
		return nil
	})
	return product, err
}

func (r *productRepository) Upsert(_ context.Context, product domain.Product) error {
	return r.s.exec(r.tx, func() error {
		now := r.s.now()
		if existing, ok := r.s.products[product.ID]; ok {
			product.CreatedAt = existing.CreatedAt
		} else if product.CreatedAt.IsZero() {
			product.CreatedAt = now
		}
		product.UpdatedAt = now
		put(r.tx, r.s.products, product.ID, product)
		return nil
	})
}

// DecrementStock проверяет остаток и списывает его в одной критической секции.
func (r *productRepository) DecrementStock(_ context.Context, id string, qty int) (domain.Product, error) {
	var updated domain.Product
	err := r.s.exec(r.tx, func() error {
		p, ok := r.s.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		if p.Stock < qty {
			return domain.NewStockError(id, qty, p.Stock)
		}
		p.Stock -= qty
		p.UpdatedAt = r.s.now()
		put(r.tx, r.s.products, id, p)
		updated = p
		return nil
	})
	return updated, err
}

func (r *productRepository) IncrementStock(_ context.Context, id string, qty int) (domain.Product, error) {
	var updated domain.Product
	err := r.s.exec(r.tx, func() error {
		p, ok := r.s.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		p.Stock += qty
		p.UpdatedAt = r.s.now()
		put(r.tx, r.s.products, id, p)
		updated = p
		return nil
	})
	return updated, err
}

func (r *productRepository) ListLowStock(_ context.Context) ([]domain.Product, error) {
	var result []domain.Product
	err := r.s.exec(r.tx, func() error {
		for _, p := range r.s.products {
			if p.IsActive && p.LowStock() {
				result = append(result, p)
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool {
		if result[i].Stock != result[j].Stock {
			return result[i].Stock < result[j].Stock
		}
		return result[i].ID < result[j].ID
	})
	return result, err
}

var _ domain.ProductRepository = (*productRepository)(nil)
