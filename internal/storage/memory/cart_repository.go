package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type cartRepository struct {
	s  *Store
	tx *journal
}

func (r *cartRepository) Get(_ context.Context, retailerID, productID string) (domain.CartEntry, error) {
	var entry domain.CartEntry
	err := r.s.exec(r.tx, func() error {
		e, ok := r.s.carts[cartKey{retailerID, productID}]
		if !ok {
			return domain.ErrCartItemNotFound
		}
		entry = e
		return nil
	})
	return entry, err
}

func (r *cartRepository) Upsert(_ context.Context, entry domain.CartEntry) error {
	return r.s.exec(r.tx, func() error {
		key := cartKey{entry.RetailerID, entry.ProductID}
		if existing, ok := r.s.carts[key]; ok {
			entry.AddedAt = existing.AddedAt
		}
		put(r.tx, r.s.carts, key, entry)
		return nil
	})
}

func (r *cartRepository) Delete(_ context.Context, retailerID, productID string) (bool, error) {
	var deleted bool
	err := r.s.exec(r.tx, func() error {
		deleted = remove(r.tx, r.s.carts, cartKey{retailerID, productID})
		return nil
	})
	return deleted, err
}

func (r *cartRepository) List(_ context.Context, retailerID string) ([]domain.CartEntry, error) {
	var result []domain.CartEntry
	err := r.s.exec(r.tx, func() error {
		for key, entry := range r.s.carts {
			if key.retailerID == retailerID {
				result = append(result, entry)
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool {
		if !result[i].AddedAt.Equal(result[j].AddedAt) {
			return result[i].AddedAt.Before(result[j].AddedAt)
		}
		return result[i].ProductID < result[j].ProductID
	})
	return result, err
}

func (r *cartRepository) Clear(_ context.Context, retailerID string, productIDs []string) (int, error) {
	removed := 0
	err := r.s.exec(r.tx, func() error {
		for _, productID := range productIDs {
			if remove(r.tx, r.s.carts, cartKey{retailerID, productID}) {
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// Lock ничего не делает: транзакция и так держит мьютекс хранилища.
func (r *cartRepository) Lock(context.Context, string) error {
	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
