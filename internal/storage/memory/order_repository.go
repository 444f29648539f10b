package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type orderRepository struct {
	s  *Store
	tx *journal
}

// Create сохраняет новый заказ, если id, код и трек-номер ещё не заняты.
func (r *orderRepository) Create(_ context.Context, order domain.Order) error {
	return r.s.exec(r.tx, func() error {
		if _, exists := r.s.orders[order.ID]; exists {
			return domain.ErrOrderConflict
		}
		if _, exists := r.s.codes[order.Code]; exists {
			return domain.ErrOrderConflict
		}
		if _, exists := r.s.tracking[order.TrackingNumber]; exists {
			return domain.ErrOrderConflict
		}
		// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
		put(r.tx, r.s.orders, order.ID, order.Clone())
		put(r.tx, r.s.codes, order.Code, order.ID)
		put(r.tx, r.s.tracking, order.TrackingNumber, order.ID)
		return nil
	})
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	var order domain.Order
	err := r.s.exec(r.tx, func() error {
		o, ok := r.s.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		order = o.Clone()
		return nil
	})
	return order, err
}

func (r *orderRepository) GetByCode(_ context.Context, code string) (domain.Order, error) {
	var order domain.Order
	err := r.s.exec(r.tx, func() error {
		id, ok := r.s.codes[code]
		if !ok {
			return domain.ErrOrderNotFound
		}
		order = r.s.orders[id].Clone()
		return nil
	})
	return order, err
}

// ListByRetailer возвращает заказы ритейлера, новые первыми.
func (r *orderRepository) ListByRetailer(_ context.Context, retailerID string, offset, limit int) ([]domain.Order, int, error) {
	var all []domain.Order
	err := r.s.exec(r.tx, func() error {
		for _, order := range r.s.orders {
			if order.RetailerID == retailerID {
				all = append(all, order)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []domain.Order{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	page := make([]domain.Order, 0, end-offset)
	for _, order := range all[offset:end] {
		page = append(page, order.Clone())
	}
	return page, total, nil
}

// Save перезаписывает статус и историю, проверяя версию (optimistic locking).
func (r *orderRepository) Save(_ context.Context, order domain.Order) error {
	return r.s.exec(r.tx, func() error {
		current, ok := r.s.orders[order.ID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		if current.Version != order.Version {
			return domain.ErrOrderVersionConflict
		}

		current.Status = order.Status
		current.StatusHistory = append([]domain.StatusChange(nil), order.StatusHistory...)
		current.PaymentStatus = order.PaymentStatus
		current.UpdatedAt = order.UpdatedAt
		current.Version++
		put(r.tx, r.s.orders, order.ID, current)
		return nil
	})
}

var _ domain.OrderRepository = (*orderRepository)(nil)
