package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const orderColumns = `id, order_code, retailer_id, items, total_amount, status, status_history,
	tracking_number, payment_status, payment_method, delivery_address, version, created_at, updated_at`

type orderRepository struct {
	base
}

// orderItemDoc: позиция заказа в JSONB-колонке items.
type orderItemDoc struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

// statusChangeDoc: запись JSONB-колонки status_history.
type statusChangeDoc struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note"`
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	items, history, err := encodeOrderDocs(order)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		order.ID,
		order.Code,
		order.RetailerID,
		items,
		order.TotalAmount,
		string(order.Status),
		history,
		order.TrackingNumber,
		order.PaymentStatus,
		order.PaymentMethod,
		order.DeliveryAddress,
		order.Version,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderConflict
		}
		return domain.Unavailable("insert order", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.getBy(ctx, "id", id)
}

func (r *orderRepository) GetByCode(ctx context.Context, code string) (domain.Order, error) {
	return r.getBy(ctx, "order_code", code)
}

func (r *orderRepository) getBy(ctx context.Context, column, value string) (domain.Order, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	order, err := scanOrder(r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, domain.Unavailable("select order", err)
	}
	return order, nil
}

func (r *orderRepository) ListByRetailer(ctx context.Context, retailerID string, offset, limit int) ([]domain.Order, int, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE retailer_id = $1`, retailerID).Scan(&total); err != nil {
		return nil, 0, domain.Unavailable("count orders", err)
	}
	if total == 0 || offset >= total {
		return []domain.Order{}, total, nil
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE retailer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, retailerID, limit, offset)
	if err != nil {
		return nil, 0, domain.Unavailable("list orders", err)
	}
	defer rows.Close()

	result := make([]domain.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, domain.Unavailable("scan order", err)
		}
		result = append(result, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, domain.Unavailable("iterate orders", err)
	}
	return result, total, nil
}

// Save обновляет статус и историю, если версия в базе совпадает с order.Version.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	_, history, err := encodeOrderDocs(order)
	if err != nil {
		return err
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    status_history = $3,
		    payment_status = $4,
		    updated_at = $5,
		    version = version + 1
		WHERE id = $1 AND version = $6
	`, order.ID, string(order.Status), history, order.PaymentStatus, order.UpdatedAt, order.Version)
	if err != nil {
		return domain.Unavailable("update order", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Unavailable("order rows affected", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
		return domain.Unavailable("check order exists", err)
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderVersionConflict
}

func encodeOrderDocs(order domain.Order) (items, history []byte, err error) {
	itemDocs := make([]orderItemDoc, 0, len(order.Items))
	for _, item := range order.Items {
		itemDocs = append(itemDocs, orderItemDoc(item))
	}
	historyDocs := make([]statusChangeDoc, 0, len(order.StatusHistory))
	for _, change := range order.StatusHistory {
		historyDocs = append(historyDocs, statusChangeDoc{
			Status:    string(change.Status),
			Timestamp: change.Timestamp.UTC(),
			Note:      change.Note,
		})
	}

	if items, err = json.Marshal(itemDocs); err != nil {
		return nil, nil, fmt.Errorf("marshal order items: %w", err)
	}
	if history, err = json.Marshal(historyDocs); err != nil {
		return nil, nil, fmt.Errorf("marshal status history: %w", err)
	}
	return items, history, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order             domain.Order
		status            string
		itemsRaw, histRaw []byte
	)
	if err := row.Scan(
		&order.ID,
		&order.Code,
		&order.RetailerID,
		&itemsRaw,
		&order.TotalAmount,
		&status,
		&histRaw,
		&order.TrackingNumber,
		&order.PaymentStatus,
		&order.PaymentMethod,
		&order.DeliveryAddress,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	var itemDocs []orderItemDoc
	if err := json.Unmarshal(itemsRaw, &itemDocs); err != nil {
		return domain.Order{}, fmt.Errorf("decode order items: %w", err)
	}
	var historyDocs []statusChangeDoc
	if err := json.Unmarshal(histRaw, &historyDocs); err != nil {
		return domain.Order{}, fmt.Errorf("decode status history: %w", err)
	}

	order.Status = domain.OrderStatus(status)
	order.Items = make([]domain.OrderItem, 0, len(itemDocs))
	for _, doc := range itemDocs {
		order.Items = append(order.Items, domain.OrderItem(doc))
	}
	order.StatusHistory = make([]domain.StatusChange, 0, len(historyDocs))
	for _, doc := range historyDocs {
		order.StatusHistory = append(order.StatusHistory, domain.StatusChange{
			Status:    domain.OrderStatus(doc.Status),
			Timestamp: doc.Timestamp.UTC(),
			Note:      doc.Note,
		})
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
