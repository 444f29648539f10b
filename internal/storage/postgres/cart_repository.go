package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type cartRepository struct {
	base
}

func (r *cartRepository) Get(ctx context.Context, retailerID, productID string) (domain.CartEntry, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	entry, err := scanCartEntry(r.q.QueryRowContext(ctx, `
		SELECT retailer_id, product_id, quantity, added_at, updated_at
		FROM cart_items
		WHERE retailer_id = $1 AND product_id = $2
	`, retailerID, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CartEntry{}, domain.ErrCartItemNotFound
		}
		return domain.CartEntry{}, domain.Unavailable("select cart item", err)
	}
	return entry, nil
}

// Upsert не трогает added_at существующей позиции.
func (r *cartRepository) Upsert(ctx context.Context, entry domain.CartEntry) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO cart_items (retailer_id, product_id, quantity, added_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (retailer_id, product_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			updated_at = EXCLUDED.updated_at
	`, entry.RetailerID, entry.ProductID, entry.Quantity, entry.AddedAt, entry.UpdatedAt)
	if err != nil {
		return domain.Unavailable("upsert cart item", err)
	}
	return nil
}

func (r *cartRepository) Delete(ctx context.Context, retailerID, productID string) (bool, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE retailer_id = $1 AND product_id = $2`, retailerID, productID)
	if err != nil {
		return false, domain.Unavailable("delete cart item", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, domain.Unavailable("cart rows affected", err)
	}
	return affected > 0, nil
}

func (r *cartRepository) List(ctx context.Context, retailerID string) ([]domain.CartEntry, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT retailer_id, product_id, quantity, added_at, updated_at
		FROM cart_items
		WHERE retailer_id = $1
		ORDER BY added_at, product_id
	`, retailerID)
	if err != nil {
		return nil, domain.Unavailable("list cart items", err)
	}
	defer rows.Close()

	var result []domain.CartEntry
	for rows.Next() {
		entry, err := scanCartEntry(rows)
		if err != nil {
			return nil, domain.Unavailable("scan cart item", err)
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("iterate cart items", err)
	}
	return result, nil
}

// lockCartSQL берёт транзакционный advisory lock на корзину ритейлера.
// Первый ключ отделяет корзины от остальных advisory locks.
const lockCartSQL = `SELECT pg_advisory_xact_lock(hashtext('cart_items'), hashtext($1))`

// Lock имеет смысл только внутри WithinTx: вне транзакции блокировка
// снимается сразу после запроса.
func (r *cartRepository) Lock(ctx context.Context, retailerID string) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, lockCartSQL, retailerID); err != nil {
		return domain.Unavailable("lock cart", err)
	}
	return nil
}

// Clear удаляет только перечисленные позиции: товар, добавленный после
// чтения корзины, остаётся в ней.
func (r *cartRepository) Clear(ctx context.Context, retailerID string, productIDs []string) (int, error) {
	if len(productIDs) == 0 {
		return 0, nil
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	query, args := clearCartQuery(retailerID, productIDs)
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, domain.Unavailable("clear cart", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, domain.Unavailable("cart rows affected", err)
	}
	return int(affected), nil
}

func clearCartQuery(retailerID string, productIDs []string) (string, []any) {
	placeholders := make([]string, len(productIDs))
	args := make([]any, 0, len(productIDs)+1)
	args = append(args, retailerID)
	for i, id := range productIDs {
		placeholders[i] = "$" + strconv.Itoa(i+2)
		args = append(args, id)
	}
	query := `DELETE FROM cart_items WHERE retailer_id = $1 AND product_id IN (` + strings.Join(placeholders, ", ") + `)`
	return query, args
}

func scanCartEntry(row rowScanner) (domain.CartEntry, error) {
	var e domain.CartEntry
	if err := row.Scan(&e.RetailerID, &e.ProductID, &e.Quantity, &e.AddedAt, &e.UpdatedAt); err != nil {
		return domain.CartEntry{}, err
	}
	e.AddedAt = e.AddedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
