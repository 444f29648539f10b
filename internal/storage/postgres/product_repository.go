package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const productColumns = `id, name, image_url, price, stock, min_stock, is_active, distributor_id, created_at, updated_at`

type productRepository struct {
	base
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	product, err := scanProduct(r.q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, domain.Unavailable("select product", err)
	}
	return product, nil
}

func (r *productRepository) Upsert(ctx context.Context, p domain.Product) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	now := r.now()
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			image_url = EXCLUDED.image_url,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			min_stock = EXCLUDED.min_stock,
			is_active = EXCLUDED.is_active,
			distributor_id = EXCLUDED.distributor_id,
			updated_at = EXCLUDED.updated_at
	`,
		p.ID, p.Name, p.ImageURL, p.Price, p.Stock, p.MinStock, p.IsActive, p.DistributorID, createdAt, now,
	)
	if err != nil {
		return domain.Unavailable("upsert product", err)
	}
	return nil
}

// DecrementStock списывает остаток одним условным UPDATE: строка меняется,
// только если stock >= qty, поэтому параллельные списания не уходят в минус.
func (r *productRepository) DecrementStock(ctx context.Context, id string, qty int) (domain.Product, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	product, err := scanProduct(r.q.QueryRowContext(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = $3 WHERE id = $1 AND stock >= $2 RETURNING `+productColumns,
		id, qty, r.now(),
	))
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.Unavailable("decrement stock", err)
	}

	var available int
	err = r.q.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, id).Scan(&available)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Product{}, domain.ErrProductNotFound
	case err != nil:
		return domain.Product{}, domain.Unavailable("select stock", err)
	default:
		return domain.Product{}, domain.NewStockError(id, qty, available)
	}
}

func (r *productRepository) IncrementStock(ctx context.Context, id string, qty int) (domain.Product, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	product, err := scanProduct(r.q.QueryRowContext(ctx,
		`UPDATE products SET stock = stock + $2, updated_at = $3 WHERE id = $1 RETURNING `+productColumns,
		id, qty, r.now(),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, domain.Unavailable("increment stock", err)
	}
	return product, nil
}

func (r *productRepository) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE is_active AND stock <= min_stock ORDER BY stock, id`)
	if err != nil {
		return nil, domain.Unavailable("list low stock", err)
	}
	defer rows.Close()

	var result []domain.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, domain.Unavailable("scan product", err)
		}
		result = append(result, product)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("iterate products", err)
	}
	return result, nil
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.ImageURL,
		&p.Price,
		&p.Stock,
		&p.MinStock,
		&p.IsActive,
		&p.DistributorID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
