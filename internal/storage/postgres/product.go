package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/angostura/backend/internal/domain/product"
)

const (
	getProductSQL = `SELECT id, name, price, stock, allow_backorder, active
		FROM products WHERE id = $1`

	// Guarded decrement: products at (or below) zero stock are never touched,
	// a positive stock is reduced by the full quantity even if insufficient.
	decrementStockSQL = `UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock > 0`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (product.Product, error) {
		var p product.Product
		err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.AllowBackorder, &p.Active)
		return p, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	return &p, nil
}

// DecrementStock applies the guarded stock decrement in a single statement;
// the stock > 0 check and the subtraction are atomic. A zero-row update is
// not an error: it is the zero-stock backorder case.
func (r *ProductRepository) DecrementStock(ctx context.Context, id string, qty int) error {
	if _, err := r.pool.Exec(ctx, decrementStockSQL, id, qty); err != nil {
		return errors.Wrapf(err, "decrement stock of product %q", id)
	}
	return nil
}
