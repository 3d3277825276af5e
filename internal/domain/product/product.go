package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog item as seen by the order flow. Price and stock are a
// snapshot read at order time; the price a customer pays is frozen into the
// order line, not re-read later.
type Product struct {
	ID             string
	Name           string
	Price          decimal.Decimal
	Stock          int
	AllowBackorder bool
	Active         bool
}

// Repository defines the product operations the order flow consumes.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)

	// DecrementStock subtracts qty from the product's stock, but only when the
	// current stock is greater than zero. A product already at zero is left
	// untouched; a positive but insufficient stock is reduced by the full
	// quantity and may go negative. The check and the decrement must be a
	// single atomic operation.
	DecrementStock(ctx context.Context, id string, qty int) error
}
