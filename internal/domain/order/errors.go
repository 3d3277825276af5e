package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order operations.
var (
	ErrNotFound   = errors.New("order not found")
	ErrEmptyLines = errors.New("order lines required")
)

// InvalidInputError indicates a malformed or out-of-policy request field.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// InvalidQuantityError indicates a line with a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// InsufficientStockError indicates a backorder-disallowed line whose quantity
// exceeds the available stock.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// ConflictError indicates a state transition attempted against an order that
// is no longer in the expected state, including the losing side of a claim
// race.
type ConflictError struct {
	OrderID  string
	Expected State
	Actual   State
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %s is %s, expected %s", e.OrderID, e.Actual, e.Expected)
}
