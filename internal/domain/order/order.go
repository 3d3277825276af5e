package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angostura/backend/internal/domain/account"
)

// Line is a single (product, quantity) pairing within an order. UnitPrice is
// frozen at order creation and never re-read from the catalog, even if the
// product price changes later.
type Line struct {
	OrderID      string
	ProductID    string
	Quantity     int
	UnitPrice    decimal.Decimal
	LineSubtotal decimal.Decimal
}

// Order is a customer purchase request with its lines, lifecycle state, and
// computed totals. Orders are never hard-deleted; they only move through the
// lifecycle graph (or are overridden administratively).
type Order struct {
	ID            string
	CustomerID    string
	DelivererID   string // empty until claimed
	State         State
	Lines         []Line
	Subtotal      decimal.Decimal
	ShippingCost  decimal.Decimal
	Total         decimal.Decimal
	ShipToAddress string
	RequestedAt   *time.Time
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeliveredAt   *time.Time
}

// ListFilter narrows List results. Zero values mean "no constraint".
type ListFilter struct {
	CustomerID string
	State      State
}

// Repository defines persistence operations for orders. State-changing
// operations are conditional updates: the store is the serialization point
// for concurrent transitions, not an in-process lock.
type Repository interface {
	// Create persists the order and all its lines as one atomic unit.
	Create(ctx context.Context, o *Order) error

	GetByID(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)

	// Claim assigns delivererID and moves PENDING -> IN_PREPARATION in a
	// single conditional update. Exactly one of two racing claims wins; the
	// loser receives a *ConflictError. ErrNotFound if the order is missing.
	Claim(ctx context.Context, orderID, delivererID string) (*Order, error)

	// Transition moves the order from -> to, but only if its current state
	// equals from. Moving to DELIVERED also stamps the delivery time.
	// *ConflictError if the current state differs, ErrNotFound if missing.
	Transition(ctx context.Context, orderID string, from, to State) (*Order, error)

	// SetState sets the state unconditionally, bypassing the lifecycle graph.
	// Administrative use only.
	SetState(ctx context.Context, orderID string, to State) (*Order, error)
}

// Notifier receives order lifecycle events after the triggering operation has
// been persisted. Implementations are best-effort: they must not block the
// caller and must absorb all delivery failures.
type Notifier interface {
	OrderCreated(ctx context.Context, o *Order, customer *account.Account)
	OrderClaimed(ctx context.Context, o *Order, customer, deliverer *account.Account)
	OrderDispatched(ctx context.Context, o *Order, customer, deliverer *account.Account)
}
