package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/angostura/backend/internal/domain/account"
	"github.com/angostura/backend/internal/domain/product"
)

// minLeadTime is the minimum gap between "now" and a requested fulfillment
// time at creation.
const minLeadTime = time.Hour

// LineRequest is a requested (product, quantity) pairing.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	CustomerID    string
	Lines         []LineRequest
	ShippingCost  decimal.Decimal
	ShipToAddress string
	RequestedAt   *time.Time
	Notes         string
}

// Service encapsulates the order lifecycle: creation with pricing and stock
// effects, and the claim/dispatch/deliver transitions with their
// notifications.
type Service struct {
	orders   Repository
	products product.Repository
	accounts account.Repository
	notifier Notifier

	now func() time.Time
}

// NewService creates an order Service with the required collaborators.
func NewService(
	orders Repository,
	products product.Repository,
	accounts account.Repository,
	notifier Notifier,
) *Service {
	return &Service{
		orders:   orders,
		products: products,
		accounts: accounts,
		notifier: notifier,
		now:      time.Now,
	}
}

// Create validates the requested lines against the catalog, computes totals
// in exact decimal arithmetic, persists the order with its lines as one
// atomic unit, applies the stock effects, and broadcasts the creation to
// administrators. Notification delivery never affects the result.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if len(req.Lines) == 0 {
		return nil, ErrEmptyLines
	}
	if req.ShippingCost.IsNegative() {
		return nil, &InvalidInputError{Reason: "shipping cost must not be negative"}
	}
	if req.RequestedAt != nil && req.RequestedAt.Before(s.now().Add(minLeadTime)) {
		return nil, &InvalidInputError{Reason: "requested fulfillment time must be at least 1 hour from now"}
	}

	customer, err := s.accounts.GetByID(ctx, req.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "get customer")
	}

	now := s.now()
	id := uuid.New().String()
	subtotal := decimal.Zero
	lines := make([]Line, 0, len(req.Lines))
	for _, lr := range req.Lines {
		if lr.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: lr.ProductID}
		}

		p, err := s.products.GetByID(ctx, lr.ProductID)
		if err != nil {
			return nil, errors.Wrapf(err, "get product %s", lr.ProductID)
		}
		if !p.Active {
			return nil, &InvalidInputError{Reason: "product " + lr.ProductID + " is inactive"}
		}
		if !p.AllowBackorder && lr.Quantity > p.Stock {
			return nil, &InsufficientStockError{
				ProductID: p.ID,
				Requested: lr.Quantity,
				Available: p.Stock,
			}
		}

		lineSubtotal := p.Price.Mul(decimal.NewFromInt(int64(lr.Quantity)))
		subtotal = subtotal.Add(lineSubtotal)
		lines = append(lines, Line{
			OrderID:      id,
			ProductID:    p.ID,
			Quantity:     lr.Quantity,
			UnitPrice:    p.Price,
			LineSubtotal: lineSubtotal,
		})
	}

	o := &Order{
		ID:            id,
		CustomerID:    req.CustomerID,
		State:         StatePending,
		Lines:         lines,
		Subtotal:      subtotal,
		ShippingCost:  req.ShippingCost,
		Total:         subtotal.Add(req.ShippingCost),
		ShipToAddress: req.ShipToAddress,
		RequestedAt:   req.RequestedAt,
		Notes:         req.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	// Stock effects are applied after the order is persisted. The repository
	// only decrements when current stock > 0, by the full requested quantity;
	// a zero-stock backorder line leaves stock untouched.
	for _, l := range o.Lines {
		if err := s.products.DecrementStock(ctx, l.ProductID, l.Quantity); err != nil {
			return nil, errors.Wrapf(err, "decrement stock for product %s", l.ProductID)
		}
	}

	s.notifier.OrderCreated(ctx, o, customer)

	return o, nil
}

// Claim assigns the deliverer and moves the order PENDING -> IN_PREPARATION.
// The store resolves racing claims: exactly one caller wins, the rest get a
// *ConflictError.
func (s *Service) Claim(ctx context.Context, orderID, delivererID string) (*Order, error) {
	deliverer, err := s.accounts.GetByID(ctx, delivererID)
	if err != nil {
		return nil, errors.Wrap(err, "get deliverer")
	}

	o, err := s.orders.Claim(ctx, orderID, delivererID)
	if err != nil {
		return nil, err
	}

	s.notifier.OrderClaimed(ctx, o, s.lookupCustomer(ctx, o.CustomerID), deliverer)

	return o, nil
}

// Dispatch moves the order IN_PREPARATION -> EN_ROUTE and tells the customer
// it is on its way.
func (s *Service) Dispatch(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.orders.Transition(ctx, orderID, StateInPreparation, StateEnRoute)
	if err != nil {
		return nil, err
	}

	var deliverer *account.Account
	if o.DelivererID != "" {
		if deliverer, err = s.accounts.GetByID(ctx, o.DelivererID); err != nil {
			zctx.From(ctx).Warn("deliverer lookup failed for dispatch notice",
				zap.String("order_id", o.ID), zap.Error(err))
			deliverer = nil
		}
	}
	s.notifier.OrderDispatched(ctx, o, s.lookupCustomer(ctx, o.CustomerID), deliverer)

	return o, nil
}

// Deliver moves the order EN_ROUTE -> DELIVERED and stamps the delivery time.
func (s *Service) Deliver(ctx context.Context, orderID string) (*Order, error) {
	return s.orders.Transition(ctx, orderID, StateEnRoute, StateDelivered)
}

// AdminSetState sets any lifecycle state directly, bypassing the transition
// graph. Privileged operation.
func (s *Service) AdminSetState(ctx context.Context, orderID string, state State) (*Order, error) {
	if !state.Valid() {
		return nil, &InvalidInputError{Reason: "unknown order state " + string(state)}
	}
	return s.orders.SetState(ctx, orderID, state)
}

// GetByID returns a single order with its lines.
func (s *Service) GetByID(ctx context.Context, orderID string) (*Order, error) {
	return s.orders.GetByID(ctx, orderID)
}

// List returns orders matching the filter, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Order, error) {
	if f.State != "" && !f.State.Valid() {
		return nil, &InvalidInputError{Reason: "unknown order state " + string(f.State)}
	}
	return s.orders.List(ctx, f)
}

// lookupCustomer fetches the customer for a notification. A failed lookup is
// logged and yields nil; notifications degrade rather than fail the
// operation.
func (s *Service) lookupCustomer(ctx context.Context, customerID string) *account.Account {
	customer, err := s.accounts.GetByID(ctx, customerID)
	if err != nil {
		zctx.From(ctx).Warn("customer lookup failed for order notice",
			zap.String("customer_id", customerID), zap.Error(err))
		return nil
	}
	return customer
}
