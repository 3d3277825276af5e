package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/angostura/backend/internal/domain/order"
)

const (
	orderColumns = `id, customer_id, deliverer_id, state, subtotal, shipping_cost, total,
		ship_to_address, requested_at, notes, created_at, updated_at, delivered_at`

	insertOrderSQL = `INSERT INTO orders
		(id, customer_id, state, subtotal, shipping_cost, total, ship_to_address, requested_at, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`

	insertLineSQL = `INSERT INTO order_lines (order_id, product_id, quantity, unit_price, line_subtotal)
		VALUES ($1, $2, $3, $4, $5)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getStateSQL = `SELECT state FROM orders WHERE id = $1`

	getLinesSQL = `SELECT order_id, product_id, quantity, unit_price, line_subtotal
		FROM order_lines WHERE order_id = $1 ORDER BY product_id`

	// The WHERE state = ... clause is the serialization point for concurrent
	// transitions: of two racing updates exactly one matches the row.
	claimSQL = `UPDATE orders
		SET deliverer_id = $2, state = $3, updated_at = now()
		WHERE id = $1 AND state = $4
		RETURNING ` + orderColumns

	transitionSQL = `UPDATE orders
		SET state = $2, updated_at = now(),
			delivered_at = CASE WHEN $2::text = 'DELIVERED' THEN now() ELSE delivered_at END
		WHERE id = $1 AND state = $3
		RETURNING ` + orderColumns

	setStateSQL = `UPDATE orders
		SET state = $2, updated_at = now(),
			delivered_at = CASE WHEN $2::text = 'DELIVERED' AND delivered_at IS NULL THEN now() ELSE delivered_at END
		WHERE id = $1
		RETURNING ` + orderColumns
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order and all of its lines in a single transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.CustomerID, o.State, o.Subtotal, o.ShippingCost, o.Total,
		nullIfEmpty(o.ShipToAddress), o.RequestedAt, nullIfEmpty(o.Notes), o.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert order %q", o.ID)
	}

	for _, l := range o.Lines {
		_, err = tx.Exec(ctx, insertLineSQL,
			o.ID, l.ProductID, l.Quantity, l.UnitPrice, l.LineSubtotal,
		)
		if err != nil {
			return errors.Wrapf(err, "insert line %q of order %q", l.ProductID, o.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrapf(err, "commit order %q", o.ID)
	}
	return nil
}

// GetByID returns a single order with its lines.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}

	if o.Lines, err = r.loadLines(ctx, id); err != nil {
		return nil, err
	}
	return &o, nil
}

// List returns orders matching the filter, newest first, without lines.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]order.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 = '' OR customer_id = $1) AND ($2 = '' OR state = $2)
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, q, f.CustomerID, string(f.State))
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return pgx.CollectRows(rows, scanOrder)
}

// Claim assigns the deliverer and moves PENDING -> IN_PREPARATION in one
// conditional update.
func (r *OrderRepository) Claim(ctx context.Context, orderID, delivererID string) (*order.Order, error) {
	return r.conditionalUpdate(ctx, orderID, order.StatePending, func() (pgx.Rows, error) {
		return r.pool.Query(ctx, claimSQL, orderID, delivererID, order.StateInPreparation, order.StatePending)
	})
}

// Transition moves the order from -> to in one conditional update.
func (r *OrderRepository) Transition(ctx context.Context, orderID string, from, to order.State) (*order.Order, error) {
	return r.conditionalUpdate(ctx, orderID, from, func() (pgx.Rows, error) {
		return r.pool.Query(ctx, transitionSQL, orderID, to, from)
	})
}

// SetState sets the state unconditionally (administrative override).
func (r *OrderRepository) SetState(ctx context.Context, orderID string, to order.State) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, setStateSQL, orderID, to)
	if err != nil {
		return nil, errors.Wrapf(err, "set state of order %q", orderID)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "set state of order %q", orderID)
	}

	if o.Lines, err = r.loadLines(ctx, orderID); err != nil {
		return nil, err
	}
	return &o, nil
}

// conditionalUpdate runs a guarded UPDATE ... RETURNING. Zero rows means the
// guard did not match: a follow-up read disambiguates a missing order from a
// transition conflict.
func (r *OrderRepository) conditionalUpdate(
	ctx context.Context,
	orderID string,
	expected order.State,
	query func() (pgx.Rows, error),
) (*order.Order, error) {
	rows, err := query()
	if err != nil {
		return nil, errors.Wrapf(err, "update order %q", orderID)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.explainMiss(ctx, orderID, expected)
		}
		return nil, errors.Wrapf(err, "update order %q", orderID)
	}

	if o.Lines, err = r.loadLines(ctx, orderID); err != nil {
		return nil, err
	}
	return &o, nil
}

// explainMiss turns a zero-row conditional update into the caller-facing
// error: the order is either missing or in an unexpected state.
func (r *OrderRepository) explainMiss(ctx context.Context, orderID string, expected order.State) error {
	var actual order.State
	err := r.pool.QueryRow(ctx, getStateSQL, orderID).Scan(&actual)
	if errors.Is(err, pgx.ErrNoRows) {
		return order.ErrNotFound
	}
	if err != nil {
		return errors.Wrapf(err, "read state of order %q", orderID)
	}
	return &order.ConflictError{OrderID: orderID, Expected: expected, Actual: actual}
}

func (r *OrderRepository) loadLines(ctx context.Context, orderID string) ([]order.Line, error) {
	rows, err := r.pool.Query(ctx, getLinesSQL, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "load lines of order %q", orderID)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Line, error) {
		var l order.Line
		err := row.Scan(&l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.LineSubtotal)
		return l, err
	})
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		delivererID   *string
		shipToAddress *string
		notes         *string
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &delivererID, &o.State, &o.Subtotal, &o.ShippingCost, &o.Total,
		&shipToAddress, &o.RequestedAt, &notes, &o.CreatedAt, &o.UpdatedAt, &o.DeliveredAt,
	)
	o.DelivererID = deref(delivererID)
	o.ShipToAddress = deref(shipToAddress)
	o.Notes = deref(notes)
	return o, err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
