package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/angostura/backend/internal/domain/account"
	"github.com/angostura/backend/internal/domain/order"
	"github.com/angostura/backend/internal/domain/product"
)

const dispatchTimeout = 30 * time.Second

var _ order.Notifier = (*OrderNotifier)(nil)

// OrderNotifier fans order lifecycle events out as chat messages. Dispatch is
// asynchronous and detached from the request context: a slow or dead gateway
// never blocks or fails the order operation that triggered it.
type OrderNotifier struct {
	dispatcher *Dispatcher
	accounts   account.Repository
	products   product.Repository
	lg         *zap.Logger

	wg sync.WaitGroup
}

// NewOrderNotifier wires the notifier over the dispatcher and lookups.
func NewOrderNotifier(d *Dispatcher, accounts account.Repository, products product.Repository, lg *zap.Logger) *OrderNotifier {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &OrderNotifier{
		dispatcher: d,
		accounts:   accounts,
		products:   products,
		lg:         lg,
	}
}

// OrderCreated broadcasts the new order to every admin. Each admin is an
// independent delivery: one failure does not stop the rest.
func (n *OrderNotifier) OrderCreated(ctx context.Context, o *order.Order, customer *account.Account) {
	n.dispatch(ctx, func(ctx context.Context) {
		admins, err := n.accounts.ListByRole(ctx, account.RoleAdmin)
		if err != nil {
			n.lg.Warn("admin broadcast skipped", zap.String("order_id", o.ID), zap.Error(err))
			return
		}
		text := NewOrderAlert(o, customer, n.productNames(ctx, o))
		for _, admin := range admins {
			n.dispatcher.Send(ctx, admin.Phone, text)
		}
	})
}

// OrderClaimed notifies the customer and the deliverer that the order is in
// preparation. The two sends are independent: a missing customer account
// degrades the deliverer's notice instead of suppressing it.
func (n *OrderNotifier) OrderClaimed(ctx context.Context, o *order.Order, customer, deliverer *account.Account) {
	n.dispatch(ctx, func(ctx context.Context) {
		names := n.productNames(ctx, o)
		if customer != nil {
			n.dispatcher.Send(ctx, customer.Phone, ClaimedCustomerNotice(o, deliverer, names))
		}
		if deliverer != nil {
			n.dispatcher.Send(ctx, deliverer.Phone, ClaimedDelivererNotice(o, customer, names))
		}
	})
}

// OrderDispatched notifies the customer the order is on its way.
func (n *OrderNotifier) OrderDispatched(ctx context.Context, o *order.Order, customer, deliverer *account.Account) {
	n.dispatch(ctx, func(ctx context.Context) {
		if customer == nil {
			return
		}
		n.dispatcher.Send(ctx, customer.Phone, EnRouteNotice(o, deliverer))
	})
}

// Wait blocks until all in-flight dispatches finish. Called on shutdown.
func (n *OrderNotifier) Wait() {
	n.wg.Wait()
}

// dispatch runs fn in the background, detached from the caller's context so
// cancellation of the originating request does not abort delivery.
func (n *OrderNotifier) dispatch(ctx context.Context, fn func(ctx context.Context)) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (n *OrderNotifier) productNames(ctx context.Context, o *order.Order) map[string]string {
	names := make(map[string]string, len(o.Lines))
	for _, l := range o.Lines {
		p, err := n.products.GetByID(ctx, l.ProductID)
		if err != nil {
			continue
		}
		names[l.ProductID] = p.Name
	}
	return names
}
