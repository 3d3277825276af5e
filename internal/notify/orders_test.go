package notify

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/angostura/backend/internal/domain/account"
	"github.com/angostura/backend/internal/domain/order"
	"github.com/angostura/backend/internal/domain/product"
)

type stubAccounts struct {
	admins []account.Account
	err    error
}

func (s *stubAccounts) GetByID(ctx context.Context, id string) (*account.Account, error) {
	return nil, account.ErrNotFound
}

func (s *stubAccounts) ListByRole(ctx context.Context, role account.Role) ([]account.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.admins, nil
}

type stubProducts struct {
	names map[string]string
}

func (s *stubProducts) GetByID(ctx context.Context, id string) (*product.Product, error) {
	name, ok := s.names[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &product.Product{ID: id, Name: name}, nil
}

func (s *stubProducts) DecrementStock(ctx context.Context, id string, qty int) error {
	return nil
}

func testOrder() *order.Order {
	return &order.Order{
		ID:         "ord-1",
		CustomerID: "c1",
		State:      order.StatePending,
		Lines: []order.Line{
			{OrderID: "ord-1", ProductID: "p1", Quantity: 2,
				UnitPrice:    decimal.RequireFromString("5.50"),
				LineSubtotal: decimal.RequireFromString("11.00")},
		},
		Subtotal:  decimal.RequireFromString("11.00"),
		Total:     decimal.RequireFromString("11.00"),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestOrderCreatedBroadcastsToAllAdmins(t *testing.T) {
	sender := newFakeSender()
	accounts := &stubAccounts{admins: []account.Account{
		{ID: "a1", Name: "Ana", Phone: "5215511111111", Role: account.RoleAdmin},
		{ID: "a2", Name: "Beto", Phone: "5215522222222", Role: account.RoleAdmin},
	}}
	products := &stubProducts{names: map[string]string{"p1": "Pan"}}

	d := NewDispatcher(sender, WithLogger(zaptest.NewLogger(t)))
	n := NewOrderNotifier(d, accounts, products, zaptest.NewLogger(t))

	customer := &account.Account{ID: "c1", Name: "Cliente", Phone: "5215533333333"}
	n.OrderCreated(context.Background(), testOrder(), customer)
	n.Wait()

	for _, phone := range []string{"5215511111111@chat", "5215522222222@chat"} {
		msgs := sender.sentTo(phone)
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0], "Nuevo pedido")
		assert.Contains(t, msgs[0], "2 x Pan")
		assert.Contains(t, msgs[0], "Total: *$11.00*")
	}
}

func TestOrderCreatedOneAdminFailureDoesNotStopOthers(t *testing.T) {
	sender := newFakeSender()
	sender.sendErr["5215511111111@chat"] = errors.New("page crashed")
	accounts := &stubAccounts{admins: []account.Account{
		{ID: "a1", Name: "Ana", Phone: "5215511111111", Role: account.RoleAdmin},
		{ID: "a2", Name: "Beto", Phone: "5215522222222", Role: account.RoleAdmin},
	}}
	products := &stubProducts{names: map[string]string{"p1": "Pan"}}

	d := NewDispatcher(sender, WithLogger(zaptest.NewLogger(t)))
	n := NewOrderNotifier(d, accounts, products, zaptest.NewLogger(t))

	n.OrderCreated(context.Background(), testOrder(), &account.Account{ID: "c1", Name: "Cliente", Phone: "5215533333333"})
	n.Wait()

	assert.Empty(t, sender.sentTo("5215511111111@chat"))
	assert.Len(t, sender.sentTo("5215522222222@chat"), 1)
}

func TestOrderClaimedNotifiesBothParties(t *testing.T) {
	sender := newFakeSender()
	products := &stubProducts{names: map[string]string{"p1": "Pan"}}

	d := NewDispatcher(sender, WithLogger(zaptest.NewLogger(t)))
	n := NewOrderNotifier(d, &stubAccounts{}, products, zaptest.NewLogger(t))

	o := testOrder()
	at := time.Date(2026, 9, 12, 18, 30, 0, 0, time.UTC)
	o.RequestedAt = &at
	o.Notes = "Tocar el timbre"

	customer := &account.Account{ID: "c1", Name: "Cliente", Phone: "5215533333333"}
	deliverer := &account.Account{ID: "d1", Name: "Dana", Phone: "5215544444444"}
	n.OrderClaimed(context.Background(), o, customer, deliverer)
	n.Wait()

	custMsgs := sender.sentTo("5215533333333@chat")
	require.Len(t, custMsgs, 1)
	assert.Contains(t, custMsgs[0], "en preparación")
	assert.Contains(t, custMsgs[0], "Dana")

	delMsgs := sender.sentTo("5215544444444@chat")
	require.Len(t, delMsgs, 1)
	assert.Contains(t, delMsgs[0], "Pedido asignado")
	assert.Contains(t, delMsgs[0], "Cliente")
	assert.Contains(t, delMsgs[0], "Entregar: 12/09/2026 18:30")
	assert.Contains(t, delMsgs[0], "Notas: Tocar el timbre")
}

func TestOrderClaimedCustomerUnknownStillNotifiesDeliverer(t *testing.T) {
	sender := newFakeSender()
	products := &stubProducts{names: map[string]string{"p1": "Pan"}}

	d := NewDispatcher(sender, WithLogger(zaptest.NewLogger(t)))
	n := NewOrderNotifier(d, &stubAccounts{}, products, zaptest.NewLogger(t))

	deliverer := &account.Account{ID: "d1", Name: "Dana", Phone: "5215544444444"}
	n.OrderClaimed(context.Background(), testOrder(), nil, deliverer)
	n.Wait()

	delMsgs := sender.sentTo("5215544444444@chat")
	require.Len(t, delMsgs, 1)
	assert.Contains(t, delMsgs[0], "Pedido asignado")
	assert.Contains(t, delMsgs[0], "sin datos de contacto")
}

func TestOrderDispatchedWithDeliverer(t *testing.T) {
	sender := newFakeSender()
	d := NewDispatcher(sender, WithLogger(zaptest.NewLogger(t)))
	n := NewOrderNotifier(d, &stubAccounts{}, &stubProducts{}, zaptest.NewLogger(t))

	customer := &account.Account{ID: "c1", Name: "Cliente", Phone: "5215533333333"}
	deliverer := &account.Account{ID: "d1", Name: "Dana", Phone: "5215544444444"}
	n.OrderDispatched(context.Background(), testOrder(), customer, deliverer)
	n.Wait()

	msgs := sender.sentTo("5215533333333@chat")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "va en camino")
	assert.Contains(t, msgs[0], "Dana (5215544444444)")
}

func TestOrderDispatchedWithoutDeliverer(t *testing.T) {
	sender := newFakeSender()
	d := NewDispatcher(sender, WithLogger(zaptest.NewLogger(t)))
	n := NewOrderNotifier(d, &stubAccounts{}, &stubProducts{}, zaptest.NewLogger(t))

	customer := &account.Account{ID: "c1", Name: "Cliente", Phone: "5215533333333"}
	n.OrderDispatched(context.Background(), testOrder(), customer, nil)
	n.Wait()

	msgs := sender.sentTo("5215533333333@chat")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "va en camino")
	assert.Contains(t, msgs[0], "$11.00")
}

func TestOrderCreatedAdminLookupFailure(t *testing.T) {
	sender := newFakeSender()
	d := NewDispatcher(sender, WithLogger(zaptest.NewLogger(t)))
	n := NewOrderNotifier(d, &stubAccounts{err: errors.New("db down")}, &stubProducts{}, zaptest.NewLogger(t))

	n.OrderCreated(context.Background(), testOrder(), &account.Account{ID: "c1", Phone: "x"})
	n.Wait()

	assert.Empty(t, sender.sends)
}
