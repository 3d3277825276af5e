package notify

import (
	"fmt"
	"strings"

	"github.com/angostura/backend/internal/domain/account"
	"github.com/angostura/backend/internal/domain/order"
)

// Message templates. The *asterisks* render bold in the chat client.

// VerificationCode formats the one-time code message.
func VerificationCode(code string) string {
	return fmt.Sprintf("🔐 Tu código de verificación es: *%s*\nNo lo compartas con nadie.", code)
}

// NewOrderAlert is the broadcast sent to every admin when an order comes in.
func NewOrderAlert(o *order.Order, customer *account.Account, names map[string]string) string {
	var b strings.Builder
	b.WriteString("🛎️ *Nuevo pedido*\n")
	fmt.Fprintf(&b, "Cliente: %s (%s)\n", customer.Name, customer.Phone)
	b.WriteString(itemized(o, names))
	if o.ShipToAddress != "" {
		fmt.Fprintf(&b, "Entrega en: %s\n", o.ShipToAddress)
	}
	if o.Notes != "" {
		fmt.Fprintf(&b, "Notas: %s\n", o.Notes)
	}
	fmt.Fprintf(&b, "Pedido: %s", o.ID)
	return b.String()
}

// ClaimedCustomerNotice tells the customer their order is being prepared.
func ClaimedCustomerNotice(o *order.Order, deliverer *account.Account, names map[string]string) string {
	var b strings.Builder
	b.WriteString("✅ *Tu pedido está en preparación*\n")
	if deliverer != nil {
		fmt.Fprintf(&b, "%s se encargará de tu entrega.\n", deliverer.Name)
	} else {
		b.WriteString("Un repartidor se encargará de tu entrega.\n")
	}
	b.WriteString(itemized(o, names))
	b.WriteString("Te avisaremos cuando vaya en camino.")
	return b.String()
}

// ClaimedDelivererNotice gives the deliverer the order details they accepted.
func ClaimedDelivererNotice(o *order.Order, customer *account.Account, names map[string]string) string {
	var b strings.Builder
	b.WriteString("📦 *Pedido asignado*\n")
	if customer != nil {
		fmt.Fprintf(&b, "Cliente: %s (%s)\n", customer.Name, customer.Phone)
	} else {
		b.WriteString("Cliente: sin datos de contacto\n")
	}
	b.WriteString(itemized(o, names))
	if o.ShipToAddress != "" {
		fmt.Fprintf(&b, "Entrega en: %s\n", o.ShipToAddress)
	}
	if o.RequestedAt != nil {
		fmt.Fprintf(&b, "Entregar: %s\n", o.RequestedAt.Format("02/01/2006 15:04"))
	}
	if o.Notes != "" {
		fmt.Fprintf(&b, "Notas: %s\n", o.Notes)
	}
	fmt.Fprintf(&b, "Pedido: %s", o.ID)
	return b.String()
}

// EnRouteNotice tells the customer the order left for delivery.
func EnRouteNotice(o *order.Order, deliverer *account.Account) string {
	if deliverer != nil {
		who := deliverer.Name
		if deliverer.Phone != "" {
			who += " (" + deliverer.Phone + ")"
		}
		return fmt.Sprintf("🛵 *Tu pedido va en camino*\n%s va hacia tu dirección con tu pedido por *$%s*.",
			who, o.Total.StringFixed(2))
	}
	return fmt.Sprintf("🛵 *Tu pedido va en camino*\nTu pedido por *$%s* va hacia tu dirección.",
		o.Total.StringFixed(2))
}

// itemized renders the order lines and total. Product names are best effort:
// a line whose product could not be loaded falls back to its identifier.
func itemized(o *order.Order, names map[string]string) string {
	var b strings.Builder
	for _, l := range o.Lines {
		name := names[l.ProductID]
		if name == "" {
			name = l.ProductID
		}
		fmt.Fprintf(&b, "• %d x %s ($%s)\n", l.Quantity, name, l.LineSubtotal.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total: *$%s*\n", o.Total.StringFixed(2))
	return b.String()
}
