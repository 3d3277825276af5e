package order

// State is an order's position in the fulfillment lifecycle.
type State string

const (
	// StatePending means the order is placed and waiting for a deliverer.
	StatePending State = "PENDING"
	// StateInPreparation means a deliverer has claimed the order.
	StateInPreparation State = "IN_PREPARATION"
	// StateEnRoute means the order has left for delivery.
	StateEnRoute State = "EN_ROUTE"
	// StateDelivered is terminal.
	StateDelivered State = "DELIVERED"
)

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateInPreparation, StateEnRoute, StateDelivered:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next follows the lifecycle
// graph PENDING -> IN_PREPARATION -> EN_ROUTE -> DELIVERED. The administrative
// override does not consult this.
func (s State) CanTransitionTo(next State) bool {
	switch s {
	case StatePending:
		return next == StateInPreparation
	case StateInPreparation:
		return next == StateEnRoute
	case StateEnRoute:
		return next == StateDelivered
	}
	return false
}

func (s State) String() string { return string(s) }
