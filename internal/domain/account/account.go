package account

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested account does not exist.
var ErrNotFound = errors.New("account not found")

// Role classifies what an account is allowed to do.
type Role string

const (
	RoleCustomer  Role = "CUSTOMER"
	RoleDeliverer Role = "DELIVERER"
	RoleAdmin     Role = "ADMIN"
)

// Account is a registered user: a customer placing orders, a deliverer
// fulfilling them, or an admin receiving new-order broadcasts.
type Account struct {
	ID    string
	Name  string
	Phone string
	Role  Role
}

// Repository defines the account lookups the order and notification flows
// consume.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Account, error)
	ListByRole(ctx context.Context, role Role) ([]Account, error)
}
