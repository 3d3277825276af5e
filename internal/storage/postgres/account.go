package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/angostura/backend/internal/domain/account"
)

const (
	getAccountSQL = `SELECT id, name, phone, role FROM accounts WHERE id = $1 AND active`

	listAccountsByRoleSQL = `SELECT id, name, phone, role FROM accounts
		WHERE role = $1 AND active ORDER BY name`
)

var _ account.Repository = (*AccountRepository)(nil)

// AccountRepository implements account.Repository backed by PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository returns an AccountRepository that uses the given pool.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// GetByID returns a single active account by its identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	rows, err := r.pool.Query(ctx, getAccountSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get account %q", id)
	}

	a, err := pgx.CollectExactlyOneRow(rows, scanAccount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get account %q", id)
	}
	return &a, nil
}

// ListByRole returns all active accounts with the given role.
func (r *AccountRepository) ListByRole(ctx context.Context, role account.Role) ([]account.Account, error) {
	rows, err := r.pool.Query(ctx, listAccountsByRoleSQL, role)
	if err != nil {
		return nil, errors.Wrapf(err, "list accounts with role %q", role)
	}
	return pgx.CollectRows(rows, scanAccount)
}

func scanAccount(row pgx.CollectableRow) (account.Account, error) {
	var a account.Account
	err := row.Scan(&a.ID, &a.Name, &a.Phone, &a.Role)
	return a, err
}
