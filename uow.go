package outbox

import (
	"context"
	"database/sql"
	"fmt"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
)

// TxRunner runs a function inside one transaction scope.
type TxRunner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// UnitOfWork is the single entry point for transactional writes. Business
// repositories and the outbox store executed inside Do share one database
// transaction, so a state mutation and its event enqueue commit or roll back
// together.
type UnitOfWork struct {
	manager *manager.Manager
}

// NewUnitOfWork creates a UnitOfWork over the given database handle.
func NewUnitOfWork(db *sql.DB) (*UnitOfWork, error) {
	m, err := manager.New(trmsql.NewDefaultFactory(db))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction manager: %w", err)
	}
	return &UnitOfWork{manager: m}, nil
}

// Do runs fn inside one transaction. The transaction handle travels in ctx;
// stores resolve it through the transaction-manager context getter. Any error
// from fn rolls the whole transaction back.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return u.manager.Do(ctx, fn)
}
