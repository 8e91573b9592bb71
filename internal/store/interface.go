package store

import (
	"context"

	"tradedesk/internal/store/model"

	"github.com/shopspring/decimal"
)

// UnitOfWork defines a transaction scope.
type UnitOfWork interface {
	// Commit commits the transaction.
	Commit() error
	// Rollback rolls back the transaction.
	Rollback() error

	// Orders returns the order repository within this transaction.
	Orders() OrderRepository
	// Transactions returns the cash transaction repository within this transaction.
	Transactions() TransactionRepository
	// OrderCommissions returns the per-order commission repository within this transaction.
	OrderCommissions() OrderCommissionRepository
}

// Store is the entry point for database access.
type Store interface {
	// Begin starts a new UnitOfWork (transaction).
	Begin(ctx context.Context) (UnitOfWork, error)

	// Read paths and reference data outside of a transaction.
	Orders() OrderRepository
	Transactions() TransactionRepository
	OrderCommissions() OrderCommissionRepository
	Accounts() AccountRepository
	Commissions() CommissionRepository
	Cursors() CursorRepository

	// Close closes the store connection.
	Close() error
}

// OrderRepository handles order persistence. Finders return (nil, nil) when absent.
type OrderRepository interface {
	Create(ctx context.Context, order *model.OrderModel) error
	Save(ctx context.Context, order *model.OrderModel) error
	FindByID(ctx context.Context, id string) (*model.OrderModel, error)
	FindByBrokerOrderID(ctx context.Context, brokerOrderID string) (*model.OrderModel, error)
	// Holdings derives an account's position in symbol from its orders:
	// filled buys minus filled sells minus sells still open at the broker.
	Holdings(ctx context.Context, accountID, symbol string) (decimal.Decimal, error)
}

// TransactionRepository handles cash transactions, keyed by operation id.
type TransactionRepository interface {
	Create(ctx context.Context, tx *model.TransactionModel) error
	Save(ctx context.Context, tx *model.TransactionModel) error
	FindByOperationID(ctx context.Context, operationID string) (*model.TransactionModel, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]model.TransactionModel, error)
	// Balance sums COMPLETE and PROCESSING transaction values of an account.
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)
}

// OrderCommissionRepository keeps one row per (order, commission name).
type OrderCommissionRepository interface {
	Upsert(ctx context.Context, orderID, name string, amount decimal.Decimal) error
	ListByOrder(ctx context.Context, orderID string) ([]model.OrderCommissionModel, error)
}

// AccountRepository resolves brokerage accounts.
type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*model.AccountModel, error)
	Save(ctx context.Context, account *model.AccountModel) error
}

// CommissionRepository holds the commission reference table.
type CommissionRepository interface {
	ListCommissions(ctx context.Context) (map[string]decimal.Decimal, error)
	UpsertCommission(ctx context.Context, name string, percent decimal.Decimal) error
}

// CursorRepository persists the last acknowledged event id per stream.
type CursorRepository interface {
	Get(ctx context.Context, stream string) (string, error)
	Set(ctx context.Context, stream, eventID string) error
}

// WithinTx runs fn inside a UnitOfWork, committing on success and rolling back on error or panic.
func WithinTx(ctx context.Context, s Store, fn func(UnitOfWork) error) (err error) {
	uow, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = uow.Rollback()
			panic(r)
		}
	}()
	if err := fn(uow); err != nil {
		_ = uow.Rollback()
		return err
	}
	return uow.Commit()
}
