package payment

import (
	"context"

	"github.com/google/uuid"

	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
)

// AccountStore gives the engine atomic access to one account's balance
// together with its ledger.
type AccountStore interface {
	GetAccount(ctx context.Context, instrumentID string) (*domain.Account, error)

	// WithAccountLock runs fn while holding an exclusive lock on the account.
	// Every write fn makes through tx commits together when fn returns nil and
	// is discarded otherwise. Returns domain.ErrInstrumentNotFound when the
	// account does not exist.
	WithAccountLock(ctx context.Context, instrumentID string, fn func(ctx context.Context, tx AccountTx) error) error
}

// AccountTx is the view of a locked account inside WithAccountLock.
type AccountTx interface {
	// Account is the locked snapshot read at the start of the scope.
	Account() domain.Account
	// SetBalance stages a new balance. Negative balances are rejected.
	SetBalance(ctx context.Context, balance int64) error
	// Append stages a ledger entry.
	Append(ctx context.Context, t *domain.Transaction) error
	// Transaction reads a ledger entry, domain.ErrTransactionNotFound if absent.
	Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// RefundedTotal sums approved refunds that reference debitID.
	RefundedTotal(ctx context.Context, debitID uuid.UUID) (int64, error)
}

// Ledger is the append-only transaction record. It has no update or delete.
type Ledger interface {
	Append(ctx context.Context, t *domain.Transaction) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	ListByAccount(ctx context.Context, instrumentID string) ([]domain.Transaction, error)
}

// AccountCreator provisions new accounts.
type AccountCreator interface {
	CreateAccount(ctx context.Context, acc domain.Account) error
}
