package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
	"github.com/ibrahimkeyboad/cardpay/internal/core/payment"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type AccountRepository struct {
	db *pgxpool.Pool
}

func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

const selectAccount = `
	SELECT instrument_id, first_name, last_name, pin_hash, cvv, expiry_month, expiry_year, balance, currency, created_at
	FROM accounts WHERE instrument_id = $1`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acc domain.Account
	var currency string
	err := row.Scan(
		&acc.InstrumentID, &acc.FirstName, &acc.LastName, &acc.PINHash, &acc.CVV,
		&acc.Expiry.Month, &acc.Expiry.Year, &acc.Balance, &currency, &acc.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrInstrumentNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	acc.Currency = domain.Currency(currency)
	return &acc, nil
}

// CreateAccount inserts a new account. A duplicate instrument returns domain.ErrAccountExists.
func (r *AccountRepository) CreateAccount(ctx context.Context, acc domain.Account) error {
	query := `
		INSERT INTO accounts (instrument_id, first_name, last_name, pin_hash, cvv, expiry_month, expiry_year, balance, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		acc.InstrumentID, acc.FirstName, acc.LastName, acc.PINHash, acc.CVV,
		acc.Expiry.Month, acc.Expiry.Year, acc.Balance, string(acc.Currency), acc.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", classify(err))
	}
	return nil
}

// GetAccount reads the account without locking it.
func (r *AccountRepository) GetAccount(ctx context.Context, instrumentID string) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, selectAccount, instrumentID))
}

// WithAccountLock opens a transaction and takes the account row with
// SELECT ... FOR UPDATE, so concurrent authorizations on the same account
// queue behind each other until commit.
func (r *AccountRepository) WithAccountLock(ctx context.Context, instrumentID string, fn func(ctx context.Context, tx payment.AccountTx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	acc, err := scanAccount(tx.QueryRow(ctx, selectAccount+" FOR UPDATE", instrumentID))
	if err != nil {
		return err
	}

	if err := fn(ctx, &pgAccountTx{tx: tx, account: *acc}); err != nil {
		return err
	}
	return classify(tx.Commit(ctx))
}

type pgAccountTx struct {
	tx      pgx.Tx
	account domain.Account
}

func (t *pgAccountTx) Account() domain.Account { return t.account }

func (t *pgAccountTx) SetBalance(ctx context.Context, balance int64) error {
	if balance < 0 {
		return fmt.Errorf("balance must not be negative, got %d", balance)
	}
	_, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $1 WHERE instrument_id = $2`, balance, t.account.InstrumentID)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", classify(err))
	}
	return nil
}

func (t *pgAccountTx) Append(ctx context.Context, entry *domain.Transaction) error {
	if entry.InstrumentID != t.account.InstrumentID {
		return fmt.Errorf("entry appended under lock of another account")
	}
	return insertTransaction(ctx, t.tx, entry)
}

func (t *pgAccountTx) Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return getTransaction(ctx, t.tx, id)
}

func (t *pgAccountTx) RefundedTotal(ctx context.Context, debitID uuid.UUID) (int64, error) {
	var total int64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT FROM transactions
		WHERE original_transaction_id = $1 AND type = 'refund' AND status = 'approved'`,
		debitID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum refunds: %w", classify(err))
	}
	return total, nil
}

// SaveAPIKey stores the hashed operator key under its public key id
func (r *AccountRepository) SaveAPIKey(ctx context.Context, key APIKey) error {
	query := `INSERT INTO api_keys (key_hash, key_prefix, label) VALUES ($1, $2, $3)`
	if _, err := r.db.Exec(ctx, query, key.Hash, key.ID, key.Label); err != nil {
		return fmt.Errorf("failed to save api key: %w", classify(err))
	}
	return nil
}

// LookupAPIKey finds a key by its public id. The caller compares the hash.
func (r *AccountRepository) LookupAPIKey(ctx context.Context, keyID string) (*APIKey, error) {
	key := APIKey{ID: keyID}
	err := r.db.QueryRow(ctx, `SELECT key_hash, label FROM api_keys WHERE key_prefix = $1`, keyID).Scan(&key.Hash, &key.Label)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &key, nil
}
