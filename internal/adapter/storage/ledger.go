package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
)

// LedgerRepository is the append-only transaction log.
type LedgerRepository struct {
	db *pgxpool.Pool
}

func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const selectTransaction = `
	SELECT id, instrument_id, type, amount, balance_after, status, decline_reason, original_transaction_id, note, created_at
	FROM transactions`

// Append records an entry outside any account lock, for audit entries that move no money.
func (r *LedgerRepository) Append(ctx context.Context, t *domain.Transaction) (uuid.UUID, error) {
	if t.Status == domain.StatusApproved {
		return uuid.Nil, fmt.Errorf("approved entries must be written under the account lock")
	}
	if t.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return uuid.Nil, err
		}
		t.ID = id
	}
	if err := insertTransaction(ctx, r.db, t); err != nil {
		return uuid.Nil, err
	}
	return t.ID, nil
}

func (r *LedgerRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return getTransaction(ctx, r.db, id)
}

// ListByAccount returns every entry for the instrument, oldest first.
func (r *LedgerRepository) ListByAccount(ctx context.Context, instrumentID string) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, selectTransaction+`
		WHERE instrument_id = $1
		ORDER BY created_at ASC, id ASC`, instrumentID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	history := []domain.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return history, nil
}

func insertTransaction(ctx context.Context, q querier, t *domain.Transaction) error {
	_, err := q.Exec(ctx, `
		INSERT INTO transactions (id, instrument_id, type, amount, balance_after, status, decline_reason, original_transaction_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.InstrumentID, string(t.Type), t.Amount, t.BalanceAfter, string(t.Status),
		t.DeclineReason, t.OriginalTransactionID, t.Note, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", classify(err))
	}
	return nil
}

func getTransaction(ctx context.Context, q querier, id uuid.UUID) (*domain.Transaction, error) {
	t, err := scanTransaction(q.QueryRow(ctx, selectTransaction+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	return t, err
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var typ, status string
	err := row.Scan(
		&t.ID, &t.InstrumentID, &typ, &t.Amount, &t.BalanceAfter, &status,
		&t.DeclineReason, &t.OriginalTransactionID, &t.Note, &t.CreatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	t.Type = domain.TransactionType(typ)
	t.Status = domain.TransactionStatus(status)
	return &t, nil
}
