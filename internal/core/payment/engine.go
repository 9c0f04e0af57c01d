package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
)

// Policy holds the per-deployment authorization limits.
type Policy struct {
	// MaxAmount is the per-transaction ceiling in minor units. Zero means no ceiling.
	MaxAmount int64
}

// Result is the outcome of an authorization that reached the ledger.
type Result struct {
	Transaction *domain.Transaction
	Balance     int64
}

// Engine decides approve/decline and mutates balances. It is the only writer
// of account balances.
type Engine struct {
	store  AccountStore
	policy Policy
	now    func() time.Time
	newID  func() (uuid.UUID, error)
	logger *slog.Logger
}

type EngineOption func(*Engine)

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(store AccountStore, policy Policy, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		policy: policy,
		now:    time.Now,
		newID:  uuid.NewV7,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckAmount enforces a positive amount within the per-transaction ceiling.
func (e *Engine) CheckAmount(amount int64) error {
	if amount <= 0 {
		return &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}
	if e.policy.MaxAmount > 0 && amount > e.policy.MaxAmount {
		return &domain.ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("exceeds the per-transaction limit of %d", e.policy.MaxAmount),
		}
	}
	return nil
}

// Debit withdraws amount from the account.
//
// When funds are short the declined entry is still committed to the ledger
// and the returned error is domain.ErrInsufficientFunds alongside a non-nil
// Result.
func (e *Engine) Debit(ctx context.Context, instrumentID string, amount int64) (*Result, error) {
	if err := e.CheckAmount(amount); err != nil {
		return nil, err
	}

	var res Result
	var decline error
	err := e.store.WithAccountLock(ctx, instrumentID, func(ctx context.Context, tx AccountTx) error {
		acc := tx.Account()
		t, err := e.newTransaction(acc.InstrumentID, domain.TxDebit, amount)
		if err != nil {
			return err
		}

		if acc.Balance < amount {
			decline = domain.ErrInsufficientFunds
			declineTransaction(t, domain.ReasonInsufficientFunds, acc.Balance)
		} else {
			balance := acc.Balance - amount
			if err := tx.SetBalance(ctx, balance); err != nil {
				return err
			}
			approveTransaction(t, balance)
		}

		if err := tx.Append(ctx, t); err != nil {
			return err
		}
		res = Result{Transaction: t, Balance: t.BalanceAfter}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logResult(&res, decline)
	return &res, decline
}

// RefundRequest credits an account against a prior approved debit.
type RefundRequest struct {
	InstrumentID          string
	OriginalTransactionID uuid.UUID
	Amount                int64
	Note                  string
}

// Refund credits the account. The target must be an approved debit on the
// same account and cumulative refunds may never exceed its amount. Declines
// are committed to the ledger like Debit's.
func (e *Engine) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	if err := e.CheckAmount(req.Amount); err != nil {
		return nil, err
	}

	var res Result
	var decline error
	err := e.store.WithAccountLock(ctx, req.InstrumentID, func(ctx context.Context, tx AccountTx) error {
		acc := tx.Account()
		t, err := e.newTransaction(acc.InstrumentID, domain.TxRefund, req.Amount)
		if err != nil {
			return err
		}
		t.Note = req.Note

		original, err := tx.Transaction(ctx, req.OriginalTransactionID)
		switch {
		case errors.Is(err, domain.ErrTransactionNotFound):
			decline = domain.ErrRefundTargetNotFound
		case err != nil:
			return err
		case original.InstrumentID != acc.InstrumentID || original.Type != domain.TxDebit || !original.Approved():
			decline = domain.ErrRefundTargetNotFound
		default:
			t.OriginalTransactionID = &original.ID
			refunded, err := tx.RefundedTotal(ctx, original.ID)
			if err != nil {
				return err
			}
			if refunded+req.Amount > original.Amount {
				decline = domain.ErrRefundExceedsOriginal
			}
		}

		if decline != nil {
			declineTransaction(t, domain.DeclineReason(decline), acc.Balance)
		} else {
			balance := acc.Balance + req.Amount
			if balance < acc.Balance {
				return &domain.ValidationError{Field: "amount", Message: "would overflow the balance"}
			}
			if err := tx.SetBalance(ctx, balance); err != nil {
				return err
			}
			approveTransaction(t, balance)
		}

		if err := tx.Append(ctx, t); err != nil {
			return err
		}
		res = Result{Transaction: t, Balance: t.BalanceAfter}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logResult(&res, decline)
	return &res, decline
}

func (e *Engine) newTransaction(instrumentID string, typ domain.TransactionType, amount int64) (*domain.Transaction, error) {
	id, err := e.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate transaction id: %w", err)
	}
	return &domain.Transaction{
		ID:           id,
		InstrumentID: instrumentID,
		Type:         typ,
		Amount:       amount,
		CreatedAt:    e.now().UTC(),
	}, nil
}

func approveTransaction(t *domain.Transaction, balance int64) {
	t.Status = domain.StatusApproved
	t.BalanceAfter = balance
}

func declineTransaction(t *domain.Transaction, reason string, balance int64) {
	t.Status = domain.StatusDeclined
	t.DeclineReason = reason
	t.BalanceAfter = balance
}

func (e *Engine) logResult(res *Result, decline error) {
	t := res.Transaction
	attrs := []any{
		"transaction_id", t.ID,
		"instrument", domain.MaskInstrument(t.InstrumentID),
		"type", t.Type,
		"amount", t.Amount,
	}
	if decline != nil {
		e.logger.Info("Transaction declined", append(attrs, "reason", t.DeclineReason)...)
		return
	}
	e.logger.Info("✅ Transaction approved", append(attrs, "balance", t.BalanceAfter)...)
}
