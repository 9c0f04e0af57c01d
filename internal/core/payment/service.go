package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
)

// CredentialVerifier authenticates cardholder credentials.
type CredentialVerifier interface {
	CheckFormat(c domain.Credentials) (string, error)
	Verify(ctx context.Context, c domain.Credentials) (*domain.Account, error)
}

// Service is the one entry point transports call for payments. Every route
// goes through it so authorization logic exists exactly once.
type Service struct {
	verifier CredentialVerifier
	engine   *Engine
	store    AccountStore
	ledger   Ledger
	now      func() time.Time
	logger   *slog.Logger
}

func NewService(verifier CredentialVerifier, engine *Engine, store AccountStore, ledger Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		verifier: verifier,
		engine:   engine,
		store:    store,
		ledger:   ledger,
		now:      time.Now,
		logger:   logger,
	}
}

type AuthorizeRequest struct {
	Credentials           domain.Credentials
	Amount                int64
	Direction             domain.Direction
	OriginalTransactionID *uuid.UUID
	Note                  string
}

// Authorize verifies the cardholder and then debits or credits the account.
// Business declines return a non-nil Result together with the decline error
// whenever a ledger entry was written.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (*Result, error) {
	if err := s.engine.CheckAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.Direction == domain.DirectionCredit && req.OriginalTransactionID == nil {
		return nil, &domain.ValidationError{Field: "originalTransactionId", Message: "is required for credits"}
	}
	if req.Direction != domain.DirectionDebit && req.Direction != domain.DirectionCredit {
		return nil, &domain.ValidationError{Field: "direction", Message: `must be "debit" or "credit"`}
	}

	acc, err := s.verifier.Verify(ctx, req.Credentials)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredential) || errors.Is(err, domain.ErrCredentialLocked) {
			return s.recordCredentialDecline(ctx, req, err)
		}
		return nil, err
	}

	if req.Direction == domain.DirectionDebit {
		return s.engine.Debit(ctx, acc.InstrumentID, req.Amount)
	}
	return s.engine.Refund(ctx, RefundRequest{
		InstrumentID:          acc.InstrumentID,
		OriginalTransactionID: *req.OriginalTransactionID,
		Amount:                req.Amount,
		Note:                  req.Note,
	})
}

// recordCredentialDecline writes an audit entry for a failed credential check
// on an existing account. The balance is untouched.
func (s *Service) recordCredentialDecline(ctx context.Context, req AuthorizeRequest, cause error) (*Result, error) {
	instrumentID, err := s.verifier.CheckFormat(req.Credentials)
	if err != nil {
		return nil, cause
	}
	acc, err := s.store.GetAccount(ctx, instrumentID)
	if err != nil {
		return nil, cause
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, cause
	}
	typ := domain.TxDebit
	if req.Direction == domain.DirectionCredit {
		typ = domain.TxRefund
	}
	t := &domain.Transaction{
		ID:            id,
		InstrumentID:  acc.InstrumentID,
		Type:          typ,
		Amount:        req.Amount,
		BalanceAfter:  acc.Balance,
		Status:        domain.StatusDeclined,
		DeclineReason: domain.DeclineReason(cause),
		Note:          req.Note,
		CreatedAt:     s.now().UTC(),
	}
	if _, err := s.ledger.Append(ctx, t); err != nil {
		s.logger.Error("Failed to record credential decline", "error", err,
			"instrument", domain.MaskInstrument(acc.InstrumentID))
		return nil, cause
	}
	return &Result{Transaction: t, Balance: acc.Balance}, cause
}

// Refund is the operator path: no cardholder credentials, the caller is
// authenticated by the transport.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	id, err := domain.ValidateInstrument(req.InstrumentID)
	if err != nil {
		return nil, err
	}
	req.InstrumentID = id
	return s.engine.Refund(ctx, req)
}

// VerifyCard runs the full credential check and returns the redacted account.
func (s *Service) VerifyCard(ctx context.Context, c domain.Credentials) (*domain.Account, error) {
	return s.verifier.Verify(ctx, c)
}

// Account returns the redacted account. Callers must already hold an
// authentication context for instrumentID.
func (s *Service) Account(ctx context.Context, instrumentID string) (*domain.Account, error) {
	acc, err := s.store.GetAccount(ctx, domain.NormalizeInstrument(instrumentID))
	if err != nil {
		return nil, err
	}
	redacted := acc.Redacted()
	return &redacted, nil
}

// History lists the account's ledger entries oldest first.
func (s *Service) History(ctx context.Context, instrumentID string) ([]domain.Transaction, error) {
	id := domain.NormalizeInstrument(instrumentID)
	if _, err := s.store.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return s.ledger.ListByAccount(ctx, id)
}

// Transaction fetches one ledger entry.
func (s *Service) Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.ledger.Get(ctx, id)
}
