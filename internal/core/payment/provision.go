package payment

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
)

// PINHasher turns a plaintext PIN into the stored one-way hash.
type PINHasher interface {
	Hash(pin string) (string, error)
}

// Provisioner creates accounts. It is the only place a plaintext PIN is accepted for storage.
type Provisioner struct {
	accounts AccountCreator
	pins     PINHasher
	currency domain.Currency
	now      func() time.Time
}

func NewProvisioner(accounts AccountCreator, pins PINHasher, currency domain.Currency) *Provisioner {
	return &Provisioner{accounts: accounts, pins: pins, currency: currency, now: time.Now}
}

type ProvisionRequest struct {
	InstrumentID string
	FirstName    string
	LastName     string
	PIN          string
	CVV          string
	Expiry       string
	Balance      int64
}

func (p *Provisioner) Provision(ctx context.Context, req ProvisionRequest) (*domain.Account, error) {
	id, err := domain.ValidateInstrument(req.InstrumentID)
	if err != nil {
		return nil, err
	}
	first, last := strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName)
	if first == "" || last == "" {
		return nil, &domain.ValidationError{Field: "holderName", Message: "first and last name are required"}
	}
	if err := domain.ValidateCVV(req.CVV); err != nil {
		return nil, err
	}
	exp, err := domain.ValidateExpiry(req.Expiry, p.now())
	if err != nil {
		return nil, err
	}
	if err := domain.ValidatePIN(req.PIN); err != nil {
		return nil, err
	}
	if req.Balance < 0 {
		return nil, &domain.ValidationError{Field: "balance", Message: "must not be negative"}
	}

	hash, err := p.pins.Hash(req.PIN)
	if err != nil {
		return nil, err
	}

	acc := domain.Account{
		InstrumentID: id,
		FirstName:    first,
		LastName:     last,
		PINHash:      hash,
		CVV:          req.CVV,
		Expiry:       exp,
		Balance:      req.Balance,
		Currency:     p.currency,
		CreatedAt:    p.now().UTC(),
	}
	if err := p.accounts.CreateAccount(ctx, acc); err != nil {
		return nil, err
	}

	slog.Info("✅ Account provisioned", "instrument", domain.MaskInstrument(id), "holder", acc.HolderName())
	redacted := acc.Redacted()
	return &redacted, nil
}
