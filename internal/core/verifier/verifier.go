// Package verifier authenticates a payment instrument from the credentials a
// cardholder presents: card number, PIN, CVV and expiry.
package verifier

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
)

// AccountReader looks up accounts by normalized instrument number.
type AccountReader interface {
	GetAccount(ctx context.Context, instrumentID string) (*domain.Account, error)
}

// PINComparer checks a PIN against its stored one-way hash.
type PINComparer interface {
	Compare(hash, pin string) bool
	CompareDummy(pin string)
}

// AttemptLimiter counts failed credential checks per instrument.
type AttemptLimiter interface {
	Locked(ctx context.Context, instrumentID string) (bool, error)
	Fail(ctx context.Context, instrumentID string) error
	Reset(ctx context.Context, instrumentID string) error
}

type Verifier struct {
	accounts AccountReader
	pins     PINComparer
	attempts AttemptLimiter
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Verifier)

func WithAttemptLimiter(l AttemptLimiter) Option {
	return func(v *Verifier) { v.attempts = l }
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

func New(accounts AccountReader, pins PINComparer, opts ...Option) *Verifier {
	v := &Verifier{
		accounts: accounts,
		pins:     pins,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// checked is the parsed form of credentials that passed the format checks.
type checked struct {
	instrumentID string
	expiry       domain.Expiry
}

// CheckFormat runs the storage-independent checks in order, stopping at the
// first failure: instrument (length + Luhn), CVV, expiry, PIN.
func (v *Verifier) CheckFormat(c domain.Credentials) (string, error) {
	ck, err := v.checkFormat(c)
	if err != nil {
		return "", err
	}
	return ck.instrumentID, nil
}

func (v *Verifier) checkFormat(c domain.Credentials) (checked, error) {
	id, err := domain.ValidateInstrument(c.InstrumentID)
	if err != nil {
		return checked{}, err
	}
	if err := domain.ValidateCVV(c.CVV); err != nil {
		return checked{}, err
	}
	exp, err := domain.ValidateExpiry(c.Expiry, v.now())
	if err != nil {
		return checked{}, err
	}
	if err := domain.ValidatePIN(c.PIN); err != nil {
		return checked{}, err
	}
	return checked{instrumentID: id, expiry: exp}, nil
}

// Verify authenticates c and returns the account with its secrets stripped.
//
// A wrong PIN, CVV or expiry all fail with domain.ErrInvalidCredential so the
// caller cannot tell which one was wrong. Unknown instruments still pay for a
// bcrypt comparison.
func (v *Verifier) Verify(ctx context.Context, c domain.Credentials) (*domain.Account, error) {
	ck, err := v.checkFormat(c)
	if err != nil {
		return nil, err
	}

	acc, err := v.accounts.GetAccount(ctx, ck.instrumentID)
	if err != nil {
		if errors.Is(err, domain.ErrInstrumentNotFound) {
			v.pins.CompareDummy(c.PIN)
		}
		return nil, err
	}

	locked := v.locked(ctx, ck.instrumentID)

	pinOK := v.pins.Compare(acc.PINHash, c.PIN)
	cvvOK := subtle.ConstantTimeCompare([]byte(acc.CVV), []byte(c.CVV)) == 1
	expiryOK := acc.Expiry == ck.expiry

	if locked {
		v.logger.Warn("Credential check refused, instrument locked",
			"instrument", domain.MaskInstrument(ck.instrumentID))
		return nil, domain.ErrCredentialLocked
	}

	if !pinOK || !cvvOK || !expiryOK {
		if v.attempts != nil {
			if err := v.attempts.Fail(ctx, ck.instrumentID); err != nil {
				v.logger.Warn("Failed to record credential failure", "error", err)
			}
		}
		v.logger.Info("Credential check failed", "instrument", domain.MaskInstrument(ck.instrumentID))
		return nil, domain.ErrInvalidCredential
	}

	if v.attempts != nil {
		if err := v.attempts.Reset(ctx, ck.instrumentID); err != nil {
			v.logger.Warn("Failed to reset credential failures", "error", err)
		}
	}

	redacted := acc.Redacted()
	return &redacted, nil
}

// locked fails open: an unreachable limiter must not stop payments.
func (v *Verifier) locked(ctx context.Context, instrumentID string) bool {
	if v.attempts == nil {
		return false
	}
	locked, err := v.attempts.Locked(ctx, instrumentID)
	if err != nil {
		v.logger.Warn("Attempt limiter unavailable, skipping lockout check", "error", err)
		return false
	}
	return locked
}
