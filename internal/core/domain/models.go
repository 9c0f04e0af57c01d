package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account represents one payment instrument holder.
type Account struct {
	InstrumentID string
	FirstName    string
	LastName     string
	PINHash      string // bcrypt hash, never plaintext
	CVV          string
	Expiry       Expiry
	Balance      int64 // Stored in minor units (cents)
	Currency     Currency
	CreatedAt    time.Time
}

func (a Account) HolderName() string {
	return a.FirstName + " " + a.LastName
}

// Redacted returns a copy without the stored secrets, safe to hand to callers.
func (a Account) Redacted() Account {
	a.PINHash = ""
	a.CVV = ""
	return a
}

// Credentials is what a cardholder presents to authenticate an instrument.
type Credentials struct {
	InstrumentID string
	PIN          string
	CVV          string
	Expiry       string
}

type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionDebit, DirectionCredit:
		return Direction(s), nil
	}
	return "", &ValidationError{Field: "direction", Message: `must be "debit" or "credit"`}
}

type TransactionType string

const (
	TxDebit  TransactionType = "debit"
	TxRefund TransactionType = "refund"
)

type TransactionStatus string

const (
	StatusApproved TransactionStatus = "approved"
	StatusDeclined TransactionStatus = "declined"
)

// Transaction is an immutable ledger entry for one completed or attempted movement.
type Transaction struct {
	ID                    uuid.UUID
	InstrumentID          string
	Type                  TransactionType
	Amount                int64
	BalanceAfter          int64
	Status                TransactionStatus
	DeclineReason         string
	OriginalTransactionID *uuid.UUID // set on refunds
	Note                  string
	CreatedAt             time.Time
}

func (t *Transaction) Approved() bool {
	return t.Status == StatusApproved
}
