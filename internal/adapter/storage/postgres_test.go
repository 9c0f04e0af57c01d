package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
	"github.com/ibrahimkeyboad/cardpay/internal/core/payment"
)

// Runs against a real database only when TEST_DATABASE_URL is set.
func TestPostgres_ConcurrentDebits(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := ConnectDB(ctx, url)
	if err != nil {
		t.Fatalf("ConnectDB: %v", err)
	}
	defer pool.Close()
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	accounts := NewAccountRepository(pool)
	ledger := NewLedgerRepository(pool)

	// A fresh Luhn-valid number per run keeps reruns independent.
	instrument := luhnComplete("4000" + time.Now().Format("150405") + "12345")
	err = accounts.CreateAccount(ctx, domain.Account{
		InstrumentID: instrument, FirstName: "Jane", LastName: "Roe", PINHash: "x", CVV: "123",
		Expiry: domain.Expiry{Month: 12, Year: 2030}, Balance: 1000, Currency: domain.USD, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := accounts.CreateAccount(ctx, domain.Account{InstrumentID: instrument, Currency: domain.USD}); !errors.Is(err, domain.ErrAccountExists) {
		t.Errorf("expected ErrAccountExists, got %v", err)
	}

	engine := payment.NewEngine(accounts, payment.Policy{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	approved := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Debit(ctx, instrument, 300); err == nil {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if approved != 3 {
		t.Errorf("expected 3 approved debits, got %d", approved)
	}
	acc, _ := accounts.GetAccount(ctx, instrument)
	if acc.Balance != 100 {
		t.Errorf("expected balance 100, got %d", acc.Balance)
	}
	history, err := ledger.ListByAccount(ctx, instrument)
	if err != nil {
		t.Fatalf("ListByAccount: %v", err)
	}
	if len(history) != 10 {
		t.Errorf("expected 10 ledger entries, got %d", len(history))
	}
	if _, err := ledger.Get(ctx, uuid.Must(uuid.NewV7())); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

// luhnComplete appends the check digit that makes prefix pass the Luhn check.
func luhnComplete(prefix string) string {
	sum := 0
	double := true
	for i := len(prefix) - 1; i >= 0; i-- {
		n := int(prefix[i] - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return prefix + string(rune('0'+(10-sum%10)%10))
}
