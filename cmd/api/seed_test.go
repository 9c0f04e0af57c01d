package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ibrahimkeyboad/cardpay/internal/adapter/storage"
	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
	"github.com/ibrahimkeyboad/cardpay/internal/core/security"
)

func TestSeedDemo(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	keys := storage.NewMemoryKeyStore()
	pins, err := security.NewPINHasher(4)
	if err != nil {
		t.Fatal(err)
	}

	apiKey, err := seedDemo(ctx, mem, keys, pins, "USD", time.Now())
	if err != nil {
		t.Fatalf("seedDemo: %v", err)
	}

	acc, err := mem.GetAccount(ctx, demoInstrument)
	if err != nil {
		t.Fatalf("demo card missing: %v", err)
	}
	if acc.Balance != demoBalance || acc.Currency != "USD" {
		t.Errorf("unexpected demo account %+v", acc)
	}
	if !pins.Compare(acc.PINHash, demoPIN) {
		t.Error("demo PIN does not match the stored hash")
	}

	stored, err := keys.LookupAPIKey(ctx, security.KeyID(apiKey))
	if err != nil {
		t.Fatalf("demo key missing: %v", err)
	}
	if !security.ValidateKey(apiKey, stored.Hash) {
		t.Error("demo key does not validate")
	}

	if _, err := seedDemo(ctx, mem, keys, pins, "USD", time.Now()); !errors.Is(err, domain.ErrAccountExists) {
		t.Errorf("second seed error = %v, want ErrAccountExists", err)
	}
}
