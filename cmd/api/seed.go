package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ibrahimkeyboad/cardpay/internal/adapter/storage"
	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
	"github.com/ibrahimkeyboad/cardpay/internal/core/payment"
	"github.com/ibrahimkeyboad/cardpay/internal/core/security"
)

// Demo card for local runs against the in-memory store.
const (
	demoInstrument = "4111111111111111"
	demoPIN        = "1234"
	demoCVV        = "123"
	demoBalance    = 10000
)

type keySaver interface {
	SaveAPIKey(ctx context.Context, key storage.APIKey) error
}

// seedDemo provisions the demo card and returns a fresh operator API key.
func seedDemo(ctx context.Context, accounts payment.AccountCreator, keys keySaver, pins payment.PINHasher, currency string, now time.Time) (string, error) {
	provisioner := payment.NewProvisioner(accounts, pins, domain.Currency(currency))
	_, err := provisioner.Provision(ctx, payment.ProvisionRequest{
		InstrumentID: demoInstrument,
		FirstName:    "John",
		LastName:     "Doe",
		PIN:          demoPIN,
		CVV:          demoCVV,
		Expiry:       fmt.Sprintf("12/%d", now.Year()+3),
		Balance:      demoBalance,
	})
	if err != nil {
		return "", fmt.Errorf("provision demo card: %w", err)
	}

	apiKey, hash, err := security.GenerateAPIKey()
	if err != nil {
		return "", err
	}
	if err := keys.SaveAPIKey(ctx, storage.APIKey{ID: security.KeyID(apiKey), Hash: hash, Label: "dev"}); err != nil {
		return "", fmt.Errorf("save demo api key: %w", err)
	}
	return apiKey, nil
}
