package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ibrahimkeyboad/cardpay/internal/adapter/storage"
	"github.com/ibrahimkeyboad/cardpay/internal/core/domain"
	"github.com/ibrahimkeyboad/cardpay/internal/core/payment"
	"github.com/ibrahimkeyboad/cardpay/internal/core/security"
)

type seedOptions struct {
	instrument string
	firstName  string
	lastName   string
	pin        string
	cvv        string
	expiry     string
	balance    string
}

func seedCmd() *cobra.Command {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Provision a card account",
		Long: `Provision a card account with a bcrypt-hashed PIN.

Examples:
  cardpayctl seed --instrument 4111111111111111 --first John --last Doe \
    --pin 1234 --cvv 123 --expiry 12/27 --balance 100.00`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			balance, err := parseBalance(opts.balance, cfg.MinorUnits)
			if err != nil {
				return err
			}
			pins, err := security.NewPINHasher(cfg.PINHashCost)
			if err != nil {
				return err
			}

			provisioner := payment.NewProvisioner(storage.NewAccountRepository(pool), pins, domain.Currency(cfg.Currency))
			acc, err := provisioner.Provision(cmd.Context(), payment.ProvisionRequest{
				InstrumentID: opts.instrument,
				FirstName:    opts.firstName,
				LastName:     opts.lastName,
				PIN:          opts.pin,
				CVV:          opts.cvv,
				Expiry:       opts.expiry,
				Balance:      balance,
			})
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Provisioned %s (%s) for %s, balance %s %s\n",
				domain.MaskInstrument(acc.InstrumentID), domain.Brand(acc.InstrumentID),
				acc.HolderName(), domain.FormatMinorUnits(acc.Balance, cfg.MinorUnits), acc.Currency)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.instrument, "instrument", "", "card number (13-19 digits, Luhn valid)")
	cmd.Flags().StringVar(&opts.firstName, "first", "", "holder first name")
	cmd.Flags().StringVar(&opts.lastName, "last", "", "holder last name")
	cmd.Flags().StringVar(&opts.pin, "pin", "", "4-6 digit PIN")
	cmd.Flags().StringVar(&opts.cvv, "cvv", "", "3-4 digit CVV")
	cmd.Flags().StringVar(&opts.expiry, "expiry", "", "expiry as MM/YY or MM/YYYY")
	cmd.Flags().StringVar(&opts.balance, "balance", "0", "opening balance in major units")
	for _, name := range []string{"instrument", "first", "last", "pin", "cvv", "expiry"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

// parseBalance converts a major-unit opening balance to minor units. Zero is allowed.
func parseBalance(raw string, precision int32) (int64, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid balance %q: %w", raw, err)
	}
	if amount.IsZero() {
		return 0, nil
	}
	return domain.ToMinorUnits(amount, precision)
}
