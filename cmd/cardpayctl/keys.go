package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ibrahimkeyboad/cardpay/internal/adapter/storage"
	"github.com/ibrahimkeyboad/cardpay/internal/core/security"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage operator API keys",
	}
	cmd.AddCommand(keysCreateCmd())
	return cmd
}

func keysCreateCmd() *cobra.Command {
	var label string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an operator API key for the refund routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			// Generate Secure Key
			realKey, keyHash, err := security.GenerateAPIKey()
			if err != nil {
				return err
			}

			// Save Hash to DB
			repo := storage.NewAccountRepository(pool)
			key := storage.APIKey{ID: security.KeyID(realKey), Hash: keyHash, Label: label}
			if err := repo.SaveAPIKey(cmd.Context(), key); err != nil {
				return err
			}

			// Show Key to Operator (ONCE ONLY)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "API key: %s\n", realKey)
			fmt.Fprintln(out, "Save this now! It will not be shown again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "who or what the key belongs to")
	_ = cmd.MarkFlagRequired("label")

	return cmd
}
