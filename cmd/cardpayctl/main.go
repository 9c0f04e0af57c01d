package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ibrahimkeyboad/cardpay/internal/adapter/storage"
	"github.com/ibrahimkeyboad/cardpay/internal/core/config"
	"github.com/ibrahimkeyboad/cardpay/internal/core/logging"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "cardpayctl",
		Short:         "cardpayctl - operator tooling for the CardPay processor",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(keysCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// connect loads the configuration and opens the database every command works on.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logging.New(cfg.LogLevel, "text"))

	pool, err := storage.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}
