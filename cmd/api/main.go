package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ibrahimkeyboad/cardpay/internal/adapter/cache"
	"github.com/ibrahimkeyboad/cardpay/internal/adapter/handler"
	"github.com/ibrahimkeyboad/cardpay/internal/adapter/middleware"
	"github.com/ibrahimkeyboad/cardpay/internal/adapter/storage"
	"github.com/ibrahimkeyboad/cardpay/internal/core/config"
	"github.com/ibrahimkeyboad/cardpay/internal/core/logging"
	"github.com/ibrahimkeyboad/cardpay/internal/core/payment"
	"github.com/ibrahimkeyboad/cardpay/internal/core/security"
	"github.com/ibrahimkeyboad/cardpay/internal/core/verifier"
	"github.com/ibrahimkeyboad/cardpay/internal/core/worker"
)

// stores groups the persistence ports so main can swap Postgres for memory.
type stores struct {
	accounts    payment.AccountStore
	ledger      payment.Ledger
	keys        middleware.KeyLookup
	idempotency middleware.ResponseStore
	close       func()

	// Set only in memory mode, for the dev seed.
	memory     *storage.MemoryStore
	memoryKeys *storage.MemoryKeyStore
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("⚠️ DATABASE_URL is not set, using the in-memory store. Data is lost on restart")
		mem := storage.NewMemoryStore()
		keys := storage.NewMemoryKeyStore()
		return &stores{
			accounts:    mem,
			ledger:      mem,
			keys:        keys,
			idempotency: storage.NewMemoryIdempotencyStore(),
			close:       func() {},
			memory:      mem,
			memoryKeys:  keys,
		}, nil
	}

	dbPool, err := storage.ConnectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(ctx, dbPool); err != nil {
		dbPool.Close()
		return nil, err
	}
	accountRepo := storage.NewAccountRepository(dbPool)
	return &stores{
		accounts:    accountRepo,
		ledger:      storage.NewLedgerRepository(dbPool),
		keys:        accountRepo,
		idempotency: storage.NewIdempotencyRepository(dbPool),
		close: func() {
			dbPool.Close()
			slog.Info("✅ Database connection closed")
		},
	}, nil
}

func attemptLimiter(ctx context.Context, cfg *config.Config) (verifier.AttemptLimiter, func()) {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryAttemptLimiter(cfg.MaxPINAttempts, cfg.PINLockoutWindow), func() {}
	}
	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		slog.Warn("⚠️ Redis unavailable, PIN lockout is tracked per process", "error", err)
		return cache.NewMemoryAttemptLimiter(cfg.MaxPINAttempts, cfg.PINLockoutWindow), func() {}
	}
	return cache.NewRedisAttemptLimiter(rdb, cfg.MaxPINAttempts, cfg.PINLockoutWindow), func() { _ = rdb.Close() }
}

func sessionKey(cfg *config.Config) ([]byte, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	slog.Warn("⚠️ JWT_SECRET is not set, card sessions will not survive a restart")
	return security.RandomSessionKey()
}

// idempotencySecret derives the digest key for stored requests from the session key.
func idempotencySecret(sessionKey []byte) []byte {
	mac := hmac.New(sha256.New, sessionKey)
	mac.Write([]byte("cardpay idempotency"))
	return mac.Sum(nil)
}

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("❌ Invalid configuration", "error", err)
		os.Exit(1)
	}

	// 2. Setup Logger
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Connect to storage
	startupCtx, startupCancel := context.WithTimeout(ctx, 10*time.Second)
	st, err := openStores(startupCtx, cfg)
	if err != nil {
		startupCancel()
		slog.Error("❌ Database connection failed", "error", err)
		os.Exit(1)
	}
	limiter, closeLimiter := attemptLimiter(startupCtx, cfg)
	startupCancel()

	// 4. Build the core
	pins, err := security.NewPINHasher(cfg.PINHashCost)
	if err != nil {
		slog.Error("❌ Invalid PIN hash cost", "error", err)
		os.Exit(1)
	}
	if st.memory != nil && cfg.DevSeed {
		apiKey, err := seedDemo(ctx, st.memory, st.memoryKeys, pins, cfg.Currency, time.Now())
		if err != nil {
			slog.Error("❌ Dev seed failed", "error", err)
			os.Exit(1)
		}
		slog.Warn("🌱 Dev seed loaded. Set DEV_SEED=false to start empty",
			"instrument", demoInstrument, "pin", demoPIN, "cvv", demoCVV,
			"operator_key", apiKey)
	}

	key, err := sessionKey(cfg)
	if err != nil {
		slog.Error("❌ Could not create session key", "error", err)
		os.Exit(1)
	}
	sessions, err := security.NewSessions(key, cfg.SessionTTL)
	if err != nil {
		slog.Error("❌ Invalid session settings", "error", err)
		os.Exit(1)
	}

	credentials := verifier.New(st.accounts, pins,
		verifier.WithAttemptLimiter(limiter),
		verifier.WithLogger(logger),
	)
	engine := payment.NewEngine(st.accounts, payment.Policy{MaxAmount: cfg.MaxTransactionAmount},
		payment.WithEngineLogger(logger),
	)
	service := payment.NewService(credentials, engine, st.accounts, st.ledger, logger)

	// 5. Start Worker
	deps := handler.Deps{
		Service:     service,
		Sessions:    sessions,
		Keys:        st.keys,
		Idempotency: st.idempotency,
		Precision:   cfg.MinorUnits,
		Retries:     cfg.ConflictRetries,

		IdempotencySecret: idempotencySecret(key),
	}
	var webhooks *worker.WebhookWorker
	if cfg.WebhookURL != "" {
		webhooks = worker.NewWebhookWorker(cfg.WebhookURL, cfg.WebhookSecret, 256, logger)
		webhooks.Start(ctx)
		deps.Events = webhooks
	}

	// 6. Setup Fiber
	app := handler.NewApp(deps)

	// Create a channel to listen for OS signals (Ctrl+C, Docker Stop)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Run Server in a separate Goroutine so it doesn't block
	go func() {
		slog.Info("🚀 Server starting", "env", cfg.Env, "port", cfg.Port, "currency", cfg.Currency)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
	}()

	// Block here until we receive a stop signal
	<-stop
	slog.Info("🛑 Shutting down server...")

	// Finish active requests before the stores go away
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}

	cancel()
	if webhooks != nil {
		webhooks.Wait()
	}
	closeLimiter()
	st.close()

	slog.Info("👋 Server exited successfully")
}
