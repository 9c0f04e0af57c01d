package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	RedisAddr   string

	WebhookURL    string
	WebhookSecret string

	LogLevel  string
	LogFormat string

	// Currency and money policy.
	Currency             string
	MinorUnits           int32
	MaxTransactionAmount int64 // minor units, 0 = no ceiling

	// Credential policy.
	PINHashCost      int
	MaxPINAttempts   int
	PINLockoutWindow time.Duration
	JWTSecret        string
	SessionTTL       time.Duration

	ConflictRetries int

	// DevSeed provisions a demo card and operator key when running on the in-memory store.
	DevSeed bool
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LoadConfig reads .env file and the environment and returns a Config struct
func LoadConfig() (*Config, error) {
	// The .env file is optional; production sets real environment variables.
	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file found, relying on System Env Variables")
	}

	cfg := &Config{
		Port:          getEnv("PORT", "3000"),
		Env:           getEnv("ENV", "development"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		WebhookURL:    getEnv("WEBHOOK_URL", ""),
		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		Currency:      getEnv("CURRENCY", "USD"),
		JWTSecret:     getEnv("JWT_SECRET", ""),
	}

	minorUnits, err := getInt("CURRENCY_MINOR_UNITS", 2)
	if err != nil {
		return nil, err
	}
	if minorUnits < 0 || minorUnits > 4 {
		return nil, fmt.Errorf("CURRENCY_MINOR_UNITS must be between 0 and 4, got %d", minorUnits)
	}
	cfg.MinorUnits = int32(minorUnits)

	if cfg.MaxTransactionAmount, err = getInt64("MAX_TRANSACTION_AMOUNT", 1_000_000); err != nil {
		return nil, err
	}
	if cfg.MaxTransactionAmount < 0 {
		return nil, fmt.Errorf("MAX_TRANSACTION_AMOUNT must not be negative")
	}
	if cfg.PINHashCost, err = getInt("PIN_HASH_COST", 10); err != nil {
		return nil, err
	}
	if cfg.MaxPINAttempts, err = getInt("MAX_PIN_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.PINLockoutWindow, err = getDuration("PIN_LOCKOUT_WINDOW", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ConflictRetries, err = getInt("CONFLICT_RETRIES", 3); err != nil {
		return nil, err
	}

	if cfg.DevSeed, err = getBool("DEV_SEED", !cfg.IsProduction()); err != nil {
		return nil, err
	}
	if cfg.IsProduction() && cfg.DevSeed {
		return nil, fmt.Errorf("DEV_SEED must be off when ENV=production")
	}

	if cfg.IsProduction() && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required when ENV=production")
	}
	return cfg, nil
}

// Helper to get env with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return n, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
