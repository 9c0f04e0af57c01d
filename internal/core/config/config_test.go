package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "CURRENCY_MINOR_UNITS", "MAX_TRANSACTION_AMOUNT", "PIN_HASH_COST", "SESSION_TTL", "ENV", "JWT_SECRET", "DEV_SEED"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MinorUnits != 2 {
		t.Errorf("expected 2 minor units, got %d", cfg.MinorUnits)
	}
	if cfg.MaxTransactionAmount != 1_000_000 {
		t.Errorf("unexpected ceiling %d", cfg.MaxTransactionAmount)
	}
	if cfg.PINHashCost != 10 {
		t.Errorf("unexpected cost %d", cfg.PINHashCost)
	}
	if cfg.SessionTTL != 5*time.Minute {
		t.Errorf("unexpected ttl %v", cfg.SessionTTL)
	}
	if !cfg.DevSeed {
		t.Error("expected dev seed on outside production")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("CURRENCY_MINOR_UNITS", "0")
	t.Setenv("MAX_TRANSACTION_AMOUNT", "250000")
	t.Setenv("PIN_LOCKOUT_WINDOW", "90s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MinorUnits != 0 || cfg.MaxTransactionAmount != 250000 || cfg.PINLockoutWindow != 90*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := map[string]string{
		"CURRENCY_MINOR_UNITS":   "7",
		"MAX_TRANSACTION_AMOUNT": "lots",
		"SESSION_TTL":            "soon",
		"DEV_SEED":               "maybe",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}

	t.Run("production refuses dev seed", func(t *testing.T) {
		t.Setenv("ENV", "production")
		t.Setenv("JWT_SECRET", "0123456789abcdef")
		t.Setenv("DEV_SEED", "true")
		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("production requires jwt secret", func(t *testing.T) {
		t.Setenv("ENV", "production")
		t.Setenv("JWT_SECRET", "")
		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error")
		}
	})
}
