package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ibrahimkeyboad/cardpay/internal/adapter/storage"
)

// ResponseStore reserves Idempotency-Keys and keeps the first response for each.
type ResponseStore interface {
	Reserve(ctx context.Context, key, fingerprint string) (*storage.StoredResponse, error)
	Complete(ctx context.Context, key string, res storage.StoredResponse) error
	Release(ctx context.Context, key string) error
}

type IdempotencyConfig struct {
	Store ResponseStore

	// Scope names the caller a key belongs to, e.g. the card or the operator.
	// Two callers using the same key never see each other's responses.
	Scope func(c *fiber.Ctx) string

	// Secret keys the stored digests. Request bodies carry credentials, so a
	// plain hash of one could be brute forced back to the PIN.
	Secret []byte
}

func (cfg IdempotencyConfig) digest(parts ...string) string {
	mac := hmac.New(sha256.New, cfg.Secret)
	for _, p := range parts {
		mac.Write([]byte(p))
		mac.Write([]byte{0})
	}
	return hex.EncodeToString(mac.Sum(nil))
}

func Idempotency(cfg IdempotencyConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// 1. Get Key from Header
		key := c.Get("Idempotency-Key")
		if key == "" {
			return c.Next()
		}

		scope := ""
		if cfg.Scope != nil {
			scope = cfg.Scope(c)
		}
		storeKey := cfg.digest(c.Route().Path, scope, key)
		fingerprint := cfg.digest(c.Method(), string(c.Body()))

		// 2. Reserve the key, or find who already holds it
		existing, err := cfg.Store.Reserve(c.Context(), storeKey, fingerprint)
		if err != nil {
			slog.Error("❌ Idempotency store unavailable", "error", err, "key", key)
			return deny(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		}
		if existing != nil {
			switch {
			case !hmac.Equal([]byte(existing.Fingerprint), []byte(fingerprint)):
				slog.Warn("Idempotency-Key reused with a different request", "key", key)
				return deny(c, http.StatusUnprocessableEntity, "Idempotency-Key was already used for a different request")
			case existing.Pending():
				return deny(c, http.StatusConflict, "A request with this Idempotency-Key is still in progress")
			}
			slog.Info("🛑 Idempotency Hit! Returning cached response", "key", key)
			c.Set("X-Idempotency-Hit", "true")
			c.Set("Content-Type", "application/json")
			return c.Status(existing.Status).Send(existing.Body)
		}

		// The reservation is dropped unless a response gets stored, so errors stay retryable.
		saved := false
		defer func() {
			if saved {
				return
			}
			if err := cfg.Store.Release(context.Background(), storeKey); err != nil {
				slog.Error("❌ Failed to release Idempotency Key", "error", err, "key", key)
			}
		}()

		// 3. Run the Handler
		if err := c.Next(); err != nil {
			return err
		}

		// 4. Save the Result. Server errors stay retryable.
		resStatus := c.Response().StatusCode()
		if resStatus >= fiber.StatusInternalServerError {
			return nil
		}
		resBody := append([]byte(nil), c.Response().Body()...)

		if err := cfg.Store.Complete(c.Context(), storeKey, storage.StoredResponse{Status: resStatus, Body: resBody}); err != nil {
			slog.Error("❌ Failed to save Idempotency Key", "error", err, "key", key)
			return nil
		}
		saved = true
		slog.Info("💾 Idempotency Key Saved", "key", key)
		return nil
	}
}
