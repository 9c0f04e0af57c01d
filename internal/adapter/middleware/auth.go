package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ibrahimkeyboad/cardpay/internal/adapter/storage"
	"github.com/ibrahimkeyboad/cardpay/internal/core/security"
)

// LocalOperatorKey is the Locals key holding the caller's public API key id.
const LocalOperatorKey = "operator_key"

// KeyLookup finds a stored operator API key by its public key id.
type KeyLookup interface {
	LookupAPIKey(ctx context.Context, keyID string) (*storage.APIKey, error)
}

func deny(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"status": "error", "message": message})
}

func bearer(c *fiber.Ctx) (string, bool) {
	authHeader := c.Get("Authorization") // "Bearer cp_live_..."
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Protected admits requests carrying a valid operator API key.
func Protected(keys KeyLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get("Authorization") == "" {
			return deny(c, http.StatusUnauthorized, "Missing API Key")
		}
		apiKey, ok := bearer(c)
		if !ok || !strings.HasPrefix(apiKey, security.KeyPrefix) {
			return deny(c, http.StatusUnauthorized, "Invalid Header Format")
		}

		// Only the hash is stored, never the plain key
		stored, err := keys.LookupAPIKey(c.Context(), security.KeyID(apiKey))
		if err != nil || !security.ValidateKey(apiKey, stored.Hash) {
			slog.Warn("Rejected operator API key", "error", err, "ip", c.IP())
			return deny(c, http.StatusUnauthorized, "Invalid API Key")
		}

		c.Locals("operator", stored.Label)
		c.Locals(LocalOperatorKey, stored.ID)
		return c.Next()
	}
}
