package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// KeyPrefix marks operator API keys issued by cardpayctl.
const KeyPrefix = "cp_live_"

// GenerateAPIKey creates a secure random operator API key and its SHA256 hash.
//
// Returns:
//   - realKey: The actual API key to show the operator once (e.g., "cp_live_abc123...")
//   - keyHash: SHA256 hash to store in the database
//   - error: Any error during random byte generation
func GenerateAPIKey() (string, string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	realKey := KeyPrefix + hex.EncodeToString(bytes)
	return realKey, HashAPIKey(realKey), nil
}

// HashAPIKey returns the hex SHA256 digest we store instead of the key itself.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// KeyID is the non-secret lookup prefix of an API key ("cp_live_" plus 8 hex chars).
func KeyID(key string) string {
	n := len(KeyPrefix) + 8
	if len(key) < n {
		return key
	}
	return key[:n]
}

// ValidateKey checks if a provided API key matches the stored hash in constant time.
func ValidateKey(providedKey, storedHash string) bool {
	computed := HashAPIKey(providedKey)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
