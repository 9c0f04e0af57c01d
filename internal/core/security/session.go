package security

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidSession = errors.New("invalid or expired session")

// Sessions issues and checks short-lived card session tokens. A session proves
// the bearer passed full credential verification for one instrument.
type Sessions struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewSessions(key []byte, ttl time.Duration) (*Sessions, error) {
	if len(key) < 16 {
		return nil, errors.New("session key must be at least 16 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &Sessions{key: key, ttl: ttl, now: time.Now}, nil
}

// RandomSessionKey returns a fresh 32 byte signing key for deployments without JWT_SECRET.
func RandomSessionKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	return key, nil
}

// Issue returns a signed token for instrumentID and its expiry time.
func (s *Sessions) Issue(instrumentID string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   instrumentID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session: %w", err)
	}
	return token, expiresAt, nil
}

// Parse validates token and returns the instrument it was issued for.
func (s *Sessions) Parse(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidSession
	}
	return claims.Subject, nil
}
