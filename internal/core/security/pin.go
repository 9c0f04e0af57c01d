package security

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PINHasher hashes and checks card PINs with bcrypt.
type PINHasher struct {
	cost  int
	dummy []byte
}

// NewPINHasher returns a hasher with the given bcrypt work factor.
// It precomputes a dummy hash so lookups for unknown instruments cost the same
// as a real comparison.
func NewPINHasher(cost int) (*PINHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("pin hash cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("000000"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &PINHasher{cost: cost, dummy: dummy}, nil
}

func (h *PINHasher) Hash(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash pin: %w", err)
	}
	return string(hash), nil
}

// Compare reports whether pin matches hash.
func (h *PINHasher) Compare(hash, pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}

// CompareDummy burns the same time as Compare against a hash that never matches.
func (h *PINHasher) CompareDummy(pin string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(pin))
}
