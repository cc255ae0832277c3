package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost       = 12 // ~250ms on commodity hardware
	MaxPasswordBytes = 72 // bcrypt ignores input past this length
)

var (
	ErrEmptyPassword   = errors.New("password cannot be empty")
	ErrPasswordTooLong = fmt.Errorf("password must be at most %d bytes", MaxPasswordBytes)
)

// Hasher hashes and verifies passwords with bcrypt at a fixed work factor
type Hasher struct {
	cost int
}

// NewHasher creates a Hasher. A cost outside bcrypt's accepted range falls back to BcryptCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = BcryptCost
	}
	return &Hasher{cost: cost}
}

// Cost returns the configured work factor
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash returns a salted bcrypt hash; each call yields a different string for the same input
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// Verify reports whether password matches hash. A malformed hash is a mismatch, never a panic.
func (h *Hasher) Verify(password, hash string) bool {
	if password == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NeedsRehash reports whether hash was produced with a lower cost than the hasher's
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < h.cost
}

// IsHash reports whether value is a bcrypt hash rather than a legacy plaintext credential
func IsHash(value string) bool {
	if !strings.HasPrefix(value, "$2") {
		return false
	}
	_, err := bcrypt.Cost([]byte(value))
	return err == nil
}

var defaultHasher = NewHasher(BcryptCost)

func HashPassword(password string) (string, error) {
	return defaultHasher.Hash(password)
}

func VerifyPassword(password, hash string) bool {
	return defaultHasher.Verify(password, hash)
}
