package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher defines the contract for password operations.
// The interface keeps hashing mockable in tests and the algorithm swappable.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// BcryptHasher implements PasswordHasher using the bcrypt algorithm.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a new hasher with cost 12.
func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{cost: 12}
}

// Hash returns the bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// Compare checks if the provided password matches the hash.
// Returns nil on match.
func (h *BcryptHasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// GenerateSecureToken returns n cryptographically random bytes as a
// URL-safe base64 string.
func GenerateSecureToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
