package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password with configured cost.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword verifies a password against its hashed value in constant time.
func ComparePassword(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}

// DecoyHash hashes a random secret at the same cost HashPassword would use. Comparing against
// it when no identity matches makes a miss cost as much as a wrong password.
func DecoyHash(cost int) (string, error) {
	secret := make([]byte, 18)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	return HashPassword(hex.EncodeToString(secret), cost)
}

// BurnCompare runs a comparison against decoy whose result is discarded.
func BurnCompare(decoy, plain string) {
	_ = bcrypt.CompareHashAndPassword([]byte(decoy), []byte(plain))
}

// IsMismatch reports whether err means the password did not match.
func IsMismatch(err error) bool {
	return errors.Is(err, bcrypt.ErrMismatchedHashAndPassword)
}
