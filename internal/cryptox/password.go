// Package cryptox contains the password hashing primitives used by the
// account flows.
package cryptox

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost matches the work factor the accounts were originally hashed with.
const DefaultCost = 10

// ErrPasswordTooLong is returned for passwords bcrypt cannot hash without
// truncation (more than 72 bytes).
var ErrPasswordTooLong = errors.New("password is too long")

// HashPassword returns a salted bcrypt digest of password. A non-positive
// cost selects DefaultCost. Two calls with the same input yield different
// digests.
func HashPassword(password string, cost int) (string, error) {
	if cost <= 0 {
		cost = DefaultCost
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", err
	}
	return string(digest), nil
}

// CheckPassword reports whether password matches digest. A malformed digest
// simply does not match.
func CheckPassword(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}
