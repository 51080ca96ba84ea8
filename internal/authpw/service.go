// Package authpw hashes and checks the admin password.
package authpw

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const MinLength = 8

var (
	ErrTooShort           = fmt.Errorf("password must be at least %d characters", MinLength)
	ErrInvalidCredentials = errors.New("invalid name or password")
)

// Hash returns the bcrypt hash of password, suitable for
// LINKDECK_ADMIN_PASSWORD_HASH.
func Hash(password string) (string, error) {
	if len(password) < MinLength {
		return "", ErrTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Check reports ErrInvalidCredentials unless password matches hash.
func Check(hash, password string) error {
	if hash == "" || password == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
