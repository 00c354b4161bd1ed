package service

import (
	"errors"
	"fmt"

	internal_errors "github.com/storefront-dev/storefront/shared/errors"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when a login names no account.
var dummyHash = mustHash("storefront-timing-equalizer")

func mustHash(password string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}

// hashPassword returns a salted bcrypt hash of password.
func hashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", internal_errors.Validation("Password is too long")
		}
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
