// Package password hashes credentials with bcrypt and enforces the signup policy.
package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinLength = 8
	MaxLength = 128
)

var (
	ErrMismatch      = errors.New("password does not match")
	ErrTooShort      = fmt.Errorf("password must be at least %d characters", MinLength)
	ErrTooLong       = fmt.Errorf("password must be at most %d characters", MaxLength)
	ErrNoLower       = errors.New("password must contain at least one lowercase letter")
	ErrNoUpper       = errors.New("password must contain at least one uppercase letter")
	ErrNoDigit       = errors.New("password must contain at least one number")
	ErrNoSymbol      = errors.New("password must contain at least one special character")
	ErrHasWhitespace = errors.New("password must not contain any spaces")
)

// Hasher hashes and compares passwords. Cost <= 0 uses bcrypt.DefaultCost.
type Hasher struct {
	cost int
}

func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// Compare returns ErrMismatch when plain does not produce hash.
func (h *Hasher) Compare(hash, plain string) error {
	if hash == "" {
		return ErrMismatch
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatch
	}
	if err != nil {
		return fmt.Errorf("compare password: %w", err)
	}
	return nil
}

// Validate checks the signup policy and returns the first violated rule.
func Validate(pw string) error {
	n := utf8.RuneCountInString(pw)
	if n < MinLength {
		return ErrTooShort
	}
	if n > MaxLength {
		return ErrTooLong
	}
	var lower, upper, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsSpace(r):
			return ErrHasWhitespace
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			symbol = true
		}
	}
	switch {
	case !lower:
		return ErrNoLower
	case !upper:
		return ErrNoUpper
	case !digit:
		return ErrNoDigit
	case !symbol:
		return ErrNoSymbol
	}
	return nil
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
