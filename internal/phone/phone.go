package phone

import (
	"errors"
	"strings"
)

// ErrInvalidPhone is returned when fewer than MinDigits digits remain after
// normalization.
var ErrInvalidPhone = errors.New("invalid phone number")

// MinDigits is the minimum number of digits a usable phone number carries.
const MinDigits = 10

// Normalize canonicalizes an arbitrary phone string (spaces, '+', punctuation)
// to a digits-only comparable key.
func Normalize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() < MinDigits {
		return "", ErrInvalidPhone
	}
	return b.String(), nil
}
