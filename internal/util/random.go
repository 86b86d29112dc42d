package util

import (
	"crypto/rand"
	"fmt"
)

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// NewDEK generates a fresh random 256-bit data-encryption key.
func NewDEK() ([]byte, error) {
	dek, err := RandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("generating DEK: %w", err)
	}
	return dek, nil
}
