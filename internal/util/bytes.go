package util

import (
	"crypto/subtle"
	"fmt"
)

func CopyBytes(src []byte) []byte {
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}

// WipeBytes zeroes the provided byte slice in place. The constant-time copy
// keeps the compiler from eliding the stores.
func WipeBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}

// WipeArray32 zeroes the provided 32-byte array in place.
func WipeArray32(a *[32]byte) {
	WipeBytes(a[:])
}

// ConstantTimeEqual reports whether a and b are equal without leaking the
// position of the first differing byte.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// XorInPlace folds b into dst byte by byte. Lengths must match.
func XorInPlace(dst, b []byte) error {
	if len(dst) != len(b) {
		return fmt.Errorf("xor: mismatched lengths %d and %d", len(dst), len(b))
	}
	for i := range dst {
		dst[i] ^= b[i]
	}
	return nil
}
