// Package crypto provides the derivation, hashing and key-wrap services for
// the vault: password to KEK derivation, salted username hashing, and
// AES-256-KW wrapping of the vault DEK.
package crypto

import "errors"

// Algorithm identifies a hash or key-derivation primitive. The same space is
// shared by username hashing and KEK derivation, but only the slow members
// are ever allowed to derive a KEK.
type Algorithm uint8

const (
	// AlgLegacyPlain marks version-1 containers that predate username
	// hashing. It is never valid for new slots.
	AlgLegacyPlain Algorithm = 0x00
	AlgSHA3_256    Algorithm = 0x01
	AlgSHA3_384    Algorithm = 0x02
	AlgSHA3_512    Algorithm = 0x03
	AlgPBKDF2      Algorithm = 0x04 // PBKDF2-HMAC-SHA256
	AlgArgon2id    Algorithm = 0x05
)

var (
	// ErrInvalidSalt is returned when a salt is shorter than MinSaltSize.
	ErrInvalidSalt = errors.New("salt must be at least 128 bits")
	// ErrUnsupportedAlgorithm is returned for unknown identifiers, or for
	// fast hash primitives offered where a slow KDF is required.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	// ErrCryptoFailure is returned when an underlying primitive fails.
	ErrCryptoFailure = errors.New("cryptographic primitive failure")
)

func (a Algorithm) String() string {
	switch a {
	case AlgLegacyPlain:
		return "plaintext-legacy"
	case AlgSHA3_256:
		return "sha3-256"
	case AlgSHA3_384:
		return "sha3-384"
	case AlgSHA3_512:
		return "sha3-512"
	case AlgPBKDF2:
		return "pbkdf2-sha256"
	case AlgArgon2id:
		return "argon2id"
	default:
		return "unknown"
	}
}

// ParseAlgorithm maps a name (as accepted on the CLI) to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "sha3-256":
		return AlgSHA3_256, nil
	case "sha3-384":
		return AlgSHA3_384, nil
	case "sha3-512":
		return AlgSHA3_512, nil
	case "pbkdf2", "pbkdf2-sha256":
		return AlgPBKDF2, nil
	case "argon2id":
		return AlgArgon2id, nil
	default:
		return 0, ErrUnsupportedAlgorithm
	}
}

// Valid reports whether a names a real primitive usable for new slots.
func (a Algorithm) Valid() bool {
	return a >= AlgSHA3_256 && a <= AlgArgon2id
}

// SlowKDF reports whether a carries a tunable work factor and is therefore
// acceptable for password-based KEK derivation. The SHA-3 family hashes in
// microseconds and offers an attacker no work factor at all, so it must
// never reach DeriveKEK.
func (a Algorithm) SlowKDF() bool {
	return a == AlgPBKDF2 || a == AlgArgon2id
}

// HashSize returns the output size in bytes when a is used for username
// hashing, or 0 for invalid algorithms.
func (a Algorithm) HashSize() int {
	switch a {
	case AlgSHA3_256, AlgPBKDF2, AlgArgon2id:
		return 32
	case AlgSHA3_384:
		return 48
	case AlgSHA3_512:
		return 64
	default:
		return 0
	}
}
