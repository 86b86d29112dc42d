package crypto

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/tmorland/vaultkeep/internal/util"
)

const (
	// KEKSize is the derived key-encryption-key size in bytes.
	KEKSize = util.KEKSize
	// MinSaltSize is the minimum salt length (128 bits) accepted by
	// DeriveKEK.
	MinSaltSize = 16

	// DefaultPBKDF2Iterations follows the OWASP recommendation for
	// PBKDF2-HMAC-SHA256.
	DefaultPBKDF2Iterations = 600_000
	// MinPBKDF2Iterations is the enforced floor; requests below it are
	// raised to it rather than rejected.
	MinPBKDF2Iterations = 100_000
	// UsernamePBKDF2Iterations is the lighter count used when PBKDF2 hashes
	// usernames. A username is an identifier, not a secret, so lookup speed
	// matters more than brute-force resistance.
	UsernamePBKDF2Iterations = 10_000
)

// Params carries the tunable cost parameters for the slow KDFs. Zero-valued
// fields fall back to the defaults.
type Params struct {
	PBKDF2Iterations  uint32
	Argon2MemoryKiB   uint32
	Argon2Time        uint32
	Argon2Parallelism uint8
}

// DefaultParams returns the production cost parameters.
func DefaultParams() Params {
	return Params{
		PBKDF2Iterations:  DefaultPBKDF2Iterations,
		Argon2MemoryKiB:   64 * 1024,
		Argon2Time:        3,
		Argon2Parallelism: 4,
	}
}

// FastTestParams returns deliberately weak parameters for tests. Never use
// these for a real vault.
func FastTestParams() Params {
	return Params{
		PBKDF2Iterations:  MinPBKDF2Iterations,
		Argon2MemoryKiB:   8 * 1024,
		Argon2Time:        1,
		Argon2Parallelism: 1,
	}
}

func (p Params) normalized() Params {
	d := DefaultParams()
	if p.PBKDF2Iterations == 0 {
		p.PBKDF2Iterations = d.PBKDF2Iterations
	}
	if p.PBKDF2Iterations < MinPBKDF2Iterations {
		p.PBKDF2Iterations = MinPBKDF2Iterations
	}
	if p.Argon2MemoryKiB == 0 {
		p.Argon2MemoryKiB = d.Argon2MemoryKiB
	}
	if p.Argon2Time == 0 {
		p.Argon2Time = d.Argon2Time
	}
	if p.Argon2Parallelism == 0 {
		p.Argon2Parallelism = d.Argon2Parallelism
	}
	return p
}

// DeriveKEK derives a 256-bit key-encryption key from a password. Only the
// slow algorithms are accepted; callers holding a fast-hash vault preference
// must substitute a slow one before calling (see the vault package).
// Deterministic for identical inputs and safe for concurrent use.
func DeriveKEK(password string, alg Algorithm, salt []byte, params Params) ([]byte, error) {
	if len(salt) < MinSaltSize {
		return nil, ErrInvalidSalt
	}
	if !alg.SlowKDF() {
		return nil, fmt.Errorf("%w: %s is not a password KDF", ErrUnsupportedAlgorithm, alg)
	}

	p := params.normalized()
	pw := []byte(util.Normalize(password))
	defer util.WipeBytes(pw)

	switch alg {
	case AlgPBKDF2:
		kek := pbkdf2.Key(pw, salt, int(p.PBKDF2Iterations), KEKSize, sha256.New)
		if len(kek) != KEKSize {
			return nil, fmt.Errorf("%w: pbkdf2 returned %d bytes", ErrCryptoFailure, len(kek))
		}
		return kek, nil
	case AlgArgon2id:
		kek := argon2.IDKey(pw, salt, p.Argon2Time, p.Argon2MemoryKiB, p.Argon2Parallelism, KEKSize)
		if len(kek) != KEKSize {
			return nil, fmt.Errorf("%w: argon2id returned %d bytes", ErrCryptoFailure, len(kek))
		}
		return kek, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}
