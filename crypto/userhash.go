package crypto

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"

	"github.com/tmorland/vaultkeep/internal/util"
)

// UsernameSaltSize is the per-slot salt length for username hashing.
const UsernameSaltSize = 16

// HashUsername computes the salted lookup hash stored in a key slot. The
// fast SHA-3 family is acceptable here, unlike for KEK derivation: a
// username is an identifier, not a secret, and the salt already defeats
// precomputed tables. Output size depends on the algorithm; persist it
// alongside the hash because slots mix algorithms during a migration.
func HashUsername(username string, alg Algorithm, salt []byte, params Params) ([]byte, error) {
	if len(salt) == 0 {
		return nil, ErrInvalidSalt
	}
	name := []byte(util.Normalize(username))
	defer util.WipeBytes(name)

	switch alg {
	case AlgSHA3_256, AlgSHA3_384, AlgSHA3_512:
		var h hash.Hash
		switch alg {
		case AlgSHA3_256:
			h = sha3.New256()
		case AlgSHA3_384:
			h = sha3.New384()
		default:
			h = sha3.New512()
		}
		h.Write(salt)
		h.Write(name)
		return h.Sum(nil), nil
	case AlgPBKDF2:
		return pbkdf2.Key(name, salt, UsernamePBKDF2Iterations, alg.HashSize(), sha256.New), nil
	case AlgArgon2id:
		p := params.normalized()
		return argon2.IDKey(name, salt, p.Argon2Time, p.Argon2MemoryKiB, p.Argon2Parallelism, uint32(alg.HashSize())), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
	}
}

// VerifyUsername recomputes the hash for a claimed username and compares it
// in constant time against the stored value. Any hashing error reads as a
// mismatch.
func VerifyUsername(username string, stored, salt []byte, alg Algorithm, params Params) bool {
	computed, err := HashUsername(username, alg, salt, params)
	if err != nil {
		return false
	}
	defer util.WipeBytes(computed)
	return util.ConstantTimeEqual(computed, stored)
}
