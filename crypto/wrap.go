package crypto

import "github.com/tmorland/vaultkeep/internal/util"

const (
	// DEKSize is the vault data-encryption-key size in bytes.
	DEKSize = util.DEKSize
	// WrappedDEKSize is the AES-256-KW output size: the 32-byte DEK plus an
	// 8-byte integrity block.
	WrappedDEKSize = util.WrappedKeySize
)

// ErrUnwrapFailed is returned by UnwrapDEK for a wrong KEK or tampered
// ciphertext. The two cases are deliberately indistinguishable.
var ErrUnwrapFailed = util.ErrUnwrapFailed

// WrapDEK wraps the vault DEK under a user's KEK (AES-256-KW, RFC 3394).
// Deterministic: the same (kek, dek) pair always yields the same 40 bytes.
func WrapDEK(kek, dek []byte) ([]byte, error) {
	return util.WrapKey(kek, dek)
}

// UnwrapDEK recovers the DEK, verifying integrity. Failure is the sole
// signal the authentication engine uses to detect a wrong password.
func UnwrapDEK(kek, wrapped []byte) ([]byte, error) {
	return util.UnwrapKey(kek, wrapped)
}
