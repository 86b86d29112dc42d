package vault

import (
	"crypto/sha512"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/tmorland/vaultkeep/crypto"
	"github.com/tmorland/vaultkeep/internal/util"
)

// Password history entries hash with PBKDF2-HMAC-SHA512 at the vault's
// iteration setting, with the same floor as KEK derivation. A distinct hash
// function and a fresh salt per entry keep the history unusable as an
// oracle against live credentials.
const historyHashSize = 48

func hashHistoryPassword(password string, salt []byte, iterations uint32) [historyHashSize]byte {
	var out [historyHashSize]byte
	if iterations < crypto.MinPBKDF2Iterations {
		iterations = crypto.MinPBKDF2Iterations
	}
	buf := []byte(util.Normalize(password))
	defer util.WipeBytes(buf)
	copy(out[:], pbkdf2.Key(buf, salt, int(iterations), historyHashSize, sha512.New))
	return out
}

// recordPasswordHistory appends a fresh entry for password to the slot's
// ring, evicting the oldest entries beyond the policy depth. A zero depth
// leaves the slot without history.
func recordPasswordHistory(slot *KeySlot, password string, policy *SecurityPolicy) error {
	depth := policy.PasswordHistoryDepth
	if depth > MaxPasswordHistoryDepth {
		depth = MaxPasswordHistoryDepth
	}
	if depth == 0 {
		slot.PasswordHistory = nil
		return nil
	}

	var entry PasswordHistoryEntry
	salt, err := util.RandomBytes(passwordSaltSize)
	if err != nil {
		return fmt.Errorf("%w: generating history salt: %v", ErrCryptoFailure, err)
	}
	copy(entry.Salt[:], salt)
	entry.Timestamp = nowUnix()
	entry.Hash = hashHistoryPassword(password, entry.Salt[:], policy.PBKDF2Iterations)

	slot.PasswordHistory = append(slot.PasswordHistory, entry)
	if n := uint32(len(slot.PasswordHistory)); n > depth {
		drop := n - depth
		slot.PasswordHistory = append(slot.PasswordHistory[:0:0], slot.PasswordHistory[drop:]...)
	}
	return nil
}

// passwordInHistory reports whether password matches any retained entry.
// Every entry is checked so timing does not reveal which one matched.
func passwordInHistory(slot *KeySlot, password string, policy *SecurityPolicy) bool {
	found := false
	for i := range slot.PasswordHistory {
		e := &slot.PasswordHistory[i]
		h := hashHistoryPassword(password, e.Salt[:], policy.PBKDF2Iterations)
		if util.ConstantTimeEqual(h[:], e.Hash[:]) {
			found = true
		}
		util.WipeBytes(h[:])
	}
	return found
}
