package vault

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tmorland/vaultkeep/crypto"
	"github.com/tmorland/vaultkeep/internal/util"
)

// Open authenticates a user against the container and returns a session
// holding the unwrapped vault key. tokenResponse is the hardware token's
// answer to the slot's stored challenge; nil when no token is enrolled.
//
// An unknown username and a wrong password return errors that compare equal
// under errors.Is, so callers cannot enumerate users.
func (v *Vault) Open(ctx context.Context, username, password string, tokenResponse []byte) (*Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v.session != nil {
		return nil, fmt.Errorf("%w: session already active", ErrInvalidState)
	}
	if err := checkUsername(username); err != nil {
		return nil, err
	}
	if err := v.loadLocked(); err != nil {
		return nil, err
	}

	slot := v.lookupSlotLocked(username, true)
	if slot == nil {
		v.log.Info("authentication failed", slog.String("reason", "no matching slot"))
		return nil, ErrUserNotFound
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dek, err := v.unwrapSlotLocked(slot, password, tokenResponse)
	if err != nil {
		return nil, err
	}
	defer func() {
		util.WipeBytes(dek)
		util.UnlockBytes(dek)
	}()

	slot.LastLoginAt = nowUnix()

	if slot.MigrationStatus == StatusPending {
		// Rehash under the current algorithm now that the password has
		// proven the identity. The session is granted even if persisting
		// the rehash fails; the slot then retries on the next login.
		v.finishSlotMigrationLocked(slot, username)
	} else if err := v.persistLocked(); err != nil {
		// Losing a last-login timestamp is not worth failing the login.
		v.log.Warn("persisting login timestamp failed", slog.Any("error", err))
	}

	v.log.Info("authenticated",
		slog.String("role", slot.Role.String()),
		slog.String("migration_status", slot.MigrationStatus.String()))

	return v.startSessionLocked(username, slot, dek), nil
}

// lookupSlotLocked resolves a username to its key slot in two phases.
// Phase one checks migrated slots under the current algorithm. Phase two,
// only while a migration is active, checks not-yet-migrated slots under the
// previous algorithm; when markPending is set a phase-two match is flagged
// for rehash. A zero-length stored hash matches any username, which is how
// version 1 single-user containers authenticate. Callers hold v.mu.
func (v *Vault) lookupSlotLocked(username string, markPending bool) *KeySlot {
	p := &v.header.Policy
	params := p.KDFParams()

	for i := range v.header.Slots {
		s := &v.header.Slots[i]
		if !s.Active || s.MigrationStatus != StatusMigrated {
			continue
		}
		if s.UsernameHashSize == 0 {
			return s
		}
		if crypto.VerifyUsername(username, s.UsernameHash[:s.UsernameHashSize], s.UsernameSalt[:], p.UsernameHashAlgorithm, params) {
			return s
		}
	}

	if !p.MigrationActive() {
		return nil
	}
	for i := range v.header.Slots {
		s := &v.header.Slots[i]
		if !s.Active || s.MigrationStatus != StatusNotMigrated {
			continue
		}
		if s.UsernameHashSize == 0 ||
			crypto.VerifyUsername(username, s.UsernameHash[:s.UsernameHashSize], s.UsernameSalt[:], p.PreviousUsernameHashAlgorithm, params) {
			if markPending {
				s.MigrationStatus = StatusPending
			}
			return s
		}
	}
	return nil
}

// unwrapSlotLocked derives the slot's KEK from the password, folds in the
// token response when one is enrolled, and unwraps the vault key. The
// returned DEK is mlocked; the caller owns wiping and unlocking it. Callers
// hold v.mu.
func (v *Vault) unwrapSlotLocked(slot *KeySlot, password string, tokenResponse []byte) ([]byte, error) {
	p := &v.header.Policy

	kek, err := crypto.DeriveKEK(password, effectiveKEKAlgorithm(slot.KEKAlgorithm), slot.PasswordSalt[:], p.KDFParams())
	if err != nil {
		return nil, fmt.Errorf("%w: deriving KEK: %v", ErrCryptoFailure, err)
	}
	util.LockBytes(kek)
	defer func() {
		util.WipeBytes(kek)
		util.UnlockBytes(kek)
	}()

	if slot.Token.Enrolled && len(tokenResponse) > 0 {
		foldTokenResponse(kek, tokenResponse)
	}

	dek, err := crypto.UnwrapDEK(kek, slot.WrappedDEK[:])
	if err != nil {
		if errors.Is(err, crypto.ErrUnwrapFailed) {
			// Wrong password, wrong token response or absent token all
			// surface here. No distinction is made.
			return nil, ErrAuthenticationFailed
		}
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	util.LockBytes(dek)
	return dek, nil
}

// foldTokenResponse mixes a hardware token's challenge response into a
// derived KEK in place. A 32-byte response XORs directly; other lengths are
// compressed through SHA-256 first.
func foldTokenResponse(kek, response []byte) {
	var folded [sha256.Size]byte
	if len(response) == len(kek) {
		copy(folded[:], response)
	} else {
		folded = sha256.Sum256(response)
	}
	for i := range kek {
		kek[i] ^= folded[i]
	}
	util.WipeBytes(folded[:])
}

// TokenChallenge returns the stored hardware token challenge for a user, so
// a caller can drive the token before Open. The anti-enumeration guarantee
// does not extend to this call; embedders gate it accordingly.
func (v *Vault) TokenChallenge(username string) ([]byte, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.header == nil {
		if err := v.loadLocked(); err != nil {
			return nil, false, err
		}
	}
	slot := v.lookupSlotLocked(username, false)
	if slot == nil || !slot.Token.Enrolled {
		return nil, false, nil
	}
	return util.CopyBytes(slot.Token.Challenge[:]), true, nil
}
