package vault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmorland/vaultkeep/crypto"
	"github.com/tmorland/vaultkeep/internal/util"
)

var tokenPINAAD = []byte("vaultkeep/token-pin")

// NewTokenChallenge generates the challenge material a hardware token will
// answer during enrollment. The caller drives the token and brings the
// response to EnrollToken.
func NewTokenChallenge() ([]byte, error) {
	c, err := util.RandomBytes(tokenChallengeSize)
	if err != nil {
		return nil, fmt.Errorf("%w: generating challenge: %v", ErrCryptoFailure, err)
	}
	return c, nil
}

// EnrollToken binds the session's own key slot to a hardware token. The
// token's response to challenge is folded into the password-derived KEK, so
// after enrollment the password alone no longer unwraps the slot; the same
// response must accompany every Open.
//
// The engine never talks to the token. The caller computes response (for an
// HMAC-SHA256 token, HMAC over the challenge with the device secret) and
// passes it in along with the device's credential identifier. A non-empty
// pin is sealed under the plain password KEK so an embedder can hand it
// back to the device on later logins.
func (s *Session) EnrollToken(ctx context.Context, password string, challenge, response, credentialID []byte, pin string) error {
	v := s.vault
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.requireLive(); err != nil {
		return err
	}
	if len(challenge) != tokenChallengeSize {
		return fmt.Errorf("%w: challenge must be %d bytes", ErrInvalidInput, tokenChallengeSize)
	}
	if len(response) == 0 {
		return fmt.Errorf("%w: empty token response", ErrInvalidInput)
	}
	if len(credentialID) > maxCredentialIDLen {
		return fmt.Errorf("%w: credential id too long", ErrInvalidInput)
	}
	if s.slotIndex < 0 || s.slotIndex >= len(v.header.Slots) {
		return fmt.Errorf("%w: session slot gone", ErrInvalidState)
	}

	policy := &v.header.Policy
	slot := &v.header.Slots[s.slotIndex]

	// The password is re-proven here rather than trusted from the session,
	// so a walk-up attacker with an unlocked terminal cannot re-bind the
	// slot to their own token.
	kek, err := crypto.DeriveKEK(password, effectiveKEKAlgorithm(slot.KEKAlgorithm), slot.PasswordSalt[:], policy.KDFParams())
	if err != nil {
		return fmt.Errorf("%w: deriving KEK: %v", ErrCryptoFailure, err)
	}
	util.LockBytes(kek)
	defer func() {
		util.WipeBytes(kek)
		util.UnlockBytes(kek)
	}()
	if !slot.Token.Enrolled {
		check, unwrapErr := crypto.UnwrapDEK(kek, slot.WrappedDEK[:])
		if unwrapErr != nil {
			return ErrAuthenticationFailed
		}
		util.WipeBytes(check)
	}

	var sealedPIN []byte
	if pin != "" {
		sealedPIN, err = util.EncryptAESWithAAD([]byte(pin), kek, tokenPINAAD)
		if err != nil {
			return fmt.Errorf("%w: sealing token pin: %v", ErrCryptoFailure, err)
		}
		if len(sealedPIN) > maxEncryptedPINLen {
			return fmt.Errorf("%w: pin too long", ErrInvalidInput)
		}
	}

	prev := *slot
	err = s.useDEKLocked(func(dek []byte) error {
		return wrapSlotDEK(slot, policy, password, dek, response)
	})
	if err != nil {
		return err
	}

	slot.Token.Enrolled = true
	copy(slot.Token.Challenge[:], challenge)
	slot.Token.CredentialID = append([]byte(nil), credentialID...)
	slot.Token.EncryptedPIN = sealedPIN
	slot.Token.EnrolledAt = nowUnix()

	if err := v.persistLocked(); err != nil {
		*slot = prev
		return err
	}
	s.tokenEnrollmentRequired = false
	v.log.Info("hardware token enrolled", slog.Int("slot", s.slotIndex))
	return nil
}

// RemoveToken unbinds the session's slot from its hardware token, rewrapping
// the vault key under the password alone. The password and the current
// token response are both required; a wrong pair is rejected before any
// rewrap so a typo cannot lock the slot.
func (s *Session) RemoveToken(ctx context.Context, password string, response []byte) error {
	v := s.vault
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.requireLive(); err != nil {
		return err
	}
	if s.slotIndex < 0 || s.slotIndex >= len(v.header.Slots) {
		return fmt.Errorf("%w: session slot gone", ErrInvalidState)
	}

	policy := &v.header.Policy
	slot := &v.header.Slots[s.slotIndex]
	if !slot.Token.Enrolled {
		return fmt.Errorf("%w: no token enrolled", ErrInvalidState)
	}

	check, err := v.unwrapSlotLocked(slot, password, response)
	if err != nil {
		return err
	}
	util.WipeBytes(check)
	util.UnlockBytes(check)

	prev := *slot
	err = s.useDEKLocked(func(dek []byte) error {
		return wrapSlotDEK(slot, policy, password, dek, nil)
	})
	if err != nil {
		return err
	}
	slot.Token = TokenEnrollment{}

	if err := v.persistLocked(); err != nil {
		*slot = prev
		return err
	}
	s.tokenEnrollmentRequired = v.header.Policy.RequireToken
	v.log.Info("hardware token removed", slog.Int("slot", s.slotIndex))
	return nil
}

// OpenSealedPIN decrypts the token PIN cached at enrollment, using the
// user's password. Returns ErrInvalidState when no PIN was cached.
func (s *Session) OpenSealedPIN(password string) ([]byte, error) {
	v := s.vault
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := s.requireLive(); err != nil {
		return nil, err
	}
	if s.slotIndex < 0 || s.slotIndex >= len(v.header.Slots) {
		return nil, fmt.Errorf("%w: session slot gone", ErrInvalidState)
	}
	slot := &v.header.Slots[s.slotIndex]
	if len(slot.Token.EncryptedPIN) == 0 {
		return nil, fmt.Errorf("%w: no cached pin", ErrInvalidState)
	}

	kek, err := crypto.DeriveKEK(password, effectiveKEKAlgorithm(slot.KEKAlgorithm), slot.PasswordSalt[:], v.header.Policy.KDFParams())
	if err != nil {
		return nil, fmt.Errorf("%w: deriving KEK: %v", ErrCryptoFailure, err)
	}
	defer util.WipeBytes(kek)

	pin, err := util.DecryptAESWithAAD(slot.Token.EncryptedPIN, kek, tokenPINAAD)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return pin, nil
}
