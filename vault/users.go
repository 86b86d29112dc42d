package vault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmorland/vaultkeep/crypto"
	"github.com/tmorland/vaultkeep/internal/util"
)

// newKeySlot builds a fully populated slot for username, wrapping dek under
// a password-derived KEK. The slot is created under the current username
// algorithm and therefore starts migrated.
func newKeySlot(policy *SecurityPolicy, username, password string, role Role, dek []byte, mustChange bool) (*KeySlot, error) {
	slot := &KeySlot{
		Active:             true,
		Role:               role,
		KEKAlgorithm:       effectiveKEKAlgorithm(policy.KEKAlgorithm),
		MigrationStatus:    StatusMigrated,
		MustChangePassword: mustChange,
		CreatedAt:          nowUnix(),
		PasswordChangedAt:  nowUnix(),
	}

	if err := rehashSlotUsername(slot, policy, username); err != nil {
		return nil, err
	}

	salt, err := util.RandomBytes(passwordSaltSize)
	if err != nil {
		return nil, fmt.Errorf("%w: generating password salt: %v", ErrCryptoFailure, err)
	}
	copy(slot.PasswordSalt[:], salt)

	if err := wrapSlotDEK(slot, policy, password, dek, nil); err != nil {
		return nil, err
	}
	if err := recordPasswordHistory(slot, password, policy); err != nil {
		return nil, err
	}
	return slot, nil
}

// rehashSlotUsername stamps the slot with a fresh salt and a hash of
// username under the policy's current algorithm.
func rehashSlotUsername(slot *KeySlot, policy *SecurityPolicy, username string) error {
	salt, err := util.RandomBytes(crypto.UsernameSaltSize)
	if err != nil {
		return fmt.Errorf("%w: generating username salt: %v", ErrCryptoFailure, err)
	}
	copy(slot.UsernameSalt[:], salt)

	hash, err := crypto.HashUsername(username, policy.UsernameHashAlgorithm, slot.UsernameSalt[:], policy.KDFParams())
	if err != nil {
		return fmt.Errorf("%w: hashing username: %v", ErrCryptoFailure, err)
	}
	if len(hash) > usernameHashMaxSize {
		return fmt.Errorf("%w: username hash size %d", ErrCryptoFailure, len(hash))
	}
	for i := range slot.UsernameHash {
		slot.UsernameHash[i] = 0
	}
	copy(slot.UsernameHash[:], hash)
	slot.UsernameHashSize = uint8(len(hash))
	return nil
}

// wrapSlotDEK derives a KEK from password using the slot's salt, folds in
// tokenResponse when non-nil, and stores the wrapped key.
func wrapSlotDEK(slot *KeySlot, policy *SecurityPolicy, password string, dek, tokenResponse []byte) error {
	kek, err := crypto.DeriveKEK(password, effectiveKEKAlgorithm(slot.KEKAlgorithm), slot.PasswordSalt[:], policy.KDFParams())
	if err != nil {
		return fmt.Errorf("%w: deriving KEK: %v", ErrCryptoFailure, err)
	}
	util.LockBytes(kek)
	defer func() {
		util.WipeBytes(kek)
		util.UnlockBytes(kek)
	}()

	if len(tokenResponse) > 0 {
		foldTokenResponse(kek, tokenResponse)
	}

	wrapped, err := crypto.WrapDEK(kek, dek)
	if err != nil {
		return fmt.Errorf("%w: wrapping vault key: %v", ErrCryptoFailure, err)
	}
	copy(slot.WrappedDEK[:], wrapped)
	util.WipeBytes(wrapped)
	return nil
}

// AddUser provisions a key slot for a new user with a temporary password
// the user must change at first login. Administrator only.
func (s *Session) AddUser(ctx context.Context, username, tempPassword string, role Role) error {
	v := s.vault
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.requireAdmin(); err != nil {
		return err
	}
	if err := checkUsername(username); err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role", ErrInvalidInput)
	}
	if err := checkPassword(&v.header.Policy, username, tempPassword); err != nil {
		return err
	}
	for i := range v.header.Slots {
		// A legacy slot matches any username, so more slots cannot coexist
		// with one. Changing its password rewrites it in the current format.
		if v.header.Slots[i].Active && v.header.Slots[i].UsernameHashSize == 0 {
			return fmt.Errorf("%w: legacy slot must change password before users can be added", ErrInvalidState)
		}
	}
	if v.lookupSlotLocked(username, false) != nil {
		return ErrUserExists
	}

	idx := -1
	for i := range v.header.Slots {
		if !v.header.Slots[i].Active {
			idx = i
			break
		}
	}
	if idx < 0 {
		if len(v.header.Slots) >= MaxKeySlots {
			return ErrMaxUsers
		}
		v.header.Slots = append(v.header.Slots, KeySlot{})
		idx = len(v.header.Slots) - 1
	}
	prev := v.header.Slots[idx]

	err := s.useDEKLocked(func(dek []byte) error {
		slot, err := newKeySlot(&v.header.Policy, username, tempPassword, role, dek, true)
		if err != nil {
			return err
		}
		v.header.Slots[idx] = *slot
		return nil
	})
	if err != nil {
		return err
	}

	if err := v.persistLocked(); err != nil {
		v.header.Slots[idx] = prev
		return err
	}
	v.log.Info("user added", slog.String("role", role.String()), slog.Int("slot", idx))
	return nil
}

// RemoveUser deactivates a user's key slot and wipes its key material.
// Administrator only; removing yourself or the last administrator is
// rejected.
func (s *Session) RemoveUser(ctx context.Context, username string) error {
	v := s.vault
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.requireAdmin(); err != nil {
		return err
	}
	if err := checkUsername(username); err != nil {
		return err
	}

	slot := v.lookupSlotLocked(username, false)
	if slot == nil {
		return ErrUserNotFound
	}
	if v.slotIndexLocked(slot) == s.slotIndex {
		return fmt.Errorf("%w: cannot remove own account", ErrInvalidInput)
	}
	if slot.Role == RoleAdministrator && v.header.activeAdmins() <= 1 {
		return ErrLastAdministrator
	}

	prev := *slot
	slot.Active = false
	slot.wipe()

	if err := v.persistLocked(); err != nil {
		*slot = prev
		return err
	}
	v.log.Info("user removed", slog.String("role", prev.Role.String()))
	return nil
}

// ChangePassword rewraps a slot's copy of the vault key under a new
// password. Users change their own password with the old one; an
// administrator may reset another user's password without it, which flags
// the slot for a forced change at next login.
//
// The rewrite also refreshes the username hash under the current algorithm,
// so a pending migration completes for the slot, and upgrades legacy slots
// to the current format. A hardware token enrollment does not survive the
// rewrap; the user must enroll again.
func (s *Session) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	v := s.vault
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.requireLive(); err != nil {
		return err
	}
	if err := checkUsername(username); err != nil {
		return err
	}

	selfChange := username == s.username
	if !selfChange {
		if err := s.requireAdmin(); err != nil {
			return err
		}
	}

	policy := &v.header.Policy
	var slot *KeySlot
	if selfChange {
		if s.slotIndex < 0 || s.slotIndex >= len(v.header.Slots) {
			return fmt.Errorf("%w: session slot gone", ErrInvalidState)
		}
		slot = &v.header.Slots[s.slotIndex]
	} else {
		slot = v.lookupSlotLocked(username, false)
		if slot == nil {
			return ErrUserNotFound
		}
	}

	if err := checkPassword(policy, username, newPassword); err != nil {
		return err
	}
	if passwordInHistory(slot, newPassword, policy) {
		return ErrPasswordReuse
	}

	if selfChange && !slot.Token.Enrolled {
		kek, err := crypto.DeriveKEK(oldPassword, effectiveKEKAlgorithm(slot.KEKAlgorithm), slot.PasswordSalt[:], policy.KDFParams())
		if err != nil {
			return fmt.Errorf("%w: deriving KEK: %v", ErrCryptoFailure, err)
		}
		check, unwrapErr := crypto.UnwrapDEK(kek, slot.WrappedDEK[:])
		util.WipeBytes(kek)
		if unwrapErr != nil {
			return ErrAuthenticationFailed
		}
		util.WipeBytes(check)
	}

	prev := *slot
	prev.PasswordHistory = append([]PasswordHistoryEntry(nil), slot.PasswordHistory...)

	salt, err := util.RandomBytes(passwordSaltSize)
	if err != nil {
		return fmt.Errorf("%w: generating password salt: %v", ErrCryptoFailure, err)
	}
	copy(slot.PasswordSalt[:], salt)
	slot.KEKAlgorithm = effectiveKEKAlgorithm(policy.KEKAlgorithm)

	err = s.useDEKLocked(func(dek []byte) error {
		return wrapSlotDEK(slot, policy, newPassword, dek, nil)
	})
	if err == nil {
		err = rehashSlotUsername(slot, policy, username)
	}
	if err == nil {
		err = recordPasswordHistory(slot, newPassword, policy)
	}
	if err != nil {
		*slot = prev
		return err
	}

	slot.MigrationStatus = StatusMigrated
	if policy.MigrationActive() && prev.MigrationStatus != StatusMigrated {
		slot.MigratedAt = nowUnix()
	}
	slot.Token = TokenEnrollment{}
	slot.PasswordChangedAt = nowUnix()
	slot.MustChangePassword = !selfChange

	if err := v.persistLocked(); err != nil {
		*slot = prev
		return err
	}
	if selfChange {
		s.mustChangePassword = false
	}
	v.log.Info("password changed", slog.Bool("self", selfChange))
	return nil
}
