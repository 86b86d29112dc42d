package vault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmorland/vaultkeep/crypto"
)

// MigrationPhase is the vault-level view of an algorithm migration.
type MigrationPhase uint8

const (
	// MigrationInactive means no migration is underway.
	MigrationInactive MigrationPhase = iota
	// MigrationInProgress means slots are being rehashed as users log in.
	MigrationInProgress
	// MigrationComplete means every active slot is on the current algorithm
	// and the migration is waiting for ConfirmMigration.
	MigrationComplete
)

func (p MigrationPhase) String() string {
	switch p {
	case MigrationInactive:
		return "inactive"
	case MigrationInProgress:
		return "in-progress"
	case MigrationComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// MigrationReport summarizes migration progress for operators.
type MigrationReport struct {
	Phase    MigrationPhase
	Migrated int
	Total    int
	From     crypto.Algorithm
	To       crypto.Algorithm
}

// BeginAlgorithmMigration switches the vault's username hash algorithm and
// marks every active slot for lazy rehashing: each user's slot migrates on
// their next successful login, because hashing needs the plaintext username
// only that user presents. Administrator only.
//
// Only one migration runs at a time, and a vault still holding a legacy
// single-user slot cannot migrate until that slot's password is changed.
func (s *Session) BeginAlgorithmMigration(ctx context.Context, newAlg crypto.Algorithm) error {
	v := s.vault
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.requireAdmin(); err != nil {
		return err
	}
	if !newAlg.Valid() {
		return fmt.Errorf("%w: unknown algorithm", ErrInvalidInput)
	}

	policy := &v.header.Policy
	if policy.MigrationActive() {
		return fmt.Errorf("%w: migration already in progress", ErrInvalidState)
	}
	if newAlg == policy.UsernameHashAlgorithm {
		return fmt.Errorf("%w: %s is already the current algorithm", ErrInvalidInput, newAlg)
	}
	for i := range v.header.Slots {
		if v.header.Slots[i].Active && v.header.Slots[i].UsernameHashSize == 0 {
			return fmt.Errorf("%w: legacy slot must change password before migrating", ErrInvalidState)
		}
	}

	if err := v.store.Backup(); err != nil {
		v.log.Warn("container backup failed", slog.Any("error", err))
	}

	prevPolicy := *policy
	prevStatus := make([]MigrationStatus, len(v.header.Slots))
	prevMigratedAt := make([]int64, len(v.header.Slots))

	policy.PreviousUsernameHashAlgorithm = policy.UsernameHashAlgorithm
	policy.UsernameHashAlgorithm = newAlg
	policy.MigrationStartedAt = nowUnix()
	policy.MigrationFlags |= migrationFlagActive
	for i := range v.header.Slots {
		slot := &v.header.Slots[i]
		prevStatus[i] = slot.MigrationStatus
		prevMigratedAt[i] = slot.MigratedAt
		if slot.Active {
			slot.MigrationStatus = StatusNotMigrated
			slot.MigratedAt = 0
		}
	}

	if err := v.persistLocked(); err != nil {
		*policy = prevPolicy
		for i := range v.header.Slots {
			v.header.Slots[i].MigrationStatus = prevStatus[i]
			v.header.Slots[i].MigratedAt = prevMigratedAt[i]
		}
		return err
	}

	v.log.Info("algorithm migration started",
		slog.String("from", policy.PreviousUsernameHashAlgorithm.String()),
		slog.String("to", policy.UsernameHashAlgorithm.String()),
		slog.Int("slots", v.header.ActiveSlots()))
	return nil
}

// MigrationStatus reports the current migration phase and per-slot
// progress.
func (s *Session) MigrationStatus() (MigrationReport, error) {
	v := s.vault
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := s.requireLive(); err != nil {
		return MigrationReport{}, err
	}

	policy := &v.header.Policy
	r := MigrationReport{To: policy.UsernameHashAlgorithm}
	if !policy.MigrationActive() {
		return r, nil
	}

	r.From = policy.PreviousUsernameHashAlgorithm
	for i := range v.header.Slots {
		slot := &v.header.Slots[i]
		if !slot.Active {
			continue
		}
		r.Total++
		if slot.MigrationStatus == StatusMigrated {
			r.Migrated++
		}
	}
	if r.Migrated == r.Total {
		r.Phase = MigrationComplete
	} else {
		r.Phase = MigrationInProgress
	}
	return r, nil
}

// ConfirmMigration finalizes a completed migration, clearing the previous
// algorithm so phase-two lookups stop. Administrator only; rejected while
// any active slot is still unmigrated.
func (s *Session) ConfirmMigration(ctx context.Context) error {
	v := s.vault
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.requireAdmin(); err != nil {
		return err
	}

	policy := &v.header.Policy
	if !policy.MigrationActive() {
		return fmt.Errorf("%w: no migration in progress", ErrInvalidState)
	}
	for i := range v.header.Slots {
		slot := &v.header.Slots[i]
		if slot.Active && slot.MigrationStatus != StatusMigrated {
			return fmt.Errorf("%w: %d slots not yet migrated", ErrInvalidState, v.header.ActiveSlots()-migratedSlots(v.header))
		}
	}

	prev := *policy
	policy.PreviousUsernameHashAlgorithm = 0
	policy.MigrationStartedAt = 0
	policy.MigrationFlags &^= migrationFlagActive

	if err := v.persistLocked(); err != nil {
		*policy = prev
		return err
	}
	v.log.Info("algorithm migration confirmed",
		slog.String("algorithm", policy.UsernameHashAlgorithm.String()))
	return nil
}

func migratedSlots(h *Header) int {
	n := 0
	for i := range h.Slots {
		if h.Slots[i].Active && h.Slots[i].MigrationStatus == StatusMigrated {
			n++
		}
	}
	return n
}

// finishSlotMigrationLocked rehashes a pending slot's username under the
// current algorithm and persists. Failure to persist keeps the slot pending
// in memory and untouched on disk, so the next login retries; the caller's
// authentication is unaffected either way. Callers hold v.mu.
func (v *Vault) finishSlotMigrationLocked(slot *KeySlot, username string) {
	if err := v.store.Backup(); err != nil {
		v.log.Warn("container backup failed", slog.Any("error", err))
	}

	prev := *slot
	if err := rehashSlotUsername(slot, &v.header.Policy, username); err != nil {
		*slot = prev
		v.log.Warn("slot rehash failed", slog.Any("error", err))
		return
	}
	slot.MigrationStatus = StatusMigrated
	slot.MigratedAt = nowUnix()

	if err := v.persistLocked(); err != nil {
		*slot = prev
		v.log.Warn("persisting slot migration failed", slog.Any("error", err))
		return
	}
	v.log.Info("slot migrated",
		slog.String("algorithm", v.header.Policy.UsernameHashAlgorithm.String()))
}
