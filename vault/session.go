package vault

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/tmorland/vaultkeep/internal/util"
)

// Session is an authenticated user's handle on an open vault. The DEK lives
// in a memguard enclave, encrypted at rest in memory, and is only decrypted
// for the duration of a UseDEK callback.
type Session struct {
	vault *Vault

	// id correlates log lines without exposing the username.
	id        string
	username  string
	role      Role
	slotIndex int
	startedAt time.Time

	// mustChangePassword is set when an administrator issued this user a
	// temporary password.
	mustChangePassword bool
	// tokenEnrollmentRequired is set when the vault policy requires
	// hardware tokens and this slot has none enrolled yet.
	tokenEnrollmentRequired bool

	dek    *memguard.Enclave
	closed bool
}

// startSessionLocked builds the session for an authenticated slot. Callers
// hold v.mu and retain ownership of dek.
func (v *Vault) startSessionLocked(username string, slot *KeySlot, dek []byte) *Session {
	s := &Session{
		vault:                   v,
		id:                      uuid.NewString(),
		username:                username,
		role:                    slot.Role,
		slotIndex:               v.slotIndexLocked(slot),
		startedAt:               time.Now(),
		mustChangePassword:      slot.MustChangePassword,
		tokenEnrollmentRequired: v.header.Policy.RequireToken && !slot.Token.Enrolled,
		dek:                     memguard.NewEnclave(util.CopyBytes(dek)),
	}
	v.session = s
	return s
}

func (v *Vault) slotIndexLocked(slot *KeySlot) int {
	for i := range v.header.Slots {
		if &v.header.Slots[i] == slot {
			return i
		}
	}
	return -1
}

// ID returns the session's correlation identifier.
func (s *Session) ID() string { return s.id }

// Username returns the name the session authenticated as.
func (s *Session) Username() string { return s.username }

// Role returns the session's authorization level.
func (s *Session) Role() Role { return s.role }

// IsAdmin reports whether the session may perform administrative operations.
func (s *Session) IsAdmin() bool { return s.role == RoleAdministrator }

// StartedAt returns when the session was established.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// PasswordChangeRequired reports whether the user authenticated with a
// temporary password and must change it before relying on the vault.
func (s *Session) PasswordChangeRequired() bool {
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()
	return s.mustChangePassword
}

// TokenEnrollmentRequired reports whether the vault requires hardware
// tokens and this user's slot has none enrolled. The session itself is
// fully usable; embedders gate access until EnrollToken succeeds.
func (s *Session) TokenEnrollmentRequired() bool {
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()
	return s.tokenEnrollmentRequired
}

// UseDEK decrypts the vault key for the duration of fn. The slice passed to
// fn is wiped when fn returns and must not be retained.
func (s *Session) UseDEK(fn func(dek []byte) error) error {
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()
	return s.useDEKLocked(fn)
}

func (s *Session) useDEKLocked(fn func(dek []byte) error) error {
	if s.closed {
		return fmt.Errorf("%w: session closed", ErrInvalidState)
	}
	buf, err := s.dek.Open()
	if err != nil {
		return fmt.Errorf("%w: opening key enclave: %v", ErrCryptoFailure, err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Close ends the session and releases the enclave. Infallible and
// idempotent; the vault handle can authenticate again afterwards.
func (s *Session) Close() {
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.dek = nil
	if s.vault.session == s {
		s.vault.session = nil
	}
	s.vault.log.Debug("session closed",
		slog.String("session_id", s.id),
		slog.String("role", s.role.String()))
}

// requireLive validates the session against the vault. Callers hold v.mu.
func (s *Session) requireLive() error {
	if s.closed || s.vault.session != s {
		return fmt.Errorf("%w: session closed", ErrInvalidState)
	}
	return nil
}

// requireAdmin validates liveness and administrator role. Callers hold v.mu.
func (s *Session) requireAdmin() error {
	if err := s.requireLive(); err != nil {
		return err
	}
	if s.role != RoleAdministrator {
		return fmt.Errorf("%w: administrator role required", ErrPermissionDenied)
	}
	return nil
}
