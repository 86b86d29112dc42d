package vault

import (
	"time"

	"github.com/tmorland/vaultkeep/crypto"
)

// Role is a user's authorization level within the vault.
type Role uint8

const (
	// RoleStandard users authenticate and use the vault key.
	RoleStandard Role = 0x00
	// RoleAdministrator users additionally manage users and migrations.
	RoleAdministrator Role = 0x01
)

func (r Role) String() string {
	switch r {
	case RoleStandard:
		return "standard"
	case RoleAdministrator:
		return "administrator"
	default:
		return "unknown"
	}
}

// Valid reports whether r is a known role byte.
func (r Role) Valid() bool {
	return r == RoleStandard || r == RoleAdministrator
}

// MigrationStatus tracks a key slot's position in an algorithm migration.
type MigrationStatus uint8

const (
	// StatusNotMigrated slots still carry a username hash under the
	// previous algorithm.
	StatusNotMigrated MigrationStatus = 0x00
	// StatusMigrated slots carry a hash under the current algorithm.
	StatusMigrated MigrationStatus = 0x01
	// StatusPending marks a slot whose user has authenticated under the
	// previous algorithm and is about to be rehashed. Transient only: a
	// pending status read back from disk is normalized to StatusNotMigrated
	// so an interrupted rehash simply retries on the next login.
	StatusPending MigrationStatus = 0xFF
)

func (m MigrationStatus) String() string {
	switch m {
	case StatusNotMigrated:
		return "not-migrated"
	case StatusMigrated:
		return "migrated"
	case StatusPending:
		return "pending"
	default:
		return "unknown"
	}
}

const (
	// MaxKeySlots bounds the number of users per vault.
	MaxKeySlots = 32
	// MaxPasswordHistoryDepth bounds the per-user password history ring.
	MaxPasswordHistoryDepth = 24

	usernameHashMaxSize = 64
	passwordSaltSize    = 32
	tokenChallengeSize  = 32
	maxCredentialIDLen  = 255
	maxEncryptedPINLen  = 4096
)

// Hardware token challenge-response algorithms.
const (
	TokenAlgNone       uint8 = 0x00
	TokenAlgHMACSHA256 uint8 = 0x02
	TokenAlgHMACSHA512 uint8 = 0x03
)

// SecurityPolicy is the vault-wide configuration block. It is persisted in
// the container header and shared by every key slot.
type SecurityPolicy struct {
	// RequireToken requires a hardware token on every slot. A login on a
	// slot with no enrollment still succeeds on the password, but the
	// session is flagged via TokenEnrollmentRequired so the embedder can
	// force enrollment before releasing vault access.
	RequireToken bool
	// TokenAlgorithm identifies the token challenge-response scheme.
	TokenAlgorithm uint8

	// MinPasswordLength is the policy floor for new passwords.
	MinPasswordLength uint32
	// PasswordHistoryDepth is how many prior password hashes each slot
	// retains for reuse rejection. Zero disables history.
	PasswordHistoryDepth uint32

	// KEKAlgorithm is the vault's preferred key derivation algorithm for
	// new credentials. Fast hash selections are substituted with PBKDF2 at
	// derivation time and never reach a key slot.
	KEKAlgorithm crypto.Algorithm
	// UsernameHashAlgorithm obfuscates usernames at rest.
	UsernameHashAlgorithm crypto.Algorithm

	// KDF cost parameters, shared by KEK derivation and username hashing.
	PBKDF2Iterations  uint32
	Argon2MemoryKiB   uint32
	Argon2Time        uint32
	Argon2Parallelism uint8

	// Algorithm migration bookkeeping. While a migration is active,
	// PreviousUsernameHashAlgorithm holds the algorithm slots not yet
	// rehashed still use.
	PreviousUsernameHashAlgorithm crypto.Algorithm
	MigrationStartedAt            int64
	MigrationFlags                uint8

	// TokenChallenge is the vault-level challenge material handed to
	// hardware tokens during enrollment.
	TokenChallenge [64]byte
}

const migrationFlagActive uint8 = 0x01

// MigrationActive reports whether an algorithm migration is in progress.
func (p *SecurityPolicy) MigrationActive() bool {
	return p.MigrationFlags&migrationFlagActive != 0
}

// KDFParams extracts the policy's key derivation cost parameters.
func (p *SecurityPolicy) KDFParams() crypto.Params {
	return crypto.Params{
		PBKDF2Iterations:  p.PBKDF2Iterations,
		Argon2MemoryKiB:   p.Argon2MemoryKiB,
		Argon2Time:        p.Argon2Time,
		Argon2Parallelism: p.Argon2Parallelism,
	}
}

// TokenEnrollment holds a slot's hardware token state. When Enrolled, the
// slot's wrapped key can only be unwrapped with the token's response to
// Challenge folded into the password-derived key.
type TokenEnrollment struct {
	Enrolled     bool
	Challenge    [tokenChallengeSize]byte
	CredentialID []byte
	// EncryptedPIN is the token PIN sealed under the user's KEK, present
	// only when the embedder chose to cache it.
	EncryptedPIN []byte
	EnrolledAt   int64
}

// PasswordHistoryEntry is one retired password hash. Entries use a
// dedicated salt and a slow hash unrelated to KEK derivation, so history
// leaks nothing about current credentials.
type PasswordHistoryEntry struct {
	Timestamp int64
	Salt      [passwordSaltSize]byte
	Hash      [historyHashSize]byte
}

// KeySlot is one user's entry in the container header: an obfuscated
// username, the key derivation inputs, and a wrapped copy of the vault key.
type KeySlot struct {
	Active bool
	Role   Role

	// KEKAlgorithm records which derivation algorithm wrapped this slot's
	// key. Always a slow KDF; authoritative over any vault-level setting.
	KEKAlgorithm crypto.Algorithm

	MigrationStatus    MigrationStatus
	MustChangePassword bool

	// UsernameHashSize is the stored hash length. Zero means a legacy
	// single-user slot that matches any username.
	UsernameHashSize uint8
	UsernameHash     [usernameHashMaxSize]byte
	UsernameSalt     [crypto.UsernameSaltSize]byte

	PasswordSalt [passwordSaltSize]byte
	WrappedDEK   [crypto.WrappedDEKSize]byte

	CreatedAt         int64
	LastLoginAt       int64
	PasswordChangedAt int64
	MigratedAt        int64

	Token TokenEnrollment

	PasswordHistory []PasswordHistoryEntry
}

// wipe clears the slot's key material and identity fields in place.
func (s *KeySlot) wipe() {
	for i := range s.UsernameHash {
		s.UsernameHash[i] = 0
	}
	for i := range s.UsernameSalt {
		s.UsernameSalt[i] = 0
	}
	for i := range s.PasswordSalt {
		s.PasswordSalt[i] = 0
	}
	for i := range s.WrappedDEK {
		s.WrappedDEK[i] = 0
	}
	s.Token = TokenEnrollment{}
	s.PasswordHistory = nil
	s.UsernameHashSize = 0
}

// Header is the plaintext portion of a vault container: format version,
// vault-wide policy, and the key slot table. Everything after the header in
// the container is the opaque encrypted payload.
type Header struct {
	Version uint32
	Policy  SecurityPolicy
	Slots   []KeySlot
}

// ActiveSlots counts occupied key slots.
func (h *Header) ActiveSlots() int {
	n := 0
	for i := range h.Slots {
		if h.Slots[i].Active {
			n++
		}
	}
	return n
}

// activeAdmins counts occupied administrator slots.
func (h *Header) activeAdmins() int {
	n := 0
	for i := range h.Slots {
		if h.Slots[i].Active && h.Slots[i].Role == RoleAdministrator {
			n++
		}
	}
	return n
}

func nowUnix() int64 {
	return time.Now().Unix()
}
