package vault

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmorland/vaultkeep/crypto"
	"github.com/tmorland/vaultkeep/internal/util"
	"github.com/tmorland/vaultkeep/storage"
)

func sampleHeader(t *testing.T) *Header {
	t.Helper()
	p := DefaultSecurityPolicy()
	p.RequireToken = true
	p.MinPasswordLength = 14
	p.PreviousUsernameHashAlgorithm = crypto.AlgSHA3_256
	p.UsernameHashAlgorithm = crypto.AlgSHA3_512
	p.MigrationStartedAt = 1700000000
	p.MigrationFlags = migrationFlagActive
	for i := range p.TokenChallenge {
		p.TokenChallenge[i] = byte(i)
	}

	slot := KeySlot{
		Active:             true,
		Role:               RoleAdministrator,
		KEKAlgorithm:       crypto.AlgArgon2id,
		MigrationStatus:    StatusMigrated,
		MustChangePassword: true,
		UsernameHashSize:   64,
		CreatedAt:          1690000000,
		LastLoginAt:        1690000100,
		PasswordChangedAt:  1690000200,
		MigratedAt:         1690000300,
		Token: TokenEnrollment{
			Enrolled:     true,
			CredentialID: []byte("yubikey-5c-slot2"),
			EncryptedPIN: []byte{0xde, 0xad, 0xbe, 0xef},
			EnrolledAt:   1690000400,
		},
		PasswordHistory: []PasswordHistoryEntry{
			{Timestamp: 1690000500},
			{Timestamp: 1690000600},
		},
	}
	for i := range slot.UsernameHash {
		slot.UsernameHash[i] = byte(i + 1)
	}
	for i := range slot.WrappedDEK {
		slot.WrappedDEK[i] = byte(i + 2)
	}
	slot.PasswordHistory[0].Salt[0] = 0xAA
	slot.PasswordHistory[1].Hash[0] = 0xBB

	other := KeySlot{
		Active:           true,
		Role:             RoleStandard,
		KEKAlgorithm:     crypto.AlgPBKDF2,
		MigrationStatus:  StatusNotMigrated,
		UsernameHashSize: 32,
	}

	return &Header{Version: FormatVersion, Policy: p, Slots: []KeySlot{slot, other}}
}

func TestCodec_RoundTrip(t *testing.T) {
	h := sampleHeader(t)
	payload := []byte("encrypted payload bytes")

	data := encodeContainer(h, payload)
	h2, payload2, err := decodeContainer(data)
	require.NoError(t, err)

	assert.Equal(t, h.Policy, h2.Policy)
	assert.Equal(t, h.Slots, h2.Slots)
	assert.Equal(t, payload, payload2)
}

func TestCodec_EmptyPayload(t *testing.T) {
	h := sampleHeader(t)
	h2, payload, err := decodeContainer(encodeContainer(h, nil))
	require.NoError(t, err)
	assert.Empty(t, payload)
	assert.Len(t, h2.Slots, 2)
}

func TestCodec_PendingNormalizedOnLoad(t *testing.T) {
	h := sampleHeader(t)
	h.Slots[0].MigrationStatus = StatusPending

	h2, _, err := decodeContainer(encodeContainer(h, nil))
	require.NoError(t, err)
	assert.Equal(t, StatusNotMigrated, h2.Slots[0].MigrationStatus)
}

func TestCodec_ShortPolicyBlobDefaults(t *testing.T) {
	p := DefaultSecurityPolicy()
	p.PreviousUsernameHashAlgorithm = crypto.AlgSHA3_256
	p.MigrationFlags = migrationFlagActive
	for i := range p.TokenChallenge {
		p.TokenChallenge[i] = 0xCC
	}

	// A blob from before the migration fields stops at byte 25.
	short := encodePolicy(&p)[:25]
	got := decodePolicy(short)

	assert.Equal(t, p.KEKAlgorithm, got.KEKAlgorithm)
	assert.Equal(t, p.PBKDF2Iterations, got.PBKDF2Iterations)
	assert.Equal(t, crypto.Algorithm(0), got.PreviousUsernameHashAlgorithm)
	assert.Equal(t, uint8(0), got.MigrationFlags)
	assert.False(t, got.MigrationActive())
	assert.Equal(t, [64]byte{}, got.TokenChallenge)
}

func TestCodec_Corrupt(t *testing.T) {
	h := sampleHeader(t)
	data := encodeContainer(h, nil)

	_, _, err := decodeContainer([]byte("XXXX"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	bad := append([]byte(nil), data...)
	bad[0] = 'X'
	_, _, err = decodeContainer(bad)
	assert.ErrorIs(t, err, ErrInvalidInput)

	bad = append([]byte(nil), data...)
	binary.BigEndian.PutUint32(bad[4:], 99)
	_, _, err = decodeContainer(bad)
	assert.ErrorIs(t, err, ErrInvalidInput)

	// Truncated mid-slot.
	_, _, err = decodeContainer(data[:len(data)-40])
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCodec_V1Container(t *testing.T) {
	ctx := context.Background()
	const password = "legacy-master-pass-55"

	dek, err := util.NewDEK()
	require.NoError(t, err)
	salt, err := util.RandomBytes(v1SaltSize)
	require.NoError(t, err)

	params := crypto.Params{PBKDF2Iterations: crypto.MinPBKDF2Iterations}
	kek, err := crypto.DeriveKEK(password, crypto.AlgPBKDF2, salt, params)
	require.NoError(t, err)
	wrapped, err := crypto.WrapDEK(kek, dek)
	require.NoError(t, err)

	data := append([]byte(nil), containerMagic[:]...)
	data = binary.BigEndian.AppendUint32(data, formatV1)
	data = binary.BigEndian.AppendUint32(data, crypto.MinPBKDF2Iterations)
	data = append(data, salt...)
	data = append(data, wrapped...)
	data = append(data, []byte("legacy payload")...)

	ms := storage.NewMemStore()
	require.NoError(t, ms.Save(data))
	v := New(ms)

	// Any username unlocks a single-user container.
	session, err := v.Open(ctx, "whatever", password, nil)
	require.NoError(t, err)
	assert.Equal(t, RoleAdministrator, session.Role())
	require.NoError(t, session.UseDEK(func(got []byte) error {
		assert.Equal(t, dek, got)
		return nil
	}))

	// Adding users and migrating are blocked until the legacy slot is
	// rewritten by a password change.
	err = session.AddUser(ctx, userName, userPass, RoleStandard)
	assert.ErrorIs(t, err, ErrInvalidState)
	err = session.BeginAlgorithmMigration(ctx, crypto.AlgSHA3_512)
	assert.ErrorIs(t, err, ErrInvalidState)

	const newPass = "modernized-pass-word-9"
	require.NoError(t, session.ChangePassword(ctx, "whatever", password, newPass))
	session.Close()

	// The rewrite pinned the claimed username.
	_, err = v.Open(ctx, "someone-else", newPass, nil)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	session2, err := v.Open(ctx, "whatever", newPass, nil)
	require.NoError(t, err)
	require.NoError(t, session2.AddUser(ctx, userName, userPass, RoleStandard))
	session2.Close()
}
