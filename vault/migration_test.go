package vault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmorland/vaultkeep/crypto"
)

func TestMigration_Lifecycle(t *testing.T) {
	ctx := context.Background()
	v, admin, _ := createTestVault(t)
	require.NoError(t, admin.AddUser(ctx, userName, userPass, RoleStandard))

	require.NoError(t, admin.BeginAlgorithmMigration(ctx, crypto.AlgSHA3_512))

	report, err := admin.MigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, MigrationInProgress, report.Phase)
	assert.Equal(t, 0, report.Migrated)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, crypto.AlgSHA3_256, report.From)
	assert.Equal(t, crypto.AlgSHA3_512, report.To)
	admin.Close()

	// Logging in under the previous algorithm migrates the slot.
	admin2 := reopen(t, v, adminName, adminPass, nil)
	report, err = admin2.MigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, MigrationInProgress, report.Phase)
	assert.Equal(t, 1, report.Migrated)

	err = admin2.ConfirmMigration(ctx)
	assert.ErrorIs(t, err, ErrInvalidState)
	admin2.Close()

	bob := reopen(t, v, userName, userPass, nil)
	report, err = bob.MigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, MigrationComplete, report.Phase)
	assert.Equal(t, 2, report.Migrated)
	bob.Close()

	admin3 := reopen(t, v, adminName, adminPass, nil)
	require.NoError(t, admin3.ConfirmMigration(ctx))

	report, err = admin3.MigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, MigrationInactive, report.Phase)
	assert.Equal(t, crypto.AlgSHA3_512, report.To)
	admin3.Close()

	// Logins keep working on the new algorithm after confirmation.
	reopen(t, v, adminName, adminPass, nil)
}

func TestMigration_ToArgon2id(t *testing.T) {
	ctx := context.Background()
	v, admin, _ := createTestVault(t)
	require.NoError(t, admin.BeginAlgorithmMigration(ctx, crypto.AlgArgon2id))
	admin.Close()

	// The next login rehashes the slot under the memory-hard algorithm.
	session := reopen(t, v, adminName, adminPass, nil)
	report, err := session.MigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, MigrationComplete, report.Phase)
	assert.Equal(t, crypto.AlgSHA3_256, report.From)
	assert.Equal(t, crypto.AlgArgon2id, report.To)

	require.NoError(t, session.ConfirmMigration(ctx))
	session.Close()

	reopen(t, v, adminName, adminPass, nil)
}

func TestMigration_Begin_Validation(t *testing.T) {
	ctx := context.Background()
	_, admin, _ := createTestVault(t)

	err := admin.BeginAlgorithmMigration(ctx, crypto.AlgSHA3_256)
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = admin.BeginAlgorithmMigration(ctx, crypto.Algorithm(0x7F))
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, admin.BeginAlgorithmMigration(ctx, crypto.AlgSHA3_384))
	err = admin.BeginAlgorithmMigration(ctx, crypto.AlgSHA3_512)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestMigration_Begin_NotAdmin(t *testing.T) {
	ctx := context.Background()
	v, admin, _ := createTestVault(t)
	require.NoError(t, admin.AddUser(ctx, userName, userPass, RoleStandard))
	admin.Close()

	bob := reopen(t, v, userName, userPass, nil)
	err := bob.BeginAlgorithmMigration(ctx, crypto.AlgSHA3_512)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	err = bob.ConfirmMigration(ctx)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestMigration_WrongPasswordDoesNotMigrate(t *testing.T) {
	ctx := context.Background()
	v, admin, _ := createTestVault(t)
	require.NoError(t, admin.BeginAlgorithmMigration(ctx, crypto.AlgSHA3_512))
	admin.Close()

	_, err := v.Open(ctx, adminName, "wrong-password-123", nil)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	// The failed attempt must not have advanced the slot.
	session := reopen(t, v, adminName, adminPass, nil)
	report, err := session.MigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Migrated)
}

func TestMigration_PersistFailureStillAuthenticates(t *testing.T) {
	ctx := context.Background()
	v, admin, ms := createTestVault(t)
	require.NoError(t, admin.AddUser(ctx, userName, userPass, RoleStandard))
	require.NoError(t, admin.BeginAlgorithmMigration(ctx, crypto.AlgSHA3_512))
	admin.Close()

	ms.FailSaves = true
	session, err := v.Open(ctx, adminName, adminPass, nil)
	require.NoError(t, err)

	// Session works even though the rehash could not be written.
	require.NoError(t, session.UseDEK(func(dek []byte) error { return nil }))
	report, err := session.MigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, 0, report.Migrated)
	session.Close()

	// Next login retries the rehash and succeeds.
	ms.FailSaves = false
	session2 := reopen(t, v, adminName, adminPass, nil)
	report, err = session2.MigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Migrated)
	assert.Equal(t, MigrationInProgress, report.Phase)
}

func TestMigration_NewUserStartsMigrated(t *testing.T) {
	ctx := context.Background()
	_, admin, _ := createTestVault(t)
	require.NoError(t, admin.BeginAlgorithmMigration(ctx, crypto.AlgSHA3_512))

	require.NoError(t, admin.AddUser(ctx, userName, userPass, RoleStandard))

	report, err := admin.MigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Migrated)
	assert.Equal(t, 2, report.Total)
}

func TestMigration_ChangePasswordMigratesSlot(t *testing.T) {
	ctx := context.Background()
	_, admin, _ := createTestVault(t)
	require.NoError(t, admin.AddUser(ctx, userName, userPass, RoleStandard))
	require.NoError(t, admin.BeginAlgorithmMigration(ctx, crypto.AlgSHA3_512))

	// An administrator reset rewrites the slot under the new algorithm
	// without waiting for the user to log in.
	require.NoError(t, admin.ChangePassword(ctx, userName, "", "quartz-lantern-drift-3"))

	report, err := admin.MigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Migrated)
	assert.NotZero(t, admin.vault.header.Slots[1].MigratedAt)
}
