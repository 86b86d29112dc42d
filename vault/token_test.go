package vault

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmorland/vaultkeep/storage"
)

// tokenRespond models an HMAC-SHA256 hardware token with a fixed device
// secret.
func tokenRespond(secret string, challenge []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(challenge)
	return mac.Sum(nil)
}

func enrollTestToken(t *testing.T, session *Session, secret string) []byte {
	t.Helper()
	challenge, err := NewTokenChallenge()
	require.NoError(t, err)
	response := tokenRespond(secret, challenge)
	require.NoError(t, session.EnrollToken(context.Background(), adminPass, challenge, response, []byte("test-device"), ""))
	return challenge
}

func TestToken_EnrollAndOpen(t *testing.T) {
	ctx := context.Background()
	v, admin, _ := createTestVault(t)
	enrollTestToken(t, admin, "device-secret")
	admin.Close()

	// Password alone no longer unwraps the slot.
	_, err := v.Open(ctx, adminName, adminPass, nil)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	// Wrong device, same password.
	challenge, present, err := v.TokenChallenge(adminName)
	require.NoError(t, err)
	require.True(t, present)
	_, err = v.Open(ctx, adminName, adminPass, tokenRespond("other-secret", challenge))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	session := reopen(t, v, adminName, adminPass, tokenRespond("device-secret", challenge))
	assert.Equal(t, adminName, session.Username())
}

func TestToken_WideResponseFoldsConsistently(t *testing.T) {
	ctx := context.Background()
	v, admin, _ := createTestVault(t)

	// A 64-byte response takes the hash-compression path.
	challenge, err := NewTokenChallenge()
	require.NoError(t, err)
	response := make([]byte, 64)
	for i := range response {
		response[i] = byte(i * 3)
	}
	require.NoError(t, admin.EnrollToken(ctx, adminPass, challenge, response, nil, ""))
	admin.Close()

	reopen(t, v, adminName, adminPass, response)
}

func TestToken_Enroll_WrongPassword(t *testing.T) {
	ctx := context.Background()
	_, admin, _ := createTestVault(t)

	challenge, err := NewTokenChallenge()
	require.NoError(t, err)
	err = admin.EnrollToken(ctx, "not-the-password-1", challenge, tokenRespond("s", challenge), nil, "")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestToken_Remove(t *testing.T) {
	ctx := context.Background()
	v, admin, _ := createTestVault(t)
	challenge := enrollTestToken(t, admin, "device-secret")
	response := tokenRespond("device-secret", challenge)

	err := admin.RemoveToken(ctx, adminPass, tokenRespond("other-secret", challenge))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)

	require.NoError(t, admin.RemoveToken(ctx, adminPass, response))
	admin.Close()

	reopen(t, v, adminName, adminPass, nil)
}

func TestToken_SealedPIN(t *testing.T) {
	ctx := context.Background()
	_, admin, _ := createTestVault(t)

	challenge, err := NewTokenChallenge()
	require.NoError(t, err)
	response := tokenRespond("device-secret", challenge)
	require.NoError(t, admin.EnrollToken(ctx, adminPass, challenge, response, nil, "123456"))

	pin, err := admin.OpenSealedPIN(adminPass)
	require.NoError(t, err)
	assert.Equal(t, []byte("123456"), pin)

	_, err = admin.OpenSealedPIN("not-the-password-1")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestToken_RequireTokenFlagsUnenrolledSession(t *testing.T) {
	ctx := context.Background()
	policy := testPolicy()
	policy.RequireToken = true

	v := New(storage.NewMemStore())
	admin, err := v.Create(ctx, adminName, adminPass, policy)
	require.NoError(t, err)
	t.Cleanup(admin.Close)

	// The slot has no token yet, so the session carries the flag.
	assert.True(t, admin.TokenEnrollmentRequired())

	challenge := enrollTestToken(t, admin, "device-secret")
	assert.False(t, admin.TokenEnrollmentRequired())
	admin.Close()

	// An enrolled slot satisfies the requirement on later logins.
	response := tokenRespond("device-secret", challenge)
	session := reopen(t, v, adminName, adminPass, response)
	assert.False(t, session.TokenEnrollmentRequired())

	// Removing the token re-flags the session.
	require.NoError(t, session.RemoveToken(ctx, adminPass, response))
	assert.True(t, session.TokenEnrollmentRequired())
}

func TestToken_NotRequiredByDefault(t *testing.T) {
	_, admin, _ := createTestVault(t)
	assert.False(t, admin.TokenEnrollmentRequired())
}

func TestToken_ChangePasswordClearsEnrollment(t *testing.T) {
	ctx := context.Background()
	v, admin, _ := createTestVault(t)
	enrollTestToken(t, admin, "device-secret")

	const newPass = "meridian-copper-flux-9"
	require.NoError(t, admin.ChangePassword(ctx, adminName, adminPass, newPass))
	admin.Close()

	// The rewrap dropped the token binding; the new password alone works.
	reopen(t, v, adminName, newPass, nil)

	_, present, err := v.TokenChallenge(adminName)
	require.NoError(t, err)
	assert.False(t, present)
}
