package vault

import (
	"fmt"

	"github.com/nbutton23/zxcvbn-go"

	"github.com/tmorland/vaultkeep/crypto"
)

// DefaultSecurityPolicy returns the policy new vaults start from.
func DefaultSecurityPolicy() SecurityPolicy {
	params := crypto.DefaultParams()
	return SecurityPolicy{
		MinPasswordLength:     10,
		PasswordHistoryDepth:  5,
		KEKAlgorithm:          crypto.AlgPBKDF2,
		UsernameHashAlgorithm: crypto.AlgSHA3_256,
		PBKDF2Iterations:      params.PBKDF2Iterations,
		Argon2MemoryKiB:       params.Argon2MemoryKiB,
		Argon2Time:            params.Argon2Time,
		Argon2Parallelism:     params.Argon2Parallelism,
		TokenAlgorithm:        TokenAlgHMACSHA256,
	}
}

// normalize fills unset cost parameters with defaults and floors the
// PBKDF2 iteration count. DeriveKEK applies the same floor at derivation
// time, so no slot was ever wrapped below it and raising a stored count
// here cannot change the KEK an existing container unwraps with.
func (p *SecurityPolicy) normalize() {
	d := DefaultSecurityPolicy()
	if p.MinPasswordLength == 0 {
		p.MinPasswordLength = d.MinPasswordLength
	}
	if p.MinPasswordLength < 8 {
		p.MinPasswordLength = 8
	}
	if p.MinPasswordLength > 128 {
		p.MinPasswordLength = 128
	}
	if p.PasswordHistoryDepth > MaxPasswordHistoryDepth {
		p.PasswordHistoryDepth = MaxPasswordHistoryDepth
	}
	if !p.KEKAlgorithm.Valid() {
		p.KEKAlgorithm = d.KEKAlgorithm
	}
	if !p.UsernameHashAlgorithm.Valid() {
		p.UsernameHashAlgorithm = d.UsernameHashAlgorithm
	}
	if p.PBKDF2Iterations == 0 {
		p.PBKDF2Iterations = d.PBKDF2Iterations
	}
	if p.PBKDF2Iterations < crypto.MinPBKDF2Iterations {
		p.PBKDF2Iterations = crypto.MinPBKDF2Iterations
	}
	if p.Argon2MemoryKiB == 0 {
		p.Argon2MemoryKiB = d.Argon2MemoryKiB
	}
	if p.Argon2Time == 0 {
		p.Argon2Time = d.Argon2Time
	}
	if p.Argon2Parallelism == 0 {
		p.Argon2Parallelism = d.Argon2Parallelism
	}
	if p.TokenAlgorithm == TokenAlgNone {
		p.TokenAlgorithm = d.TokenAlgorithm
	}
}

func (p *SecurityPolicy) validate() error {
	if !p.KEKAlgorithm.Valid() {
		return fmt.Errorf("%w: invalid KEK algorithm", ErrInvalidInput)
	}
	if !p.UsernameHashAlgorithm.Valid() {
		return fmt.Errorf("%w: invalid username hash algorithm", ErrInvalidInput)
	}
	if p.MigrationActive() && !p.PreviousUsernameHashAlgorithm.Valid() {
		return fmt.Errorf("%w: migration active without previous algorithm", ErrInvalidInput)
	}
	return nil
}

// PasswordStrength scores a candidate password from 0 (trivial) to 4 using
// the zxcvbn estimator, with the username excluded from credit.
func PasswordStrength(password, username string) int {
	return zxcvbn.PasswordStrength(password, []string{username}).Score
}

// checkPassword applies the policy baseline to a new password.
func checkPassword(policy *SecurityPolicy, username, password string) error {
	if len(password) < int(policy.MinPasswordLength) {
		return fmt.Errorf("%w: shorter than %d characters", ErrWeakPassword, policy.MinPasswordLength)
	}
	if PasswordStrength(password, username) < 1 {
		return fmt.Errorf("%w: guessed too easily", ErrWeakPassword)
	}
	return nil
}

func checkUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: username must not be empty", ErrInvalidInput)
	}
	if len(username) > 255 {
		return fmt.Errorf("%w: username too long", ErrInvalidInput)
	}
	return nil
}
