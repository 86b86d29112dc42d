package vault

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates malformed parameters, rejected before any
	// cryptography runs.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCryptoFailure indicates an underlying primitive failed. Always
	// fatal to the current call, never partially applied.
	ErrCryptoFailure = errors.New("cryptographic failure")
	// ErrAuthenticationFailed indicates the supplied credentials could not
	// unlock the vault.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrUserNotFound wraps ErrAuthenticationFailed so callers cannot tell
	// an unknown username from a wrong password via errors.Is, which would
	// otherwise enable username enumeration.
	ErrUserNotFound = fmt.Errorf("%w: unknown user", ErrAuthenticationFailed)
	// ErrPermissionDenied indicates a non-administrator attempted an
	// administrator-only operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrPersistenceFailed indicates the container could not be written.
	ErrPersistenceFailed = errors.New("persisting vault failed")
	// ErrInvalidState indicates an operation on a vault that is not open,
	// or a second open while a session is active.
	ErrInvalidState = errors.New("invalid vault state")

	// ErrUserExists is returned by AddUser for a duplicate username.
	ErrUserExists = errors.New("user already exists")
	// ErrLastAdministrator is returned when removing a user would leave the
	// vault without an active administrator.
	ErrLastAdministrator = errors.New("cannot remove the last administrator")
	// ErrWeakPassword indicates a password below the vault policy baseline.
	ErrWeakPassword = errors.New("password does not meet vault policy")
	// ErrPasswordReuse indicates the new password matches one in the
	// user's password history.
	ErrPasswordReuse = errors.New("password was used previously")
	// ErrMaxUsers indicates all key slots are occupied.
	ErrMaxUsers = errors.New("no free key slots")
)
