//go:build linux || darwin || freebsd || netbsd || openbsd

package util

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// LockBytes pins b against swap. Failure is logged and ignored: systems with
// a low RLIMIT_MEMLOCK still work, they just lose the swap guarantee.
func LockBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	if err := unix.Mlock(b); err != nil {
		slog.Warn("mlock failed, key material may be swappable", "error", err)
	}
}

// UnlockBytes releases a LockBytes pin. The region should be wiped first.
func UnlockBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	if err := unix.Munlock(b); err != nil {
		slog.Warn("munlock failed", "error", err)
	}
}
