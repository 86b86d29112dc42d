//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package util

import "log/slog"

var memlockWarned bool

// LockBytes is a no-op on platforms without an mlock primitive.
func LockBytes(b []byte) {
	if !memlockWarned {
		slog.Warn("memory locking not supported on this platform")
		memlockWarned = true
	}
}

// UnlockBytes is a no-op on platforms without an mlock primitive.
func UnlockBytes(b []byte) {}
