// Package storage provides the container byte-store the vault engine reads
// and writes through. The engine treats a Store as an opaque, reliable
// sequence of bytes: redundancy, forward error correction and transport are
// the store's problem, never the engine's.
package storage

import "errors"

var (
	// ErrNotFound is returned when no container exists yet.
	ErrNotFound = errors.New("vault container not found")
	// ErrLocked is returned when another process holds the container lock.
	ErrLocked = errors.New("vault container is locked by another process")
)

// Store persists a single vault container as one opaque blob.
type Store interface {
	// Load reads the full container. Returns ErrNotFound if it does not
	// exist yet.
	Load() ([]byte, error)
	// Save atomically replaces the container.
	Save(data []byte) error
	// Backup snapshots the current container so a failed rewrite can be
	// recovered by hand. Missing containers back up as a no-op.
	Backup() error
	// Exists reports whether a container is present.
	Exists() bool
	// Close releases any locks or handles held by the store.
	Close() error
}
