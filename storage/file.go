package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileStore keeps the vault container in a single file. Writes go through a
// temp file plus rename so a crash never leaves a half-written container,
// and an advisory flock keeps two processes from opening the same vault.
type FileStore struct {
	path string
	lock *flock.Flock
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store for the container at path, taking the
// advisory lock immediately. Returns ErrLocked if another process holds it.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("container path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating vault directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring container lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	return &FileStore{path: path, lock: lock}, nil
}

// Path returns the container path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading container: %w", err)
	}
	return data, nil
}

func (s *FileStore) Save(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".vault-*")
	if err != nil {
		return fmt.Errorf("creating temp container: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp container: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("setting container permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp container: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp container: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing container: %w", err)
	}
	return nil
}

func (s *FileStore) Backup() error {
	src, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("opening container for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(s.path+".bak", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("writing backup: %w", err)
	}
	return dst.Close()
}

func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

func (s *FileStore) Close() error {
	if s.lock == nil {
		return nil
	}
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("releasing container lock: %w", err)
	}
	return nil
}
