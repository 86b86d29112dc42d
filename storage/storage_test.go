package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.vault")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.Exists())
	_, err = s.Load()
	assert.ErrorIs(t, err, ErrNotFound)

	data := []byte("container bytes")
	require.NoError(t, s.Save(data))
	assert.True(t, s.Exists())

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, data, loaded)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_SaveReplacesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.vault")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save([]byte("first")))
	require.NoError(t, s.Save([]byte("second")))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), loaded)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".vault-")
	}
}

func TestFileStore_Backup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.vault")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()

	// Backing up a missing container is a no-op.
	require.NoError(t, s.Backup())

	require.NoError(t, s.Save([]byte("v1")))
	require.NoError(t, s.Backup())
	require.NoError(t, s.Save([]byte("v2")))

	bak, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), bak)
}

func TestFileStore_SecondOpenLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.vault")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = NewFileStore(path)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()

	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save([]byte("data")))
	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), loaded)

	s.FailSaves = true
	err = s.Save([]byte("other"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	// Failed save leaves prior contents intact.
	loaded, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), loaded)
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.Exists())
	_, err = s.Load()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save([]byte("container")))
	assert.True(t, s.Exists())

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("container"), loaded)

	require.NoError(t, s.Backup())
	require.NoError(t, s.Save([]byte("newer")))

	bak, err := s.get(boltKeyBackup)
	require.NoError(t, err)
	assert.Equal(t, []byte("container"), bak)
}
