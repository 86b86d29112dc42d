package storage

import (
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	boltBucket    = []byte("vault")
	boltKeyData   = []byte("container")
	boltKeyBackup = []byte("container.bak")
)

// BoltStore keeps the vault container inside a BBolt database, for embedders
// that already carry one. BBolt's transactional writes give the same
// atomicity the FileStore gets from rename, and its own file lock covers the
// cross-process exclusion.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore wraps an already-open BBolt database.
func NewBoltStore(db *bbolt.DB) *BoltStore {
	return &BoltStore{db: db}
}

// OpenBoltStore opens (or creates) a BBolt database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewBoltStore(db), nil
}

func (s *BoltStore) get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if b == nil {
			return ErrNotFound
		}
		data := b.Get(key)
		if data == nil {
			return ErrNotFound
		}
		out = make([]byte, len(data))
		copy(out, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) put(key, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) Load() ([]byte, error) {
	return s.get(boltKeyData)
}

func (s *BoltStore) Save(data []byte) error {
	if err := s.put(boltKeyData, data); err != nil {
		return fmt.Errorf("saving container: %w", err)
	}
	return nil
}

func (s *BoltStore) Backup() error {
	data, err := s.get(boltKeyData)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	if err := s.put(boltKeyBackup, data); err != nil {
		return fmt.Errorf("saving backup: %w", err)
	}
	return nil
}

func (s *BoltStore) Exists() bool {
	_, err := s.get(boltKeyData)
	return err == nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
