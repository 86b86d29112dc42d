package storage

import "sync"

// MemStore is an in-memory Store for tests and short-lived embedders.
type MemStore struct {
	mu     sync.Mutex
	data   []byte
	backup []byte

	// FailSaves makes every Save return an error, for exercising
	// persistence-failure paths.
	FailSaves bool

	// SaveCount counts successful saves.
	SaveCount int
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

type memSaveError struct{}

func (memSaveError) Error() string { return "memory store: save disabled" }

func (s *MemStore) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, ErrNotFound
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

func (s *MemStore) Save(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves {
		return memSaveError{}
	}
	s.data = make([]byte, len(data))
	copy(s.data, data)
	s.SaveCount++
	return nil
}

func (s *MemStore) Backup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil
	}
	s.backup = make([]byte, len(s.data))
	copy(s.backup, s.data)
	return nil
}

func (s *MemStore) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data != nil
}

func (s *MemStore) Close() error { return nil }
