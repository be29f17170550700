package credstore

import (
	"context"
	"sync"
)

// MemoryStore keeps the credential in process memory only. It backs
// tests and the ephemeral store mode.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
	set   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.set {
		return "", ErrNoCredential
	}
	return s.token, nil
}

func (s *MemoryStore) Set(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
	s.set = true
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.set = false
	return nil
}
