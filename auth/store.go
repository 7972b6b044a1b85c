package auth

import (
	"chat-session/domain"
	"sync"
)

// MemoryTokenStore keeps the credential for the life of the process.
// Writes are last-write-wins.
type MemoryTokenStore struct {
	mu         sync.RWMutex
	credential domain.Credential
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Set(credential domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = credential
	return nil
}

func (s *MemoryTokenStore) Get() (domain.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential, !s.credential.IsZero()
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = domain.Credential{}
	return nil
}
