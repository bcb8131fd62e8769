package client

import "sync"

// TokenStore supplies the bearer token for authenticated calls. Frontends
// back this with whatever session storage they use; tests and tools use
// MemoryTokenStore.
type TokenStore interface {
	Token() string
	SetToken(token string)
}

type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryTokenStore(token string) *MemoryTokenStore {
	return &MemoryTokenStore{token: token}
}

func (s *MemoryTokenStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *MemoryTokenStore) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}
