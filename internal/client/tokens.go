package client

import (
	"sync"

	"github.com/homegoods/storefront/internal/devicestore"
)

// TokenStore persists the provider tokens between runs
type TokenStore interface {
	Load() (devicestore.Tokens, bool, error)
	Save(tokens devicestore.Tokens) error
	Clear() error
}

// MemoryTokenStore keeps tokens for the life of the process
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens *devicestore.Tokens
}

// Load implements TokenStore
func (m *MemoryTokenStore) Load() (devicestore.Tokens, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		return devicestore.Tokens{}, false, nil
	}
	return *m.tokens, true, nil
}

// Save implements TokenStore
func (m *MemoryTokenStore) Save(tokens devicestore.Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = &tokens
	return nil
}

// Clear implements TokenStore
func (m *MemoryTokenStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = nil
	return nil
}
