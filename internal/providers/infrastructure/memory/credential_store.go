package memory

import (
	"context"
	"sync"

	"watt-rewards/internal/providers"
)

// CredentialStore is an in-memory providers.CredentialStore for tests.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]providers.Credentials
}

// NewCredentialStore constructs an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[string]providers.Credentials)}
}

func credKey(userID, provider string) string {
	return userID + "|" + provider
}

// Get returns stored credentials for a (user, provider) pair.
func (s *CredentialStore) Get(ctx context.Context, userID, provider string) (providers.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds, ok := s.creds[credKey(userID, provider)]
	if !ok {
		return providers.Credentials{}, providers.ErrCredentialsNotFound
	}
	return creds, nil
}

// Save upserts credentials for a (user, provider) pair.
func (s *CredentialStore) Save(ctx context.Context, userID, provider string, creds providers.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[credKey(userID, provider)] = creds
	return nil
}
