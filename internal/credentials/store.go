package credentials

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists credentials keyed by (user, provider).
type Store interface {
	Get(ctx context.Context, userID, provider string) (Credential, error)
	Update(ctx context.Context, cred Credential) error
	Delete(ctx context.Context, userID, provider string) error
	List(ctx context.Context, userID string) ([]Credential, error)
}

type credentialKey struct {
	userID   string
	provider string
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[credentialKey]Credential
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{credentials: make(map[credentialKey]Credential)}
}

// Get returns the credential for userID and provider.
func (s *MemoryStore) Get(_ context.Context, userID, provider string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[credentialKey{userID, provider}]
	if !ok {
		return Credential{}, fmt.Errorf("%w: %s", ErrCredentialNotFound, provider)
	}
	return cred, nil
}

// Update inserts or replaces a credential.
func (s *MemoryStore) Update(_ context.Context, cred Credential) error {
	if cred.UserID == "" || cred.Provider == "" {
		return fmt.Errorf("credential requires user and provider")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[credentialKey{cred.UserID, cred.Provider}] = cred
	return nil
}

// Delete removes a credential. Deleting a missing credential is not an error.
func (s *MemoryStore) Delete(_ context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, credentialKey{userID, provider})
	return nil
}

// List returns the user's credentials ordered by provider.
func (s *MemoryStore) List(_ context.Context, userID string) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Credential
	for key, cred := range s.credentials {
		if key.userID == userID {
			out = append(out, cred)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}
