package memory

import (
	"context"
	"sync"
)

// IdentityStore is an in-memory implementation of identity.Store, used in
// tests and in deployments without redis. Entries live for the process
// lifetime, which matches the single-browser-session scope.
type IdentityStore struct {
	mu    sync.RWMutex
	users map[string]string
}

func NewIdentityStore() *IdentityStore {
	return &IdentityStore{users: make(map[string]string)}
}

func (s *IdentityStore) GetUserID(_ context.Context, clientKey string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[clientKey], nil
}

func (s *IdentityStore) PutUserID(_ context.Context, clientKey, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[clientKey] = userID
	return nil
}
