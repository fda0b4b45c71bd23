package store

import (
	"context"
	"sync"
	"time"
)

var _ CredentialStore = &MemoryStore{}

// MemoryStore is an in-memory CredentialStore for development and tests.
// Credentials are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	clients map[string]ClientCredential
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients: make(map[string]ClientCredential),
	}
}

// Put upserts the credential fields for a client.
func (s *MemoryStore) Put(_ context.Context, clientID string, cred ClientCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.clients[clientID]
	rec.ClientID = clientID
	rec.AccessToken = cred.AccessToken
	rec.RefreshToken = cred.RefreshToken
	rec.Expiry = cred.Expiry
	rec.UpdatedAt = time.Now().UTC()
	s.clients[clientID] = rec
	return nil
}

// Get returns the stored credential for a client.
func (s *MemoryStore) Get(_ context.Context, clientID string) (ClientCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.clients[clientID]
	if !ok {
		return ClientCredential{}, ErrNotFound
	}
	if rec.AccessToken == "" {
		return ClientCredential{}, ErrNoCredential
	}
	return rec, nil
}

// Clear nulls the token fields of an existing client record.
func (s *MemoryStore) Clear(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.clients[clientID]
	if !ok {
		return ErrNotFound
	}
	rec.AccessToken = ""
	rec.RefreshToken = ""
	rec.Expiry = time.Time{}
	rec.UpdatedAt = time.Now().UTC()
	s.clients[clientID] = rec
	return nil
}
