package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrInvalidInput = errors.New("invalid input")

// Credential is one stored tracker authorization for an owner. ObtainedAt is
// reset every time the access token is replaced.
type Credential struct {
	OwnerID      string
	AccessToken  string
	RefreshToken string
	ObtainedAt   time.Time
}

// Store persists credentials. Get returns (nil, nil) when no credential is
// stored for the owner; absence is a normal outcome, not an error.
type Store interface {
	Get(ctx context.Context, ownerID string) (*Credential, error)
	Put(ctx context.Context, cred *Credential) error
	Delete(ctx context.Context, ownerID string) error
}

type MemoryStore struct {
	mu    sync.Mutex
	creds map[string]Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: map[string]Credential{}}
}

func (s *MemoryStore) Get(_ context.Context, ownerID string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[ownerID]
	if !ok {
		return nil, nil
	}
	copied := cred
	return &copied, nil
}

func (s *MemoryStore) Put(_ context.Context, cred *Credential) error {
	if cred == nil || strings.TrimSpace(cred.OwnerID) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.OwnerID] = *cred
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, ownerID)
	return nil
}
