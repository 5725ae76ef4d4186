package identity

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used as a test double.
type MemoryStore struct {
	mu      sync.Mutex
	byAddr  map[string]string // normalized address -> user id
	byID    map[string]Registration
	created int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byAddr: make(map[string]string),
		byID:   make(map[string]Registration),
	}
}

// Register seeds a user for tests.
func (s *MemoryStore) Register(address, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAddr[Normalize(address)] = userID
}

func (s *MemoryStore) UserIDByAddress(_ context.Context, address string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byAddr[Normalize(address)]
	if !ok {
		return "", ErrUserNotFound
	}
	return id, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, reg Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byAddr[reg.Address]; ok {
		return nil
	}
	s.byAddr[reg.Address] = reg.UserID
	s.byID[reg.UserID] = reg
	s.created++
	return nil
}

// Created reports how many registrations were inserted. Test helper.
func (s *MemoryStore) Created() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

var _ Store = (*MemoryStore)(nil)
