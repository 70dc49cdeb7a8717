package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aretw0/interplay/pkg/domain"
)

// Store implements ports.StateBackend in memory.
// It keeps the encoded document, so saved state goes through the same
// serialization as the durable backends. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	data        []byte
	quarantined [][]byte
	saves       int
	failSaves   error
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{}
}

// Save encodes and keeps the state.
func (s *Store) Save(ctx context.Context, state *domain.AppState) error {
	data, err := domain.MarshalState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves != nil {
		return s.failSaves
	}
	s.data = data
	s.saves++
	return nil
}

// Load decodes the kept state.
func (s *Store) Load(ctx context.Context) (*domain.AppState, error) {
	s.mu.RLock()
	data := s.data
	s.mu.RUnlock()

	if data == nil {
		return nil, domain.ErrStateNotFound
	}
	state, err := domain.UnmarshalState(data)
	if err != nil {
		return nil, errors.Join(domain.ErrStateCorrupt, err)
	}
	return state, nil
}

// Quarantine moves the current document to the quarantine list.
func (s *Store) Quarantine(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return "", domain.ErrStateNotFound
	}
	s.quarantined = append(s.quarantined, s.data)
	s.data = nil
	return fmt.Sprintf("memory:quarantine/%d", len(s.quarantined)-1), nil
}

// Delete drops the state.
func (s *Store) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}

// SetRaw replaces the kept document with arbitrary bytes.
func (s *Store) SetRaw(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
}

// Raw returns the kept document.
func (s *Store) Raw() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.data...)
}

// Quarantined returns the documents moved aside by Quarantine.
func (s *Store) Quarantined() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([][]byte(nil), s.quarantined...)
}

// Saves counts successful Save calls.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// FailSaves makes every Save return err until called again with nil.
func (s *Store) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = err
}
