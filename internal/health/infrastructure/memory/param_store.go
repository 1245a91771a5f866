package memory

import (
	"context"
	"sync"
)

// ParamStore is an in-memory key-value store for unit tests.
type ParamStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewParamStore constructs an empty store.
func NewParamStore() *ParamStore {
	return &ParamStore{values: make(map[string]string)}
}

// Get returns "" for missing keys, matching the Postgres store.
func (s *ParamStore) Get(ctx context.Context, key string) (string, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key], nil
}

// Set upserts one key-value pair.
func (s *ParamStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
