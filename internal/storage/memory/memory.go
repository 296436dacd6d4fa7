// internal/storage/memory/memory.go
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/launchfund/engine/internal/storage"
)

// Store is an in-memory storage.Store used in tests and single-process
// deployments. Values are copied on the way in and out.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, storage.ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	if key == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

var _ storage.Store = (*Store)(nil)
