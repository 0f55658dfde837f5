package storage

import (
	"context"
	"fmt"
	"sync"
)

// LocalStore keeps uploaded objects in process memory. It backs development
// setups without GCS credentials and the test suites. Keys are append-only
// like the real store; writing an existing key is rejected.
type LocalStore struct {
	mu      sync.Mutex
	baseURL string
	objects map[string][]byte
}

// NewLocalStore builds an empty in-memory store. baseURL defaults to
// "memory://" when blank.
func NewLocalStore(baseURL string) *LocalStore {
	if baseURL == "" {
		baseURL = "memory:/"
	}
	return &LocalStore{baseURL: baseURL, objects: make(map[string][]byte)}
}

// Upload stores content under key and returns its URL.
func (s *LocalStore) Upload(_ context.Context, key string, content []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[key]; exists {
		return "", fmt.Errorf("storage: key %q already written", key)
	}
	cp := make([]byte, len(content))
	copy(cp, content)
	s.objects[key] = cp
	return s.baseURL + "/" + key, nil
}

// Get returns the stored bytes for key.
func (s *LocalStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	return b, ok
}

// Len reports the number of stored objects.
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
