// Package memory stores archive artifacts in-memory for development.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// ArchiveStore stores artifacts in-memory and returns pseudo URIs.
type ArchiveStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates a new in-memory archive store.
func New() *ArchiveStore {
	return &ArchiveStore{data: make(map[string][]byte)}
}

// Put persists a copy of the content and returns a memory:// URI.
func (s *ArchiveStore) Put(_ context.Context, path string, _ string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns a stored artifact; the second return reports presence.
func (s *ArchiveStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	return data, ok
}
