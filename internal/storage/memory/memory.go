// Package memory is the default in-process source blob store.
package memory

import (
	"context"
	"fmt"
	"sync"
)

type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string][]byte),
	}
}

func (s *MemoryStorage) Upload(ctx context.Context, objectPath string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectPath] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStorage) Download(ctx context.Context, objectPath string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[objectPath]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", objectPath)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStorage) ShutDown(ctx context.Context) {}
