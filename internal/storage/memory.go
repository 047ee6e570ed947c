package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

type object struct {
	contentType string
	data        []byte
}

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]object
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]object)}
}

func (s *MemoryStore) Put(_ context.Context, key, contentType string, body io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{contentType: contentType, data: buf.Bytes()}
	return nil
}

func (s *MemoryStore) URL(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.objects[key]; !ok {
		return "", fmt.Errorf("document %s not found", key)
	}
	return "memory://" + key, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}
