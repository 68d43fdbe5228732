package store

import (
	"context"
	"sync"
)

// Memory is an in-memory BlobStore. Used as the fast tier in tests and for
// single-process deployments that don't want a disk cache.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

// Get returns the stored document for key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(doc))
	copy(cp, doc)
	return cp, true, nil
}

// Put stores a copy of doc under key.
func (m *Memory) Put(_ context.Context, key string, doc []byte) error {
	cp := make([]byte, len(doc))
	copy(cp, doc)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = cp
	return nil
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
