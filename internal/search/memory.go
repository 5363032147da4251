package search

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory keeps entries in a map. Used when no backend is configured and in tests.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

func (m *Memory) Put(ctx context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.DocumentID] = doc
	return nil
}

func (m *Memory) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id.String())
	return nil
}

func (m *Memory) Get(id uuid.UUID) (Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id.String()]
	return d, ok
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
