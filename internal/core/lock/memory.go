package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/internal/common"
)

type entry struct {
	token     string
	expiresAt time.Time
}

// Memory is an in-process lock table.
type Memory struct {
	mu      sync.Mutex
	entries map[uuid.UUID]entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[uuid.UUID]entry), now: time.Now}
}

// WithClock replaces the time source; tests use it to expire entries.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) live(id uuid.UUID) (entry, bool) {
	e, ok := m.entries[id]
	if !ok {
		return entry{}, false
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, id)
		return entry{}, false
	}
	return e, true
}

func (m *Memory) Acquire(ctx context.Context, id uuid.UUID, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(id); ok {
		return "", common.ErrAlreadyActive
	}
	tok := newToken()
	m.entries[id] = entry{token: tok, expiresAt: m.now().Add(ttl)}
	return tok, nil
}

func (m *Memory) Refresh(ctx context.Context, id uuid.UUID, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	if !ok || e.token != token {
		return ErrNotHeld
	}
	e.expiresAt = m.now().Add(ttl)
	m.entries[id] = e
	return nil
}

func (m *Memory) Release(ctx context.Context, id uuid.UUID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	if !ok || e.token != token {
		return ErrNotHeld
	}
	delete(m.entries, id)
	return nil
}

func (m *Memory) Holder(ctx context.Context, id uuid.UUID) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	return e.token, ok, nil
}
