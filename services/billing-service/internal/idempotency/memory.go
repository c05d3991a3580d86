package idempotency

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is a process-local Guard for tests and the webhook simulator. It does not
// survive restarts.
type Memory struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{seen: map[string]time.Time{}, now: time.Now}
}

func (m *Memory) HasProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[strings.TrimSpace(eventID)]
	return ok, nil
}

func (m *Memory) MarkProcessed(_ context.Context, eventID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := strings.TrimSpace(eventID)
	if _, ok := m.seen[id]; !ok {
		m.seen[id] = m.now()
	}
	return nil
}

func (m *Memory) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, at := range m.seen {
		if at.Before(olderThan) {
			delete(m.seen, id)
			n++
		}
	}
	return n, nil
}
