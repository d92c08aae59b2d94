package store

import (
	"context"
	"sync"
)

const (
	defaultMaxPerUser = 1000
	defaultMaxEvents  = 10000
)

// Memory keeps everything in process. Older records are dropped past the
// per-user and event caps; counts keep growing.
type Memory struct {
	mu           sync.RWMutex
	interactions map[string][]Interaction
	counts       map[string]int64
	events       []Event
	maxPerUser   int
	maxEvents    int
}

func NewMemory() *Memory {
	return &Memory{
		interactions: make(map[string][]Interaction),
		counts:       make(map[string]int64),
		maxPerUser:   defaultMaxPerUser,
		maxEvents:    defaultMaxEvents,
	}
}

func (m *Memory) AppendInteraction(ctx context.Context, in Interaction) error {
	if err := in.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.interactions[in.UserID], in)
	if len(list) > m.maxPerUser {
		list = list[len(list)-m.maxPerUser:]
	}
	m.interactions[in.UserID] = list
	m.counts[in.UserID]++
	return nil
}

func (m *Memory) RecentInteractions(ctx context.Context, userID string, limit int) ([]Interaction, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.interactions[userID]
	n := min(limit, len(list))
	out := make([]Interaction, 0, n)
	for i := len(list) - 1; i >= len(list)-n; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (m *Memory) CountInteractions(ctx context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[userID], nil
}

func (m *Memory) AppendEvent(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	if len(m.events) > m.maxEvents {
		m.events = m.events[len(m.events)-m.maxEvents:]
	}
	return nil
}

// Events returns a copy of the retained events, oldest first.
func (m *Memory) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event(nil), m.events...)
}

func (m *Memory) Close() error { return nil }
