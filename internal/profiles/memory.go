package profiles

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Registry for tests and sandbox mode
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewMemory creates a memory registry seeded with the given profiles
func NewMemory(seed ...Profile) *Memory {
	m := &Memory{profiles: make(map[string]Profile, len(seed))}
	for _, p := range seed {
		m.profiles[p.ID] = p
	}
	return m
}

// Add inserts or replaces a profile
func (m *Memory) Add(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

// Get returns one profile by id
func (m *Memory) Get(ctx context.Context, id string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

// List returns the given profiles, skipping unknown ids. With no ids
// every profile is returned.
func (m *Memory) List(ctx context.Context, ids []string) ([]Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(ids) == 0 {
		out := make([]Profile, 0, len(m.profiles))
		for _, p := range m.profiles {
			out = append(out, p)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	}

	out := make([]Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
