package contacts

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store used in tests and sandbox mode
type Memory struct {
	mu       sync.RWMutex
	contacts map[string]Contact
}

// NewMemory creates a memory store seeded with the given contacts
func NewMemory(seed ...Contact) *Memory {
	m := &Memory{contacts: make(map[string]Contact, len(seed))}
	for _, c := range seed {
		m.contacts[c.ID] = c
	}
	return m
}

// Add inserts or replaces a contact
func (m *Memory) Add(c Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[c.ID] = c
}

// Get returns a contact by id
func (m *Memory) Get(id string) (Contact, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[id]
	return c, ok
}

// List returns contacts matching the query in id order
func (m *Memory) List(ctx context.Context, q Query) ([]Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Contact{}
	for _, c := range m.contacts {
		if len(q.RegionIDs) > 0 && !contains(q.RegionIDs, c.RegionID) {
			continue
		}
		if len(q.ClientStatuses) > 0 && !contains(q.ClientStatuses, c.Status) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MarkCampaigned bumps the contact's campaign history
func (m *Memory) MarkCampaigned(ctx context.Context, contactID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contacts[contactID]
	if !ok {
		return nil
	}
	c.CampaignCount++
	t := at
	c.LastCampaignAt = &t
	m.contacts[contactID] = c
	return nil
}

// Close is a no-op
func (m *Memory) Close() error { return nil }

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
