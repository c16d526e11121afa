package subscription

import (
	"context"
	"sort"
	"sync"
	"time"
)

type ownerRecord struct {
	chatID string
	rules  []Subscription
}

// Memory is an in-process Store used when no database is configured, and in
// tests. The single mutex makes every read-modify-write atomic.
type Memory struct {
	mu     sync.Mutex
	owners map[string]*ownerRecord
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{owners: make(map[string]*ownerRecord)}
}

// List returns a copy of the owner's rules.
func (m *Memory) List(_ context.Context, owner string) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.owners[owner]
	if !ok {
		return []Subscription{}, nil
	}
	return append([]Subscription(nil), rec.rules...), nil
}

// ListAll returns every owner's rules, sorted by owner for deterministic
// evaluation order across passes.
func (m *Memory) ListAll(_ context.Context) ([]OwnerRules, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]OwnerRules, 0, len(m.owners))
	for owner, rec := range m.owners {
		all = append(all, OwnerRules{
			Owner:  owner,
			ChatID: rec.chatID,
			Rules:  append([]Subscription(nil), rec.rules...),
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Owner < all[j].Owner })
	return all, nil
}

// Add appends a rule to the owner's list.
func (m *Memory) Add(_ context.Context, owner, chatID string, rule Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.owners[owner]
	if !ok {
		rec = &ownerRecord{}
		m.owners[owner] = rec
	}
	if chatID != "" {
		rec.chatID = chatID
	}
	rec.rules = append(rec.rules, rule)
	return nil
}

// Remove deletes the rule at index.
func (m *Memory) Remove(_ context.Context, owner string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.owners[owner]
	if !ok || index < 0 || index >= len(rec.rules) {
		return ErrNotFound
	}
	rec.rules = append(rec.rules[:index], rec.rules[index+1:]...)
	return nil
}

// RecordNotified stamps LastNotifiedAt on one rule.
func (m *Memory) RecordNotified(_ context.Context, owner string, index int, when time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.owners[owner]
	if !ok || index < 0 || index >= len(rec.rules) {
		return ErrNotFound
	}
	stamped := when
	rec.rules[index].LastNotifiedAt = &stamped
	return nil
}

var _ Store = (*Memory)(nil)
