package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/elum-utils/gatekeeper/models"
)

// MemoryAdapter is an in-memory term storage.
type MemoryAdapter struct {
	mu    sync.RWMutex
	terms map[string]models.Severity
}

// NewMemoryAdapter creates a memory storage adapter, optionally seeded.
func NewMemoryAdapter(seed ...models.Term) *MemoryAdapter {
	m := &MemoryAdapter{terms: make(map[string]models.Severity, len(seed))}
	for _, t := range seed {
		m.terms[t.Value] = t.Severity
	}
	return m
}

// AddTerm inserts or updates a term.
func (m *MemoryAdapter) AddTerm(_ context.Context, term models.Term) error {
	m.mu.Lock()
	m.terms[term.Value] = term.Severity
	m.mu.Unlock()
	return nil
}

func (m *MemoryAdapter) RemoveTerm(_ context.Context, value string) error {
	m.mu.Lock()
	delete(m.terms, value)
	m.mu.Unlock()
	return nil
}

// GetTerms returns all terms ordered by value.
func (m *MemoryAdapter) GetTerms(_ context.Context) ([]models.Term, error) {
	m.mu.RLock()
	out := make([]models.Term, 0, len(m.terms))
	for v, sev := range m.terms {
		out = append(out, models.Term{Value: v, Severity: sev})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out, nil
}

func (m *MemoryAdapter) TermExists(_ context.Context, value string) (bool, error) {
	m.mu.RLock()
	_, ok := m.terms[value]
	m.mu.RUnlock()
	return ok, nil
}
