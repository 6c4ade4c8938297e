package contract

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps contracts in process. Tests and single-node deployments
// without DATABASE_URL use it.
type MemoryStore struct {
	mu        sync.RWMutex
	suppliers map[string]map[entryKey]decimal.Decimal
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{suppliers: make(map[string]map[entryKey]decimal.Decimal)}
}

// UpsertDiscounts validates the batch and merges it in one step.
func (m *MemoryStore) UpsertDiscounts(_ context.Context, supplier string, entries []Entry) error {
	supplier, entries = Normalize(supplier, entries)
	if err := Validate(supplier, entries); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	table, ok := m.suppliers[supplier]
	if !ok {
		table = make(map[entryKey]decimal.Decimal, len(entries))
		m.suppliers[supplier] = table
	}
	for _, e := range entries {
		table[e.key()] = e.Percent
	}
	return nil
}

// Lookup implements Store.
func (m *MemoryStore) Lookup(_ context.Context, supplier, category, country string) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	table := m.suppliers[supplier]
	if table == nil {
		return decimal.Zero, false, nil
	}
	if country != "" {
		if pct, ok := table[entryKey{category: category, country: country}]; ok {
			return pct, true, nil
		}
	}
	pct, ok := table[entryKey{category: category}]
	return pct, ok, nil
}

// List implements Store. Entries are ordered by category then country.
func (m *MemoryStore) List(_ context.Context, supplier string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	table := m.suppliers[supplier]
	out := make([]Entry, 0, len(table))
	for k, pct := range table {
		out = append(out, Entry{Category: k.category, Country: k.country, Percent: pct})
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Category != entries[j].Category {
			return entries[i].Category < entries[j].Category
		}
		return entries[i].Country < entries[j].Country
	})
}
