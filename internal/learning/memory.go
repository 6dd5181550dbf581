package learning

import (
	"context"
	"sort"
	"sync"

	"github.com/surehand-ai/surehand/internal/types"
)

// MemoryStore is an in-process Store for tests and for runs configured
// without a stats database. Outcomes vanish when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	stats  map[string]map[types.StrategyKind]*StrategyStats
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stats: make(map[string]map[types.StrategyKind]*StrategyStats),
	}
}

// RecordOutcome implements Store.
func (m *MemoryStore) RecordOutcome(_ context.Context, app string, strategy types.StrategyKind, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed()
	}

	byStrategy, ok := m.stats[app]
	if !ok {
		byStrategy = make(map[types.StrategyKind]*StrategyStats)
		m.stats[app] = byStrategy
	}
	st, ok := byStrategy[strategy]
	if !ok {
		st = &StrategyStats{App: app, Strategy: strategy}
		byStrategy[strategy] = st
	}
	if success {
		st.Successes++
	} else {
		st.Failures++
	}
	return nil
}

// Stats implements Store. Rows are sorted by strategy name for stable output.
func (m *MemoryStore) Stats(_ context.Context, app string) ([]StrategyStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed()
	}

	byStrategy := m.stats[app]
	out := make([]StrategyStats, 0, len(byStrategy))
	for _, st := range byStrategy {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
