package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// InMemoryStore is a map-backed Store used in tests and ephemeral runs. It
// is safe for concurrent use.
type InMemoryStore struct {
	mu      sync.RWMutex
	tables  map[string][]map[string]any
	toggles map[string]bool
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tables:  make(map[string][]map[string]any),
		toggles: make(map[string]bool),
	}
}

// Insert adds one row to the named table.
func (s *InMemoryStore) Insert(ctx context.Context, table string, values map[string]any) error {
	if err := checkIdentifiers(table, values); err != nil {
		return err
	}
	row := make(map[string]any, len(values))
	for k, v := range values {
		row[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append(s.tables[table], row)
	slog.Debug("InMemoryStore Insert succeeded", "table", table, "columns", len(values))
	return nil
}

// Update mutates all rows matching where with the given values.
func (s *InMemoryStore) Update(ctx context.Context, table string, values, where map[string]any) error {
	if err := checkIdentifiers(table, values, where); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := 0
	for _, row := range s.tables[table] {
		if rowMatches(row, where) {
			for k, v := range values {
				row[k] = v
			}
			updated++
		}
	}
	slog.Debug("InMemoryStore Update succeeded", "table", table, "updated", updated)
	return nil
}

// Select returns all rows matching where by exact column match.
func (s *InMemoryStore) Select(ctx context.Context, table string, where map[string]any) ([]map[string]any, error) {
	if err := checkIdentifiers(table, where); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []map[string]any
	for _, row := range s.tables[table] {
		if rowMatches(row, where) {
			copied := make(map[string]any, len(row))
			for k, v := range row {
				copied[k] = v
			}
			out = append(out, copied)
		}
	}
	return out, nil
}

// IsScriptEnabled reports the gating toggle for a script kind, defaulting
// to enabled.
func (s *InMemoryStore) IsScriptEnabled(ctx context.Context, kind string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enabled, ok := s.toggles[kind]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

// SetScriptEnabled stores the gating toggle for a script kind.
func (s *InMemoryStore) SetScriptEnabled(ctx context.Context, kind string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toggles[kind] = enabled
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// RowCount returns the number of rows in a table (for tests).
func (s *InMemoryStore) RowCount(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}

func rowMatches(row map[string]any, where map[string]any) bool {
	for k, want := range where {
		got, ok := row[k]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}
