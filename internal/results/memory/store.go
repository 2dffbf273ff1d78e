// Package memory provides the in-memory result store for development and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/leadharvest/orchestrator/internal/scrape"
)

// Store keeps result rows per project in insertion order. Reads copy out
// under a read lock so pagination never blocks appending workers for long.
type Store struct {
	mu      sync.RWMutex
	items   map[string][]scrape.ResultItem
	nextSeq int64
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		items: make(map[string][]scrape.ResultItem),
	}
}

// Append assigns the next insertion key and stores the item.
func (s *Store) Append(_ context.Context, item scrape.ResultItem) (scrape.ResultItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	item.Seq = s.nextSeq
	s.items[item.ProjectID] = append(s.items[item.ProjectID], item)
	return item, nil
}

// CountForProject returns the number of stored items for the project.
func (s *Store) CountForProject(_ context.Context, projectID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.items[projectID])), nil
}

// ListRange returns items ordered by insertion key, sliced by offset/limit.
func (s *Store) ListRange(_ context.Context, projectID string, offset, limit int) ([]scrape.ResultItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.items[projectID]
	if offset >= len(rows) {
		return []scrape.ResultItem{}, nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	out := make([]scrape.ResultItem, len(rows))
	copy(out, rows)
	return out, nil
}

// DeleteForProject drops every row belonging to the project.
func (s *Store) DeleteForProject(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, projectID)
	return nil
}
