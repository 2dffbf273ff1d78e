// Package memory provides registry implementations for local development and
// tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/leadharvest/orchestrator/internal/scrape"
)

// Registry is an in-memory scrape.Registry. Every mutation holds the write
// lock for the whole read-check-write step, so transitions behave as atomic
// conditional updates exactly like the Postgres implementation.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]scrape.Project
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		projects: make(map[string]scrape.Project),
	}
}

// Create stores a new project record.
func (r *Registry) Create(_ context.Context, project scrape.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.projects[project.ID]; exists {
		return scrape.ErrConflict
	}
	r.projects[project.ID] = project
	return nil
}

// Get fetches a project by ID.
func (r *Registry) Get(_ context.Context, id string) (scrape.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	project, ok := r.projects[id]
	if !ok {
		return scrape.Project{}, scrape.ErrNotFound
	}
	return project, nil
}

// List returns projects filtered by optional status, newest first.
func (r *Registry) List(_ context.Context, status *scrape.Status, limit, offset int) ([]scrape.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := make([]scrape.Project, 0, len(r.projects))
	for _, p := range r.projects {
		if status != nil && p.Status != *status {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if offset >= len(matched) {
		return []scrape.Project{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	out := make([]scrape.Project, len(matched))
	copy(out, matched)
	return out, nil
}

// Count returns the number of projects matching the filter.
func (r *Registry) Count(_ context.Context, status *scrape.Status) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if status == nil {
		return int64(len(r.projects)), nil
	}
	var n int64
	for _, p := range r.projects {
		if p.Status == *status {
			n++
		}
	}
	return n, nil
}

// CountByStatus returns project counts keyed by status.
func (r *Registry) CountByStatus(_ context.Context) (map[scrape.Status]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[scrape.Status]int64)
	for _, p := range r.projects {
		out[p.Status]++
	}
	return out, nil
}

// Transition applies event under the write lock. The losing side of a race
// observes ErrInvalidTransition because the winner already moved the status.
func (r *Registry) Transition(_ context.Context, id string, event scrape.Event) (scrape.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	project, ok := r.projects[id]
	if !ok {
		return scrape.Project{}, scrape.ErrNotFound
	}
	next, err := scrape.Next(project.Status, event)
	if err != nil {
		return scrape.Project{}, err
	}
	now := time.Now().UTC()
	project.Status = next
	switch event {
	case scrape.EventDispatch:
		if project.StartedAt == nil {
			started := now
			project.StartedAt = &started
		}
	case scrape.EventFinish, scrape.EventFail:
		finished := now
		project.FinishedAt = &finished
	case scrape.EventRecover:
		// The attempt spends inside the same guarded step, so a sweep
		// that loses the race consumes nothing.
		project.Attempts++
	case scrape.EventReset:
		project.ProcessedUnits = 0
		project.ResultCount = 0
		project.Attempts = 0
		project.ErrorText = ""
		project.StartedAt = nil
		project.FinishedAt = nil
	}
	r.projects[id] = project
	return project, nil
}

// RecordProgress applies monotonic unit deltas. Unknown projects are dropped
// silently: a late event from a worker whose project was deleted is not an
// error.
func (r *Registry) RecordProgress(_ context.Context, id string, processedDelta, resultDelta int64, at time.Time) error {
	if processedDelta < 0 || resultDelta < 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	project, ok := r.projects[id]
	if !ok {
		return nil
	}
	project.ProcessedUnits += processedDelta
	if project.TotalUnits > 0 && project.ProcessedUnits > project.TotalUnits {
		project.ProcessedUnits = project.TotalUnits
	}
	project.ResultCount += resultDelta
	if at.After(project.LastProgressAt) {
		project.LastProgressAt = at
	}
	r.projects[id] = project
	return nil
}

// SetTotals fixes the unit denominator for a project.
func (r *Registry) SetTotals(_ context.Context, id string, totalUnits int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	project, ok := r.projects[id]
	if !ok {
		return scrape.ErrNotFound
	}
	project.TotalUnits = totalUnits
	r.projects[id] = project
	return nil
}

// SetError records the failure reason.
func (r *Registry) SetError(_ context.Context, id string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	project, ok := r.projects[id]
	if !ok {
		return scrape.ErrNotFound
	}
	project.ErrorText = reason
	r.projects[id] = project
	return nil
}

// Delete removes the project record immediately.
func (r *Registry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[id]; !ok {
		return scrape.ErrNotFound
	}
	delete(r.projects, id)
	return nil
}
