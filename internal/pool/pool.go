// Package pool tracks worker liveness from heartbeats.
package pool

import (
	"sort"
	"sync"
	"time"

	"github.com/leadharvest/orchestrator/internal/scrape"
)

// DefaultHeartbeatInterval is the expected gap between worker heartbeats.
const DefaultHeartbeatInterval = 10 * time.Second

// evictionMultiple is how many missed intervals mark a worker dead.
const evictionMultiple = 3

// Coordinator records worker heartbeats and answers liveness queries.
// Eviction is lazy: a worker whose last heartbeat is older than three
// intervals drops out of counts on the next read, without a background
// reaper.
type Coordinator struct {
	mu       sync.RWMutex
	interval time.Duration
	clock    scrape.Clock
	workers  map[string]scrape.WorkerHandle
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewCoordinator creates a Coordinator. A zero interval falls back to
// DefaultHeartbeatInterval; a nil clock uses the system clock.
func NewCoordinator(interval time.Duration, clock scrape.Clock) *Coordinator {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Coordinator{
		interval: interval,
		clock:    clock,
		workers:  make(map[string]scrape.WorkerHandle),
	}
}

// Heartbeat records that the worker is alive and whether it currently holds
// a task. An unknown worker ID registers itself on first beat.
func (c *Coordinator) Heartbeat(workerID string, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers[workerID] = scrape.WorkerHandle{
		WorkerID:        workerID,
		LastHeartbeatAt: c.clock.Now(),
		Active:          active,
	}
}

// Deregister removes the worker immediately, ahead of lazy eviction. Workers
// call this on clean shutdown.
func (c *Coordinator) Deregister(workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.workers, workerID)
}

func (c *Coordinator) cutoff() time.Time {
	return c.clock.Now().Add(-evictionMultiple * c.interval)
}

// Count returns the number of live workers.
func (c *Coordinator) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cutoff := c.cutoff()
	n := 0
	for _, w := range c.workers {
		if w.LastHeartbeatAt.After(cutoff) {
			n++
		}
	}
	return n
}

// ActiveCount returns the number of live workers currently holding a task.
func (c *Coordinator) ActiveCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cutoff := c.cutoff()
	n := 0
	for _, w := range c.workers {
		if w.Active && w.LastHeartbeatAt.After(cutoff) {
			n++
		}
	}
	return n
}

// Healthy reports whether at least one worker is live.
func (c *Coordinator) Healthy() bool {
	return c.Count() > 0
}

// Snapshot returns the live workers ordered by ID, and prunes entries that
// have gone stale.
func (c *Coordinator) Snapshot() []scrape.WorkerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.cutoff()
	out := make([]scrape.WorkerHandle, 0, len(c.workers))
	for id, w := range c.workers {
		if !w.LastHeartbeatAt.After(cutoff) {
			delete(c.workers, id)
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}
