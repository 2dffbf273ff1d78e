// Package memory provides the in-process task queue implementation.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leadharvest/orchestrator/internal/scrape"
)

// Queue holds the three named FIFO queues plus the claim table. Unclaimed
// tasks belong to the queue; a dequeued task belongs to exactly one worker
// until it is acked or its claim deadline passes.
type Queue struct {
	mu      sync.Mutex
	pending map[string][]scrape.QueueTask
	claims  map[string]scrape.ClaimedTask
	nextID  int64
	clock   scrape.Clock
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewQueue constructs a Queue covering every known queue name.
func NewQueue(clock scrape.Clock) *Queue {
	if clock == nil {
		clock = systemClock{}
	}
	pending := make(map[string][]scrape.QueueTask, len(scrape.QueueNames()))
	for _, name := range scrape.QueueNames() {
		pending[name] = nil
	}
	return &Queue{
		pending: pending,
		claims:  make(map[string]scrape.ClaimedTask),
		clock:   clock,
	}
}

// Enqueue appends the task to the tail of its named queue.
func (q *Queue) Enqueue(_ context.Context, task scrape.QueueTask) error {
	if !scrape.ValidQueue(task.Queue) {
		return fmt.Errorf("enqueue: %w: queue %q", scrape.ErrNotFound, task.Queue)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = q.clock.Now()
	}
	q.pending[task.Queue] = append(q.pending[task.Queue], task)
	return nil
}

// Dequeue pops the head of the named queue and records the claim. ok=false
// means the queue is empty; the call never waits.
func (q *Queue) Dequeue(_ context.Context, queue string) (scrape.ClaimedTask, bool, error) {
	if !scrape.ValidQueue(queue) {
		return scrape.ClaimedTask{}, false, fmt.Errorf("dequeue: %w: queue %q", scrape.ErrNotFound, queue)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.pending[queue]
	if len(items) == 0 {
		return scrape.ClaimedTask{}, false, nil
	}
	task := items[0]
	q.pending[queue] = items[1:]

	now := q.clock.Now()
	q.nextID++
	claimed := scrape.ClaimedTask{
		QueueTask: task,
		ClaimID:   fmt.Sprintf("%s-%d", queue, q.nextID),
		ClaimedAt: now,
		Deadline:  now.Add(scrape.ClaimTimeout(queue)),
	}
	q.claims[claimed.ClaimID] = claimed
	return claimed, true, nil
}

// Ack releases the claim. Acking twice is a no-op.
func (q *Queue) Ack(_ context.Context, task scrape.ClaimedTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.claims, task.ClaimID)
	return nil
}

// Clear drains the named queue, or every queue for "all", and returns the
// number of unclaimed tasks removed. Claimed tasks complete or fail on their
// own.
func (q *Queue) Clear(_ context.Context, queue string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if queue == "all" {
		removed := 0
		for name, items := range q.pending {
			removed += len(items)
			q.pending[name] = nil
		}
		return removed, nil
	}
	if !scrape.ValidQueue(queue) {
		return 0, fmt.Errorf("clear: %w: queue %q", scrape.ErrNotFound, queue)
	}
	removed := len(q.pending[queue])
	q.pending[queue] = nil
	return removed, nil
}

// Depths reports unclaimed task counts per queue.
func (q *Queue) Depths(_ context.Context) (map[string]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, len(q.pending))
	for name, items := range q.pending {
		out[name] = len(items)
	}
	return out, nil
}

// ExpiredClaims releases and returns every claim whose deadline has passed.
// The sweeper decides whether the owning project is re-queued or failed.
func (q *Queue) ExpiredClaims(_ context.Context, now time.Time) ([]scrape.ClaimedTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []scrape.ClaimedTask
	for id, claim := range q.claims {
		if claim.Deadline.Before(now) {
			out = append(out, claim)
			delete(q.claims, id)
		}
	}
	return out, nil
}
