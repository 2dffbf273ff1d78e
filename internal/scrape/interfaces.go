package scrape

import (
	"context"
	"time"
)

// Registry is the durable record of every project and its lifecycle state.
// All transitions are atomic conditional updates: two actors racing to move
// the same project see exactly one winner, the loser observes
// ErrInvalidTransition or a no-op.
type Registry interface {
	// Create stores a new project. Duplicate IDs return ErrConflict.
	Create(ctx context.Context, project Project) error

	// Get fetches a project or returns ErrNotFound.
	Get(ctx context.Context, id string) (Project, error)

	// List returns projects filtered by optional status, newest first.
	List(ctx context.Context, status *Status, limit, offset int) ([]Project, error)

	// Count returns the total number of projects matching the filter.
	Count(ctx context.Context, status *Status) (int64, error)

	// CountByStatus returns project counts keyed by status.
	CountByStatus(ctx context.Context) (map[Status]int64, error)

	// Transition applies event via the authoritative table. The status
	// guard and the write are a single atomic step. Reset clears
	// processed/result counters and the attempt budget.
	Transition(ctx context.Context, id string, event Event) (Project, error)

	// RecordProgress applies monotonic unit deltas and stamps
	// last_progress_at. Events for unknown projects are dropped silently:
	// a deleted project may have late orphaned progress in flight.
	RecordProgress(ctx context.Context, id string, processedDelta, resultDelta int64, at time.Time) error

	// SetTotals fixes the unit denominator once the worker has expanded
	// the project's work list.
	SetTotals(ctx context.Context, id string, totalUnits int64) error

	// SetError records the failure reason alongside an EventFail
	// transition.
	SetError(ctx context.Context, id string, reason string) error

	// Delete removes the project record immediately. The worker watches
	// the record while a run is in flight and cancels the run when it
	// disappears.
	Delete(ctx context.Context, id string) error
}

// TaskQueue owns unclaimed tasks across the named queues and hands each task
// to at most one worker per attempt.
type TaskQueue interface {
	// Enqueue appends to the tail of the task's named queue.
	Enqueue(ctx context.Context, task QueueTask) error

	// Dequeue pops the head of the named queue, recording a claim with the
	// queue-class deadline. ok=false means empty; it never blocks.
	Dequeue(ctx context.Context, queue string) (ClaimedTask, bool, error)

	// Ack releases the claim after the worker finishes the attempt.
	Ack(ctx context.Context, task ClaimedTask) error

	// Clear drains the named queue ("all" drains every queue), returning
	// the number of unclaimed tasks removed. Claimed tasks are untouched.
	Clear(ctx context.Context, queue string) (int, error)

	// Depths reports unclaimed task counts per queue.
	Depths(ctx context.Context) (map[string]int, error)

	// ExpiredClaims returns claims whose deadline has passed, releasing
	// them so the sweeper can decide recovery.
	ExpiredClaims(ctx context.Context, now time.Time) ([]ClaimedTask, error)
}

// ResultStore appends and reads result items for a project. Appends assign
// the monotonically increasing Seq used for stable pagination; reads never
// block writers.
type ResultStore interface {
	Append(ctx context.Context, item ResultItem) (ResultItem, error)
	CountForProject(ctx context.Context, projectID string) (int64, error)
	// ListRange returns items ordered by Seq ascending, sliced by
	// offset/limit.
	ListRange(ctx context.Context, projectID string, offset, limit int) ([]ResultItem, error)
	// DeleteForProject drops a deleted project's rows.
	DeleteForProject(ctx context.Context, projectID string) error
}

// Executor performs the worker-internal scraping for one project. The core
// never fetches anything itself.
type Executor interface {
	Run(ctx context.Context, project Project) error
}

// OpsExecutor runs maintenance tasks from the ops queue.
type OpsExecutor interface {
	Run(ctx context.Context, task QueueTask) error
}

// Publisher delivers terminal-state notifications to an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints project identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
