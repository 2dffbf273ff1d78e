// Package dispatcher routes admissions onto the named queues and fans out
// workers over them.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/leadharvest/orchestrator/internal/scrape"
)

// Runner is one worker loop the dispatcher drives for its lifetime.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher owns admission into the task queues and the dequeue priority
// between them. Scrape workers drain scrape_high before scrape; ops workers
// only ever see the ops queue.
type Dispatcher struct {
	queue   scrape.TaskQueue
	runners []Runner
}

// New creates a Dispatcher over the queue and worker loops.
func New(queue scrape.TaskQueue, runners []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		runners: runners,
	}
}

// Attach adds worker loops after construction. Workers dequeue through the
// dispatcher, so they are built against it and attached afterwards. Must be
// called before Run.
func (d *Dispatcher) Attach(runners ...Runner) {
	d.runners = append(d.runners, runners...)
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit admits a project onto its queue. Priority projects ride scrape_high
// and overtake every waiting normal-priority project.
func (d *Dispatcher) Submit(ctx context.Context, project scrape.Project) error {
	task := scrape.QueueTask{
		ProjectID: project.ID,
		Queue:     project.Queue,
		Kind:      scrape.TaskKindScrape,
		Attempt:   project.Attempts,
	}
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue project %s: %w", project.ID, err)
	}
	return nil
}

// Enqueue proxies an already-built task to the underlying queue. Recovery
// uses this to re-admit projects on their original queue.
func (d *Dispatcher) Enqueue(ctx context.Context, task scrape.QueueTask) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// DequeueScrape hands out the next scrape task, draining scrape_high
// completely before touching scrape. ok=false means both queues are empty.
func (d *Dispatcher) DequeueScrape(ctx context.Context) (scrape.ClaimedTask, bool, error) {
	for _, queue := range []string{scrape.QueueScrapeHigh, scrape.QueueScrape} {
		task, ok, err := d.queue.Dequeue(ctx, queue)
		if err != nil {
			return scrape.ClaimedTask{}, false, fmt.Errorf("dequeue %s: %w", queue, err)
		}
		if ok {
			return task, true, nil
		}
	}
	return scrape.ClaimedTask{}, false, nil
}

// DequeueOps hands out the next ops task. Ops work never competes with
// scraping for a worker.
func (d *Dispatcher) DequeueOps(ctx context.Context) (scrape.ClaimedTask, bool, error) {
	task, ok, err := d.queue.Dequeue(ctx, scrape.QueueOps)
	if err != nil {
		return scrape.ClaimedTask{}, false, fmt.Errorf("dequeue %s: %w", scrape.QueueOps, err)
	}
	return task, ok, nil
}

// Ack releases a finished task's claim.
func (d *Dispatcher) Ack(ctx context.Context, task scrape.ClaimedTask) error {
	if err := d.queue.Ack(ctx, task); err != nil {
		return fmt.Errorf("queue ack: %w", err)
	}
	return nil
}
