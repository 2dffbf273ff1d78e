package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leadharvest/orchestrator/internal/queue/memory"
	"github.com/leadharvest/orchestrator/internal/scrape"
)

func TestSubmitRoutesByProjectQueue(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(nil)
	d := New(q, nil)
	ctx := context.Background()

	err := d.Submit(ctx, scrape.Project{ID: "normal", Queue: scrape.QueueScrape})
	if err != nil {
		t.Fatalf("Submit(normal) error = %v", err)
	}
	err = d.Submit(ctx, scrape.Project{ID: "priority", Queue: scrape.QueueScrapeHigh})
	if err != nil {
		t.Fatalf("Submit(priority) error = %v", err)
	}

	depths, err := q.Depths(ctx)
	if err != nil {
		t.Fatalf("Depths() error = %v", err)
	}
	if depths[scrape.QueueScrapeHigh] != 1 || depths[scrape.QueueScrape] != 1 {
		t.Fatalf("depths = %v", depths)
	}
}

func TestDequeueScrapeDrainsHighFirst(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(nil)
	d := New(q, nil)
	ctx := context.Background()

	// Normal work enqueued well before the priority work.
	for _, p := range []scrape.Project{
		{ID: "n-1", Queue: scrape.QueueScrape},
		{ID: "n-2", Queue: scrape.QueueScrape},
		{ID: "h-1", Queue: scrape.QueueScrapeHigh},
		{ID: "h-2", Queue: scrape.QueueScrapeHigh},
	} {
		if err := d.Submit(ctx, p); err != nil {
			t.Fatalf("Submit(%s) error = %v", p.ID, err)
		}
	}

	var got []string
	for {
		task, ok, err := d.DequeueScrape(ctx)
		if err != nil {
			t.Fatalf("DequeueScrape() error = %v", err)
		}
		if !ok {
			break
		}
		got = append(got, task.ProjectID)
	}
	want := []string{"h-1", "h-2", "n-1", "n-2"}
	if len(got) != len(want) {
		t.Fatalf("dequeued %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dequeued %v, want %v", got, want)
		}
	}
}

func TestDequeueOpsIsDisjoint(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(nil)
	d := New(q, nil)
	ctx := context.Background()

	if err := d.Submit(ctx, scrape.Project{ID: "s-1", Queue: scrape.QueueScrape}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := d.Enqueue(ctx, scrape.QueueTask{Queue: scrape.QueueOps, Kind: scrape.TaskKindTestProxy}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	task, ok, err := d.DequeueOps(ctx)
	if err != nil || !ok {
		t.Fatalf("DequeueOps() = ok %v, err %v", ok, err)
	}
	if task.Kind != scrape.TaskKindTestProxy {
		t.Fatalf("ops task kind = %s", task.Kind)
	}
	// Scrape work is invisible to the ops class.
	if _, ok, err := d.DequeueOps(ctx); ok || err != nil {
		t.Fatalf("second DequeueOps() = ok %v, err %v", ok, err)
	}
}

type signalRunner struct {
	mu      sync.Mutex
	started bool
}

func (r *signalRunner) Run(ctx context.Context) {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	<-ctx.Done()
}

func (r *signalRunner) running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func TestRunStartsRunnersAndWaits(t *testing.T) {
	t.Parallel()

	runners := []*signalRunner{{}, {}, {}}
	asIface := make([]Runner, len(runners))
	for i, r := range runners {
		asIface[i] = r
	}
	d := New(memory.NewQueue(nil), asIface)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for _, r := range runners {
		for !r.running() {
			select {
			case <-deadline:
				t.Fatal("runner never started")
			default:
				time.Sleep(time.Millisecond)
			}
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
