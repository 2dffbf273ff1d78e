package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	queuemem "github.com/leadharvest/orchestrator/internal/queue/memory"
	registrymem "github.com/leadharvest/orchestrator/internal/registry/memory"
	"github.com/leadharvest/orchestrator/internal/scrape"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func newFixture(t *testing.T) (*Sweeper, *registrymem.Registry, *queuemem.Queue, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	registry := registrymem.NewRegistry()
	queue := queuemem.NewQueue(clock)
	s := New(Config{StaleThreshold: time.Hour, MaxAttempts: 3}, registry, queue, clock, nil)
	return s, registry, queue, clock
}

func seedRunning(t *testing.T, registry *registrymem.Registry, id string, lastProgress time.Time, attempts int) {
	t.Helper()
	err := registry.Create(context.Background(), scrape.Project{
		ID:             id,
		Status:         scrape.StatusRunning,
		Queue:          scrape.QueueScrape,
		TotalUnits:     100,
		Attempts:       attempts,
		CreatedAt:      lastProgress,
		LastProgressAt: lastProgress,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestSweepRecoversStaleRunning(t *testing.T) {
	t.Parallel()

	s, registry, queue, clock := newFixture(t)
	ctx := context.Background()
	seedRunning(t, registry, "stale", clock.now.Add(-2*time.Hour), 0)
	seedRunning(t, registry, "fresh", clock.now.Add(-10*time.Minute), 0)

	report, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.Recovered != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}

	stale, err := registry.Get(ctx, "stale")
	if err != nil {
		t.Fatalf("Get(stale) error = %v", err)
	}
	if stale.Status != scrape.StatusQueued || stale.Attempts != 1 {
		t.Fatalf("stale after sweep = %s attempts %d", stale.Status, stale.Attempts)
	}
	fresh, _ := registry.Get(ctx, "fresh")
	if fresh.Status != scrape.StatusRunning {
		t.Fatalf("fresh project moved to %s", fresh.Status)
	}

	// The recovered project rides its original queue again.
	task, ok, err := queue.Dequeue(ctx, scrape.QueueScrape)
	if err != nil || !ok {
		t.Fatalf("Dequeue() = ok %v, err %v", ok, err)
	}
	if task.ProjectID != "stale" || task.Attempt != 1 {
		t.Fatalf("re-enqueued task = %+v", task)
	}
}

func TestSweepFailsExhaustedProjects(t *testing.T) {
	t.Parallel()

	s, registry, queue, clock := newFixture(t)
	ctx := context.Background()
	seedRunning(t, registry, "spent", clock.now.Add(-2*time.Hour), 3)

	report, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.Recovered != 0 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}

	spent, err := registry.Get(ctx, "spent")
	if err != nil {
		t.Fatalf("Get(spent) error = %v", err)
	}
	if spent.Status != scrape.StatusError || spent.ErrorText != ExhaustedRetriesReason {
		t.Fatalf("spent after sweep = %s %q", spent.Status, spent.ErrorText)
	}
	// Nothing re-enqueued for a failed project.
	if _, ok, _ := queue.Dequeue(ctx, scrape.QueueScrape); ok {
		t.Fatal("exhausted project was re-enqueued")
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	t.Parallel()

	s, registry, _, clock := newFixture(t)
	ctx := context.Background()
	seedRunning(t, registry, "stale", clock.now.Add(-2*time.Hour), 0)

	first, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("first Sweep() error = %v", err)
	}
	second, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep() error = %v", err)
	}
	if first.Recovered != 1 || second.Recovered != 0 {
		t.Fatalf("recovered = %d then %d, want 1 then 0", first.Recovered, second.Recovered)
	}

	// Exactly one attempt was consumed across both sweeps.
	project, _ := registry.Get(ctx, "stale")
	if project.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", project.Attempts)
	}
}

func TestSweepLosesToConcurrentPause(t *testing.T) {
	t.Parallel()

	s, registry, queue, clock := newFixture(t)
	ctx := context.Background()
	seedRunning(t, registry, "contested", clock.now.Add(-2*time.Hour), 0)

	// An operator pauses between the scan and the recovery transition.
	if _, err := registry.Transition(ctx, "contested", scrape.EventPause); err != nil {
		t.Fatalf("pause error = %v", err)
	}
	project, _ := registry.Get(ctx, "contested")
	recovered, failed, err := s.recoverOne(ctx, project)
	if err != nil {
		t.Fatalf("recoverOne() error = %v", err)
	}
	if recovered || failed {
		t.Fatalf("recoverOne() = recovered %v, failed %v against a paused project", recovered, failed)
	}

	got, _ := registry.Get(ctx, "contested")
	if got.Status != scrape.StatusPaused {
		t.Fatalf("status = %s, want paused preserved", got.Status)
	}
	if got.Attempts != 0 {
		t.Fatalf("attempts = %d, want 0: a lost sweep must not spend the budget", got.Attempts)
	}
	if _, ok, _ := queue.Dequeue(ctx, scrape.QueueScrape); ok {
		t.Fatal("paused project was re-enqueued")
	}
}

// pauseOnListRegistry pauses a project right after List hands the sweeper a
// snapshot still showing it as running.
type pauseOnListRegistry struct {
	*registrymem.Registry
	pauseID string
	paused  bool
}

func (r *pauseOnListRegistry) List(ctx context.Context, status *scrape.Status, limit, offset int) ([]scrape.Project, error) {
	projects, err := r.Registry.List(ctx, status, limit, offset)
	if err != nil {
		return nil, err
	}
	if !r.paused {
		for _, p := range projects {
			if p.ID == r.pauseID {
				if _, err := r.Registry.Transition(ctx, r.pauseID, scrape.EventPause); err != nil {
					return nil, err
				}
				r.paused = true
			}
		}
	}
	return projects, nil
}

func TestSweepPausedAfterScanIsFullNoOp(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	inner := registrymem.NewRegistry()
	registry := &pauseOnListRegistry{Registry: inner, pauseID: "contested"}
	queue := queuemem.NewQueue(clock)
	s := New(Config{StaleThreshold: time.Hour, MaxAttempts: 3}, registry, queue, clock, nil)
	ctx := context.Background()
	seedRunning(t, inner, "contested", clock.now.Add(-2*time.Hour), 0)

	report, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.Scanned != 1 || report.Recovered != 0 || report.Failed != 0 {
		t.Fatalf("report = %+v, want scan only", report)
	}

	got, _ := inner.Get(ctx, "contested")
	if got.Status != scrape.StatusPaused {
		t.Fatalf("status = %s, want paused preserved", got.Status)
	}
	if got.Attempts != 0 {
		t.Fatalf("attempts = %d, want 0: the losing sweep must leave no trace", got.Attempts)
	}
	if _, ok, _ := queue.Dequeue(ctx, scrape.QueueScrape); ok {
		t.Fatal("paused project was re-enqueued")
	}
}

func TestSweepReleasesExpiredClaims(t *testing.T) {
	t.Parallel()

	s, _, queue, clock := newFixture(t)
	ctx := context.Background()

	if err := queue.Enqueue(ctx, scrape.QueueTask{Kind: scrape.TaskKindTestProxy, Queue: scrape.QueueOps}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, ok, err := queue.Dequeue(ctx, scrape.QueueOps); err != nil || !ok {
		t.Fatalf("Dequeue() = ok %v, err %v", ok, err)
	}

	clock.now = clock.now.Add(10 * time.Minute)
	report, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.ClaimsReleased != 1 {
		t.Fatalf("claims released = %d, want 1", report.ClaimsReleased)
	}
}

func TestSweepSkipsDeletedProjects(t *testing.T) {
	t.Parallel()

	s, registry, _, clock := newFixture(t)
	ctx := context.Background()
	seedRunning(t, registry, "gone", clock.now.Add(-2*time.Hour), 0)

	project, _ := registry.Get(ctx, "gone")
	if err := registry.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	recovered, failed, err := s.recoverOne(ctx, project)
	if err != nil || recovered || failed {
		t.Fatalf("recoverOne(deleted) = %v/%v, err %v", recovered, failed, err)
	}
	if !errors.Is(func() error { _, err := registry.Get(ctx, "gone"); return err }(), scrape.ErrNotFound) {
		t.Fatal("deleted project reappeared")
	}
}
