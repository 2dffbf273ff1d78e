// Package worker runs the loops that execute queued scrape and ops tasks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadharvest/orchestrator/internal/pool"
	"github.com/leadharvest/orchestrator/internal/progress"
	"github.com/leadharvest/orchestrator/internal/scrape"
)

// DefaultPollInterval is how long an idle worker sleeps between dequeues.
const DefaultPollInterval = time.Second

// Source hands tasks to a worker class. The dispatcher implements both
// methods with the queue-priority rules baked in.
type Source interface {
	DequeueScrape(ctx context.Context) (scrape.ClaimedTask, bool, error)
	DequeueOps(ctx context.Context) (scrape.ClaimedTask, bool, error)
	Ack(ctx context.Context, task scrape.ClaimedTask) error
}

// Config wires one worker.
type Config struct {
	WorkerID     string
	PollInterval time.Duration
	// Heartbeat is how often the worker reports liveness to the pool.
	Heartbeat time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = pool.DefaultHeartbeatInterval
	}
}

// ScrapeWorker consumes scrape tasks: it moves the project to running, hands
// it to the executor, and finalizes the terminal state. While a run is in
// flight the worker watches the project record and cancels the run as soon
// as the project is deleted or paused; a pause holds the claim and waits for
// resume so the project never re-enters the queue. A project deleted mid-run
// is treated as a cancellation, not an error.
type ScrapeWorker struct {
	cfg      Config
	source   Source
	registry scrape.Registry
	executor scrape.Executor
	emitter  progress.Emitter
	pool     *pool.Coordinator
	retry    *scrape.RetryPolicy
	logger   *zap.Logger
}

// NewScrapeWorker creates a ScrapeWorker.
func NewScrapeWorker(
	cfg Config,
	source Source,
	registry scrape.Registry,
	executor scrape.Executor,
	emitter progress.Emitter,
	coordinator *pool.Coordinator,
	logger *zap.Logger,
) *ScrapeWorker {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScrapeWorker{
		cfg:      cfg,
		source:   source,
		registry: registry,
		executor: executor,
		emitter:  emitter,
		pool:     coordinator,
		retry:    scrape.NewRetryPolicy(),
		logger:   logger.With(zap.String("worker_id", cfg.WorkerID)),
	}
}

// Run polls for tasks until ctx is cancelled.
func (w *ScrapeWorker) Run(ctx context.Context) {
	w.beat(false)
	defer w.deregister()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		task, ok, err := w.source.DequeueScrape(ctx)
		if err != nil {
			w.logger.Error("dequeue failed", zap.Error(err))
		}
		if ok {
			w.handle(ctx, task)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.beat(false)
		}
	}
}

func (w *ScrapeWorker) handle(ctx context.Context, task scrape.ClaimedTask) {
	w.beat(true)
	defer w.beat(false)

	stop := w.heartbeatLoop(ctx)
	defer stop()

	if err := w.execute(ctx, task); err != nil {
		w.logger.Error("task failed",
			zap.String("project_id", task.ProjectID), zap.Error(err))
	}
	if err := w.source.Ack(ctx, task); err != nil {
		w.logger.Warn("ack failed",
			zap.String("project_id", task.ProjectID), zap.Error(err))
	}
}

func (w *ScrapeWorker) execute(ctx context.Context, task scrape.ClaimedTask) error {
	project, err := w.transition(ctx, task.ProjectID, scrape.EventDispatch)
	if err != nil {
		// Deleted while queued, or paused/reset before we claimed it.
		// Either way the task is stale and the claim is simply released.
		if errors.Is(err, scrape.ErrNotFound) || errors.Is(err, scrape.ErrInvalidTransition) {
			return nil
		}
		return fmt.Errorf("dispatch project: %w", err)
	}

	started := time.Now().UTC()
	w.emitter.Emit(progress.Event{
		ProjectID: project.ID,
		TS:        started,
		Stage:     progress.StageProjectStart,
	})

	for {
		runErr := w.run(ctx, task, project)

		current, err := w.registry.Get(ctx, project.ID)
		if errors.Is(err, scrape.ErrNotFound) {
			// Deleted mid-run: swallow the outcome, the record is gone.
			return nil
		}
		if err != nil {
			return fmt.Errorf("reload project: %w", err)
		}

		if current.Status == scrape.StatusPaused {
			resumed, resumedProject, err := w.awaitResume(ctx, project.ID)
			if err != nil {
				return err
			}
			if !resumed {
				return nil
			}
			project = resumedProject
			continue
		}

		if ctx.Err() != nil {
			// Shutting down; the stale sweep picks the project up later.
			return nil
		}
		if runErr != nil && errors.Is(runErr, context.Canceled) &&
			current.Status == scrape.StatusRunning {
			// The watch cancelled on a pause that was already resumed, or
			// the project was reset and re-dispatched elsewhere. Pick the
			// run back up from the refreshed record.
			project = current
			continue
		}

		finishedAt := time.Now().UTC()
		if runErr != nil {
			if _, err := w.transition(ctx, project.ID, scrape.EventFail); err != nil {
				if errors.Is(err, scrape.ErrNotFound) || errors.Is(err, scrape.ErrInvalidTransition) {
					return nil
				}
				return fmt.Errorf("fail project: %w", err)
			}
			if err := w.registry.SetError(ctx, project.ID, runErr.Error()); err != nil && !errors.Is(err, scrape.ErrNotFound) {
				w.logger.Warn("record error reason failed",
					zap.String("project_id", project.ID), zap.Error(err))
			}
			w.emitter.Emit(progress.Event{
				ProjectID: project.ID,
				TS:        finishedAt,
				Stage:     progress.StageProjectError,
				Dur:       finishedAt.Sub(started),
				Note:      runErr.Error(),
			})
			return nil
		}

		if _, err := w.transition(ctx, project.ID, scrape.EventFinish); err != nil {
			if errors.Is(err, scrape.ErrNotFound) || errors.Is(err, scrape.ErrInvalidTransition) {
				return nil
			}
			return fmt.Errorf("finish project: %w", err)
		}
		w.emitter.Emit(progress.Event{
			ProjectID: project.ID,
			TS:        finishedAt,
			Stage:     progress.StageProjectDone,
			Dur:       finishedAt.Sub(started),
		})
		return nil
	}
}

// run executes one attempt bounded by the claim deadline, cancelling the
// executor as soon as the project record leaves running. Deletion and pause
// both take effect within one poll interval instead of at the end of the run.
func (w *ScrapeWorker) run(ctx context.Context, task scrape.ClaimedTask, project scrape.Project) error {
	runCtx, cancel := context.WithDeadline(ctx, task.Deadline)
	defer cancel()

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				current, err := w.registry.Get(runCtx, project.ID)
				if errors.Is(err, scrape.ErrNotFound) ||
					(err == nil && current.Status != scrape.StatusRunning) {
					cancel()
					return
				}
			}
		}
	}()

	err := w.executor.Run(runCtx, project)
	cancel()
	<-watchDone
	return err
}

// awaitResume holds the claim while the project stays paused so that resume
// continues in place instead of re-entering the queue tail. It returns
// resumed=false when the project was deleted, reset, or the worker is
// shutting down.
func (w *ScrapeWorker) awaitResume(ctx context.Context, id string) (bool, scrape.Project, error) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, scrape.Project{}, nil
		case <-ticker.C:
			current, err := w.registry.Get(ctx, id)
			if errors.Is(err, scrape.ErrNotFound) {
				return false, scrape.Project{}, nil
			}
			if err != nil {
				return false, scrape.Project{}, fmt.Errorf("poll paused project: %w", err)
			}
			switch current.Status {
			case scrape.StatusPaused:
				// Still holding.
			case scrape.StatusRunning:
				return true, current, nil
			default:
				// Reset or otherwise moved on; release the claim.
				return false, scrape.Project{}, nil
			}
		}
	}
}

// transition retries transient registry failures; lifecycle guard losses are
// surfaced immediately since retrying cannot change the outcome.
func (w *ScrapeWorker) transition(ctx context.Context, id string, event scrape.Event) (scrape.Project, error) {
	var project scrape.Project
	err := w.retry.Do(ctx, func() error {
		var err error
		project, err = w.registry.Transition(ctx, id, event)
		return err
	})
	return project, err
}

func (w *ScrapeWorker) beat(active bool) {
	if w.pool != nil {
		w.pool.Heartbeat(w.cfg.WorkerID, active)
	}
}

func (w *ScrapeWorker) deregister() {
	if w.pool != nil {
		w.pool.Deregister(w.cfg.WorkerID)
	}
}

// heartbeatLoop keeps liveness fresh during a long run.
func (w *ScrapeWorker) heartbeatLoop(ctx context.Context) func() {
	if w.pool == nil {
		return func() {}
	}
	stopped := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.beat(true)
			case <-stopped:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		close(stopped)
		<-done
	}
}

// OpsWorker consumes maintenance tasks from the ops queue. It never touches
// project lifecycle state.
type OpsWorker struct {
	cfg      Config
	source   Source
	executor scrape.OpsExecutor
	pool     *pool.Coordinator
	logger   *zap.Logger
}

// NewOpsWorker creates an OpsWorker.
func NewOpsWorker(cfg Config, source Source, executor scrape.OpsExecutor, coordinator *pool.Coordinator, logger *zap.Logger) *OpsWorker {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpsWorker{
		cfg:      cfg,
		source:   source,
		executor: executor,
		pool:     coordinator,
		logger:   logger.With(zap.String("worker_id", cfg.WorkerID)),
	}
}

// Run polls the ops queue until ctx is cancelled.
func (w *OpsWorker) Run(ctx context.Context) {
	if w.pool != nil {
		w.pool.Heartbeat(w.cfg.WorkerID, false)
		defer w.pool.Deregister(w.cfg.WorkerID)
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		task, ok, err := w.source.DequeueOps(ctx)
		if err != nil {
			w.logger.Error("dequeue failed", zap.Error(err))
		}
		if ok {
			w.handle(ctx, task)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.pool != nil {
				w.pool.Heartbeat(w.cfg.WorkerID, false)
			}
		}
	}
}

func (w *OpsWorker) handle(ctx context.Context, task scrape.ClaimedTask) {
	if w.pool != nil {
		w.pool.Heartbeat(w.cfg.WorkerID, true)
		defer w.pool.Heartbeat(w.cfg.WorkerID, false)
	}

	runCtx, cancel := context.WithDeadline(ctx, task.Deadline)
	err := w.executor.Run(runCtx, task.QueueTask)
	cancel()
	if err != nil {
		w.logger.Error("ops task failed",
			zap.String("kind", task.Kind), zap.Error(err))
	}
	if err := w.source.Ack(ctx, task); err != nil {
		w.logger.Warn("ack failed", zap.String("kind", task.Kind), zap.Error(err))
	}
}
