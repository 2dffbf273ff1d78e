// Package executor provides scrape engines the workers drive. The core
// orchestrates; engines do the actual fetching. The Simulator is the engine
// the binary ships with until a real one is plugged in.
package executor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/leadharvest/orchestrator/internal/progress"
	"github.com/leadharvest/orchestrator/internal/scrape"
)

const (
	// DefaultBatch is how many units one progress report covers.
	DefaultBatch = 25
	// DefaultUnitsPerSecond bounds simulated throughput.
	DefaultUnitsPerSecond = 100
	// DefaultDiscoveredUnits is the scope assigned to projects submitted
	// without a known unit total.
	DefaultDiscoveredUnits = 100
)

// TotalsRecorder persists a unit total discovered during work-list expansion.
type TotalsRecorder interface {
	SetTotals(ctx context.Context, id string, totalUnits int64) error
}

// Simulator processes a project's units at a bounded rate, reporting progress
// deltas through the emitter and appending one synthetic result per batch.
// It honors cancellation between batches, so pause and delete take effect
// quickly.
type Simulator struct {
	emitter progress.Emitter
	results scrape.ResultStore
	totals  TotalsRecorder
	clock   scrape.Clock
	limiter *rate.Limiter
	batch   int64
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewSimulator creates a Simulator. A nil result store skips synthetic
// results, a nil totals recorder skips persisting discovered totals; zero
// rate or batch fall back to the defaults.
func NewSimulator(emitter progress.Emitter, results scrape.ResultStore, totals TotalsRecorder, clock scrape.Clock, unitsPerSecond float64, batch int64) *Simulator {
	if unitsPerSecond <= 0 {
		unitsPerSecond = DefaultUnitsPerSecond
	}
	if batch <= 0 {
		batch = DefaultBatch
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Simulator{
		emitter: emitter,
		results: results,
		totals:  totals,
		clock:   clock,
		limiter: rate.NewLimiter(rate.Limit(unitsPerSecond), int(batch)),
		batch:   batch,
	}
}

// Run works through the project's total units batch by batch. A project with
// no known scope gets one discovered during expansion, recorded back so the
// progress denominator is fixed before the first delta.
func (s *Simulator) Run(ctx context.Context, project scrape.Project) error {
	total := project.TotalUnits
	if total <= 0 {
		total = DefaultDiscoveredUnits
		if s.totals != nil {
			if err := s.totals.SetTotals(ctx, project.ID, total); err != nil {
				return fmt.Errorf("record discovered totals: %w", err)
			}
		}
	}

	remaining := total - project.ProcessedUnits
	for remaining > 0 {
		n := s.batch
		if remaining < n {
			n = remaining
		}
		if err := s.limiter.WaitN(ctx, int(n)); err != nil {
			return fmt.Errorf("throttle: %w", err)
		}

		var found int64
		if s.results != nil {
			item := scrape.ResultItem{
				ProjectID:  project.ID,
				URL:        fmt.Sprintf("https://example.invalid/%s/%d", project.ID, total-remaining),
				HTTPStatus: 200,
				ScrapedAt:  s.clock.Now(),
			}
			if _, err := s.results.Append(ctx, item); err != nil {
				return fmt.Errorf("append result: %w", err)
			}
			found = 1
		}

		s.emitter.Emit(progress.Event{
			ProjectID:      project.ID,
			TS:             s.clock.Now(),
			Stage:          progress.StageUnits,
			ProcessedDelta: n,
			ResultDelta:    found,
		})
		remaining -= n
	}
	return nil
}

// Maintenance is the ops-queue engine. Nothing schedules ops tasks yet, so
// it only records what came through.
type Maintenance struct{}

// NewMaintenance creates a Maintenance executor.
func NewMaintenance() *Maintenance {
	return &Maintenance{}
}

// Run acknowledges the task without side effects.
func (m *Maintenance) Run(_ context.Context, _ scrape.QueueTask) error {
	return nil
}
