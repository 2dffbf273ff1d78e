// Package sinks contains progress.Sink implementations.
package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadharvest/orchestrator/internal/progress"
	"github.com/leadharvest/orchestrator/internal/scrape"
)

// RegistrySink applies unit deltas to the project registry. It collapses
// per-project deltas within a batch to reduce write amplification; lifecycle
// transitions are the worker's job, so only UNITS events are persisted here.
type RegistrySink struct {
	registry scrape.Registry
	logger   *zap.Logger
}

// NewRegistrySink constructs a RegistrySink over the registry.
func NewRegistrySink(registry scrape.Registry, logger *zap.Logger) *RegistrySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrySink{registry: registry, logger: logger}
}

type unitDelta struct {
	processed int64
	results   int64
	at        time.Time
}

// Consume collapses unit deltas per project and forwards them to the
// registry. Deltas for projects deleted mid-flight are dropped by the
// registry, not surfaced as errors.
func (s *RegistrySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.registry == nil {
		return nil
	}
	deltas := make(map[string]*unitDelta)
	order := make([]string, 0, len(batch))

	for _, evt := range batch {
		if evt.Stage != progress.StageUnits {
			continue
		}
		d := deltas[evt.ProjectID]
		if d == nil {
			d = &unitDelta{}
			deltas[evt.ProjectID] = d
			order = append(order, evt.ProjectID)
		}
		d.processed += evt.ProcessedDelta
		d.results += evt.ResultDelta
		if evt.TS.After(d.at) {
			d.at = evt.TS
		}
	}

	for _, id := range order {
		d := deltas[id]
		if d.processed == 0 && d.results == 0 {
			continue
		}
		if err := s.registry.RecordProgress(ctx, id, d.processed, d.results, d.at); err != nil {
			return fmt.Errorf("record progress for %s: %w", id, err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *RegistrySink) Close(context.Context) error {
	return nil
}
