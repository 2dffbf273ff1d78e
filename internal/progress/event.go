// Package progress defines the event structures emitted by scrape workers.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageProjectStart Stage = "PROJECT_START"
	StageUnits        Stage = "UNITS"
	StageProjectDone  Stage = "PROJECT_DONE"
	StageProjectError Stage = "PROJECT_ERROR"
)

// Event captures a single milestone of a project's scrape run. Unit events
// carry deltas, never absolute counters, so late or replayed events cannot
// move a project's progress backwards.
type Event struct {
	// ProjectID identifies the project the event belongs to.
	ProjectID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// ProcessedDelta increments the project's processed unit count.
	ProcessedDelta int64
	// ResultDelta increments the project's result count.
	ResultDelta int64
	// Dur captures wall time for terminal events.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ProjectID == "" {
		return errors.New("project id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageProjectStart, StageProjectDone, StageProjectError:
	case StageUnits:
		if e.ProcessedDelta < 0 || e.ResultDelta < 0 {
			return errors.New("unit deltas must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
