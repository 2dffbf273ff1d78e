package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leadharvest/orchestrator/internal/progress"
)

// PrometheusSink exports scrape progress metrics via Prometheus. It owns all
// collectors for projects started/completed/running and unit throughput.
type PrometheusSink struct {
	projectsStarted   prometheus.Counter
	projectsCompleted *prometheus.CounterVec
	projectsRunning   prometheus.Gauge
	projectRuntime    *prometheus.HistogramVec

	unitsProcessed prometheus.Counter
	resultsFound   prometheus.Counter

	tracker *projectTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		projectsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_projects_started_total",
			Help: "Total projects that have started scraping.",
		}),
		projectsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_projects_completed_total",
			Help: "Total projects completed partitioned by result.",
		}, []string{"result"}),
		projectsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_projects_running",
			Help: "Current number of running projects.",
		}),
		projectRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_project_runtime_seconds",
			Help:    "Wall time per completed project.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600, 14400, 86400},
		}, []string{"result"}),
		unitsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_units_processed_total",
			Help: "Total work units processed across all projects.",
		}),
		resultsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_results_found_total",
			Help: "Total result rows produced across all projects.",
		}),
		tracker: newProjectTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.projectsStarted,
		s.projectsCompleted,
		s.projectsRunning,
		s.projectRuntime,
		s.unitsProcessed,
		s.resultsFound,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageProjectStart:
		s.projectsStarted.Inc()
		if s.tracker.start(evt.ProjectID) {
			s.projectsRunning.Inc()
		}
	case progress.StageUnits:
		if evt.ProcessedDelta > 0 {
			s.unitsProcessed.Add(float64(evt.ProcessedDelta))
		}
		if evt.ResultDelta > 0 {
			s.resultsFound.Add(float64(evt.ResultDelta))
		}
	case progress.StageProjectDone:
		s.projectsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
		if s.tracker.complete(evt.ProjectID) {
			s.projectsRunning.Dec()
		}
	case progress.StageProjectError:
		s.projectsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
		if s.tracker.complete(evt.ProjectID) {
			s.projectsRunning.Dec()
		}
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.projectRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type projectTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newProjectTracker() *projectTracker {
	return &projectTracker{running: make(map[string]struct{})}
}

func (t *projectTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *projectTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
