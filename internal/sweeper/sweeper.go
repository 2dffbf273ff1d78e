// Package sweeper recovers projects whose workers died mid-run.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/leadharvest/orchestrator/internal/scrape"
)

// Defaults for the recovery policy.
const (
	DefaultStaleThreshold = time.Hour
	DefaultMaxAttempts    = 3
	DefaultInterval       = 10 * time.Minute
)

// ExhaustedRetriesReason is recorded on projects that used up their attempt
// budget.
const ExhaustedRetriesReason = "exhausted_retries"

// Config tunes the sweeper.
type Config struct {
	// StaleThreshold is how long a running project may go without progress
	// before it is considered stuck.
	StaleThreshold time.Duration
	// MaxAttempts bounds how many times a project is re-enqueued before it
	// is failed instead.
	MaxAttempts int
	// Interval is the gap between scheduled sweeps.
	Interval time.Duration
}

func (c *Config) applyDefaults() {
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = DefaultStaleThreshold
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
}

// Report summarizes one sweep.
type Report struct {
	Scanned   int `json:"scanned"`
	Recovered int `json:"recovered"`
	Failed    int `json:"failed"`
	// ClaimsReleased counts expired queue claims handed back this sweep.
	ClaimsReleased int `json:"claims_released"`
}

// Sweeper scans for running projects with no recent progress and either
// re-enqueues them or fails them once the attempt budget is spent. Every
// decision goes through a conditional registry transition, so a concurrent
// pause or reset wins the race and the sweep becomes a no-op for that
// project.
type Sweeper struct {
	cfg      Config
	registry scrape.Registry
	queue    scrape.TaskQueue
	clock    scrape.Clock
	logger   *zap.Logger
	cron     *cron.Cron
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// New creates a Sweeper. A nil clock uses the system clock.
func New(cfg Config, registry scrape.Registry, queue scrape.TaskQueue, clock scrape.Clock, logger *zap.Logger) *Sweeper {
	cfg.applyDefaults()
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		cfg:      cfg,
		registry: registry,
		queue:    queue,
		clock:    clock,
		logger:   logger,
	}
}

// Start schedules periodic sweeps until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.cron = cron.New()
	s.cron.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(func() {
		report, err := s.Sweep(ctx)
		if err != nil {
			s.logger.Error("scheduled sweep failed", zap.Error(err))
			return
		}
		if report.Recovered > 0 || report.Failed > 0 || report.ClaimsReleased > 0 {
			s.logger.Info("sweep recovered stuck work",
				zap.Int("scanned", report.Scanned),
				zap.Int("recovered", report.Recovered),
				zap.Int("failed", report.Failed),
				zap.Int("claims_released", report.ClaimsReleased),
			)
		}
	}))
	s.cron.Start()
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
}

// Sweep runs one pass. It is safe to call concurrently with the schedule;
// the manual recover-stuck endpoint shares this path.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report

	now := s.clock.Now()
	expired, err := s.queue.ExpiredClaims(ctx, now)
	if err != nil {
		return report, fmt.Errorf("release expired claims: %w", err)
	}
	report.ClaimsReleased = len(expired)

	running := scrape.StatusRunning
	cutoff := now.Add(-s.cfg.StaleThreshold)
	offset := 0
	const pageSize = 200
	for {
		projects, err := s.registry.List(ctx, &running, pageSize, offset)
		if err != nil {
			return report, fmt.Errorf("list running projects: %w", err)
		}
		for _, project := range projects {
			report.Scanned++
			if project.LastProgressAt.After(cutoff) {
				continue
			}
			recovered, failed, err := s.recoverOne(ctx, project)
			if err != nil {
				s.logger.Warn("recover project failed",
					zap.String("project_id", project.ID), zap.Error(err))
				continue
			}
			if recovered {
				report.Recovered++
			}
			if failed {
				report.Failed++
			}
		}
		if len(projects) < pageSize {
			return report, nil
		}
		offset += pageSize
	}
}

// recoverOne decides one stuck project's fate. Both outcomes are a single
// guarded transition: recovery spends the attempt inside the recover CAS
// itself, so a sweep that loses the race to a concurrent pause or reset is
// a complete no-op, including overlapping manual and scheduled sweeps.
func (s *Sweeper) recoverOne(ctx context.Context, project scrape.Project) (recovered, failed bool, err error) {
	if project.Attempts >= s.cfg.MaxAttempts {
		_, err = s.registry.Transition(ctx, project.ID, scrape.EventFail)
		if err != nil {
			// Lost to a concurrent actor or already moved on.
			if errors.Is(err, scrape.ErrInvalidTransition) || errors.Is(err, scrape.ErrNotFound) {
				return false, false, nil
			}
			return false, false, fmt.Errorf("fail exhausted project: %w", err)
		}
		if err := s.registry.SetError(ctx, project.ID, ExhaustedRetriesReason); err != nil {
			s.logger.Warn("record exhausted reason failed",
				zap.String("project_id", project.ID), zap.Error(err))
		}
		return false, true, nil
	}

	updated, err := s.registry.Transition(ctx, project.ID, scrape.EventRecover)
	if err != nil {
		if errors.Is(err, scrape.ErrInvalidTransition) || errors.Is(err, scrape.ErrNotFound) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("recover transition: %w", err)
	}
	task := scrape.QueueTask{
		ProjectID: updated.ID,
		Queue:     updated.Queue,
		Kind:      scrape.TaskKindScrape,
		Attempt:   updated.Attempts,
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return false, false, fmt.Errorf("re-enqueue recovered project: %w", err)
	}
	return true, false, nil
}
