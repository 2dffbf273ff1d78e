// Package scrape defines core types shared across subsystems.
package scrape

import (
	"time"
)

// Status represents the lifecycle state of a scraping project.
type Status string

// Project status values persisted in the registry.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Queue names. High-priority scrape work drains before normal scrape work;
// ops is served by a disjoint worker class and never competes with scraping.
const (
	QueueScrapeHigh = "scrape_high"
	QueueScrape     = "scrape"
	QueueOps        = "ops"
)

// Claim deadlines per queue class, measured from the moment a worker claims
// a task. A claim outliving its deadline is treated as abandoned by the
// sweeper, never by the dispatcher.
const (
	ScrapeClaimTimeout = 24 * time.Hour
	OpsClaimTimeout    = 5 * time.Minute
)

// QueueNames lists every queue in dequeue-priority order.
func QueueNames() []string {
	return []string{QueueScrapeHigh, QueueScrape, QueueOps}
}

// ValidQueue reports whether name is a known queue.
func ValidQueue(name string) bool {
	switch name {
	case QueueScrapeHigh, QueueScrape, QueueOps:
		return true
	default:
		return false
	}
}

// ClaimTimeout returns the claim deadline duration for the named queue.
func ClaimTimeout(queue string) time.Duration {
	if queue == QueueOps {
		return OpsClaimTimeout
	}
	return ScrapeClaimTimeout
}

// ProjectSpec captures the client-supplied fields of a submission.
type ProjectSpec struct {
	Name       string `json:"name"`
	TotalUnits int64  `json:"total_units"`
	// Priority routes the project onto scrape_high instead of scrape.
	Priority bool `json:"priority"`
}

// Project is the durable record kept for every scraping job.
type Project struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Status         Status     `json:"status"`
	Queue          string     `json:"queue"`
	TotalUnits     int64      `json:"total_units"`
	ProcessedUnits int64      `json:"processed_units"`
	ResultCount    int64      `json:"result_count"`
	Attempts       int        `json:"attempts"`
	ErrorText      string     `json:"error_text,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastProgressAt time.Time  `json:"last_progress_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Progress returns processed/total as a percentage clamped to [0,100].
func (p Project) Progress() int {
	if p.TotalUnits <= 0 {
		return 0
	}
	pct := int(p.ProcessedUnits * 100 / p.TotalUnits)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Paused reports whether the project is in the paused sub-state. Exposed on
// the wire as a boolean for consumers that still read the legacy flag.
func (p Project) Paused() bool {
	return p.Status == StatusPaused
}

// Task kinds carried on the queues.
const (
	TaskKindScrape       = "scrape_project"
	TaskKindTestProxy    = "test_proxy"
	TaskKindRecoverStuck = "recover_stuck"
)

// QueueTask is one unit of admission: created by the dispatcher on submission
// or by the sweeper on recovery, consumed exactly once per attempt.
type QueueTask struct {
	ProjectID  string            `json:"project_id,omitempty"`
	Queue      string            `json:"queue"`
	Kind       string            `json:"kind"`
	Attempt    int               `json:"attempt"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	Payload    map[string]string `json:"payload,omitempty"`
}

// ClaimedTask is a QueueTask exclusively assigned to one worker. ClaimID is
// minted by the queue on dequeue and identifies the claim for Ack.
type ClaimedTask struct {
	QueueTask
	ClaimID   string    `json:"claim_id"`
	ClaimedAt time.Time `json:"claimed_at"`
	Deadline  time.Time `json:"deadline"`
}

// ResultItem is one produced result row. Seq is the monotonically increasing
// insertion key assigned by the store; pagination orders on it so pages never
// reorder while the set is still growing.
type ResultItem struct {
	Seq        int64     `json:"id"`
	ProjectID  string    `json:"project_id"`
	URL        string    `json:"url"`
	Emails     []string  `json:"emails_list"`
	HTTPStatus int       `json:"http_status"`
	ScrapedAt  time.Time `json:"scraped_at"`
}

// ResultPage is a computed view over a project's result items.
type ResultPage struct {
	Items   []ResultItem `json:"items"`
	Page    int          `json:"page"`
	PerPage int          `json:"per_page"`
	Pages   int          `json:"pages"`
	Total   int64        `json:"total"`
	HasNext bool         `json:"has_next"`
	HasPrev bool         `json:"has_prev"`
}

// WorkerHandle describes one live worker as seen by the pool coordinator.
type WorkerHandle struct {
	WorkerID        string    `json:"worker_id"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	Active          bool      `json:"active"`
}
