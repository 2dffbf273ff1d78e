// Package postgres provides the Postgres-backed project registry.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadharvest/orchestrator/internal/scrape"
)

const uniqueViolation = "23505"

// pgPool is the subset of pgxpool.Pool the registry needs; pgxmock satisfies
// it for tests.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Registry implements scrape.Registry on Postgres. Status guards are folded
// into the WHERE clause of each UPDATE, so every transition is a single
// atomic conditional write.
type Registry struct {
	pool pgPool
}

// NewRegistry connects a pool using the provided config.
func NewRegistry(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Registry{pool: pool}, nil
}

// NewRegistryWithPool constructs a Registry from an existing pool (primarily
// for testing).
func NewRegistryWithPool(pool pgPool) (*Registry, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Registry{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (r *Registry) Close() {
	r.pool.Close()
}

// Migrate creates the projects table when it does not exist yet.
func (r *Registry) Migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS projects (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			status           TEXT NOT NULL,
			queue            TEXT NOT NULL,
			total_units      BIGINT NOT NULL DEFAULT 0,
			processed_units  BIGINT NOT NULL DEFAULT 0,
			result_count     BIGINT NOT NULL DEFAULT 0,
			attempts         INT NOT NULL DEFAULT 0,
			error_text       TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL,
			last_progress_at TIMESTAMPTZ NOT NULL,
			started_at       TIMESTAMPTZ,
			finished_at      TIMESTAMPTZ
		);
	`
	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate projects table: %w", err)
	}
	return nil
}

const projectColumns = `id, name, status, queue, total_units, processed_units, result_count,
		attempts, error_text, created_at, last_progress_at, started_at, finished_at`

// Create stores a new project record.
func (r *Registry) Create(ctx context.Context, p scrape.Project) error {
	query := `
		INSERT INTO projects (` + projectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
	`
	_, err := r.pool.Exec(ctx, query,
		p.ID, p.Name, p.Status, p.Queue,
		p.TotalUnits, p.ProcessedUnits, p.ResultCount,
		p.Attempts, p.ErrorText, p.CreatedAt, p.LastProgressAt,
		p.StartedAt, p.FinishedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return scrape.ErrConflict
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// Get fetches a project by ID.
func (r *Registry) Get(ctx context.Context, id string) (scrape.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1;`
	p, err := scanProject(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.Project{}, scrape.ErrNotFound
		}
		return scrape.Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// List returns projects filtered by optional status, newest first.
func (r *Registry) List(ctx context.Context, status *scrape.Status, limit, offset int) ([]scrape.Project, error) {
	query := `
		SELECT ` + projectColumns + `
		FROM projects
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := r.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []scrape.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Count returns the number of projects matching the filter.
func (r *Registry) Count(ctx context.Context, status *scrape.Status) (int64, error) {
	query := `SELECT COUNT(*) FROM projects WHERE ($1::text IS NULL OR status = $1);`
	var n int64
	if err := r.pool.QueryRow(ctx, query, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return n, nil
}

// CountByStatus returns project counts keyed by status.
func (r *Registry) CountByStatus(ctx context.Context) (map[scrape.Status]int64, error) {
	query := `SELECT status, COUNT(*) FROM projects GROUP BY status;`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count projects by status: %w", err)
	}
	defer rows.Close()

	out := make(map[scrape.Status]int64)
	for rows.Next() {
		var status scrape.Status
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[status] = n
	}
	return out, nil
}

// Transition applies event as one conditional UPDATE. The allowed source
// statuses come from the transition table; when no row matches, the project
// either does not exist or already moved, and the caller observes
// ErrNotFound or ErrInvalidTransition accordingly.
func (r *Registry) Transition(ctx context.Context, id string, event scrape.Event) (scrape.Project, error) {
	sources := scrape.Sources(event)
	if len(sources) == 0 {
		return scrape.Project{}, scrape.ErrInvalidTransition
	}
	now := time.Now().UTC()

	var query string
	args := []any{id, statusStrings(sources)}
	switch event {
	case scrape.EventDispatch:
		query = `
			UPDATE projects
			SET status = 'running', started_at = COALESCE(started_at, $3)
			WHERE id = $1 AND status = ANY($2)
			RETURNING ` + projectColumns + `;`
		args = append(args, now)
	case scrape.EventFinish:
		query = `
			UPDATE projects
			SET status = 'completed', finished_at = $3
			WHERE id = $1 AND status = ANY($2)
			RETURNING ` + projectColumns + `;`
		args = append(args, now)
	case scrape.EventFail:
		query = `
			UPDATE projects
			SET status = 'error', finished_at = $3
			WHERE id = $1 AND status = ANY($2)
			RETURNING ` + projectColumns + `;`
		args = append(args, now)
	case scrape.EventReset:
		query = `
			UPDATE projects
			SET status = 'queued', processed_units = 0, result_count = 0,
				attempts = 0, error_text = '', started_at = NULL, finished_at = NULL
			WHERE id = $1 AND status = ANY($2)
			RETURNING ` + projectColumns + `;`
	case scrape.EventPause:
		query = `
			UPDATE projects SET status = 'paused'
			WHERE id = $1 AND status = ANY($2)
			RETURNING ` + projectColumns + `;`
	case scrape.EventResume:
		query = `
			UPDATE projects SET status = 'running'
			WHERE id = $1 AND status = ANY($2)
			RETURNING ` + projectColumns + `;`
	case scrape.EventRecover:
		// Recovery spends an attempt inside the same conditional write, so
		// a sweep losing the race to a pause or reset consumes nothing.
		query = `
			UPDATE projects SET status = 'queued', attempts = attempts + 1
			WHERE id = $1 AND status = ANY($2)
			RETURNING ` + projectColumns + `;`
	default:
		return scrape.Project{}, scrape.ErrInvalidTransition
	}

	p, err := scanProject(r.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return scrape.Project{}, fmt.Errorf("transition project: %w", err)
	}
	// No row matched the guard: distinguish missing from already-moved.
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return scrape.Project{}, getErr
	}
	return scrape.Project{}, scrape.ErrInvalidTransition
}

// RecordProgress applies monotonic deltas; increments never decrease
// counters and processed units clamp at the total. A missing row is a silent
// no-op so late orphaned events from deleted projects are dropped.
func (r *Registry) RecordProgress(ctx context.Context, id string, processedDelta, resultDelta int64, at time.Time) error {
	if processedDelta < 0 || resultDelta < 0 {
		return nil
	}
	query := `
		UPDATE projects
		SET processed_units = CASE
				WHEN total_units > 0 THEN LEAST(processed_units + $2, total_units)
				ELSE processed_units + $2
			END,
			result_count = result_count + $3,
			last_progress_at = GREATEST(last_progress_at, $4)
		WHERE id = $1;
	`
	if _, err := r.pool.Exec(ctx, query, id, processedDelta, resultDelta, at); err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	return nil
}

// SetTotals fixes the unit denominator for a project.
func (r *Registry) SetTotals(ctx context.Context, id string, totalUnits int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE projects SET total_units = $2 WHERE id = $1;`, id, totalUnits)
	if err != nil {
		return fmt.Errorf("set totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scrape.ErrNotFound
	}
	return nil
}

// SetError records the failure reason.
func (r *Registry) SetError(ctx context.Context, id string, reason string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE projects SET error_text = $2 WHERE id = $1;`, id, reason)
	if err != nil {
		return fmt.Errorf("set error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scrape.ErrNotFound
	}
	return nil
}

// Delete removes the project record immediately.
func (r *Registry) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scrape.ErrNotFound
	}
	return nil
}

func statusStrings(in []scrape.Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func scanProject(row pgx.Row) (scrape.Project, error) {
	var p scrape.Project
	err := row.Scan(
		&p.ID, &p.Name, &p.Status, &p.Queue,
		&p.TotalUnits, &p.ProcessedUnits, &p.ResultCount,
		&p.Attempts, &p.ErrorText, &p.CreatedAt, &p.LastProgressAt,
		&p.StartedAt, &p.FinishedAt,
	)
	if err != nil {
		return scrape.Project{}, err
	}
	return p, nil
}
