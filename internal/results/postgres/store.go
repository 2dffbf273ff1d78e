// Package postgres provides the Postgres-backed result store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadharvest/orchestrator/internal/scrape"
)

type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store writes result rows into Postgres. The BIGSERIAL id column is the
// insertion key pagination orders on.
type Store struct {
	pool pgPool
}

// NewStore connects a pool for the provided DSN.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewStoreWithPool(pool pgPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the results table when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS results (
			id          BIGSERIAL PRIMARY KEY,
			project_id  TEXT NOT NULL,
			url         TEXT NOT NULL,
			emails      TEXT[] NOT NULL DEFAULT '{}',
			http_status INT NOT NULL DEFAULT 0,
			scraped_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS results_project_id_idx ON results (project_id, id);
	`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate results table: %w", err)
	}
	return nil
}

// Append inserts the item and returns it with the assigned insertion key.
func (s *Store) Append(ctx context.Context, item scrape.ResultItem) (scrape.ResultItem, error) {
	query := `
		INSERT INTO results (project_id, url, emails, http_status, scraped_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id;
	`
	if item.ScrapedAt.IsZero() {
		item.ScrapedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx, query,
		item.ProjectID, item.URL, item.Emails, item.HTTPStatus, item.ScrapedAt,
	).Scan(&item.Seq)
	if err != nil {
		return scrape.ResultItem{}, fmt.Errorf("insert result: %w", err)
	}
	return item, nil
}

// CountForProject returns the number of stored items for the project.
func (s *Store) CountForProject(ctx context.Context, projectID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM results WHERE project_id = $1;`, projectID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

// ListRange returns items ordered by insertion key ascending.
func (s *Store) ListRange(ctx context.Context, projectID string, offset, limit int) ([]scrape.ResultItem, error) {
	query := `
		SELECT id, project_id, url, emails, http_status, scraped_at
		FROM results
		WHERE project_id = $1
		ORDER BY id ASC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	out := []scrape.ResultItem{}
	for rows.Next() {
		var item scrape.ResultItem
		err := rows.Scan(&item.Seq, &item.ProjectID, &item.URL, &item.Emails, &item.HTTPStatus, &item.ScrapedAt)
		if err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		out = append(out, item)
	}
	return out, nil
}

// DeleteForProject drops every row belonging to the project.
func (s *Store) DeleteForProject(ctx context.Context, projectID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM results WHERE project_id = $1;`, projectID); err != nil {
		return fmt.Errorf("delete results: %w", err)
	}
	return nil
}
