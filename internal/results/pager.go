// Package results serves per-project result sets in bounded pages with
// stable ordering.
package results

import (
	"context"
	"fmt"

	"github.com/leadharvest/orchestrator/internal/scrape"
)

// Pagination bounds, matching the result API contract.
const (
	DefaultPerPage = 100
	MaxPerPage     = 500
)

// Page computes one page over a project's results. Pages are 1-indexed; a
// page beyond the end returns empty items with has_next=false rather than an
// error. Ordering is by the insertion key, so pages already served never
// reorder while workers keep appending.
func Page(ctx context.Context, store scrape.ResultStore, projectID string, page, perPage int) (scrape.ResultPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	total, err := store.CountForProject(ctx, projectID)
	if err != nil {
		return scrape.ResultPage{}, fmt.Errorf("count results: %w", err)
	}
	pages := int((total + int64(perPage) - 1) / int64(perPage))

	items := []scrape.ResultItem{}
	offset := (page - 1) * perPage
	if int64(offset) < total {
		items, err = store.ListRange(ctx, projectID, offset, perPage)
		if err != nil {
			return scrape.ResultPage{}, fmt.Errorf("list results: %w", err)
		}
	}

	return scrape.ResultPage{
		Items:   items,
		Page:    page,
		PerPage: perPage,
		Pages:   pages,
		Total:   total,
		HasNext: page < pages,
		HasPrev: page > 1,
	}, nil
}
