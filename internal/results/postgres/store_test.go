package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/leadharvest/orchestrator/internal/scrape"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestAppendAssignsInsertionKey(t *testing.T) {
	store, mock := newMockStore(t)

	scrapedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO results").
		WithArgs("p-1", "https://example.com", []string{"a@example.com"}, 200, scrapedAt).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	item, err := store.Append(context.Background(), scrape.ResultItem{
		ProjectID:  "p-1",
		URL:        "https://example.com",
		Emails:     []string{"a@example.com"},
		HTTPStatus: 200,
		ScrapedAt:  scrapedAt,
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), item.Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRangeOrdersByInsertionKey(t *testing.T) {
	store, mock := newMockStore(t)

	scrapedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"id", "project_id", "url", "emails", "http_status", "scraped_at"}).
		AddRow(int64(7), "p-1", "https://a.example.com", []string{"a@example.com"}, 200, scrapedAt).
		AddRow(int64(8), "p-1", "https://b.example.com", []string{}, 404, scrapedAt)
	mock.ExpectQuery("SELECT id, project_id, url, emails, http_status, scraped_at").
		WithArgs("p-1", 50, 0).
		WillReturnRows(rows)

	items, err := store.ListRange(context.Background(), "p-1", 0, 50)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, int64(7), items[0].Seq)
	require.Equal(t, int64(8), items[1].Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountForProject(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("p-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(105)))

	n, err := store.CountForProject(context.Background(), "p-1")
	require.NoError(t, err)
	require.Equal(t, int64(105), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteForProject(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM results").
		WithArgs("p-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 105))

	require.NoError(t, store.DeleteForProject(context.Background(), "p-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
