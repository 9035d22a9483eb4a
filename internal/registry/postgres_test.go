package registry

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewPostgresStoreWithDB(mock)
	require.NoError(t, err)
	return store, mock
}

func TestUpsertOrganizationPatchesOnlySuppliedColumns(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	pdfCount := 7
	patch := OrganizationPatch{ID: "123AB01", PDFCount: &pdfCount}

	mock.ExpectExec("INSERT INTO organizations").
		WithArgs(
			"123AB01",
			(*string)(nil), // name untouched
			(*string)(nil),
			(*string)(nil),
			(*bool)(nil),
			(*bool)(nil),
			(*int)(nil),
			&pdfCount,
			(*int)(nil),
			(*string)(nil),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertOrganization(context.Background(), patch))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertOrganizationRequiresID(t *testing.T) {
	t.Parallel()
	store, _ := newMockStore(t)
	require.Error(t, store.UpsertOrganization(context.Background(), OrganizationPatch{}))
}

func TestNextCrawlBatch(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{"org_id", "start_url"}).
		AddRow("123AB01", "https://www.example.gov/benefits").
		AddRow("456CD02", "https://hr.other.gov/")
	mock.ExpectQuery("SELECT org_id, start_url").
		WithArgs(30).
		WillReturnRows(rows)

	targets, err := store.NextCrawlBatch(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	require.Equal(t, "123AB01", targets[0].OrgID)
	require.Equal(t, "https://hr.other.gov/", targets[1].StartURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDocumentsIgnoresDuplicates(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	doc := Document{
		OrgID:       "123AB01",
		URL:         "https://www.example.gov/plan/sbc.pdf",
		LocalPath:   "123AB01/sbc.pdf",
		ContentHash: "deadbeef",
	}

	// Replayed merge: second insert hits the conflict path and affects no row.
	mock.ExpectExec("INSERT INTO documents").
		WithArgs(doc.OrgID, doc.URL, doc.LocalPath, doc.ContentHash).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO documents").
		WithArgs(doc.OrgID, doc.URL, doc.LocalPath, doc.ContentHash).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.RecordDocuments(context.Background(), []Document{doc}))
	require.NoError(t, store.RecordDocuments(context.Background(), []Document{doc}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingChecksSetDifference(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{"org_id", "local_path"}).
		AddRow("123AB01", "123AB01/new.pdf")
	mock.ExpectQuery("SELECT DISTINCT d.org_id, d.local_path").
		WillReturnRows(rows)

	pending, err := store.PendingChecks(context.Background())
	require.NoError(t, err)
	require.Equal(t, []PendingDocument{{OrgID: "123AB01", LocalPath: "123AB01/new.pdf"}}, pending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecomputeAggregates(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec(`SET num_scraped = agg.cnt, is_scraped = TRUE`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 12))
	mock.ExpectExec(`SET pdf_count = agg.cnt`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 9))
	mock.ExpectExec(`SET sbc_count = agg.cnt`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	ctx := context.Background()
	require.NoError(t, store.RecomputeScrapeAggregates(ctx))
	require.NoError(t, store.RecomputeDocumentAggregates(ctx))
	require.NoError(t, store.RecomputeCheckAggregates(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCrawlFailures(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	failedAt := time.Unix(1724900000, 0).UTC()
	f := CrawlFailure{
		URL:        "https://broken.example.gov/page",
		BaseDomain: "broken.example.gov",
		Category:   "http_404",
		FailedAt:   failedAt,
	}
	mock.ExpectExec("INSERT INTO crawl_failures").
		WithArgs(f.URL, f.BaseDomain, f.Category, f.FailedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordCrawlFailures(context.Background(), []CrawlFailure{f}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceStartURLRejectsBadRank(t *testing.T) {
	t.Parallel()
	store, _ := newMockStore(t)
	require.Error(t, store.AdvanceStartURL(context.Background(), 0))
}

func TestDomainIndexUsesExternalDomainOverride(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	start := "https://www.example.gov/benefits"
	override := "plans.vendor.com"
	rows := pgxmock.NewRows([]string{"org_id", "start_url", "external_domain"}).
		AddRow("123AB01", &start, (*string)(nil)).
		AddRow("456CD02", &start, &override)
	mock.ExpectQuery("SELECT org_id, start_url, external_domain").
		WillReturnRows(rows)

	idx, err := store.DomainIndex(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"123AB01", "456CD02"}, idx.OrgsFor("www.example.gov"))
	require.Equal(t, []string{"456CD02"}, idx.OrgsFor("plans.vendor.com"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrganizationsNeedingSeed(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{"org_id", "name", "state"}).
		AddRow("123AB01", "City of Auburn", "AL").
		AddRow("456CD02", "Mobile County Schools", "AL")
	mock.ExpectQuery("SELECT org_id, name, state").
		WithArgs(50).
		WillReturnRows(rows)

	orgs, err := store.OrganizationsNeedingSeed(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	require.Equal(t, "City of Auburn", orgs[0].Name)
	require.Equal(t, "AL", orgs[1].State)
	require.NoError(t, mock.ExpectationsWereMet())
}
