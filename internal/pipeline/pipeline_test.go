package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/govscan/sbclocate/internal/classifier"
	"github.com/govscan/sbclocate/internal/crawler"
	"github.com/govscan/sbclocate/internal/registry"
	"github.com/govscan/sbclocate/internal/seed"
	"github.com/govscan/sbclocate/internal/storage"
)

func newDocs(t *testing.T) *storage.DocumentStore {
	t.Helper()
	docs, err := storage.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return docs
}

func TestCrawlPhaseEndToEnd(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>
			<a href="/docs/sbc.pdf">SBC</a>
			<a href="/gone.html">Gone</a>
		</body></html>`)
	})
	mux.HandleFunc("/docs/sbc.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4 body")
	})
	mux.HandleFunc("/gone.html", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := registry.NewMemoryStore()
	startURL := srv.URL + "/"
	require.NoError(t, store.UpsertOrganization(ctx, registry.OrganizationPatch{
		ID:       "GOV1",
		StartURL: &startURL,
	}))

	docs := newDocs(t)
	p := &Pipeline{
		Store: store,
		Docs:  docs,
		Engine: crawler.New(crawler.Config{
			MaxDepth:     2,
			Concurrency:  2,
			Timeout:      5 * time.Second,
			MaxBodyBytes: 1 << 20,
		}, zap.NewNop()),
		Logger:    zap.NewNop(),
		BatchSize: 30,
	}

	sum, err := p.Crawl(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Batches)
	require.Equal(t, 1, sum.Organizations)
	require.Equal(t, int64(1), sum.PagesVisited)
	require.Equal(t, int64(1), sum.DocumentsFound)
	require.Equal(t, int64(1), sum.FetchFailures)

	org, err := store.Organization(ctx, "GOV1")
	require.NoError(t, err)
	require.True(t, org.IsScraped)
	require.Equal(t, 1, org.NumScraped)
	require.Equal(t, 1, org.PDFCount)

	failures, err := store.ListCrawlFailures(ctx)
	require.NoError(t, err)
	require.Len(t, failures, 1)

	// Everything is scraped now, so a rerun finds no work.
	again, err := p.Crawl(ctx)
	require.NoError(t, err)
	require.Zero(t, again.Batches)
}

type visitFailingStore struct {
	*registry.MemoryStore
}

func (s *visitFailingStore) RecordVisits(context.Context, []registry.CrawlVisit) error {
	return errors.New("visit ledger unavailable")
}

func TestCrawlStoreErrorDrainsRun(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>")
		for i := 0; i < 400; i++ {
			fmt.Fprintf(w, `<a href="/p/%d">p</a>`, i)
		}
		fmt.Fprint(w, "</body></html>")
	})
	mux.HandleFunc("/p/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>leaf</body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := &visitFailingStore{MemoryStore: registry.NewMemoryStore()}
	startURL := srv.URL + "/"
	require.NoError(t, store.UpsertOrganization(ctx, registry.OrganizationPatch{
		ID:       "GOV1",
		StartURL: &startURL,
	}))

	p := &Pipeline{
		Store: store,
		Docs:  newDocs(t),
		Engine: crawler.New(crawler.Config{
			MaxDepth:     2,
			Concurrency:  4,
			Timeout:      5 * time.Second,
			MaxBodyBytes: 1 << 20,
		}, zap.NewNop()),
		Logger:    zap.NewNop(),
		BatchSize: 30,
	}

	// The batch emits far more events than ingest consumes before the store
	// error; the run must still unwind instead of leaving collector workers
	// blocked on a full events channel.
	errc := make(chan error, 1)
	go func() {
		_, err := p.Crawl(ctx)
		errc <- err
	}()
	select {
	case err := <-errc:
		require.ErrorContains(t, err, "visit ledger unavailable")
	case <-time.After(30 * time.Second):
		t.Fatal("crawl did not return after the store error")
	}
}

func TestCrawlMarksEmptySitesScraped(t *testing.T) {
	ctx := context.Background()
	store := registry.NewMemoryStore()
	startURL := "http://127.0.0.1:1/" // nothing listens here
	require.NoError(t, store.UpsertOrganization(ctx, registry.OrganizationPatch{
		ID:       "GOV1",
		StartURL: &startURL,
	}))

	p := &Pipeline{
		Store: store,
		Docs:  newDocs(t),
		Engine: crawler.New(crawler.Config{
			MaxDepth:     1,
			Concurrency:  1,
			Timeout:      time.Second,
			MaxBodyBytes: 1 << 20,
		}, zap.NewNop()),
		Logger:    zap.NewNop(),
		BatchSize: 30,
	}

	sum, err := p.Crawl(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Organizations)

	org, err := store.Organization(ctx, "GOV1")
	require.NoError(t, err)
	require.True(t, org.IsScraped, "dead sites must not be re-crawled forever")

	again, err := p.Crawl(ctx)
	require.NoError(t, err)
	require.Zero(t, again.Organizations)
}

func TestClassifyPhase(t *testing.T) {
	ctx := context.Background()
	store := registry.NewMemoryStore()
	require.NoError(t, store.UpsertOrganization(ctx, registry.OrganizationPatch{ID: "GOV1"}))
	require.NoError(t, store.RecordDocuments(ctx, []registry.Document{
		{OrgID: "GOV1", URL: "https://x.gov/a.pdf", LocalPath: "GOV1/a.pdf", ContentHash: "h1"},
		{OrgID: "GOV1", URL: "https://x.gov/b.pdf", LocalPath: "GOV1/b.pdf", ContentHash: "h2"},
		{OrgID: "GOV1", URL: "https://x.gov/c.pdf", LocalPath: "GOV1/c.pdf", ContentHash: "h3"},
	}))

	docs := newDocs(t)
	p := &Pipeline{
		Store: store,
		Docs:  docs,
		Pool: &classifier.Pool{
			Workers:     2,
			ItemTimeout: time.Second,
			Extract: func(path string, _ int) (string, error) {
				switch path {
				case docs.AbsPath("GOV1/a.pdf"):
					return "Summary of Benefits and Coverage", nil
				case docs.AbsPath("GOV1/b.pdf"):
					return "meeting minutes", nil
				default:
					return "", errors.New("pdf extraction panic: bad xref")
				}
			},
		},
		Logger: zap.NewNop(),
	}

	sum, err := p.Classify(ctx)
	require.NoError(t, err)
	require.Equal(t, ClassifySummary{Pending: 3, SBCs: 1, NonSBCs: 1, Exceptions: 1}, sum)

	org, err := store.Organization(ctx, "GOV1")
	require.NoError(t, err)
	require.Equal(t, 1, org.SBCCount)

	// Verdicts and exceptions both clear the queue.
	again, err := p.Classify(ctx)
	require.NoError(t, err)
	require.Zero(t, again.Pending)
}

func TestClassifyPhaseTimeoutStaysPending(t *testing.T) {
	ctx := context.Background()
	store := registry.NewMemoryStore()
	require.NoError(t, store.UpsertOrganization(ctx, registry.OrganizationPatch{ID: "GOV1"}))
	require.NoError(t, store.RecordDocuments(ctx, []registry.Document{
		{OrgID: "GOV1", URL: "https://x.gov/slow.pdf", LocalPath: "GOV1/slow.pdf", ContentHash: "h1"},
	}))

	docs := newDocs(t)
	p := &Pipeline{
		Store: store,
		Docs:  docs,
		Pool: &classifier.Pool{
			Workers:     1,
			ItemTimeout: 10 * time.Millisecond,
			Extract: func(string, int) (string, error) {
				time.Sleep(200 * time.Millisecond)
				return "", nil
			},
		},
		Logger: zap.NewNop(),
	}

	sum, err := p.Classify(ctx)
	require.NoError(t, err)
	require.Equal(t, ClassifySummary{Pending: 1, Timeouts: 1}, sum)

	// A timeout writes nothing, so the document comes back next run.
	pending, err := store.PendingChecks(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "GOV1/slow.pdf", pending[0].LocalPath)
}

type fakeResolver struct {
	results map[string][]seed.RankedURL
	errs    map[string]error
}

func (f *fakeResolver) Resolve(_ context.Context, q seed.Query) ([]seed.RankedURL, error) {
	if err, ok := f.errs[q.OrgID]; ok {
		return nil, err
	}
	return f.results[q.OrgID], nil
}

func TestSeedPhase(t *testing.T) {
	ctx := context.Background()
	store := registry.NewMemoryStore()
	name := "City of Auburn"
	state := "AL"
	require.NoError(t, store.UpsertOrganization(ctx, registry.OrganizationPatch{
		ID: "GOV1", Name: &name, State: &state,
	}))
	require.NoError(t, store.UpsertOrganization(ctx, registry.OrganizationPatch{ID: "GOV2"}))

	p := &Pipeline{
		Store: store,
		Resolver: &fakeResolver{
			results: map[string][]seed.RankedURL{
				"GOV1": {
					{Rank: 1, URL: "https://www.auburn-al.gov"},
					{Rank: 2, URL: "https://auburn-al.example.org"},
				},
			},
			errs: map[string]error{
				"GOV2": errors.New("quota exceeded"),
			},
		},
		Logger: zap.NewNop(),
	}

	sum, err := p.Seed(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, SeedSummary{Queried: 2, Resolved: 1, Failed: 1}, sum)

	org, err := store.Organization(ctx, "GOV1")
	require.NoError(t, err)
	require.NotNil(t, org.StartURL)
	require.Equal(t, "https://www.auburn-al.gov", *org.StartURL)
	require.True(t, org.IsQueriedSearch)

	org2, err := store.Organization(ctx, "GOV2")
	require.NoError(t, err)
	require.Nil(t, org2.StartURL)
}
