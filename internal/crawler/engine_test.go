package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEngine() *Engine {
	return New(Config{
		MaxDepth:     2,
		Concurrency:  2,
		Timeout:      5 * time.Second,
		MaxBodyBytes: 1 << 20,
		UserAgent:    "sbclocate-test",
	}, zap.NewNop())
}

func drain(t *testing.T, run *Run) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-run.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("crawl did not finish")
		}
	}
}

func TestCrawlDiscoversPDFAndStaysInScope(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>
			<a href="/benefits.html">Benefits</a>
			<a href="/logo.png">Logo</a>
			<a href="http://offsite.invalid/partner.html">Partner</a>
		</body></html>`)
	})
	mux.HandleFunc("/benefits.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/docs/sbc2024.pdf">SBC</a></body></html>`)
	})
	mux.HandleFunc("/docs/sbc2024.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4 fake")
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	run := testEngine().Crawl(context.Background(), []string{srv.URL + "/"})
	events := drain(t, run)

	var pages, docs int
	var pdf DocumentFound
	for _, ev := range events {
		switch e := ev.(type) {
		case PageVisit:
			pages++
			require.NotContains(t, e.URL, "offsite.invalid")
		case DocumentFound:
			docs++
			pdf = e
		case FetchFailure:
			// The off-scope link is aborted before any network attempt, so
			// it must not even surface as a failure.
			require.NotContains(t, e.URL, "offsite.invalid")
		}
	}

	require.Equal(t, 2, pages, "seed page and benefits page")
	require.Equal(t, 1, docs)
	require.Equal(t, []byte("%PDF-1.4 fake"), pdf.Body)
	require.Equal(t, srv.URL+"/docs/sbc2024.pdf", pdf.URL)
	require.Equal(t, srv.URL+"/benefits.html", pdf.ReferringURL)

	stats := run.Stats()
	require.Equal(t, int64(2), stats.PagesVisited)
	require.Equal(t, int64(1), stats.DocumentsFound)
}

func TestCrawlAttributesRedirectedTreeToSeedDomain(t *testing.T) {
	destMux := http.NewServeMux()
	destMux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/plan.pdf">Plan</a></body></html>`)
	})
	destMux.HandleFunc("/plan.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4 plan")
	})
	dest := httptest.NewServer(destMux)
	defer dest.Close()

	seedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := dest.URL + r.URL.Path
		if r.URL.Path == "/" {
			target = dest.URL + "/home"
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	}))
	defer seedSrv.Close()

	run := testEngine().Crawl(context.Background(), []string{seedSrv.URL + "/"})
	events := drain(t, run)

	seedDomain := seedSrv.Listener.Addr().String()
	var sawDoc bool
	for _, ev := range events {
		switch e := ev.(type) {
		case PageVisit:
			require.Equal(t, seedDomain, e.BaseDomain)
		case DocumentFound:
			sawDoc = true
			require.Equal(t, seedDomain, e.BaseDomain,
				"documents found through a redirect belong to the seed's domain")
		}
	}
	require.True(t, sawDoc)
}

func TestCrawlHonorsDepthLimit(t *testing.T) {
	var deepHit bool
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/hop1.html">next</a></body></html>`)
	})
	mux.HandleFunc("/hop1.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/hop2.html">next</a></body></html>`)
	})
	mux.HandleFunc("/hop2.html", func(w http.ResponseWriter, r *http.Request) {
		deepHit = true
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	engine := New(Config{
		MaxDepth:     1,
		Concurrency:  2,
		Timeout:      5 * time.Second,
		MaxBodyBytes: 1 << 20,
	}, zap.NewNop())

	drain(t, engine.Crawl(context.Background(), []string{srv.URL + "/"}))
	require.False(t, deepHit, "pages past the hop limit must not be fetched")
}

func TestCrawlRecordsFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/gone.pdf">gone</a></body></html>`)
	})
	mux.HandleFunc("/gone.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	run := testEngine().Crawl(context.Background(), []string{srv.URL + "/"})
	events := drain(t, run)

	var failures []FetchFailure
	for _, ev := range events {
		if f, ok := ev.(FetchFailure); ok {
			failures = append(failures, f)
		}
	}
	require.Len(t, failures, 1)
	require.Equal(t, srv.URL+"/gone.pdf", failures[0].URL)
	require.Equal(t, FailureHTTPClient, failures[0].Category)
	require.Equal(t, int64(1), run.Stats().FetchFailures)
}

func TestSkipLink(t *testing.T) {
	require.False(t, skipLink("https://example.gov/page.html"))
	require.False(t, skipLink("https://example.gov/docs/sbc.pdf"))
	require.False(t, skipLink("https://example.gov/benefits"))
	require.True(t, skipLink("https://example.gov/logo.png"))
	require.True(t, skipLink("https://example.gov/minutes.docx"))
	require.True(t, skipLink("https://example.gov/styles.css"))
}

func TestIsPDF(t *testing.T) {
	require.True(t, isPDF("application/pdf", "/download"))
	require.True(t, isPDF("application/pdf; charset=binary", "/download"))
	require.True(t, isPDF("application/octet-stream", "/files/sbc.PDF"))
	require.False(t, isPDF("text/html", "/files/page.html"))
}

func TestCategorize(t *testing.T) {
	require.Equal(t, FailureHTTPServer, categorize(503, errors.New("server error")))
	require.Equal(t, FailureHTTPClient, categorize(404, errors.New("not found")))
	require.Equal(t, FailureDNS, categorize(0, &net.DNSError{Err: "no such host"}))
	require.Equal(t, FailureTimeout, categorize(0, context.DeadlineExceeded))
	require.Equal(t, FailureOther, categorize(0, errors.New("connection reset")))
}
