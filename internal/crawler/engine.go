// Package crawler implements the domain-scoped discovery crawl with the Colly
// library. Each run covers one batch of organization start URLs, stays inside
// the batch's domain boundary, and streams observations to the caller as
// events.
package crawler

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"go.uber.org/zap"

	"github.com/govscan/sbclocate/internal/registry"
)

// ctxBaseDomain keys the seed's original domain in the colly request context.
// Child requests inherit the parent's context, so every page in a crawl tree
// carries the domain of the seed it grew from, even when the seed redirected
// elsewhere before producing links.
const ctxBaseDomain = "base_domain"

// Config controls one engine's crawl behavior.
type Config struct {
	// MaxDepth is link hops from the seed, not counting the seed itself.
	MaxDepth     int
	Concurrency  int
	Delay        time.Duration
	Timeout      time.Duration
	MaxBodyBytes int
	UserAgent    string
}

// Engine runs crawl batches.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

// New builds an engine.
func New(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Run is one in-flight crawl batch.
type Run struct {
	events chan Event
	stats  *counters
}

// Events streams crawl observations. The channel closes when the batch is
// exhausted or the context is cancelled; the caller must drain it.
func (r *Run) Events() <-chan Event { return r.events }

// Stats snapshots the run's counters. Safe to call while the run is live.
func (r *Run) Stats() Stats { return r.stats.snapshot() }

func (r *Run) emit(ctx context.Context, ev Event) {
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}

// Crawl starts a batch over the given seed URLs and returns immediately. The
// domain boundary is fixed up front from the seeds.
func (e *Engine) Crawl(ctx context.Context, seedURLs []string) *Run {
	run := &Run{events: make(chan Event, 256), stats: &counters{}}
	scope := NewDomainSet(seedURLs...)
	collector := e.newCollector(ctx, run, scope)

	e.logger.Info("crawl batch starting",
		zap.Int("seeds", len(seedURLs)),
		zap.Int("domains", scope.Len()),
	)

	go func() {
		defer close(run.events)
		for _, seed := range seedURLs {
			if ctx.Err() != nil {
				return
			}
			if err := collector.Visit(seed); err != nil {
				run.stats.failures.Add(1)
				run.emit(ctx, FetchFailure{
					BaseDomain: registry.BaseDomain(seed),
					URL:        seed,
					Category:   FailureUnvisitable,
					At:         time.Now().UTC(),
				})
			}
		}
		collector.Wait()
		s := run.stats.snapshot()
		e.logger.Info("crawl batch finished",
			zap.Int64("pages", s.PagesVisited),
			zap.Int64("documents", s.DocumentsFound),
			zap.Int64("failures", s.FetchFailures),
		)
	}()

	return run
}

func (e *Engine) newCollector(ctx context.Context, run *Run, scope *DomainSet) *colly.Collector {
	collector := colly.NewCollector(
		// Colly counts the seed request as depth 1.
		colly.MaxDepth(e.cfg.MaxDepth+1),
		colly.UserAgent(e.cfg.UserAgent),
		colly.Async(true),
		colly.MaxBodySize(e.cfg.MaxBodyBytes),
	)
	collector.SetRequestTimeout(e.cfg.Timeout)

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: e.cfg.Concurrency,
		Delay:       e.cfg.Delay,
	}); err != nil {
		e.logger.Error("failed to set collector limits", zap.Error(err))
	}

	extensions.Referer(collector)

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		if r.Ctx.Get(ctxBaseDomain) == "" {
			r.Ctx.Put(ctxBaseDomain, registry.BaseDomain(r.URL.String()))
		}
		if !scope.Contains(r.URL.Hostname()) {
			r.Abort()
		}
	})

	collector.OnHTML("a[href]", func(el *colly.HTMLElement) {
		link := el.Request.AbsoluteURL(el.Attr("href"))
		if link == "" || skipLink(link) {
			return
		}
		// Visit rejects revisits and over-depth links; neither is a failure.
		_ = el.Request.Visit(link)
	})

	collector.OnResponse(func(r *colly.Response) {
		base := r.Ctx.Get(ctxBaseDomain)
		contentType := strings.ToLower(r.Headers.Get("Content-Type"))
		referrer := r.Request.Headers.Get("Referer")
		now := time.Now().UTC()

		if isPDF(contentType, r.Request.URL.Path) {
			run.stats.documents.Add(1)
			body := make([]byte, len(r.Body))
			copy(body, r.Body)
			run.emit(ctx, DocumentFound{
				BaseDomain:   base,
				URL:          r.Request.URL.String(),
				ReferringURL: referrer,
				ContentType:  contentType,
				Body:         body,
				At:           now,
			})
			return
		}

		run.stats.pages.Add(1)
		run.emit(ctx, PageVisit{
			BaseDomain:   base,
			URL:          r.Request.URL.String(),
			ReferringURL: referrer,
			ContentType:  contentType,
			Depth:        r.Request.Depth - 1,
			At:           now,
		})
	})

	collector.OnError(func(r *colly.Response, err error) {
		run.stats.failures.Add(1)
		run.emit(ctx, FetchFailure{
			BaseDomain: r.Ctx.Get(ctxBaseDomain),
			URL:        r.Request.URL.String(),
			Category:   categorize(r.StatusCode, err),
			At:         time.Now().UTC(),
		})
	})

	return collector
}

// isPDF detects PDF responses by declared type first, then URL extension for
// servers that mislabel documents as octet streams.
func isPDF(contentType, urlPath string) bool {
	if strings.Contains(contentType, "application/pdf") ||
		strings.Contains(contentType, "application/x-pdf") {
		return true
	}
	return strings.EqualFold(path.Ext(urlPath), ".pdf")
}

// skippedExtensions are link targets the crawl never follows: media and
// binary formats that cannot contain either links or SBC text. PDF is the one
// binary format in scope.
var skippedExtensions = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "bmp": {}, "svg": {},
	"webp": {}, "ico": {}, "tif": {}, "tiff": {},
	"mp3": {}, "mp4": {}, "wav": {}, "avi": {}, "mov": {}, "wmv": {},
	"mpg": {}, "mpeg": {}, "m4v": {}, "flv": {},
	"zip": {}, "gz": {}, "tar": {}, "rar": {}, "7z": {}, "bz2": {},
	"doc": {}, "docx": {}, "xls": {}, "xlsx": {}, "ppt": {}, "pptx": {},
	"odt": {}, "ods": {}, "csv": {},
	"css": {}, "js": {}, "exe": {}, "bin": {}, "dmg": {}, "iso": {}, "apk": {},
}

func skipLink(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	if ext == "" || ext == "pdf" {
		return false
	}
	_, skip := skippedExtensions[ext]
	return skip
}

func categorize(statusCode int, err error) string {
	switch {
	case statusCode >= 500:
		return FailureHTTPServer
	case statusCode >= 400:
		return FailureHTTPClient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureDNS
	}
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return FailureTLS
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return FailureTLS
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return FailureTLS
	}
	return FailureOther
}
