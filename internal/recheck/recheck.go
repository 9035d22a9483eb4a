// Package recheck reprocesses URLs that failed during crawl batches. Where
// the crawl uses strict verification and gives up fast, the recheck pass
// walks the full trust-degradation chain, follows PDF links out of recovered
// HTML pages, and classifies recovered documents inline.
package recheck

import (
	"bytes"
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/govscan/sbclocate/internal/classifier"
	"github.com/govscan/sbclocate/internal/fetcher"
	"github.com/govscan/sbclocate/internal/metrics"
	"github.com/govscan/sbclocate/internal/registry"
	"github.com/govscan/sbclocate/internal/storage"
)

// Fetcher is the trust-degrading document fetch.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetcher.Result, error)
}

// Summary reports what one recheck pass accomplished.
type Summary struct {
	Attempted    int
	Recovered    int
	StillFailing int
	Documents    int
	SBCs         int
}

// Runner drives one recheck pass.
type Runner struct {
	Store registry.Store
	Fetch Fetcher
	Docs  *storage.DocumentStore

	// MaxPages bounds inline classification, matching the batch classifier.
	MaxPages int
	// MaxLinksPerPage caps how many PDF links are followed out of one
	// recovered HTML page.
	MaxLinksPerPage int

	// Metrics may be nil; successful fetches count by trust tier.
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

func (r *Runner) noteTier(tier fetcher.Tier) {
	if r.Metrics != nil {
		r.Metrics.FetchTierUsed.WithLabelValues(tier.String()).Inc()
	}
}

// Run reprocesses every recorded crawl failure and recomputes document and
// check aggregates afterwards. Individual failures never abort the pass.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	failures, err := r.Store.ListCrawlFailures(ctx)
	if err != nil {
		return Summary{}, err
	}
	idx, err := r.Store.DomainIndex(ctx)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, failure := range failures {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Attempted++

		res, err := r.Fetch.Fetch(ctx, failure.URL)
		if err != nil {
			sum.StillFailing++
			logger.Debug("recheck fetch still failing",
				zap.String("url", failure.URL), zap.Error(err))
			continue
		}
		sum.Recovered++
		r.noteTier(res.Tier)

		orgIDs := idx.OrgsFor(failure.BaseDomain)
		if len(orgIDs) == 0 {
			logger.Warn("recovered url matches no organization",
				zap.String("url", failure.URL),
				zap.String("base_domain", failure.BaseDomain))
			continue
		}

		if looksLikePDF(res, failure.URL) {
			r.ingestDocument(ctx, logger, &sum, orgIDs, failure.URL, res.Body)
			continue
		}
		if strings.Contains(res.ContentType, "text/html") {
			r.harvestPDFLinks(ctx, logger, &sum, orgIDs, failure.URL, res.Body)
		}
	}

	if err := r.Store.RecomputeDocumentAggregates(ctx); err != nil {
		return sum, err
	}
	if err := r.Store.RecomputeCheckAggregates(ctx); err != nil {
		return sum, err
	}

	logger.Info("recheck pass finished",
		zap.Int("attempted", sum.Attempted),
		zap.Int("recovered", sum.Recovered),
		zap.Int("documents", sum.Documents),
		zap.Int("sbcs", sum.SBCs),
	)
	return sum, nil
}

// harvestPDFLinks pulls PDF hrefs out of a recovered HTML page and ingests
// each one. The page itself recovered, so its documents are reachable even
// though the crawl never saw them.
func (r *Runner) harvestPDFLinks(ctx context.Context, logger *zap.Logger, sum *Summary, orgIDs []string, pageURL string, body []byte) {
	links := PDFLinks(pageURL, body)
	limit := r.MaxLinksPerPage
	if limit <= 0 {
		limit = 20
	}
	if len(links) > limit {
		links = links[:limit]
	}

	for _, link := range links {
		if ctx.Err() != nil {
			return
		}
		res, err := r.Fetch.Fetch(ctx, link)
		if err != nil {
			logger.Debug("pdf link fetch failed",
				zap.String("url", link), zap.Error(err))
			continue
		}
		r.noteTier(res.Tier)
		if !looksLikePDF(res, link) {
			continue
		}
		r.ingestDocument(ctx, logger, sum, orgIDs, link, res.Body)
	}
}

// ingestDocument stores the body once per organization, records the document
// rows, and classifies inline.
func (r *Runner) ingestDocument(ctx context.Context, logger *zap.Logger, sum *Summary, orgIDs []string, sourceURL string, body []byte) {
	text, extractErr := classifier.ExtractTextBytes(body, r.MaxPages)

	for _, orgID := range orgIDs {
		saved, err := r.Docs.Save(orgID, sourceURL, body)
		if err != nil {
			logger.Error("failed to store recovered document",
				zap.String("url", sourceURL), zap.Error(err))
			continue
		}
		if err := r.Store.RecordDocuments(ctx, []registry.Document{{
			OrgID:       orgID,
			URL:         sourceURL,
			LocalPath:   saved.LocalPath,
			ContentHash: saved.ContentHash,
		}}); err != nil {
			logger.Error("failed to record recovered document",
				zap.String("url", sourceURL), zap.Error(err))
			continue
		}
		sum.Documents++

		if extractErr != nil {
			_ = r.Store.RecordCheckExceptions(ctx, []registry.CheckException{{
				LocalPath: saved.LocalPath,
				Reason:    extractErr.Error(),
			}})
			continue
		}
		verdict := classifier.Classify(text)
		if err := r.Store.RecordChecks(ctx, []registry.Check{{
			OrgID:     orgID,
			LocalPath: saved.LocalPath,
			IsSBC:     verdict.IsSBC,
		}}); err != nil {
			logger.Error("failed to record verdict",
				zap.String("path", saved.LocalPath), zap.Error(err))
			continue
		}
		if verdict.IsSBC {
			sum.SBCs++
		}
	}
}

func looksLikePDF(res fetcher.Result, rawURL string) bool {
	if strings.Contains(res.ContentType, "application/pdf") ||
		strings.Contains(res.ContentType, "application/x-pdf") {
		return true
	}
	if bytes.HasPrefix(res.Body, []byte("%PDF")) {
		return true
	}
	return strings.EqualFold(path.Ext(urlPath(rawURL)), ".pdf")
}

func urlPath(rawURL string) string {
	if i := strings.Index(rawURL, "?"); i >= 0 {
		rawURL = rawURL[:i]
	}
	return rawURL
}

// PDFLinks extracts absolute PDF hrefs from an HTML document, in document
// order, deduplicated.
func PDFLinks(pageURL string, body []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := map[string]struct{}{}
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if !strings.EqualFold(path.Ext(abs.Path), ".pdf") {
			return
		}
		s := abs.String()
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		links = append(links, s)
	})
	return links
}
