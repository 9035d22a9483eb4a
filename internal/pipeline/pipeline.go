// Package pipeline wires the phases together over the registry ledger: seed,
// crawl, classify, recheck. Phases are independently re-runnable; each one
// reads its work from the ledger and merges results back with idempotent
// writes, so a crashed run picks up where it left off.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/govscan/sbclocate/internal/classifier"
	"github.com/govscan/sbclocate/internal/crawler"
	"github.com/govscan/sbclocate/internal/metrics"
	"github.com/govscan/sbclocate/internal/registry"
	"github.com/govscan/sbclocate/internal/seed"
	"github.com/govscan/sbclocate/internal/storage"
)

// visitFlushSize bounds how many visit rows accumulate before a ledger write.
const visitFlushSize = 100

// Pipeline holds the shared dependencies of all phases.
type Pipeline struct {
	Store    registry.Store
	Docs     *storage.DocumentStore
	Engine   *crawler.Engine
	Pool     *classifier.Pool
	Resolver seed.Resolver
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	// BatchSize is organizations per crawl batch.
	BatchSize int
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// CrawlSummary reports one full crawl phase.
type CrawlSummary struct {
	Batches        int
	Organizations  int
	PagesVisited   int64
	DocumentsFound int64
	FetchFailures  int64
}

// Crawl drains the crawl queue batch by batch until no unscraped organization
// with a start URL remains. Every organization in a finished batch is marked
// scraped even when its site yielded nothing, otherwise dead sites would be
// re-crawled forever.
func (p *Pipeline) Crawl(ctx context.Context) (CrawlSummary, error) {
	if p.BatchSize <= 0 {
		return CrawlSummary{}, fmt.Errorf("batch size must be > 0")
	}
	log := p.logger()

	idx, err := p.Store.DomainIndex(ctx)
	if err != nil {
		return CrawlSummary{}, err
	}

	var sum CrawlSummary
	for {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		targets, err := p.Store.NextCrawlBatch(ctx, p.BatchSize)
		if err != nil {
			return sum, err
		}
		if len(targets) == 0 {
			break
		}
		sum.Batches++
		sum.Organizations += len(targets)

		seeds := make([]string, 0, len(targets))
		for _, t := range targets {
			seeds = append(seeds, t.StartURL)
		}

		runCtx, cancel := context.WithCancel(ctx)
		run := p.Engine.Crawl(runCtx, seeds)
		if err := p.ingest(runCtx, idx, run); err != nil {
			// Unblock the collector workers and let the run drain before
			// surfacing the store error.
			cancel()
			for range run.Events() {
			}
			return sum, err
		}
		cancel()

		stats := run.Stats()
		sum.PagesVisited += stats.PagesVisited
		sum.DocumentsFound += stats.DocumentsFound
		sum.FetchFailures += stats.FetchFailures

		scraped := true
		for _, t := range targets {
			if err := p.Store.UpsertOrganization(ctx, registry.OrganizationPatch{
				ID:        t.OrgID,
				IsScraped: &scraped,
			}); err != nil {
				return sum, err
			}
		}
		log.Info("crawl batch ingested",
			zap.Int("organizations", len(targets)),
			zap.Int64("pages", stats.PagesVisited),
			zap.Int64("documents", stats.DocumentsFound),
		)
	}

	if err := p.Store.RecomputeScrapeAggregates(ctx); err != nil {
		return sum, err
	}
	if err := p.Store.RecomputeDocumentAggregates(ctx); err != nil {
		return sum, err
	}
	return sum, nil
}

// ingest drains one run's events into the ledger, expanding each event to
// every organization its base domain maps to.
func (p *Pipeline) ingest(ctx context.Context, idx registry.DomainIndex, run *crawler.Run) error {
	log := p.logger()
	var visits []registry.CrawlVisit

	flush := func() error {
		if len(visits) == 0 {
			return nil
		}
		if err := p.Store.RecordVisits(ctx, visits); err != nil {
			return err
		}
		visits = visits[:0]
		return nil
	}

	for ev := range run.Events() {
		switch e := ev.(type) {
		case crawler.PageVisit:
			if p.Metrics != nil {
				p.Metrics.PagesVisited.Inc()
			}
			for _, orgID := range idx.OrgsFor(e.BaseDomain) {
				visit := registry.CrawlVisit{
					OrgID:       orgID,
					BaseDomain:  e.BaseDomain,
					URL:         e.URL,
					ContentType: e.ContentType,
					Depth:       e.Depth,
					VisitedAt:   e.At,
				}
				if e.ReferringURL != "" {
					ref := e.ReferringURL
					visit.ReferringURL = &ref
				}
				visits = append(visits, visit)
			}
			if len(visits) >= visitFlushSize {
				if err := flush(); err != nil {
					return err
				}
			}

		case crawler.DocumentFound:
			if p.Metrics != nil {
				p.Metrics.DocumentsFound.Inc()
			}
			orgIDs := idx.OrgsFor(e.BaseDomain)
			if len(orgIDs) == 0 {
				log.Warn("document matches no organization",
					zap.String("url", e.URL),
					zap.String("base_domain", e.BaseDomain))
				continue
			}
			for _, orgID := range orgIDs {
				saved, err := p.Docs.Save(orgID, e.URL, e.Body)
				if err != nil {
					log.Error("failed to store document",
						zap.String("url", e.URL), zap.Error(err))
					continue
				}
				if err := p.Store.RecordDocuments(ctx, []registry.Document{{
					OrgID:       orgID,
					URL:         e.URL,
					LocalPath:   saved.LocalPath,
					ContentHash: saved.ContentHash,
				}}); err != nil {
					return err
				}
			}

		case crawler.FetchFailure:
			if p.Metrics != nil {
				p.Metrics.FetchFailures.WithLabelValues(e.Category).Inc()
			}
			if err := p.Store.RecordCrawlFailures(ctx, []registry.CrawlFailure{{
				URL:        e.URL,
				BaseDomain: e.BaseDomain,
				Category:   e.Category,
				FailedAt:   e.At,
			}}); err != nil {
				return err
			}
		}
	}
	return flush()
}

// ClassifySummary reports one classification phase.
type ClassifySummary struct {
	Pending    int
	SBCs       int
	NonSBCs    int
	Exceptions int
	Timeouts   int
}

// Classify runs the parallel classifier over every document with no verdict
// and no recorded exception, then recomputes sbc_count.
func (p *Pipeline) Classify(ctx context.Context) (ClassifySummary, error) {
	pending, err := p.Store.PendingChecks(ctx)
	if err != nil {
		return ClassifySummary{}, err
	}
	sum := ClassifySummary{Pending: len(pending)}
	if len(pending) == 0 {
		return sum, nil
	}

	tasks := make([]classifier.Task, len(pending))
	for i, doc := range pending {
		tasks[i] = classifier.Task{
			DocumentID: int64(i),
			Path:       p.Docs.AbsPath(doc.LocalPath),
		}
	}

	results := p.Pool.Run(ctx, tasks)

	var checks []registry.Check
	var exceptions []registry.CheckException
	for i, res := range results {
		doc := pending[i]
		if p.Metrics != nil {
			p.Metrics.Classifications.WithLabelValues(res.Outcome.String()).Inc()
		}
		switch res.Outcome {
		case classifier.OutcomeVerdict:
			checks = append(checks, registry.Check{
				OrgID:     doc.OrgID,
				LocalPath: doc.LocalPath,
				IsSBC:     res.Verdict.IsSBC,
			})
			if res.Verdict.IsSBC {
				sum.SBCs++
			} else {
				sum.NonSBCs++
			}
		case classifier.OutcomeTimeout:
			// No ledger write: a timed-out document stays pending and is
			// retried on the next run.
			sum.Timeouts++
			p.logger().Warn("classification timed out",
				zap.String("path", doc.LocalPath),
				zap.Duration("elapsed", res.Elapsed))
		case classifier.OutcomeException:
			sum.Exceptions++
			exceptions = append(exceptions, registry.CheckException{
				LocalPath: doc.LocalPath,
				Reason:    res.Err.Error(),
			})
		}
	}

	if err := p.Store.RecordChecks(ctx, checks); err != nil {
		return sum, err
	}
	if err := p.Store.RecordCheckExceptions(ctx, exceptions); err != nil {
		return sum, err
	}
	if err := p.Store.RecomputeCheckAggregates(ctx); err != nil {
		return sum, err
	}
	return sum, nil
}

// SeedSummary reports one seed phase.
type SeedSummary struct {
	Queried  int
	Resolved int
	Failed   int
}

// Seed resolves start URLs for organizations that have none, records the
// ranked candidates, and applies rank 1. Resolver failures skip the
// organization; seed queries are metered, so the phase runs at most limit
// queries per invocation.
func (p *Pipeline) Seed(ctx context.Context, limit int) (SeedSummary, error) {
	if p.Resolver == nil {
		return SeedSummary{}, fmt.Errorf("no seed resolver configured")
	}
	log := p.logger()

	orgs, err := p.Store.OrganizationsNeedingSeed(ctx, limit)
	if err != nil {
		return SeedSummary{}, err
	}

	var sum SeedSummary
	for _, org := range orgs {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Queried++

		ranked, err := p.Resolver.Resolve(ctx, seed.Query{
			OrgID: org.ID,
			Name:  org.Name,
			State: org.State,
		})
		if err != nil {
			sum.Failed++
			log.Warn("seed query failed",
				zap.String("org_id", org.ID), zap.Error(err))
			continue
		}
		if len(ranked) == 0 {
			continue
		}

		now := time.Now().UTC()
		results := make([]registry.SeedResult, len(ranked))
		for i, r := range ranked {
			results[i] = registry.SeedResult{
				OrgID:     org.ID,
				Rank:      r.Rank,
				URL:       r.URL,
				QueriedAt: now,
			}
		}
		if err := p.Store.RecordSeedResults(ctx, results); err != nil {
			return sum, err
		}
		sum.Resolved++
	}

	if err := p.Store.ApplySeedResults(ctx); err != nil {
		return sum, err
	}
	return sum, nil
}
