package registry

import "context"

// Store is the reconciliation ledger contract. Every write is independently
// idempotent so phases can merge in any order, any number of times.
type Store interface {
	// UpsertOrganization inserts the row if absent, otherwise patches only
	// the fields supplied by the delta.
	UpsertOrganization(ctx context.Context, patch OrganizationPatch) error

	// Organization returns one registry row.
	Organization(ctx context.Context, orgID string) (Organization, error)

	// NextCrawlBatch returns up to limit organizations with a live start URL
	// that have not been scraped yet.
	NextCrawlBatch(ctx context.Context, limit int) ([]CrawlTarget, error)

	// RecordVisits appends crawl visit rows.
	RecordVisits(ctx context.Context, visits []CrawlVisit) error

	// RecordDocuments appends document candidate rows, ignoring duplicates
	// on (org_id, local_path).
	RecordDocuments(ctx context.Context, docs []Document) error

	// RecordCrawlFailures appends failed-URL rows for the recheck pass.
	RecordCrawlFailures(ctx context.Context, failures []CrawlFailure) error

	// ListCrawlFailures returns all recorded failures, oldest first.
	ListCrawlFailures(ctx context.Context) ([]CrawlFailure, error)

	// RecordChecks appends classification verdicts, ignoring duplicates.
	RecordChecks(ctx context.Context, checks []Check) error

	// RecordCheckExceptions appends exception rows, ignoring duplicates.
	RecordCheckExceptions(ctx context.Context, exceptions []CheckException) error

	// PendingChecks computes the set difference of documents minus checks
	// minus exceptions.
	PendingChecks(ctx context.Context) ([]PendingDocument, error)

	// OrganizationsNeedingSeed returns organizations with no start URL and
	// no external domain override, the candidates for a seed query pass.
	OrganizationsNeedingSeed(ctx context.Context, limit int) ([]Organization, error)

	// RecordSeedResults appends ranked seed URLs.
	RecordSeedResults(ctx context.Context, results []SeedResult) error

	// ApplySeedResults sets start_url from the rank-1 seed result for
	// organizations that have none, and marks them queried.
	ApplySeedResults(ctx context.Context) error

	// AdvanceStartURL replaces start_url with the seed result of the given
	// rank for organizations that have not been scraped.
	AdvanceStartURL(ctx context.Context, rank int) error

	// RecomputeScrapeAggregates recomputes num_scraped/is_scraped from the
	// crawl visit ledger.
	RecomputeScrapeAggregates(ctx context.Context) error

	// RecomputeDocumentAggregates recomputes pdf_count as the distinct-hash
	// count from the document ledger.
	RecomputeDocumentAggregates(ctx context.Context) error

	// RecomputeCheckAggregates recomputes sbc_count from the verdict ledger.
	RecomputeCheckAggregates(ctx context.Context) error

	// DomainIndex maps base domains to the organizations they resolve to.
	// The join is one-to-many: organizations can share a domain.
	DomainIndex(ctx context.Context) (DomainIndex, error)
}
