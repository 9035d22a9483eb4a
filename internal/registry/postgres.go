package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an organization does not exist.
var ErrNotFound = errors.New("organization not found")

// DB is the subset of pgxpool.Pool the store depends on. pgxmock satisfies it
// in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresConfig controls the connection pool behind the registry store.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// PostgresStore implements Store against Postgres. All merges are single
// atomic statements so concurrent phase writers cannot lose updates.
type PostgresStore struct {
	db   DB
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool and returns a store backed by it.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{db: pool, pool: pool}, nil
}

// NewPostgresStoreWithDB constructs a store from an existing connection
// surface (primarily for testing with pgxmock).
func NewPostgresStoreWithDB(db DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the underlying pool, when the store owns one.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the registry tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const upsertOrganizationSQL = `
INSERT INTO organizations (
	org_id, name, state, start_url, is_queried_search, is_scraped,
	num_scraped, pdf_count, sbc_count, external_domain
) VALUES (
	$1, COALESCE($2, ''), COALESCE($3, ''), $4,
	COALESCE($5, FALSE), COALESCE($6, FALSE),
	COALESCE($7, 0), COALESCE($8, 0), COALESCE($9, 0), $10
)
ON CONFLICT (org_id) DO UPDATE SET
	name              = COALESCE($2, organizations.name),
	state             = COALESCE($3, organizations.state),
	start_url         = COALESCE($4, organizations.start_url),
	is_queried_search = COALESCE($5, organizations.is_queried_search),
	is_scraped        = COALESCE($6, organizations.is_scraped),
	num_scraped       = COALESCE($7, organizations.num_scraped),
	pdf_count         = COALESCE($8, organizations.pdf_count),
	sbc_count         = COALESCE($9, organizations.sbc_count),
	external_domain   = COALESCE($10, organizations.external_domain)`

// UpsertOrganization applies a patch: insert when absent, otherwise update
// only the supplied columns. NULL arguments leave existing values alone, so a
// classification merge can never null out fields the crawl phase wrote.
func (s *PostgresStore) UpsertOrganization(ctx context.Context, patch OrganizationPatch) error {
	if patch.ID == "" {
		return fmt.Errorf("organization id is required")
	}
	_, err := s.db.Exec(ctx, upsertOrganizationSQL,
		patch.ID,
		patch.Name,
		patch.State,
		patch.StartURL,
		patch.IsQueriedSearch,
		patch.IsScraped,
		patch.NumScraped,
		patch.PDFCount,
		patch.SBCCount,
		patch.ExternalDomain,
	)
	if err != nil {
		return fmt.Errorf("upsert organization %s: %w", patch.ID, err)
	}
	return nil
}

// Organization returns one registry row.
func (s *PostgresStore) Organization(ctx context.Context, orgID string) (Organization, error) {
	row := s.db.QueryRow(ctx, `
SELECT org_id, name, state, start_url, is_queried_search, is_scraped,
	num_scraped, pdf_count, sbc_count, external_domain
FROM organizations WHERE org_id = $1`, orgID)

	var org Organization
	err := row.Scan(&org.ID, &org.Name, &org.State, &org.StartURL,
		&org.IsQueriedSearch, &org.IsScraped, &org.NumScraped,
		&org.PDFCount, &org.SBCCount, &org.ExternalDomain)
	if errors.Is(err, pgx.ErrNoRows) {
		return Organization{}, fmt.Errorf("%w: %s", ErrNotFound, orgID)
	}
	if err != nil {
		return Organization{}, fmt.Errorf("select organization %s: %w", orgID, err)
	}
	return org, nil
}

// NextCrawlBatch returns organizations with a live start URL that were not
// scraped yet, bounded by limit.
func (s *PostgresStore) NextCrawlBatch(ctx context.Context, limit int) ([]CrawlTarget, error) {
	rows, err := s.db.Query(ctx, `
SELECT org_id, start_url
FROM organizations
WHERE start_url IS NOT NULL AND NOT is_scraped
ORDER BY org_id
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select crawl batch: %w", err)
	}
	defer rows.Close()

	var targets []CrawlTarget
	for rows.Next() {
		var t CrawlTarget
		if err := rows.Scan(&t.OrgID, &t.StartURL); err != nil {
			return nil, fmt.Errorf("scan crawl target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl batch: %w", err)
	}
	return targets, nil
}

// RecordVisits appends crawl visit rows.
func (s *PostgresStore) RecordVisits(ctx context.Context, visits []CrawlVisit) error {
	for _, v := range visits {
		_, err := s.db.Exec(ctx, `
INSERT INTO crawl_visits (org_id, base_domain, referring_url, url, content_type, depth, visited_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			v.OrgID, v.BaseDomain, v.ReferringURL, v.URL, v.ContentType, v.Depth, v.VisitedAt)
		if err != nil {
			return fmt.Errorf("insert crawl visit %s: %w", v.URL, err)
		}
	}
	return nil
}

// RecordDocuments appends document rows; duplicates on (org_id, local_path)
// are ignored so re-ingesting a batch is idempotent.
func (s *PostgresStore) RecordDocuments(ctx context.Context, docs []Document) error {
	for _, d := range docs {
		_, err := s.db.Exec(ctx, `
INSERT INTO documents (org_id, url, local_path, content_hash)
VALUES ($1, $2, $3, $4)
ON CONFLICT (org_id, local_path) DO NOTHING`,
			d.OrgID, d.URL, d.LocalPath, d.ContentHash)
		if err != nil {
			return fmt.Errorf("insert document %s: %w", d.LocalPath, err)
		}
	}
	return nil
}

// RecordCrawlFailures appends failed URLs; a URL failing again just refreshes
// its category and timestamp.
func (s *PostgresStore) RecordCrawlFailures(ctx context.Context, failures []CrawlFailure) error {
	for _, f := range failures {
		_, err := s.db.Exec(ctx, `
INSERT INTO crawl_failures (url, base_domain, category, failed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (url) DO UPDATE SET category = $3, failed_at = $4`,
			f.URL, f.BaseDomain, f.Category, f.FailedAt)
		if err != nil {
			return fmt.Errorf("insert crawl failure %s: %w", f.URL, err)
		}
	}
	return nil
}

// ListCrawlFailures returns all recorded failures.
func (s *PostgresStore) ListCrawlFailures(ctx context.Context) ([]CrawlFailure, error) {
	rows, err := s.db.Query(ctx, `
SELECT url, base_domain, category, failed_at FROM crawl_failures ORDER BY failed_at`)
	if err != nil {
		return nil, fmt.Errorf("select crawl failures: %w", err)
	}
	defer rows.Close()

	var failures []CrawlFailure
	for rows.Next() {
		var f CrawlFailure
		if err := rows.Scan(&f.URL, &f.BaseDomain, &f.Category, &f.FailedAt); err != nil {
			return nil, fmt.Errorf("scan crawl failure: %w", err)
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl failures: %w", err)
	}
	return failures, nil
}

// RecordChecks appends verdicts. A document already checked keeps its first
// verdict; classification is deterministic so a conflict means a re-run.
func (s *PostgresStore) RecordChecks(ctx context.Context, checks []Check) error {
	for _, c := range checks {
		_, err := s.db.Exec(ctx, `
INSERT INTO sbc_checks (org_id, local_path, is_sbc)
VALUES ($1, $2, $3)
ON CONFLICT (org_id, local_path) DO NOTHING`,
			c.OrgID, c.LocalPath, c.IsSBC)
		if err != nil {
			return fmt.Errorf("insert check %s: %w", c.LocalPath, err)
		}
	}
	return nil
}

// RecordCheckExceptions appends exception rows, ignoring duplicates.
func (s *PostgresStore) RecordCheckExceptions(ctx context.Context, exceptions []CheckException) error {
	for _, e := range exceptions {
		_, err := s.db.Exec(ctx, `
INSERT INTO check_exceptions (local_path, reason)
VALUES ($1, $2)
ON CONFLICT (local_path) DO NOTHING`,
			e.LocalPath, e.Reason)
		if err != nil {
			return fmt.Errorf("insert check exception %s: %w", e.LocalPath, err)
		}
	}
	return nil
}

// PendingChecks computes documents minus checks minus exceptions, so repeated
// classification runs only process new work.
func (s *PostgresStore) PendingChecks(ctx context.Context) ([]PendingDocument, error) {
	rows, err := s.db.Query(ctx, `
SELECT DISTINCT d.org_id, d.local_path
FROM documents d
LEFT JOIN check_exceptions e ON d.local_path = e.local_path
LEFT JOIN sbc_checks c ON d.org_id = c.org_id AND d.local_path = c.local_path
WHERE e.local_path IS NULL AND c.local_path IS NULL
ORDER BY d.org_id, d.local_path`)
	if err != nil {
		return nil, fmt.Errorf("select pending checks: %w", err)
	}
	defer rows.Close()

	var pending []PendingDocument
	for rows.Next() {
		var p PendingDocument
		if err := rows.Scan(&p.OrgID, &p.LocalPath); err != nil {
			return nil, fmt.Errorf("scan pending check: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending checks: %w", err)
	}
	return pending, nil
}

// OrganizationsNeedingSeed returns organizations that still need a website
// resolved: no start URL and no external domain override.
func (s *PostgresStore) OrganizationsNeedingSeed(ctx context.Context, limit int) ([]Organization, error) {
	rows, err := s.db.Query(ctx, `
SELECT org_id, name, state
FROM organizations
WHERE start_url IS NULL AND external_domain IS NULL
ORDER BY org_id
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select seed candidates: %w", err)
	}
	defer rows.Close()

	var orgs []Organization
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.State); err != nil {
			return nil, fmt.Errorf("scan seed candidate: %w", err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seed candidates: %w", err)
	}
	return orgs, nil
}

// RecordSeedResults appends ranked seed URLs; a re-query for the same rank
// replaces the URL.
func (s *PostgresStore) RecordSeedResults(ctx context.Context, results []SeedResult) error {
	for _, r := range results {
		_, err := s.db.Exec(ctx, `
INSERT INTO seed_results (org_id, rank, url, queried_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (org_id, rank) DO UPDATE SET url = $3, queried_at = $4`,
			r.OrgID, r.Rank, r.URL, r.QueriedAt)
		if err != nil {
			return fmt.Errorf("insert seed result %s: %w", r.OrgID, err)
		}
	}
	return nil
}

// ApplySeedResults fills start_url from the rank-1 seed result for
// organizations with none, and marks them queried.
func (s *PostgresStore) ApplySeedResults(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
UPDATE organizations o
SET start_url = sr.url, is_queried_search = TRUE
FROM seed_results sr
WHERE o.org_id = sr.org_id AND sr.rank = 1 AND o.start_url IS NULL`)
	if err != nil {
		return fmt.Errorf("apply seed results: %w", err)
	}
	return nil
}

// AdvanceStartURL moves unscraped organizations to their rank-N seed result,
// giving the next crawl run a fresh candidate.
func (s *PostgresStore) AdvanceStartURL(ctx context.Context, rank int) error {
	if rank < 1 {
		return fmt.Errorf("rank must be >= 1")
	}
	_, err := s.db.Exec(ctx, `
UPDATE organizations o
SET start_url = sr.url
FROM seed_results sr
WHERE o.org_id = sr.org_id AND sr.rank = $1 AND NOT o.is_scraped`, rank)
	if err != nil {
		return fmt.Errorf("advance start url to rank %d: %w", rank, err)
	}
	return nil
}

// RecomputeScrapeAggregates recomputes num_scraped and is_scraped from the
// visit ledger. Recomputing rather than incrementing keeps the merge
// idempotent: re-running an identical merge yields the same aggregate.
func (s *PostgresStore) RecomputeScrapeAggregates(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
UPDATE organizations o
SET num_scraped = agg.cnt, is_scraped = TRUE
FROM (SELECT org_id, COUNT(url) AS cnt FROM crawl_visits GROUP BY org_id) agg
WHERE o.org_id = agg.org_id`)
	if err != nil {
		return fmt.Errorf("recompute scrape aggregates: %w", err)
	}
	return nil
}

// RecomputeDocumentAggregates recomputes pdf_count as a distinct-hash count,
// so the same file downloaded under two names counts once.
func (s *PostgresStore) RecomputeDocumentAggregates(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
UPDATE organizations o
SET pdf_count = agg.cnt
FROM (SELECT org_id, COUNT(DISTINCT content_hash) AS cnt FROM documents GROUP BY org_id) agg
WHERE o.org_id = agg.org_id`)
	if err != nil {
		return fmt.Errorf("recompute document aggregates: %w", err)
	}
	return nil
}

// RecomputeCheckAggregates recomputes sbc_count from the verdict ledger.
func (s *PostgresStore) RecomputeCheckAggregates(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
UPDATE organizations o
SET sbc_count = agg.cnt
FROM (SELECT org_id, COUNT(*) FILTER (WHERE is_sbc) AS cnt FROM sbc_checks GROUP BY org_id) agg
WHERE o.org_id = agg.org_id`)
	if err != nil {
		return fmt.Errorf("recompute check aggregates: %w", err)
	}
	return nil
}

// DomainIndex builds the base-domain to organizations mapping from start URLs
// and external_domain overrides.
func (s *PostgresStore) DomainIndex(ctx context.Context) (DomainIndex, error) {
	rows, err := s.db.Query(ctx, `
SELECT org_id, start_url, external_domain FROM organizations`)
	if err != nil {
		return nil, fmt.Errorf("select domain index: %w", err)
	}
	defer rows.Close()

	idx := make(DomainIndex)
	for rows.Next() {
		var orgID string
		var startURL, externalDomain *string
		if err := rows.Scan(&orgID, &startURL, &externalDomain); err != nil {
			return nil, fmt.Errorf("scan domain index row: %w", err)
		}
		if startURL != nil {
			idx.Add(BaseDomain(*startURL), orgID)
		}
		if externalDomain != nil {
			idx.Add(*externalDomain, orgID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domain index: %w", err)
	}
	return idx, nil
}

var _ Store = (*PostgresStore)(nil)
