// Package registry implements the reconciliation ledger: one authoritative
// row per government organization, merged from independently produced crawl,
// classification, and seed facts.
package registry

import "time"

// Organization is the root registry entity. Aggregate counts are derived from
// the detail ledgers and never authored directly.
type Organization struct {
	ID              string
	Name            string
	State           string
	StartURL        *string
	IsQueriedSearch bool
	IsScraped       bool
	NumScraped      int
	PDFCount        int
	SBCCount        int
	ExternalDomain  *string
}

// OrganizationPatch is a typed delta against one Organization row. Nil fields
// are not touched by the merge; this is what makes concurrent phase merges
// safe to apply in any order.
type OrganizationPatch struct {
	ID              string
	Name            *string
	State           *string
	StartURL        *string
	IsQueriedSearch *bool
	IsScraped       *bool
	NumScraped      *int
	PDFCount        *int
	SBCCount        *int
	ExternalDomain  *string
}

// CrawlVisit is one fetched page, attributed to the organization whose start
// domain produced it. Append-only.
type CrawlVisit struct {
	OrgID        string
	BaseDomain   string
	ReferringURL *string
	URL          string
	ContentType  string
	Depth        int
	VisitedAt    time.Time
}

// Document is one downloaded binary believed to be a document, keyed by
// (org_id, local_path). The same URL downloaded twice deduplicates on hash.
type Document struct {
	OrgID       string
	URL         string
	LocalPath   string
	ContentHash string
}

// Check is the classification verdict for one document.
type Check struct {
	OrgID     string
	LocalPath string
	IsSBC     bool
}

// CheckException records a document that could not be classified. Documents
// listed here are excluded from future classification attempts.
type CheckException struct {
	LocalPath string
	Reason    string
}

// CrawlFailure is one URL that failed during a crawl batch, kept for the
// out-of-band recheck pass.
type CrawlFailure struct {
	URL        string
	BaseDomain string
	Category   string
	FailedAt   time.Time
}

// PendingDocument identifies a document with no verdict and no recorded
// exception.
type PendingDocument struct {
	OrgID     string
	LocalPath string
}

// CrawlTarget pairs an organization with its live candidate start URL.
type CrawlTarget struct {
	OrgID    string
	StartURL string
}

// SeedResult is one ranked URL proposed by the external seed resolver.
type SeedResult struct {
	OrgID     string
	Rank      int
	URL       string
	QueriedAt time.Time
}

// ApplyPatch merges a patch into an organization value: supplied fields
// overwrite, nil fields are kept. This is the in-memory statement of the
// patch-not-replace contract the SQL upsert implements.
func ApplyPatch(org Organization, patch OrganizationPatch) Organization {
	if patch.ID != "" {
		org.ID = patch.ID
	}
	if patch.Name != nil {
		org.Name = *patch.Name
	}
	if patch.State != nil {
		org.State = *patch.State
	}
	if patch.StartURL != nil {
		org.StartURL = patch.StartURL
	}
	if patch.IsQueriedSearch != nil {
		org.IsQueriedSearch = *patch.IsQueriedSearch
	}
	if patch.IsScraped != nil {
		org.IsScraped = *patch.IsScraped
	}
	if patch.NumScraped != nil {
		org.NumScraped = *patch.NumScraped
	}
	if patch.PDFCount != nil {
		org.PDFCount = *patch.PDFCount
	}
	if patch.SBCCount != nil {
		org.SBCCount = *patch.SBCCount
	}
	if patch.ExternalDomain != nil {
		org.ExternalDomain = patch.ExternalDomain
	}
	return org
}
