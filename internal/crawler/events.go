package crawler

import "time"

// Event is one crawl observation. The engine emits events as they happen and
// never touches the registry itself; the ingest side decides which
// organizations each base domain maps to.
type Event interface {
	isEvent()
}

// PageVisit is a successfully fetched non-document page.
type PageVisit struct {
	BaseDomain   string
	URL          string
	ReferringURL string
	ContentType  string
	Depth        int
	At           time.Time
}

// DocumentFound is a fetched PDF, body included.
type DocumentFound struct {
	BaseDomain   string
	URL          string
	ReferringURL string
	ContentType  string
	Body         []byte
	At           time.Time
}

// FetchFailure is a URL that could not be fetched during the crawl. Failures
// are kept for the out-of-band recheck pass, not retried inline.
type FetchFailure struct {
	BaseDomain string
	URL        string
	Category   string
	At         time.Time
}

func (PageVisit) isEvent()     {}
func (DocumentFound) isEvent() {}
func (FetchFailure) isEvent()  {}

// Failure categories.
const (
	FailureTimeout     = "timeout"
	FailureTLS         = "tls"
	FailureDNS         = "dns"
	FailureHTTPClient  = "http_4xx"
	FailureHTTPServer  = "http_5xx"
	FailureUnvisitable = "unvisitable"
	FailureOther       = "other"
)
