package crawler

import "sync/atomic"

// Stats is a point-in-time snapshot of one crawl run.
type Stats struct {
	PagesVisited   int64
	DocumentsFound int64
	FetchFailures  int64
}

type counters struct {
	pages     atomic.Int64
	documents atomic.Int64
	failures  atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		PagesVisited:   c.pages.Load(),
		DocumentsFound: c.documents.Load(),
		FetchFailures:  c.failures.Load(),
	}
}
