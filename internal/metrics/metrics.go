// Package metrics exposes Prometheus collectors for pipeline phases.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics owns all collectors for crawl, fetch, and classification outcomes.
type Metrics struct {
	PagesVisited    prometheus.Counter
	DocumentsFound  prometheus.Counter
	FetchFailures   *prometheus.CounterVec
	FetchTierUsed   *prometheus.CounterVec
	Classifications *prometheus.CounterVec
}

// New registers the collectors against the provided registry. A nil registerer
// falls back to the default one.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		PagesVisited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sbclocate_pages_visited_total",
			Help: "Pages fetched during crawl batches.",
		}),
		DocumentsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sbclocate_documents_found_total",
			Help: "Document candidates discovered by content type.",
		}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sbclocate_fetch_failures_total",
			Help: "Failed page fetches partitioned by category.",
		}, []string{"category"}),
		FetchTierUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sbclocate_fetch_tier_total",
			Help: "Successful out-of-band fetches partitioned by trust tier.",
		}, []string{"tier"}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sbclocate_classifications_total",
			Help: "Classification results partitioned by outcome.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{
		m.PagesVisited,
		m.DocumentsFound,
		m.FetchFailures,
		m.FetchTierUsed,
		m.Classifications,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
