// Package seed proposes candidate start URLs for organizations that have
// none, using a programmable web search. Results are ranked; the registry
// applies rank 1 first and can advance to lower ranks when a crawl of the
// current URL finds nothing.
package seed

import "context"

// Query identifies one organization to find a website for.
type Query struct {
	OrgID string
	Name  string
	State string
}

// RankedURL is one search hit, rank 1 being the engine's best guess.
type RankedURL struct {
	Rank int
	URL  string
}

// Resolver turns an organization into ranked candidate URLs.
type Resolver interface {
	Resolve(ctx context.Context, q Query) ([]RankedURL, error)
}
