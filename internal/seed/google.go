package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultEndpoint = "https://www.googleapis.com/customsearch/v1"

// DefaultSearchTerm is appended to the organization name and state; it biases
// results toward benefits pages rather than the organization's front page.
const DefaultSearchTerm = "summary of benefits and coverage"

// DefaultExcludeDomains removes aggregator sites that outrank small
// governments for their own name.
var DefaultExcludeDomains = []string{
	"-site:facebook.com",
	"-site:wikipedia.org",
	"-site:linkedin.com",
	"-site:indeed.com",
}

// GoogleResolver resolves organizations through the Google Custom Search JSON
// API. Each Resolve call costs one metered API request.
type GoogleResolver struct {
	APIKey   string
	EngineID string

	// Endpoint overrides the API URL, for tests.
	Endpoint string
	// SearchTerm and ExcludeDomains override the query suffix.
	SearchTerm     string
	ExcludeDomains []string
	// MaxResults caps ranked URLs per organization. Zero means all returned.
	MaxResults int

	HTTPClient *http.Client
	Logger     *zap.Logger
}

type searchResponse struct {
	Items []struct {
		Link string `json:"link"`
	} `json:"items"`
}

// Resolve queries the API and returns hits ranked in result order.
func (g *GoogleResolver) Resolve(ctx context.Context, q Query) ([]RankedURL, error) {
	if g.APIKey == "" || g.EngineID == "" {
		return nil, fmt.Errorf("google resolver requires api key and engine id")
	}

	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	client := g.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	logger := g.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	params := url.Values{}
	params.Set("key", g.APIKey)
	params.Set("cx", g.EngineID)
	params.Set("q", g.searchString(q))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", q.OrgID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search %s: http status %d", q.OrgID, resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	ranked := make([]RankedURL, 0, len(body.Items))
	for i, item := range body.Items {
		if g.MaxResults > 0 && i >= g.MaxResults {
			break
		}
		ranked = append(ranked, RankedURL{Rank: i + 1, URL: item.Link})
	}

	logger.Debug("seed query resolved",
		zap.String("org_id", q.OrgID),
		zap.Int("results", len(ranked)),
	)
	return ranked, nil
}

func (g *GoogleResolver) searchString(q Query) string {
	term := g.SearchTerm
	if term == "" {
		term = DefaultSearchTerm
	}
	exclude := g.ExcludeDomains
	if exclude == nil {
		exclude = DefaultExcludeDomains
	}

	parts := []string{strings.TrimSpace(q.Name), strings.TrimSpace(q.State), term}
	parts = append(parts, exclude...)
	return strings.Join(parts, " ")
}
