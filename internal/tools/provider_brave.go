package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/basket/atohub/internal/audit"
	"github.com/basket/atohub/internal/policy"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// BraveProvider is the keyed SearchProvider backed by the Brave Search API.
// It is preferred over the DuckDuckGo fallback whenever a key is configured.
type BraveProvider struct {
	apiKey string
	client *http.Client
}

func NewBraveProvider(apiKey string) *BraveProvider {
	return &BraveProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *BraveProvider) Name() string    { return "brave_search" }
func (b *BraveProvider) Available() bool { return b.apiKey != "" }

func (b *BraveProvider) Search(ctx context.Context, query string, pol policy.Checker) ([]SearchResult, error) {
	braveURL := fmt.Sprintf("%s?q=%s&count=%d", braveEndpoint, url.QueryEscape(query), searchMaxResults)
	if !pol.AllowHTTPURL(braveURL) {
		audit.Record("block", "url_filter", "search URL denied by policy", "", braveURL)
		return nil, fmt.Errorf("policy denied search URL %q", braveURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, braveURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("brave API returned %d: %s", resp.StatusCode, detail)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return parseBraveJSON(body)
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

func parseBraveJSON(data []byte) ([]SearchResult, error) {
	var resp braveResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse brave response: %w", err)
	}
	hits := resp.Web.Results
	if len(hits) > searchMaxResults {
		hits = hits[:searchMaxResults]
	}
	results := make([]SearchResult, 0, len(hits))
	for _, r := range hits {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return results, nil
}
