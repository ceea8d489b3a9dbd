package tools

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/basket/atohub/internal/audit"
	"github.com/basket/atohub/internal/policy"
)

// searchMaxResults caps how many scraped hits a single search returns.
const searchMaxResults = 5

// DDGProvider is the keyless fallback SearchProvider, scraping the
// DuckDuckGo HTML endpoint.
type DDGProvider struct {
	client *http.Client
}

func NewDDGProvider() *DDGProvider {
	return &DDGProvider{client: &http.Client{Timeout: 10 * time.Second}}
}

func (d *DDGProvider) Name() string    { return "duckduckgo" }
func (d *DDGProvider) Available() bool { return true }

func (d *DDGProvider) Search(ctx context.Context, query string, pol policy.Checker) ([]SearchResult, error) {
	ddgURL := searchEndpoint(query)
	if !pol.AllowHTTPURL(ddgURL) {
		audit.Record("block", "url_filter", "search URL denied by policy", "", ddgURL)
		return nil, fmt.Errorf("policy denied search URL %q", ddgURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ddgURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "AtoHub/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return parseHTMLResults(string(body)), nil
}

// searchEndpoint builds the search URL, honoring ATOHUB_SEARCH_ENDPOINT so
// tests and proxies can stand in for the real site.
func searchEndpoint(query string) string {
	if endpoint := os.Getenv("ATOHUB_SEARCH_ENDPOINT"); endpoint != "" {
		if u, err := url.Parse(endpoint); err == nil {
			q := u.Query()
			q.Set("q", query)
			u.RawQuery = q.Encode()
			return u.String()
		}
	}
	return "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
}

var (
	reResultLink    = regexp.MustCompile(`(?i)<a[^>]+class="result__a"[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	reResultSnippet = regexp.MustCompile(`(?i)<a[^>]+class="result__snippet"[^>]*>(.*?)</a>`)
	reTag           = regexp.MustCompile(`<[^>]+>`)
)

func parseHTMLResults(page string) []SearchResult {
	links := reResultLink.FindAllStringSubmatch(page, searchMaxResults*2)
	snippets := reResultSnippet.FindAllStringSubmatch(page, searchMaxResults*2)

	results := make([]SearchResult, 0, searchMaxResults)
	for i, link := range links {
		if len(link) < 3 {
			continue
		}
		r := SearchResult{
			Title: stripTags(link[2]),
			URL:   unwrapRedirect(link[1]),
		}
		if i < len(snippets) && len(snippets[i]) >= 2 {
			r.Snippet = stripTags(snippets[i][1])
		}
		results = append(results, r)
		if len(results) >= searchMaxResults {
			break
		}
	}
	return results
}

// unwrapRedirect extracts the destination from DuckDuckGo's /l/?uddg=
// redirect wrapper. Unwrapped URLs pass through.
func unwrapRedirect(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if actual := u.Query().Get("uddg"); actual != "" {
		return actual
	}
	return rawURL
}

func stripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(reTag.ReplaceAllString(s, "")))
}
