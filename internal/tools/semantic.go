package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/basket/atohub/internal/grounding"
)

// HTTPSearchClient talks to the external semantic search service. It is the
// production implementation of grounding.SearchClient.
type HTTPSearchClient struct {
	endpoint string
	client   *http.Client
}

func NewHTTPSearchClient(endpoint string) *HTTPSearchClient {
	return &HTTPSearchClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type semanticRequest struct {
	StoreID    string `json:"store_id"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type semanticResponse struct {
	Results []grounding.Hit `json:"results"`
}

func (c *HTTPSearchClient) Search(ctx context.Context, storeID, query string, max int) ([]grounding.Hit, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("semantic search endpoint not configured")
	}
	payload, err := json.Marshal(semanticRequest{StoreID: storeID, Query: query, MaxResults: max})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("semantic search returned %d: %s", resp.StatusCode, string(body))
	}

	var out semanticResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(out.Results) > max {
		out.Results = out.Results[:max]
	}
	return out.Results, nil
}
