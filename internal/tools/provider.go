package tools

import (
	"context"

	"github.com/basket/atohub/internal/policy"
)

// SearchProvider is the interface every web-search backend implements.
// Available() checks provider readiness (e.g. API key present); the router
// handles the tool-level policy check, providers check per-URL.
type SearchProvider interface {
	Name() string
	Available() bool
	Search(ctx context.Context, query string, pol policy.Checker) ([]SearchResult, error)
}
