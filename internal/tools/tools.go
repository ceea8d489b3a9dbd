// Package tools defines the agent-callable tools: web search over a
// provider chain and semantic file search over named stores. Every call is
// policy-gated and audited.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/basket/atohub/internal/audit"
	"github.com/basket/atohub/internal/grounding"
	"github.com/basket/atohub/internal/policy"
)

type SearchInput struct {
	Query string `json:"query"`
}

type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type SearchOutput struct {
	Results  []SearchResult `json:"results"`
	Provider string         `json:"provider,omitempty"`
}

type FileSearchInput struct {
	Query string `json:"query"`
	// Store selects a named document store; empty uses the registry default.
	Store string `json:"store,omitempty"`
}

type FileSearchOutput struct {
	Hits []grounding.Hit `json:"hits"`
}

// Registry owns the tool set and the backends they call.
type Registry struct {
	policy       policy.Checker
	providers    []SearchProvider
	search       grounding.SearchClient
	stores       map[string]string // logical name -> store ID
	defaultStore string

	tools map[string]ai.Tool
}

// NewRegistry builds the registry. braveKey may be empty; DuckDuckGo needs
// none. search may be nil when no semantic store is configured.
func NewRegistry(pol policy.Checker, braveKey string, search grounding.SearchClient, stores map[string]string, defaultStore string) *Registry {
	return &Registry{
		policy:       pol,
		providers:    []SearchProvider{NewBraveProvider(braveKey), NewDDGProvider()},
		search:       search,
		stores:       stores,
		defaultStore: defaultStore,
		tools:        map[string]ai.Tool{},
	}
}

// RegisterAll defines every tool against the Genkit instance.
func (r *Registry) RegisterAll(g *genkit.Genkit) {
	r.tools["web_search"] = genkit.DefineTool(g, "web_search",
		"Search the web for current information. Returns results with titles, URLs, and snippets.",
		func(ctx *ai.ToolContext, input SearchInput) (SearchOutput, error) {
			return r.WebSearch(ctx, input.Query)
		},
	)
	r.tools["file_search"] = genkit.DefineTool(g, "file_search",
		"Search the configured document store for passages relevant to the query.",
		func(ctx *ai.ToolContext, input FileSearchInput) (FileSearchOutput, error) {
			return r.FileSearch(ctx, input)
		},
	)
}

// Refs resolves tool names to references for attachment to a generation.
// Unknown or unregistered names are skipped.
func (r *Registry) Refs(names []string) []ai.ToolRef {
	var refs []ai.ToolRef
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			refs = append(refs, t)
		}
	}
	return refs
}

// WebSearch routes a query through the provider chain: skip unavailable,
// fall through on error, first success wins.
func (r *Registry) WebSearch(ctx context.Context, query string) (SearchOutput, error) {
	if query == "" {
		return SearchOutput{}, fmt.Errorf("empty search query")
	}
	if r.policy == nil || !r.policy.AllowTool("web_search") {
		audit.Record("block", "url_filter", "tool not in policy allowlist", "", "web_search")
		return SearchOutput{}, fmt.Errorf("policy denied tool %q", "web_search")
	}

	slog.Info("web_search tool called", "query", query)

	for _, p := range r.providers {
		if !p.Available() {
			continue
		}
		results, err := p.Search(ctx, query, r.policy)
		if err != nil {
			slog.Warn("search provider failed, trying next", "provider", p.Name(), "error", err)
			continue
		}
		if len(results) == 0 {
			return SearchOutput{Provider: p.Name(), Results: []SearchResult{{
				Title:   "No results found",
				Snippet: fmt.Sprintf("No results found for %q.", query),
			}}}, nil
		}
		return SearchOutput{Provider: p.Name(), Results: results}, nil
	}

	return SearchOutput{Results: []SearchResult{{
		Title:   "Search unavailable",
		Snippet: fmt.Sprintf("Could not search for %q. Configure a search provider or set BRAVE_API_KEY.", query),
	}}}, nil
}

// FileSearch queries the semantic store named by the input.
func (r *Registry) FileSearch(ctx context.Context, input FileSearchInput) (FileSearchOutput, error) {
	if r.policy == nil || !r.policy.AllowTool("file_search") {
		audit.Record("block", "url_filter", "tool not in policy allowlist", "", "file_search")
		return FileSearchOutput{}, fmt.Errorf("policy denied tool %q", "file_search")
	}
	if r.search == nil {
		return FileSearchOutput{}, fmt.Errorf("no semantic search backend configured")
	}

	name := input.Store
	if name == "" {
		name = r.defaultStore
	}
	storeID, ok := r.stores[name]
	if !ok {
		return FileSearchOutput{}, fmt.Errorf("unknown document store %q", name)
	}

	hits, err := r.search.Search(ctx, storeID, input.Query, 5)
	if err != nil {
		return FileSearchOutput{}, fmt.Errorf("file search: %w", err)
	}
	return FileSearchOutput{Hits: hits}, nil
}
