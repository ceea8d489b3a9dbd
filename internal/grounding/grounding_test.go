package grounding

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeDataset(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cities.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	return path
}

const citiesJSON = `[
	{"name": "Pensacola", "areas": ["Downtown", "East Hill"], "aliases": ["pcola"], "notes": "Gulf coast"},
	{"name": "Mobile", "areas": ["Midtown"]},
	{"name": "Tallahassee"},
	{"name": "Pensacola", "notes": "duplicate display name"}
]`

func newTestCatalog(t *testing.T, body string) *Catalog {
	t.Helper()
	return NewCatalog(map[string]string{"cities": writeDataset(t, body)}, nil)
}

func TestMatchBlocks_SubstringBothDirections(t *testing.T) {
	c := newTestCatalog(t, citiesJSON)

	blocks := c.MatchBlocks("cities", "pensacola downtown")
	if len(blocks) != 2 {
		t.Fatalf("expected match + index blocks, got %d", len(blocks))
	}
	if !strings.Contains(blocks[0].Body, "Pensacola") {
		t.Fatalf("expected Pensacola match, got %q", blocks[0].Body)
	}

	// Alias hit: query contained in an alias field.
	blocks = c.MatchBlocks("cities", "pcola")
	if !strings.Contains(blocks[0].Body, "Pensacola") {
		t.Fatalf("expected alias match, got %q", blocks[0].Body)
	}
}

func TestMatchBlocks_NoMatchStillListsIndex(t *testing.T) {
	c := newTestCatalog(t, citiesJSON)

	blocks := c.MatchBlocks("cities", "Nowhereville")
	if blocks[0].Body != "No matching entries found." {
		t.Fatalf("expected explicit no-match block, got %q", blocks[0].Body)
	}
	if !strings.Contains(blocks[1].Body, "Pensacola") {
		t.Fatalf("index block must still list all names, got %q", blocks[1].Body)
	}
}

func TestMatchBlocks_IndexDeduplicatedAndSorted(t *testing.T) {
	c := newTestCatalog(t, citiesJSON)

	blocks := c.MatchBlocks("cities", "anything")
	index := blocks[1].Body
	if strings.Count(index, "Pensacola") != 1 {
		t.Fatalf("index must deduplicate names, got %q", index)
	}
	if index != "Mobile, Pensacola, Tallahassee" {
		t.Fatalf("index must be sorted, got %q", index)
	}
}

func TestMatchBlocks_CapsAtThreeHits(t *testing.T) {
	body := `[
		{"name": "stop a", "aliases": ["stop"]},
		{"name": "stop b", "aliases": ["stop"]},
		{"name": "stop c", "aliases": ["stop"]},
		{"name": "stop d", "aliases": ["stop"]}
	]`
	c := newTestCatalog(t, body)

	blocks := c.MatchBlocks("cities", "stop")
	if got := strings.Count(blocks[0].Body, "- "); got != 3 {
		t.Fatalf("expected 3 capped matches, got %d: %q", got, blocks[0].Body)
	}
}

func TestMatchBlocks_CorruptDatasetDegrades(t *testing.T) {
	c := newTestCatalog(t, "{not json")

	blocks := c.MatchBlocks("cities", "pensacola")
	if blocks[0].Body != "No matching entries found." {
		t.Fatalf("corrupt dataset must degrade to no-match, got %q", blocks[0].Body)
	}
	if blocks[1].Body != "(none available)" {
		t.Fatalf("corrupt dataset must yield empty index, got %q", blocks[1].Body)
	}
}

func TestMatchBlocks_UnknownDataset(t *testing.T) {
	c := NewCatalog(nil, nil)
	blocks := c.MatchBlocks("strains", "og kush")
	if len(blocks) != 2 || blocks[0].Body != "No matching entries found." {
		t.Fatalf("unknown dataset must degrade, got %+v", blocks)
	}
}

func TestSemanticSummary(t *testing.T) {
	hits := []Hit{
		{FileID: "f1", Filename: "world-history.md", Score: 0.91},
		{FileID: "f2", Filename: "factions.md"},
	}
	b := SemanticSummary(hits)
	if !strings.Contains(b.Body, "world-history.md (relevance: 0.91)") {
		t.Fatalf("expected formatted score, got %q", b.Body)
	}
	if !strings.Contains(b.Body, "factions.md (relevance: n/a)") {
		t.Fatalf("missing score must render n/a, got %q", b.Body)
	}

	empty := SemanticSummary(nil)
	if empty.Body != "No results found." {
		t.Fatalf("empty set must yield placeholder, got %q", empty.Body)
	}

	six := make([]Hit, 6)
	for i := range six {
		six[i] = Hit{FileID: "f", Filename: "doc.md", Score: 0.5}
	}
	capped := SemanticSummary(six)
	if got := strings.Count(capped.Body, "- "); got != 5 {
		t.Fatalf("expected top-5 cap, got %d bullets", got)
	}
}

func TestLocationAndMemoryBlocks(t *testing.T) {
	if _, ok := LocationBlock("  "); ok {
		t.Fatalf("blank hint must not produce a block")
	}
	b, ok := LocationBlock("I-10 near Pensacola, FL")
	if !ok || b.Label != "Current location" {
		t.Fatalf("unexpected location block: %+v", b)
	}
	if _, ok := MemoryBlock(""); ok {
		t.Fatalf("empty memory must not produce a block")
	}
}
