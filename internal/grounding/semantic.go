package grounding

import (
	"context"
	"fmt"
	"strings"
)

// Hit is one ranked result from an external semantic search store.
type Hit struct {
	FileID   string  `json:"file_id"`
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
}

// SearchClient is the narrow contract for the external semantic search
// service. Implementations must be safe for concurrent use.
type SearchClient interface {
	Search(ctx context.Context, storeID, query string, max int) ([]Hit, error)
}

// maxSemanticHits caps the summary at the top results.
const maxSemanticHits = 5

// SemanticSummary formats ranked search hits as a short bulleted block.
// Missing or non-positive scores render as "n/a"; an empty result set yields
// an explicit placeholder so agents can say nothing was found.
func SemanticSummary(hits []Hit) Block {
	if len(hits) == 0 {
		return Block{Label: "Related documents", Body: "No results found."}
	}
	if len(hits) > maxSemanticHits {
		hits = hits[:maxSemanticHits]
	}
	var b strings.Builder
	for _, h := range hits {
		score := "n/a"
		if h.Score > 0 {
			score = fmt.Sprintf("%.2f", h.Score)
		}
		label := h.Filename
		if label == "" {
			label = h.FileID
		}
		fmt.Fprintf(&b, "- %s (relevance: %s)\n", label, score)
	}
	return Block{Label: "Related documents", Body: strings.TrimRight(b.String(), "\n")}
}
