// Package grounding turns a query (plus optional location hint) into labeled
// text blocks that workflows prepend to the conversation as system turns.
// Blocks keep a stable order: location, dataset matches, index-of-all,
// semantic summary, memory context.
package grounding

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

// Block is one labeled grounding fragment.
type Block struct {
	Label string
	Body  string
}

// Record is a single dataset entry. Matching considers the name, the area
// names, and every alias.
type Record struct {
	Name    string   `json:"name"`
	Areas   []string `json:"areas,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
	Notes   string   `json:"notes,omitempty"`
}

// maxMatches bounds prompt growth per dataset block.
const maxMatches = 3

// Dataset lazily parses its JSON file exactly once. A failed load sticks: the
// dataset behaves as empty for the rest of the process.
type Dataset struct {
	path    string
	once    sync.Once
	records []Record
	loadErr error
}

func (d *Dataset) load() ([]Record, error) {
	d.once.Do(func() {
		data, err := os.ReadFile(d.path)
		if err != nil {
			d.loadErr = fmt.Errorf("read dataset %s: %w", d.path, err)
			return
		}
		if err := json.Unmarshal(data, &d.records); err != nil {
			d.loadErr = fmt.Errorf("parse dataset %s: %w", d.path, err)
		}
	})
	return d.records, d.loadErr
}

// Catalog owns the dataset handles for a deployment. It is built once at
// startup and handed to orchestrators; there is no package-level cache.
type Catalog struct {
	datasets map[string]*Dataset
	logger   *slog.Logger
}

// NewCatalog maps dataset names to their JSON file paths. Files are not
// touched until a workflow first asks for them.
func NewCatalog(paths map[string]string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	ds := make(map[string]*Dataset, len(paths))
	for name, path := range paths {
		ds[name] = &Dataset{path: path}
	}
	return &Catalog{datasets: ds, logger: logger}
}

// MatchBlocks returns the match block and the always-present index block for
// one dataset. A missing or corrupt dataset degrades to a no-match block and
// an empty index rather than failing the turn.
func (c *Catalog) MatchBlocks(dataset, query string) []Block {
	label := displayLabel(dataset)
	d, ok := c.datasets[dataset]
	if !ok {
		c.logger.Warn("unknown dataset requested", "dataset", dataset)
		return []Block{
			{Label: label + " matches", Body: "No matching entries found."},
			{Label: label + " index", Body: "(none available)"},
		}
	}
	records, err := d.load()
	if err != nil {
		c.logger.Warn("dataset load failed, degrading to empty", "dataset", dataset, "error", err)
	}

	blocks := make([]Block, 0, 2)
	matched := matchRecords(records, query)
	if len(matched) == 0 {
		blocks = append(blocks, Block{Label: label + " matches", Body: "No matching entries found."})
	} else {
		var b strings.Builder
		for _, rec := range matched {
			b.WriteString("- ")
			b.WriteString(rec.Name)
			if len(rec.Areas) > 0 {
				b.WriteString(" (areas: ")
				b.WriteString(strings.Join(rec.Areas, ", "))
				b.WriteString(")")
			}
			if rec.Notes != "" {
				b.WriteString(": ")
				b.WriteString(rec.Notes)
			}
			b.WriteString("\n")
		}
		blocks = append(blocks, Block{Label: label + " matches", Body: strings.TrimRight(b.String(), "\n")})
	}
	blocks = append(blocks, Block{Label: label + " index", Body: indexBody(records)})
	return blocks
}

func matchRecords(records []Record, query string) []Record {
	q := normalizeTerm(query)
	if q == "" {
		return nil
	}
	var out []Record
	for _, rec := range records {
		if recordMatches(rec, q) {
			out = append(out, rec)
			if len(out) == maxMatches {
				break
			}
		}
	}
	return out
}

// recordMatches checks substring containment in either direction against
// every searchable field, so "pensacola downtown" still hits "Pensacola".
func recordMatches(rec Record, q string) bool {
	fields := make([]string, 0, 1+len(rec.Areas)+len(rec.Aliases))
	fields = append(fields, rec.Name)
	fields = append(fields, rec.Areas...)
	fields = append(fields, rec.Aliases...)
	for _, f := range fields {
		nf := normalizeTerm(f)
		if nf == "" {
			continue
		}
		if strings.Contains(q, nf) || strings.Contains(nf, q) {
			return true
		}
	}
	return false
}

func normalizeTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func indexBody(records []Record) string {
	seen := make(map[string]struct{}, len(records))
	var names []string
	for _, rec := range records {
		name := strings.TrimSpace(rec.Name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	if len(names) == 0 {
		return "(none available)"
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func displayLabel(dataset string) string {
	dataset = strings.ReplaceAll(dataset, "_", " ")
	if dataset == "" {
		return "Dataset"
	}
	return strings.ToUpper(dataset[:1]) + dataset[1:]
}

// LocationBlock formats an optional location hint. It sorts first in block
// order when present.
func LocationBlock(hint string) (Block, bool) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return Block{}, false
	}
	return Block{Label: "Current location", Body: hint}, true
}

// MemoryBlock wraps caller-supplied memory context. Sorts last.
func MemoryBlock(memory string) (Block, bool) {
	memory = strings.TrimSpace(memory)
	if memory == "" {
		return Block{}, false
	}
	return Block{Label: "Memory context", Body: memory}, true
}
