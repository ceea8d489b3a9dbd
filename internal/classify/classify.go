// Package classify maps the latest user message to exactly one category from
// a workflow's closed set, via a single deterministic generation call.
package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"context"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Category is one label from a workflow's closed set.
type Category string

// ErrContractViolation means the model's reply was not a member of the
// category set and the workflow declared no default.
var ErrContractViolation = errors.New("classifier reply violates category contract")

// Config is the per-workflow classification contract.
type Config struct {
	Workflow   string
	Categories []Category
	// Default, when non-empty, absorbs any off-contract reply instead of
	// failing the turn. Workflows that leave it empty treat an unknown
	// category as fatal.
	Default Category
}

// GenerateFunc runs the classification generation. Production wiring pins
// the call to temperature 0 so the reply is reproducible.
type GenerateFunc func(ctx context.Context, systemPrompt, userText string) (string, error)

const categorySchemaJSON = `{
	"type": "object",
	"required": ["category"],
	"properties": {
		"category": {"type": "string"}
	}
}`

type Classifier struct {
	generate GenerateFunc
	schema   *jsonschema.Schema
}

func New(generate GenerateFunc) (*Classifier, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(categorySchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal category schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("category.json", doc); err != nil {
		return nil, fmt.Errorf("add category schema: %w", err)
	}
	schema, err := c.Compile("category.json")
	if err != nil {
		return nil, fmt.Errorf("compile category schema: %w", err)
	}
	return &Classifier{generate: generate, schema: schema}, nil
}

// Classify labels the latest user text. Only that single message is sent;
// history never reaches the classifier.
func (c *Classifier) Classify(ctx context.Context, cfg Config, latestUserText string) (Category, error) {
	if len(cfg.Categories) == 0 {
		return "", fmt.Errorf("workflow %s has no categories", cfg.Workflow)
	}

	names := make([]string, len(cfg.Categories))
	for i, cat := range cfg.Categories {
		names[i] = string(cat)
	}
	system := fmt.Sprintf(
		"Classify the user's message into exactly one of these categories: %s.\n"+
			"Reply with the category name alone on a single line. No explanation, no punctuation.",
		strings.Join(names, ", "))

	reply, err := c.generate(ctx, system, latestUserText)
	if err != nil {
		return "", fmt.Errorf("classify generation: %w", err)
	}

	if cat, ok := c.parseReply(cfg, reply); ok {
		return cat, nil
	}
	if cfg.Default != "" {
		return cfg.Default, nil
	}
	return "", fmt.Errorf("workflow %s got %q: %w", cfg.Workflow, strings.TrimSpace(reply), ErrContractViolation)
}

// parseReply accepts a bare category token or a single-line
// {"category": "..."} object. Anything else is off-contract.
func (c *Classifier) parseReply(cfg Config, reply string) (Category, bool) {
	token := strings.ToLower(strings.TrimSpace(reply))
	token = strings.Trim(token, `"'.`)
	if cat, ok := member(cfg.Categories, token); ok {
		return cat, true
	}

	if strings.HasPrefix(token, "{") && !strings.Contains(strings.TrimSpace(reply), "\n") {
		parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(strings.TrimSpace(reply)))
		if err != nil || c.schema.Validate(parsed) != nil {
			return "", false
		}
		var obj struct {
			Category string `json:"category"`
		}
		if json.Unmarshal([]byte(strings.TrimSpace(reply)), &obj) != nil {
			return "", false
		}
		return member(cfg.Categories, strings.ToLower(strings.TrimSpace(obj.Category)))
	}
	return "", false
}

func member(categories []Category, token string) (Category, bool) {
	for _, cat := range categories {
		if strings.ToLower(string(cat)) == token {
			return cat, true
		}
	}
	return "", false
}
