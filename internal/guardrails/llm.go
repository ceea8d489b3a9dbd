package guardrails

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// verdictSchemaJSON constrains the scoring model's reply.
const verdictSchemaJSON = `{
	"type": "object",
	"required": ["failed"],
	"properties": {
		"failed": {"type": "boolean"},
		"reason": {"type": "string"}
	}
}`

// GenerateFunc runs one scoring generation. The engine package provides a
// production implementation; tests substitute fakes.
type GenerateFunc func(ctx context.Context, systemPrompt, userText string) (string, error)

// LLMScorer handles the custom and hallucination categories by asking a
// model to judge the text against the spec's instructions and validating the
// reply against a fixed schema.
type LLMScorer struct {
	generate GenerateFunc
	schema   *jsonschema.Schema
}

func NewLLMScorer(generate GenerateFunc) (*LLMScorer, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(verdictSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal verdict schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("verdict.json", doc); err != nil {
		return nil, fmt.Errorf("add verdict schema: %w", err)
	}
	schema, err := c.Compile("verdict.json")
	if err != nil {
		return nil, fmt.Errorf("compile verdict schema: %w", err)
	}
	return &LLMScorer{generate: generate, schema: schema}, nil
}

func (s *LLMScorer) Score(ctx context.Context, spec Spec, text string) (Verdict, error) {
	if spec.Category != CategoryCustom && spec.Category != CategoryHallucination {
		return Verdict{}, fmt.Errorf("llm scorer does not handle category %q", spec.Category)
	}

	system := fmt.Sprintf(
		"You are a safety check named %q. Evaluate the user text against this rule:\n%s\n\n"+
			`Reply with a single JSON object on one line: {"failed": <bool>, "reason": "<short reason>"}. No other text.`,
		spec.Name, spec.Instructions)

	reply, err := s.generate(ctx, system, text)
	if err != nil {
		return Verdict{}, fmt.Errorf("score generation: %w", err)
	}

	raw := strings.TrimSpace(reply)
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return Verdict{}, fmt.Errorf("scorer reply is not JSON: %w", err)
	}
	if err := s.schema.Validate(parsed); err != nil {
		return Verdict{}, fmt.Errorf("scorer reply schema: %w", err)
	}

	var out struct {
		Failed bool   `json:"failed"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Verdict{}, fmt.Errorf("decode scorer reply: %w", err)
	}
	return Verdict{
		Name:     spec.Name,
		Category: spec.Category,
		Tripwire: out.Failed,
		Detail:   out.Reason,
	}, nil
}

// dispatchScorer routes pattern categories to the local scorer and the
// model-judged ones to the LLM scorer.
type dispatchScorer struct {
	local Scorer
	llm   Scorer
}

// NewDispatchScorer combines the two scorer kinds. llm may be nil when no
// workflow configures custom or hallucination checks.
func NewDispatchScorer(local, llm Scorer) Scorer {
	return &dispatchScorer{local: local, llm: llm}
}

func (d *dispatchScorer) Score(ctx context.Context, spec Spec, text string) (Verdict, error) {
	switch spec.Category {
	case CategoryCustom, CategoryHallucination:
		if d.llm == nil {
			return Verdict{}, fmt.Errorf("category %q configured but no llm scorer available", spec.Category)
		}
		return d.llm.Score(ctx, spec, text)
	default:
		return d.local.Score(ctx, spec, text)
	}
}
