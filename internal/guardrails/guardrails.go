// Package guardrails runs a configured, ordered list of safety checks over a
// turn of user text. Checks score concurrently; verdicts come back in spec
// order. A tripwire means the turn's agent must never be invoked.
package guardrails

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/basket/atohub/internal/conversation"
)

// Category names a class of safety check.
type Category string

const (
	CategoryPII             Category = "pii"
	CategoryModeration      Category = "moderation"
	CategoryJailbreak       Category = "jailbreak"
	CategoryHallucination   Category = "hallucination"
	CategoryNSFW            Category = "nsfw"
	CategoryURLFilter       Category = "url_filter"
	CategoryCustom          Category = "custom"
	CategoryPromptInjection Category = "prompt_injection"
)

// Mode selects what a PII guardrail does on detection: block the turn or
// mask the entities and let the turn continue.
type Mode string

const (
	ModeBlock Mode = "block"
	ModeMask  Mode = "mask"
)

// Spec configures one guardrail instance within a workflow.
type Spec struct {
	Name         string
	Category     Category
	Mode         Mode
	Instructions string // scoring brief for custom / hallucination checks
}

// Verdict is the outcome of one guardrail check.
type Verdict struct {
	Name        string
	Category    Category
	Tripwire    bool
	Anonymized  string // masked text, when a mask-mode check rewrote it
	CheckedText string // check-provided replacement text, if any
	Detail      string
}

// Scorer evaluates a single spec against a text. Implementations must be
// safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, spec Spec, text string) (Verdict, error)
}

// Pipeline runs an ordered spec list through a scorer.
type Pipeline struct {
	specs  []Spec
	scorer Scorer
}

func NewPipeline(specs []Spec, scorer Scorer) *Pipeline {
	return &Pipeline{specs: specs, scorer: scorer}
}

// Specs returns the configured guardrail specs in order.
func (p *Pipeline) Specs() []Spec {
	return p.specs
}

// RunResult is the aggregate decision for a turn.
type RunResult struct {
	Verdicts []Verdict
	SafeText string
}

// Tripwired reports whether any verdict blocks the turn.
func (r RunResult) Tripwired() bool {
	for _, v := range r.Verdicts {
		if v.Tripwire {
			return true
		}
	}
	return false
}

// Run scores every spec against text. When a mask-mode PII spec is present,
// the masking pass also rewrites every history turn and the workflow input
// in place, tripwire or not, so downstream stages only ever see scrubbed
// text. A scorer error is an infrastructure failure and propagates; it is
// never treated as a silent pass.
func (p *Pipeline) Run(ctx context.Context, text string, history []conversation.Turn, input *conversation.Input) (RunResult, error) {
	if len(p.specs) == 0 {
		return RunResult{SafeText: text}, nil
	}

	verdicts := make([]Verdict, len(p.specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range p.specs {
		g.Go(func() error {
			v, err := p.scorer.Score(gctx, spec, text)
			if err != nil {
				return fmt.Errorf("guardrail %s: %w", spec.Name, err)
			}
			verdicts[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RunResult{}, err
	}

	if err := p.maskConversation(ctx, history, input); err != nil {
		return RunResult{}, err
	}

	return RunResult{
		Verdicts: verdicts,
		SafeText: safeText(text, verdicts),
	}, nil
}

// maskConversation re-runs each mask-mode PII spec over the full history and
// the workflow input, replacing text wherever the check produced an
// anonymized form.
func (p *Pipeline) maskConversation(ctx context.Context, history []conversation.Turn, input *conversation.Input) error {
	for _, spec := range p.specs {
		if spec.Category != CategoryPII || spec.Mode != ModeMask {
			continue
		}
		for i := range history {
			v, err := p.scorer.Score(ctx, spec, history[i].Text)
			if err != nil {
				return fmt.Errorf("guardrail %s (history): %w", spec.Name, err)
			}
			if v.Anonymized != "" {
				history[i].Text = v.Anonymized
			}
		}
		if input != nil && input.Text != "" {
			v, err := p.scorer.Score(ctx, spec, input.Text)
			if err != nil {
				return fmt.Errorf("guardrail %s (input): %w", spec.Name, err)
			}
			if v.Anonymized != "" {
				input.Text = v.Anonymized
			}
		}
	}
	return nil
}

// safeText picks the text downstream stages should use: the first explicit
// replacement a check provided, else the first anonymized form, else the
// original.
func safeText(original string, verdicts []Verdict) string {
	for _, v := range verdicts {
		if v.CheckedText != "" {
			return v.CheckedText
		}
	}
	for _, v := range verdicts {
		if v.Anonymized != "" {
			return v.Anonymized
		}
	}
	return original
}
