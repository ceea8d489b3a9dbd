// Package workflow runs the per-turn pipeline: guard the input, classify
// intent and build grounding context in parallel, then generate the agent
// reply. A guardrail tripwire ends the turn before the agent ever runs.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/basket/atohub/internal/ato"
	"github.com/basket/atohub/internal/audit"
	"github.com/basket/atohub/internal/classify"
	"github.com/basket/atohub/internal/config"
	"github.com/basket/atohub/internal/conversation"
	"github.com/basket/atohub/internal/engine"
	"github.com/basket/atohub/internal/grounding"
	"github.com/basket/atohub/internal/guardrails"
	"github.com/basket/atohub/internal/otel"
	"github.com/basket/atohub/internal/shared"
	"github.com/basket/atohub/internal/tools"
)

// FallbackMessage is the fixed reply returned whenever the pipeline fails
// for infrastructure reasons. The raw error goes to the log, never the user.
const FallbackMessage = "Sorry, I hit a snag and couldn't finish that. Please try again in a moment."

// ErrWorkflowUnknown is returned for a workflow ID outside the built-in set.
var ErrWorkflowUnknown = errors.New("unknown workflow")

// Request is one conversation turn to run.
type Request struct {
	// Workflow is a built-in workflow ID, or "hub" with Route set to
	// dispatch a custom ATO.
	Workflow string
	// Route optionally addresses an ATO by slash route (hub dispatch).
	Route     string
	OwnerID   string
	SessionID string
	Turns     []conversation.Turn
	// MemoryContext is caller-provided saved-memory text for grounding.
	MemoryContext string
	// LocationHint grounds roadtrip turns; ignored elsewhere.
	LocationHint string
}

// Response is the outcome of a turn.
type Response struct {
	Text string
	// Fail is non-nil when a guardrail tripwired; Text is empty then.
	Fail     *guardrails.FailReport
	Category classify.Category
	// Fallback marks Text as the fixed safe message after an internal error.
	Fallback bool
}

// Deps carries the orchestrator's collaborators.
type Deps struct {
	Config     *config.Config
	Engine     engine.Generator
	Classifier *classify.Classifier
	Scorer     guardrails.Scorer
	Catalog    *grounding.Catalog
	Search     grounding.SearchClient
	Registry   *ato.Registry
	Tools      *tools.Registry
	Tracer     trace.Tracer
	Metrics    *otel.Metrics
	Logger     *slog.Logger
}

type Orchestrator struct {
	deps      Deps
	defs      map[string]Definition
	pipelines map[string]*guardrails.Pipeline
}

func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("atohub")
	}
	defs := Builtins()
	pipelines := make(map[string]*guardrails.Pipeline, len(defs))
	for id, def := range defs {
		pipelines[id] = guardrails.NewPipeline(def.Guardrails, deps.Scorer)
	}
	return &Orchestrator{deps: deps, defs: defs, pipelines: pipelines}
}

// Run executes one turn. Validation problems (unknown workflow or route)
// return an error; infrastructure failures inside the pipeline degrade to
// the fixed fallback message with a nil error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Response, error) {
	started := time.Now()
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	ctx = shared.WithWorkflowID(ctx, req.Workflow)
	ctx = shared.WithSessionID(ctx, req.SessionID)
	ctx = shared.WithOwnerID(ctx, req.OwnerID)
	if req.Route != "" {
		ctx = shared.WithRoute(ctx, req.Route)
	}
	ctx, span := otel.StartSpan(ctx, o.deps.Tracer, "workflow.turn",
		otel.AttrWorkflow.String(req.Workflow),
		otel.AttrSessionID.String(req.SessionID),
	)
	defer span.End()

	def, custom, err := o.dispatch(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.TurnsTotal.Add(ctx, 1)
		defer func() {
			o.deps.Metrics.TurnDuration.Record(ctx, time.Since(started).Seconds())
		}()
	}

	resp, err := o.runTurn(ctx, def, custom, req)
	if err != nil {
		o.deps.Logger.Error("turn failed, returning fallback",
			"workflow", def.ID,
			"session_id", req.SessionID,
			"trace_id", shared.TraceID(ctx),
			"error_class", string(engine.ClassifyError(err)),
			"error", err,
		)
		if o.deps.Metrics != nil {
			o.deps.Metrics.FallbacksTotal.Add(ctx, 1)
		}
		return Response{Text: FallbackMessage, Fallback: true}, nil
	}
	return resp, nil
}

// dispatch resolves the target workflow. A route on a hub request may point
// at another built-in or a custom ATO owned by the caller.
func (o *Orchestrator) dispatch(ctx context.Context, req Request) (Definition, *ato.Definition, error) {
	def, ok := o.defs[req.Workflow]
	if !ok {
		return Definition{}, nil, fmt.Errorf("%q: %w", req.Workflow, ErrWorkflowUnknown)
	}
	if req.Workflow != shared.DefaultWorkflowID || req.Route == "" || o.deps.Registry == nil {
		return def, nil, nil
	}

	if o.deps.Metrics != nil {
		o.deps.Metrics.RouteResolutions.Add(ctx, 1)
	}
	resolved, err := o.deps.Registry.Resolve(ctx, req.Route, req.OwnerID)
	if err != nil {
		return Definition{}, nil, err
	}
	if resolved.BuiltIn {
		return o.defs[resolved.Route], nil, nil
	}
	return def, &resolved, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, def Definition, custom *ato.Definition, req Request) (Response, error) {
	input := conversation.NewInput(req.Turns)

	// Stage 1: guard the input. History and input are scrubbed in place
	// when PII masking is configured.
	result, err := o.guardStage(ctx, def, req.Turns, input)
	if err != nil {
		return Response{}, err
	}
	if result.Tripwired() {
		report := result.FailReport()
		audit.Record("block", tripwireKind(result), "guardrail tripwire", def.ID, req.SessionID)
		if o.deps.Metrics != nil {
			o.deps.Metrics.TripwiresTotal.Add(ctx, 1)
		}
		return Response{Fail: &report}, nil
	}

	// Stage 2: classify and build context concurrently. Neither depends on
	// the other; both see post-masking text only.
	var (
		category classify.Category
		blocks   []grounding.Block
	)
	g, gctx := errgroup.WithContext(ctx)
	if def.Classifier != nil && o.deps.Classifier != nil {
		g.Go(func() error {
			var err error
			category, err = o.classifyStage(gctx, def, result.SafeText)
			return err
		})
	}
	g.Go(func() error {
		var err error
		blocks, err = o.contextStage(gctx, def, req, result.SafeText)
		return err
	})
	if err := g.Wait(); err != nil {
		return Response{}, err
	}

	// Stage 3: generate the agent reply. Empty output is an error.
	text, err := o.agentStage(ctx, def, custom, category, blocks, req.Turns)
	if err != nil {
		return Response{}, err
	}
	return Response{Text: text, Category: category}, nil
}

func (o *Orchestrator) guardStage(ctx context.Context, def Definition, turns []conversation.Turn, input *conversation.Input) (guardrails.RunResult, error) {
	ctx, span := otel.StartSpan(ctx, o.deps.Tracer, "workflow.guard")
	defer span.End()
	ctx, cancel := o.stageTimeout(ctx, o.timeouts().GuardrailSeconds)
	defer cancel()

	started := time.Now()
	result, err := o.pipelines[def.ID].Run(ctx, input.Text, turns, input)
	o.recordStage(ctx, "guard", started)
	return result, err
}

func (o *Orchestrator) classifyStage(ctx context.Context, def Definition, latestUserText string) (classify.Category, error) {
	ctx, span := otel.StartSpan(ctx, o.deps.Tracer, "workflow.classify")
	defer span.End()
	ctx, cancel := o.stageTimeout(ctx, o.timeouts().ClassifySeconds)
	defer cancel()

	started := time.Now()
	cat, err := o.deps.Classifier.Classify(ctx, *def.Classifier, latestUserText)
	o.recordStage(ctx, "classify", started)
	if err != nil {
		return "", err
	}
	span.SetAttributes(otel.AttrCategory.String(string(cat)))
	return cat, nil
}

// contextStage assembles grounding blocks in their fixed order: location,
// dataset matches + index, semantic summary, memory context.
func (o *Orchestrator) contextStage(ctx context.Context, def Definition, req Request, query string) ([]grounding.Block, error) {
	ctx, span := otel.StartSpan(ctx, o.deps.Tracer, "workflow.context")
	defer span.End()
	started := time.Now()
	defer func() { o.recordStage(ctx, "context", started) }()

	var blocks []grounding.Block
	if def.UseLocation {
		if b, ok := grounding.LocationBlock(req.LocationHint); ok {
			blocks = append(blocks, b)
		}
	}
	if o.deps.Catalog != nil {
		for _, dataset := range def.Datasets {
			blocks = append(blocks, o.deps.Catalog.MatchBlocks(dataset, query)...)
		}
	}
	if def.Semantic && o.deps.Search != nil {
		storeID := o.storeFor(def.ID)
		hits, err := o.deps.Search.Search(ctx, storeID, query, 5)
		if err != nil {
			// Grounding is supplementary; a search outage degrades the block.
			o.deps.Logger.Warn("semantic search failed, degrading", "workflow", def.ID, "error", err)
			hits = nil
		}
		blocks = append(blocks, grounding.SemanticSummary(hits))
	}
	if b, ok := grounding.MemoryBlock(req.MemoryContext); ok {
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func (o *Orchestrator) agentStage(ctx context.Context, def Definition, custom *ato.Definition, category classify.Category, blocks []grounding.Block, turns []conversation.Turn) (string, error) {
	ctx, span := otel.StartSpan(ctx, o.deps.Tracer, "workflow.agent")
	defer span.End()
	ctx, cancel := o.stageTimeout(ctx, o.timeouts().GenerateSeconds)
	defer cancel()

	system := def.Prompt(category)
	model := ""
	var temperature *float64
	toolNames := def.Tools
	if custom != nil {
		system = custom.SystemPrompt
		model = custom.Model
		if custom.Temperature > 0 {
			t := custom.Temperature
			temperature = &t
		}
		toolNames = custom.AllowedTools
	} else if o.deps.Config != nil {
		if p := o.deps.Config.Persona(def.ID); p != "" {
			system = p
		}
	}

	// Context blocks travel as leading system turns, ahead of history.
	req := engine.Request{
		Model:        model,
		SystemPrompt: system,
		Temperature:  temperature,
		Turns:        append(blocksToTurns(blocks), turns...),
	}
	if o.deps.Tools != nil && len(toolNames) > 0 {
		req.Tools = o.deps.Tools.Refs(toolNames)
	}

	started := time.Now()
	text, err := o.deps.Engine.Generate(ctx, req)
	if o.deps.Metrics != nil {
		o.deps.Metrics.LLMCallDuration.Record(ctx, time.Since(started).Seconds())
	}
	return text, err
}

func blocksToTurns(blocks []grounding.Block) []conversation.Turn {
	turns := make([]conversation.Turn, 0, len(blocks))
	for _, b := range blocks {
		turns = append(turns, conversation.Turn{
			Role: conversation.RoleSystem,
			Text: b.Label + ":\n" + b.Body,
		})
	}
	return turns
}

func (o *Orchestrator) storeFor(workflowID string) string {
	if o.deps.Config == nil {
		return ""
	}
	return o.deps.Config.Search.Stores[workflowID]
}

func (o *Orchestrator) timeouts() config.TimeoutsConfig {
	if o.deps.Config != nil {
		return o.deps.Config.Timeouts
	}
	return config.TimeoutsConfig{}
}

func (o *Orchestrator) stageTimeout(ctx context.Context, seconds int) (context.Context, context.CancelFunc) {
	if seconds <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
}

func (o *Orchestrator) recordStage(ctx context.Context, stage string, started time.Time) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.StageDuration.Record(ctx, time.Since(started).Seconds(),
			metric.WithAttributes(attribute.String("atohub.stage", stage)))
	}
}

func tripwireKind(result guardrails.RunResult) string {
	for _, v := range result.Verdicts {
		if v.Tripwire {
			return string(v.Category)
		}
	}
	return "unknown"
}
