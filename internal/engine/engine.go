// Package engine wraps Genkit behind the narrow generation contract the
// workflows consume: one request in, final text out.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/basket/atohub/internal/conversation"
)

// ErrEmptyOutput means generation succeeded but produced no usable text.
// Workflows treat it like any other infrastructure failure.
var ErrEmptyOutput = errors.New("generation returned empty output")

// Request is one generation call.
type Request struct {
	Model        string
	SystemPrompt string
	Turns        []conversation.Turn
	Tools        []ai.ToolRef
	// Temperature, when non-nil, overrides the provider default. The
	// classifier pins it to zero.
	Temperature *float64
}

// Generator is the produced interface for agent and scoring generations.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config selects and authenticates the LLM provider.
type Config struct {
	// Provider is "google", "anthropic", "openai" or "openai_compatible".
	// Empty defaults to "google".
	Provider string
	Model    string
	APIKey   string

	OpenAICompatibleProvider string
	OpenAICompatibleBaseURL  string
}

// Client is the Genkit-backed Generator.
type Client struct {
	g     *genkit.Genkit
	cfg   Config
	llmOn bool
}

// NewClient initializes Genkit with the configured provider. A missing API
// key leaves the client in a degraded state where every call errors, which
// the orchestrator converts to the fallback reply.
func NewClient(ctx context.Context, cfg Config) *Client {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	cfg.Provider = provider

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}

	var g *genkit.Genkit
	llmOn := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			}))
			llmOn = true
		}
	case "openai":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openai",
				APIKey:   apiKey,
				BaseURL:  os.Getenv("OPENAI_BASE_URL"),
			}))
			llmOn = true
		}
	case "openai_compatible":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: cfg.OpenAICompatibleProvider,
				APIKey:   apiKey,
				BaseURL:  cfg.OpenAICompatibleBaseURL,
			}))
			llmOn = true
		}
	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
			llmOn = true
		}
	}

	if g == nil {
		g = genkit.Init(ctx)
		slog.Warn("LLM provider not usable, generations will fail", "provider", provider)
	} else {
		slog.Info("engine initialized", "provider", provider, "model", cfg.Model)
	}

	return &Client{g: g, cfg: cfg, llmOn: llmOn}
}

// Genkit exposes the underlying instance for tool registration.
func (c *Client) Genkit() *genkit.Genkit {
	return c.g
}

func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if !c.llmOn {
		return "", fmt.Errorf("provider %s has no API key configured", c.cfg.Provider)
	}

	// Escape % so ai.WithSystem's fmt path can't corrupt the prompt.
	system := strings.ReplaceAll(req.SystemPrompt, "%", "%%")

	prompt, history := splitLatestUser(req.Turns)
	opts := []ai.GenerateOption{
		ai.WithModelName(modelNameForProvider(c.cfg.Provider, firstNonEmpty(req.Model, c.cfg.Model))),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
	}
	if msgs := turnsToMessages(history); len(msgs) > 0 {
		opts = append(opts, ai.WithMessages(msgs...))
	}
	if req.Temperature != nil {
		opts = append(opts, ai.WithConfig(&ai.GenerationCommonConfig{Temperature: *req.Temperature}))
	}
	if len(req.Tools) > 0 {
		opts = append(opts, ai.WithTools(req.Tools...))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil && len(req.Tools) > 0 {
		// Some providers reject tool schemas; one retry without them.
		slog.Warn("generate with tools failed, retrying without", "error", err)
		resp, err = genkit.Generate(ctx, c.g, opts[:len(opts)-1]...)
	}
	if err != nil {
		return "", fmt.Errorf("genkit generate: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}

// PlainGenerateFunc adapts the client to the (system, user) -> text shape
// the classifier and LLM guardrail scorer consume. temperature is pinned.
func (c *Client) PlainGenerateFunc(model string, temperature float64) func(ctx context.Context, systemPrompt, userText string) (string, error) {
	return func(ctx context.Context, systemPrompt, userText string) (string, error) {
		return c.Generate(ctx, Request{
			Model:        model,
			SystemPrompt: systemPrompt,
			Turns:        []conversation.Turn{{Role: conversation.RoleUser, Text: userText}},
			Temperature:  &temperature,
		})
	}
}

// splitLatestUser pulls the trailing user turn out as the prompt; everything
// before it travels as message history.
func splitLatestUser(turns []conversation.Turn) (string, []conversation.Turn) {
	if n := len(turns); n > 0 && turns[n-1].Role == conversation.RoleUser {
		return turns[n-1].Text, turns[:n-1]
	}
	return "", turns
}

func turnsToMessages(turns []conversation.Turn) []*ai.Message {
	var msgs []*ai.Message
	for _, turn := range turns {
		var role ai.Role
		switch turn.Role {
		case conversation.RoleUser:
			role = ai.RoleUser
		case conversation.RoleAssistant:
			role = ai.RoleModel
		case conversation.RoleSystem:
			role = ai.RoleSystem
		default:
			continue
		}
		msgs = append(msgs, &ai.Message{
			Role:    role,
			Content: []*ai.Part{ai.NewTextPart(turn.Text)},
		})
	}
	return msgs
}

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai", "openai_compatible":
		return os.Getenv("OPENAI_API_KEY")
	case "google":
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

func modelNameForProvider(provider, model string) string {
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openai_compatible":
		return model
	default:
		return "googleai/" + model
	}
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}
