// Package ato manages agent takeover definitions: the built-in workflow
// routes plus user-created custom agents reachable by slash route.
package ato

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel validation errors surfaced to control-plane callers.
var (
	ErrRouteCollision      = errors.New("route already in use")
	ErrRouteInvalid        = errors.New("route is empty after normalization")
	ErrQuotaExceeded       = errors.New("tier quota exceeded")
	ErrInstructionsTooLong = errors.New("instructions exceed tier limit")
	ErrUnknownTool         = errors.New("unknown tool")
	ErrNotFound            = errors.New("ato not found")
)

// Definition describes one addressable agent.
type Definition struct {
	ID           string
	OwnerID      string
	Label        string
	Route        string // stored normalized
	SystemPrompt string
	Model        string
	Temperature  float64
	AllowedTools []string
	MemoryScope  string
	Voice        string
	BuiltIn      bool
}

// NormalizeRoute reduces a slash route to canonical form: outer slashes
// trimmed, all whitespace stripped, lowercased. Idempotent by construction —
// every step is a fixpoint on its own output.
func NormalizeRoute(route string) string {
	s := strings.TrimSpace(route)
	s = strings.Trim(s, "/")
	s = strings.Join(strings.Fields(s), "")
	return strings.ToLower(s)
}

// Built-in workflow routes. These are reserved: custom ATOs can never claim
// them, and they resolve for every owner.
var builtins = map[string]Definition{
	"hub":      {ID: "builtin-hub", Label: "Hub", Route: "hub", BuiltIn: true},
	"bear":     {ID: "builtin-bear", Label: "Bear", Route: "bear", BuiltIn: true},
	"roadtrip": {ID: "builtin-roadtrip", Label: "Roadtrip", Route: "roadtrip", BuiltIn: true},
	"journal":  {ID: "builtin-journal", Label: "Journal", Route: "journal", BuiltIn: true},
	"lore":     {ID: "builtin-lore", Label: "Lore", Route: "lore", BuiltIn: true},
}

// Builtin looks up a reserved route by normalized form.
func Builtin(route string) (Definition, bool) {
	d, ok := builtins[NormalizeRoute(route)]
	return d, ok
}

var allowedTools = map[string]struct{}{
	"web_search":  {},
	"file_search": {},
}

func validateTools(tools []string) error {
	for _, tool := range tools {
		if _, ok := allowedTools[strings.ToLower(strings.TrimSpace(tool))]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTool, tool)
		}
	}
	return nil
}
