// Package conversation holds the turn-level data model shared by the
// guardrail pipeline, classifier, and workflow orchestrators. Turns are
// owned by the caller and passed by value per invocation; nothing here
// persists them.
package conversation

import "strings"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Turn is one message in an ordered, append-only conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// LatestUserText returns the text of the most recent user turn, or "" when
// the history contains none.
func LatestUserText(turns []Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			return turns[i].Text
		}
	}
	return ""
}

// Input is the per-invocation workflow input derived from the latest user
// turn. It is a mutable handle: the guardrail pipeline replaces Text in
// place when PII masking applies, so everything downstream sees the
// scrubbed value.
type Input struct {
	Text string
}

// NewInput derives the workflow input from the most recent user turn.
func NewInput(turns []Turn) *Input {
	return &Input{Text: strings.TrimSpace(LatestUserText(turns))}
}
