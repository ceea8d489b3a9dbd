package conversation

import "testing"

func TestLatestUserText(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Text: "first"},
		{Role: RoleAssistant, Text: "reply"},
		{Role: RoleUser, Text: "second"},
		{Role: RoleAssistant, Text: "another reply"},
	}
	if got := LatestUserText(turns); got != "second" {
		t.Fatalf("expected latest user turn, got %q", got)
	}
}

func TestLatestUserText_NoUserTurns(t *testing.T) {
	turns := []Turn{{Role: RoleAssistant, Text: "hello"}}
	if got := LatestUserText(turns); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestNewInput_TrimsWhitespace(t *testing.T) {
	in := NewInput([]Turn{{Role: RoleUser, Text: "  hold on  "}})
	if in.Text != "hold on" {
		t.Fatalf("expected trimmed input, got %q", in.Text)
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAssistant, RoleSystem} {
		if !r.Valid() {
			t.Fatalf("role %q should be valid", r)
		}
	}
	if Role("tool").Valid() {
		t.Fatalf("unknown role accepted")
	}
}
