package classify

import (
	"context"
	"errors"
	"testing"
)

func fixedReply(reply string) GenerateFunc {
	return func(context.Context, string, string) (string, error) {
		return reply, nil
	}
}

func newClassifier(t *testing.T, reply string) *Classifier {
	t.Helper()
	c, err := New(fixedReply(reply))
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	return c
}

var roadtripConfig = Config{
	Workflow:   "roadtrip",
	Categories: []Category{"talk_mode", "text_mode", "save_memory"},
	// No default: an off-contract reply is fatal for this workflow.
}

var hubConfig = Config{
	Workflow:   "hub",
	Categories: []Category{"conversate", "save_memory"},
	Default:    "conversate",
}

func TestClassify_BareToken(t *testing.T) {
	cases := []struct {
		reply string
		want  Category
	}{
		{"talk_mode", "talk_mode"},
		{"  Text_Mode \n", "text_mode"},
		{`"save_memory"`, "save_memory"},
	}
	for _, tc := range cases {
		c := newClassifier(t, tc.reply)
		got, err := c.Classify(context.Background(), roadtripConfig, "I almost just crashed, hold on")
		if err != nil {
			t.Fatalf("classify %q: %v", tc.reply, err)
		}
		if got != tc.want {
			t.Fatalf("classify %q = %q, want %q", tc.reply, got, tc.want)
		}
	}
}

func TestClassify_SingleLineJSON(t *testing.T) {
	c := newClassifier(t, `{"category": "talk_mode"}`)
	got, err := c.Classify(context.Background(), roadtripConfig, "hands are on the wheel")
	if err != nil || got != "talk_mode" {
		t.Fatalf("got %q err %v", got, err)
	}
}

func TestClassify_OffContractFatalWithoutDefault(t *testing.T) {
	for _, reply := range []string{
		"voice_mode",
		"I think this is talk_mode because the user is driving",
		`{"category": "driving"}`,
		"{\"category\":\n\"talk_mode\"}",
	} {
		c := newClassifier(t, reply)
		_, err := c.Classify(context.Background(), roadtripConfig, "hi")
		if !errors.Is(err, ErrContractViolation) {
			t.Fatalf("reply %q: expected ErrContractViolation, got %v", reply, err)
		}
	}
}

func TestClassify_DefaultAbsorbsOffContract(t *testing.T) {
	c := newClassifier(t, "something chatty and unparseable")
	got, err := c.Classify(context.Background(), hubConfig, "hey")
	if err != nil || got != "conversate" {
		t.Fatalf("got %q err %v, want default conversate", got, err)
	}
}

func TestClassify_ExactlyOneOfEnum(t *testing.T) {
	// Every valid reply maps to exactly one member of the configured set.
	for _, cat := range roadtripConfig.Categories {
		c := newClassifier(t, string(cat))
		got, err := c.Classify(context.Background(), roadtripConfig, "msg")
		if err != nil {
			t.Fatalf("classify %q: %v", cat, err)
		}
		if got != cat {
			t.Fatalf("got %q, want %q", got, cat)
		}
	}
}

func TestClassify_GenerationErrorPropagates(t *testing.T) {
	c, err := New(func(context.Context, string, string) (string, error) {
		return "", context.DeadlineExceeded
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Classify(context.Background(), hubConfig, "hi"); err == nil {
		t.Fatalf("generation failure must propagate even with a default")
	}
}

func TestClassify_EmptyCategorySet(t *testing.T) {
	c := newClassifier(t, "anything")
	if _, err := c.Classify(context.Background(), Config{Workflow: "w"}, "hi"); err == nil {
		t.Fatalf("empty category set must error")
	}
}
