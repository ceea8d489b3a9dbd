package cron

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/atohub/internal/persistence"
)

func TestNextRunTime(t *testing.T) {
	after := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next, err := NextRunTime("0 4 * * *", after)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	if _, err := NextRunTime("not a cron expr", after); err == nil {
		t.Fatalf("invalid expression must error")
	}
}

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	if _, err := NewScheduler(Config{Spec: "***"}); err == nil {
		t.Fatalf("bad spec must be rejected at construction")
	}
}

func TestRunOnce_PrunesOldEvents(t *testing.T) {
	store, err := persistence.Open(filepath.Join(t.TempDir(), "cron.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	insert := `INSERT INTO guardrail_events (created_at, decision, kind) VALUES (?, ?, ?);`
	if _, err := store.DB().ExecContext(ctx, insert, time.Now().UTC().AddDate(0, 0, -120), "block", "pii"); err != nil {
		t.Fatalf("insert old: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, insert, time.Now().UTC(), "block", "nsfw"); err != nil {
		t.Fatalf("insert fresh: %v", err)
	}

	s, err := NewScheduler(Config{Store: store, RetentionDays: 90})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.RunOnce(ctx)

	remaining, err := store.CountGuardrailEvents(ctx)
	if err != nil || remaining != 1 {
		t.Fatalf("remaining = %d, err %v", remaining, err)
	}
}
