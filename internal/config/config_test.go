package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFrom_DefaultsWhenMissing(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level, got %q", cfg.LogLevel)
	}
	if cfg.LLM.Provider != "google" {
		t.Fatalf("expected default provider, got %q", cfg.LLM.Provider)
	}
	if cfg.Timeouts.GenerateSeconds != 120 {
		t.Fatalf("expected default generate timeout, got %d", cfg.Timeouts.GenerateSeconds)
	}
	if cfg.Tier("free").MaxCustomATOs != 3 {
		t.Fatalf("expected default free tier quota, got %d", cfg.Tier("free").MaxCustomATOs)
	}
}

func TestLoadFrom_ParsesYAML(t *testing.T) {
	home := t.TempDir()
	body := `
log_level: debug
llm:
  provider: anthropic
  model: claude-sonnet-4-5
tiers:
  free:
    max_custom_atos: 1
    max_created_per_month: 1
    max_instruction_chars: 1000
datasets:
  cities: cities.json
timeouts:
  classify_seconds: 5
`
	if err := os.WriteFile(ConfigPath(home), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.Model != "claude-sonnet-4-5" {
		t.Fatalf("llm config not parsed: %+v", cfg.LLM)
	}
	if cfg.Timeouts.ClassifySeconds != 5 {
		t.Fatalf("classify timeout not parsed: %d", cfg.Timeouts.ClassifySeconds)
	}
	want := filepath.Join(home, "datasets", "cities.json")
	if cfg.Datasets["cities"] != want {
		t.Fatalf("relative dataset path not resolved: %q", cfg.Datasets["cities"])
	}
}

func TestLoadFrom_GatewayTokenRequired(t *testing.T) {
	home := t.TempDir()
	body := "gateway:\n  enabled: true\n"
	if err := os.WriteFile(ConfigPath(home), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFrom(home); err == nil {
		t.Fatalf("expected error for gateway without auth token")
	}
}

func TestTier_UnknownFallsBackToFree(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Tier("enterprise-platinum"); got != cfg.Tier("free") {
		t.Fatalf("unknown tier must use free limits, got %+v", got)
	}
}

func TestLoadFrom_Personas(t *testing.T) {
	home := t.TempDir()
	personaDir := filepath.Join(home, "personas")
	if err := os.MkdirAll(personaDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(personaDir, "Bear.md"), []byte("You are a gentle bear."), 0o644); err != nil {
		t.Fatalf("write persona: %v", err)
	}
	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Persona("bear"); got != "You are a gentle bear." {
		t.Fatalf("persona not loaded: %q", got)
	}
	if got := cfg.Persona("missing"); got != "" {
		t.Fatalf("unknown persona should be empty, got %q", got)
	}
}

func TestLoadFrom_InvalidTierRejected(t *testing.T) {
	home := t.TempDir()
	body := "tiers:\n  broken:\n    max_instruction_chars: 0\n"
	if err := os.WriteFile(ConfigPath(home), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFrom(home); err == nil {
		t.Fatalf("expected validation error for zero instruction limit")
	}
}

func TestWatcher_EmitsOnWrite(t *testing.T) {
	home := t.TempDir()
	path := ConfigPath(home)
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	w := NewWatcher(home, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case ev := <-w.Events():
		if ev.Path != path {
			t.Fatalf("unexpected event path %q", ev.Path)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload event within deadline")
	}
}

func TestWatcher_CoalescesWriteBursts(t *testing.T) {
	home := t.TempDir()
	path := ConfigPath(home)
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	w := NewWatcher(home, nil)
	w.debounce = 200 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	// An editor save shows up as several writes in quick succession.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
			t.Fatalf("rewrite config: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-w.Events():
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload event within deadline")
	}
	select {
	case ev := <-w.Events():
		t.Fatalf("burst not coalesced, extra event for %q", ev.Path)
	case <-time.After(500 * time.Millisecond):
	}
}
