package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/basket/atohub/internal/otel"
	"gopkg.in/yaml.v3"
)

// ProviderConfig holds per-provider settings for multi-provider LLM support.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// LLMConfig names the active LLM provider and model.
type LLMConfig struct {
	// Provider is the LLM provider: "google", "anthropic", "openai", "openai_compatible".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	// ClassifierModel overrides the model used for intent classification.
	// Empty uses the main model. Classification always runs at temperature 0.
	ClassifierModel string `yaml:"classifier_model"`

	// OpenAICompatible config.
	OpenAICompatibleProvider string `yaml:"openai_compatible_provider"`
	OpenAICompatibleBaseURL  string `yaml:"openai_compatible_base_url"`
}

// TierConfig is quota data for one account tier. Tiers differ in these
// constants only; the registry never branches on tier names.
type TierConfig struct {
	MaxCustomATOs       int `yaml:"max_custom_atos"`
	MaxCreatedPerMonth  int `yaml:"max_created_per_month"`
	MaxInstructionChars int `yaml:"max_instruction_chars"`
}

// TimeoutsConfig bounds each external call in the per-turn pipeline.
// An unbounded hang in any one stage has no other recovery path.
type TimeoutsConfig struct {
	GuardrailSeconds int `yaml:"guardrail_seconds"`
	ClassifySeconds  int `yaml:"classify_seconds"`
	GenerateSeconds  int `yaml:"generate_seconds"`
}

// GatewayConfig configures the websocket control plane.
type GatewayConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BindAddr  string `yaml:"bind_addr"`
	AuthToken string `yaml:"auth_token"`
}

// TelegramConfig configures the Telegram inbound channel.
type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
	Enabled    bool    `yaml:"enabled"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// RetentionConfig controls pruning of persisted guardrail events.
type RetentionConfig struct {
	GuardrailEventDays int `yaml:"guardrail_event_days"`
	// CronSpec is a robfig/cron expression; empty uses the daily default.
	CronSpec string `yaml:"cron_spec"`
}

// SearchConfig points semantic file search at named vector stores.
type SearchConfig struct {
	Endpoint string `yaml:"endpoint"`
	// Stores maps a workflow id to the vector store it grounds against.
	Stores map[string]string `yaml:"stores"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	LLM LLMConfig `yaml:"llm"`

	// Providers holds per-provider configuration (API keys, custom endpoints).
	Providers map[string]ProviderConfig `yaml:"providers"`

	// APIKeys holds centralized API keys for tools and integrations.
	// Keys: "brave_search", etc. Env vars override: BRAVE_API_KEY → api_keys["brave_search"].
	APIKeys map[string]string `yaml:"api_keys"`

	// Datasets maps a dataset name (cities, rest_stops, strains, ...) to its
	// JSON file. Relative paths resolve under <home>/datasets.
	Datasets map[string]string `yaml:"datasets"`

	Search SearchConfig `yaml:"search"`

	// Tiers maps tier name → quota constants. "free" and "plus" ship as defaults.
	Tiers map[string]TierConfig `yaml:"tiers"`

	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Retention RetentionConfig `yaml:"retention"`
	OTel      otel.Config     `yaml:"otel"`

	// Personas holds per-agent system prompt overrides loaded from
	// <home>/personas/<name>.md. Not part of config.yaml itself.
	Personas map[string]string `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// PolicyPath returns the path to policy.yaml within the given home directory.
func PolicyPath(homeDir string) string {
	return filepath.Join(homeDir, "policy.yaml")
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		LLM:      LLMConfig{Provider: "google"},
		Tiers: map[string]TierConfig{
			"free": {MaxCustomATOs: 3, MaxCreatedPerMonth: 3, MaxInstructionChars: 4000},
			"plus": {MaxCustomATOs: 25, MaxCreatedPerMonth: 10, MaxInstructionChars: 16000},
		},
		Timeouts: TimeoutsConfig{
			GuardrailSeconds: 15,
			ClassifySeconds:  20,
			GenerateSeconds:  120,
		},
		Gateway: GatewayConfig{
			BindAddr: "127.0.0.1:18890",
		},
		Retention: RetentionConfig{
			GuardrailEventDays: 90,
		},
	}
}

// HomeDir resolves the runtime home directory (~/.atohub unless overridden).
func HomeDir() string {
	if override := os.Getenv("ATOHUB_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".atohub")
}

// Load reads config.yaml from the home directory, applies env overrides,
// and loads persona files. A missing config file yields defaults.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom loads configuration rooted at an explicit home directory.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create atohub home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	loadPersonas(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "google"
	}
	// Normalize legacy provider name.
	if cfg.LLM.Provider == "gemini" {
		cfg.LLM.Provider = "google"
	}
	if cfg.Gateway.BindAddr == "" {
		cfg.Gateway.BindAddr = "127.0.0.1:18890"
	}
	if cfg.Timeouts.GuardrailSeconds <= 0 {
		cfg.Timeouts.GuardrailSeconds = 15
	}
	if cfg.Timeouts.ClassifySeconds <= 0 {
		cfg.Timeouts.ClassifySeconds = 20
	}
	if cfg.Timeouts.GenerateSeconds <= 0 {
		cfg.Timeouts.GenerateSeconds = 120
	}
	if cfg.Retention.GuardrailEventDays < 0 {
		cfg.Retention.GuardrailEventDays = 0
	}
	if cfg.Tiers == nil {
		cfg.Tiers = defaultConfig().Tiers
	}
	// Resolve relative dataset paths under <home>/datasets.
	for name, path := range cfg.Datasets {
		if path != "" && !filepath.IsAbs(path) {
			cfg.Datasets[name] = filepath.Join(cfg.HomeDir, "datasets", path)
		}
	}
}

func validate(cfg *Config) error {
	for name, tier := range cfg.Tiers {
		if tier.MaxInstructionChars <= 0 {
			return fmt.Errorf("tier %q: max_instruction_chars must be positive", name)
		}
		if tier.MaxCustomATOs < 0 || tier.MaxCreatedPerMonth < 0 {
			return fmt.Errorf("tier %q: quotas must be non-negative", name)
		}
	}
	if cfg.Gateway.Enabled && strings.TrimSpace(cfg.Gateway.AuthToken) == "" {
		return fmt.Errorf("gateway enabled without auth_token")
	}
	return nil
}

// Tier returns the quota constants for the named tier, falling back to "free"
// for unknown names so a bad tier label never grants elevated limits.
func (c Config) Tier(name string) TierConfig {
	if t, ok := c.Tiers[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t
	}
	return c.Tiers["free"]
}

// APIKey returns the value for the named API key, checking env overrides first.
// Env mapping: "brave_search" → BRAVE_API_KEY.
func (c Config) APIKey(name string) string {
	envMap := map[string]string{
		"brave_search":      "BRAVE_API_KEY",
		"perplexity_search": "PERPLEXITY_API_KEY",
	}
	if envVar, ok := envMap[name]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if c.APIKeys != nil {
		return c.APIKeys[name]
	}
	return ""
}

// LLMProviderAPIKey returns the API key for the specified LLM provider.
// Env vars take precedence: ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY.
func (c Config) LLMProviderAPIKey(provider string) string {
	envMap := map[string]string{
		"google":    "GEMINI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
	}
	if envVar, ok := envMap[provider]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if c.Providers != nil {
		if p, ok := c.Providers[provider]; ok && p.APIKey != "" {
			return p.APIKey
		}
	}
	return ""
}

// Persona returns the system-prompt override for the named agent, or "".
func (c Config) Persona(name string) string {
	if c.Personas == nil {
		return ""
	}
	return c.Personas[strings.ToLower(strings.TrimSpace(name))]
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("ATOHUB_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("ATOHUB_GATEWAY_ADDR"); raw != "" {
		cfg.Gateway.BindAddr = raw
	}
	if raw := os.Getenv("ATOHUB_GATEWAY_TOKEN"); raw != "" {
		cfg.Gateway.AuthToken = raw
	}
	if raw := os.Getenv("ATOHUB_GENERATE_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Timeouts.GenerateSeconds = v
		}
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Channels.Telegram.Token = raw
	}
	if raw := os.Getenv("BRAVE_API_KEY"); raw != "" {
		if cfg.APIKeys == nil {
			cfg.APIKeys = make(map[string]string)
		}
		cfg.APIKeys["brave_search"] = raw
	}
}

// loadPersonas reads <home>/personas/*.md into the persona map, keyed by the
// lowercased file name without extension.
func loadPersonas(cfg *Config) {
	dir := filepath.Join(cfg.HomeDir, "personas")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		if cfg.Personas == nil {
			cfg.Personas = make(map[string]string)
		}
		key := strings.ToLower(strings.TrimSuffix(e.Name(), ".md"))
		cfg.Personas[key] = string(b)
	}
}
