// Package doctor runs local diagnostic checks: config, credentials,
// database, datasets, policy, and network reachability for the configured
// LLM provider.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/basket/atohub/internal/config"
	"github.com/basket/atohub/internal/persistence"
	"github.com/basket/atohub/internal/policy"
)

// Status is a check outcome.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	StatusWarn Status = "WARN"
	StatusSkip Status = "SKIP"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

type check struct {
	name string
	run  func(context.Context, *config.Config) CheckResult
}

var checks = []check{
	{"Config", checkConfig},
	{"API Key", checkAPIKey},
	{"Database", checkDatabase},
	{"Permissions", checkPermissions},
	{"Datasets", checkDatasets},
	{"Policy", checkPolicy},
	{"Network", checkNetwork},
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}
	for _, c := range checks {
		r := c.run(ctx, cfg)
		r.Name = c.name
		d.Results = append(d.Results, r)
	}
	return d
}

func result(status Status, format string, args ...any) CheckResult {
	return CheckResult{Status: status, Message: fmt.Sprintf(format, args...)}
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return result(StatusFail, "Configuration not loaded")
	}
	return result(StatusPass, "Loaded from %s", cfg.HomeDir)
}

// providerEnvVars names the conventional env var per LLM provider.
var providerEnvVars = map[string]string{
	"google":    "GEMINI_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

func checkAPIKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return result(StatusSkip, "Config missing")
	}
	provider := strings.ToLower(cfg.LLM.Provider)
	if provider == "" {
		provider = "google"
	}
	envVar, ok := providerEnvVars[provider]
	if !ok {
		return result(StatusPass, "Provider %q uses api_key from config (no standard env var)", provider)
	}
	if cfg.LLMProviderAPIKey(provider) != "" {
		return result(StatusPass, "Key for %s provider is set", provider)
	}
	r := result(StatusWarn, "%s not set (required for %s provider)", envVar, provider)
	r.Detail = fmt.Sprintf("Set %s or providers.%s.api_key in config.yaml", envVar, provider)
	return r
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return result(StatusSkip, "Config missing")
	}
	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "atohub.db"))
	if err != nil {
		return result(StatusFail, "Connection failed: %v", err)
	}
	defer store.Close()

	if _, err := store.CountGuardrailEvents(ctx); err != nil {
		return result(StatusFail, "Query failed: %v", err)
	}
	return result(StatusPass, "Connection and schema valid")
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return result(StatusSkip, "Config missing")
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return result(StatusFail, "Home dir unwritable: %v", err)
	}
	os.Remove(testFile)
	return result(StatusPass, "Home directory writable")
}

// checkDatasets verifies every configured grounding dataset exists and
// parses as a JSON record array.
func checkDatasets(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || len(cfg.Datasets) == 0 {
		return result(StatusSkip, "No datasets configured")
	}
	var bad []string
	for name, path := range cfg.Datasets {
		data, err := os.ReadFile(path)
		if err != nil {
			bad = append(bad, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		var records []map[string]any
		if err := json.Unmarshal(data, &records); err != nil {
			bad = append(bad, fmt.Sprintf("%s: invalid JSON: %v", name, err))
		}
	}
	if len(bad) > 0 {
		r := result(StatusWarn, "%d of %d datasets unusable", len(bad), len(cfg.Datasets))
		r.Detail = strings.Join(bad, "; ")
		return r
	}
	return result(StatusPass, "%d datasets readable", len(cfg.Datasets))
}

func checkPolicy(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return result(StatusSkip, "Config missing")
	}
	path := config.PolicyPath(cfg.HomeDir)
	pol, err := policy.Load(path)
	if err != nil {
		return result(StatusFail, "policy.yaml invalid: %v", err)
	}
	if len(pol.AllowTools) == 0 && len(pol.AllowDomains) == 0 {
		r := result(StatusWarn, "Policy is empty: all tools and outbound URLs are denied")
		r.Detail = fmt.Sprintf("Edit %s to allow tools and domains", path)
		return r
	}
	return result(StatusPass, "Version %s", pol.PolicyVersion())
}

// providerHosts maps providers to the host whose reachability matters.
var providerHosts = map[string]string{
	"google":            "generativelanguage.googleapis.com",
	"anthropic":         "api.anthropic.com",
	"openai":            "api.openai.com",
	"openai_compatible": "api.openai.com",
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return result(StatusSkip, "Config missing")
	}
	provider := strings.ToLower(cfg.LLM.Provider)
	host, ok := providerHosts[provider]
	if !ok {
		host = providerHosts["google"]
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)
	if err != nil {
		r := result(StatusFail, "DNS lookup failed for %s: %v", host, err)
		r.Detail = fmt.Sprintf("provider=%s, latency=%dms", provider, latency.Milliseconds())
		return r
	}
	return result(StatusPass, "DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds())
}
