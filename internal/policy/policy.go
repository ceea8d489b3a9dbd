// Package policy gates what agent tools may reach: which tools exist for a
// given deployment and which hosts outbound HTTP fetches may touch. The URL
// allowlist also backs the url_filter guardrail category.
package policy

import (
	"fmt"
	"hash/fnv"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Checker is the interface consumers use for policy decisions.
type Checker interface {
	AllowHTTPURL(raw string) bool
	AllowTool(tool string) bool
	PolicyVersion() string
}

// Policy is the serializable policy data.
type Policy struct {
	AllowDomains  []string `yaml:"allow_domains"`
	AllowTools    []string `yaml:"allow_tools"`
	AllowLoopback bool     `yaml:"allow_loopback"`
}

func Default() Policy {
	return Policy{}
}

var knownTools = map[string]struct{}{
	"web_search":  {},
	"file_search": {},
	"read_url":    {},
}

func Load(path string) (Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	if len(data) == 0 {
		return Default(), nil
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// AllowHTTPURL permits only http(s) URLs whose host falls under an
// allowlisted domain. Loopback, private, and link-local addresses are
// refused unless allow_loopback opts loopback back in.
func (p Policy) AllowHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || p.blockedHost(host) {
		return false
	}
	for _, domain := range normalized(p.AllowDomains) {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func (p Policy) blockedHost(host string) bool {
	if host == "localhost" {
		return !p.AllowLoopback
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		// A hostname, not an IP; domain matching decides.
		return false
	}
	if ip.IsLoopback() {
		return !p.AllowLoopback
	}
	return ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

func (p Policy) AllowTool(tool string) bool {
	tool = strings.ToLower(strings.TrimSpace(tool))
	if tool == "" {
		return false
	}
	for _, allowed := range normalized(p.AllowTools) {
		if allowed == tool {
			return true
		}
	}
	return false
}

// normalized lowercases and trims entries, dropping blanks.
func normalized(list []string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (p Policy) PolicyVersion() string {
	return policyVersionFor(p)
}

func (p Policy) validate() error {
	for _, tool := range normalized(p.AllowTools) {
		if _, ok := knownTools[tool]; !ok {
			return fmt.Errorf("unknown tool %q", tool)
		}
	}
	return nil
}

// LivePolicy wraps a Policy with thread-safe replacement for hot reload.
type LivePolicy struct {
	mu   sync.RWMutex
	data Policy
}

// NewLivePolicy creates a LivePolicy from an initial Policy snapshot.
func NewLivePolicy(initial Policy) *LivePolicy {
	return &LivePolicy{data: initial}
}

func (lp *LivePolicy) AllowHTTPURL(raw string) bool {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.data.AllowHTTPURL(raw)
}

func (lp *LivePolicy) AllowTool(tool string) bool {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.data.AllowTool(tool)
}

func (lp *LivePolicy) PolicyVersion() string {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return policyVersionFor(lp.data)
}

// Reload replaces the policy data from a fresh Policy snapshot.
func (lp *LivePolicy) Reload(p Policy) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.data = p
}

// ReloadFromFile updates the live policy only when the incoming file parses
// and validates. On error, the previous policy remains active.
func ReloadFromFile(lp *LivePolicy, path string) error {
	if lp == nil {
		return fmt.Errorf("nil live policy")
	}
	p, err := Load(path)
	if err != nil {
		return err
	}
	lp.Reload(p)
	return nil
}

// policyVersionFor derives a stable fingerprint of the effective policy so
// audit entries can name the policy that made a decision.
func policyVersionFor(p Policy) string {
	h := fnv.New64a()
	for _, v := range normalized(p.AllowDomains) {
		_, _ = h.Write([]byte(v + "|"))
	}
	for _, v := range normalized(p.AllowTools) {
		_, _ = h.Write([]byte(v + "|"))
	}
	if p.AllowLoopback {
		_, _ = h.Write([]byte("allow_loopback=true|"))
	}
	return "policy-" + strconv.FormatUint(h.Sum64(), 16)
}
