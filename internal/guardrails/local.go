package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/basket/atohub/internal/policy"
)

// LocalScorer implements the pattern-based guardrail categories without any
// external service: pii, prompt_injection, jailbreak, moderation, nsfw and
// url_filter. Custom and hallucination checks need an LLM-backed scorer.
type LocalScorer struct {
	policy policy.Checker
}

// NewLocalScorer builds a scorer. checker backs the url_filter category; a
// nil checker denies every URL.
func NewLocalScorer(checker policy.Checker) *LocalScorer {
	return &LocalScorer{policy: checker}
}

type piiPattern struct {
	re   *regexp.Regexp
	mask string
}

var piiPatterns = []piiPattern{
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[MASKED_SSN]"},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`), "[MASKED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\+1[\s\-.]?)?\(?\d{3}\)?[\s\-.]\d{3}[\s\-.]\d{4}\b`), "[MASKED_PHONE]"},
	{regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`), "[MASKED_CARD]"},
}

type threatPattern struct {
	re       *regexp.Regexp
	tripwire bool
	reason   string
}

// Role manipulation and prompt leaking trip; bare markers only annotate.
var injectionPatterns = []threatPattern{
	{
		re:       regexp.MustCompile(`(?i)\b(ignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?))\b`),
		tripwire: true,
		reason:   "role manipulation: ignore previous instructions",
	},
	{
		re:       regexp.MustCompile(`(?i)\b(you\s+are\s+now\s+(a|an|the)\s+\w+)`),
		tripwire: true,
		reason:   "role manipulation: identity override",
	},
	{
		re:       regexp.MustCompile(`(?i)\b(new\s+instructions?|override\s+(system\s+)?prompt|system\s+prompt\s+override)\b`),
		tripwire: true,
		reason:   "role manipulation: system prompt override",
	},
	{
		re:       regexp.MustCompile(`(?i)\b(forget\s+(everything|all|your)\s+(you|instructions?)?)`),
		tripwire: true,
		reason:   "role manipulation: memory wipe",
	},
	{
		re:       regexp.MustCompile(`(?i)\b(reveal|show|display|print|output|repeat)\s+(\w+\s+)?(your\s+)?(system\s+)?(prompt|instructions?|rules?|guidelines?)\b`),
		tripwire: true,
		reason:   "prompt leaking: system prompt extraction",
	},
	{
		re:       regexp.MustCompile(`(?i)\[\s*SYSTEM\s*\]`),
		tripwire: false,
		reason:   "injection marker: [SYSTEM] tag",
	},
	{
		re:       regexp.MustCompile(`(?i)<\s*\|?\s*(system|im_start|im_end)\s*\|?\s*>`),
		tripwire: false,
		reason:   "injection marker: chat template tag",
	},
}

var jailbreakPatterns = []threatPattern{
	{
		re:       regexp.MustCompile(`(?i)\b(do\s+anything\s+now|DAN\s+mode)\b`),
		tripwire: true,
		reason:   "jailbreak: DAN persona",
	},
	{
		re:       regexp.MustCompile(`(?i)\b(pretend|act\s+as\s+if)\s+(you\s+)?(have|had)\s+no\s+(restrictions?|rules?|limits?|guidelines?)\b`),
		tripwire: true,
		reason:   "jailbreak: restriction removal",
	},
	{
		re:       regexp.MustCompile(`(?i)\b(developer|god|unrestricted|jailbroken)\s+mode\b`),
		tripwire: true,
		reason:   "jailbreak: special mode request",
	},
	{
		re:       regexp.MustCompile(`(?i)\bwithout\s+(any\s+)?(safety|ethical|moral)\s+(filters?|constraints?|considerations?)\b`),
		tripwire: true,
		reason:   "jailbreak: filter bypass request",
	},
}

var moderationPatterns = []threatPattern{
	{
		re:       regexp.MustCompile(`(?i)\b(how\s+to\s+(make|build|synthesize))\s+(a\s+)?(bomb|explosive|nerve\s+agent|bioweapon)\b`),
		tripwire: true,
		reason:   "moderation: weapons synthesis",
	},
	{
		re:       regexp.MustCompile(`(?i)\b(kill|murder|assault)\s+(my|your|his|her|their|that)\s+\w+`),
		tripwire: true,
		reason:   "moderation: violence against a person",
	},
	{
		re:       regexp.MustCompile(`(?i)\b(i\s+want\s+to\s+(hurt|harm|kill)\s+(myself|someone))\b`),
		tripwire: true,
		reason:   "moderation: self-harm or harm intent",
	},
}

var nsfwPatterns = []threatPattern{
	{
		re:       regexp.MustCompile(`(?i)\b(explicit\s+sexual|sexually\s+explicit|porn(ographic)?)\b`),
		tripwire: true,
		reason:   "nsfw: explicit sexual content",
	},
	{
		re:       regexp.MustCompile(`(?i)\b(nude|naked)\s+(photo|picture|image)s?\b`),
		tripwire: true,
		reason:   "nsfw: explicit imagery request",
	},
}

var urlPattern = regexp.MustCompile(`\bhttps?://[^\s<>"']+`)

func (s *LocalScorer) Score(_ context.Context, spec Spec, text string) (Verdict, error) {
	v := Verdict{Name: spec.Name, Category: spec.Category}
	if strings.TrimSpace(text) == "" {
		return v, nil
	}

	switch spec.Category {
	case CategoryPII:
		masked, count := maskPII(text)
		if count == 0 {
			return v, nil
		}
		v.Detail = fmt.Sprintf("%d entities detected", count)
		if spec.Mode == ModeMask {
			v.Anonymized = masked
		} else {
			v.Tripwire = true
		}
		return v, nil

	case CategoryPromptInjection:
		return matchThreats(v, injectionPatterns, text), nil
	case CategoryJailbreak:
		return matchThreats(v, jailbreakPatterns, text), nil
	case CategoryModeration:
		return matchThreats(v, moderationPatterns, text), nil
	case CategoryNSFW:
		return matchThreats(v, nsfwPatterns, text), nil

	case CategoryURLFilter:
		for _, raw := range urlPattern.FindAllString(text, -1) {
			if s.policy == nil || !s.policy.AllowHTTPURL(raw) {
				v.Tripwire = true
				v.Detail = "disallowed URL: " + raw
				return v, nil
			}
		}
		return v, nil

	default:
		return Verdict{}, fmt.Errorf("category %q requires an LLM-backed scorer", spec.Category)
	}
}

func matchThreats(v Verdict, patterns []threatPattern, text string) Verdict {
	for _, pat := range patterns {
		if pat.re.MatchString(text) {
			v.Tripwire = pat.tripwire
			v.Detail = pat.reason
			return v
		}
	}
	return v
}

func maskPII(text string) (string, int) {
	count := 0
	for _, pat := range piiPatterns {
		text = pat.re.ReplaceAllStringFunc(text, func(string) string {
			count++
			return pat.mask
		})
	}
	return text, count
}
