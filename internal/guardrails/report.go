package guardrails

// Per-category fail sub-reports. Every category is always present in a
// FailReport; unconfigured ones simply carry failed=false, so consumers can
// read fields directly instead of probing verdict shapes.

type PIIReport struct {
	Failed     bool   `json:"failed"`
	Anonymized string `json:"anonymized_text,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

type ModerationReport struct {
	Failed bool   `json:"failed"`
	Detail string `json:"detail,omitempty"`
}

type JailbreakReport struct {
	Failed bool   `json:"failed"`
	Detail string `json:"detail,omitempty"`
}

type HallucinationReport struct {
	Failed bool   `json:"failed"`
	Detail string `json:"detail,omitempty"`
}

type NSFWReport struct {
	Failed bool   `json:"failed"`
	Detail string `json:"detail,omitempty"`
}

type URLFilterReport struct {
	Failed bool   `json:"failed"`
	Detail string `json:"detail,omitempty"`
}

type CustomReport struct {
	Failed    bool   `json:"failed"`
	Guardrail string `json:"guardrail,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type PromptInjectionReport struct {
	Failed bool   `json:"failed"`
	Detail string `json:"detail,omitempty"`
}

// FailReport is the structured payload returned to callers when a turn
// tripwires. It is a decision record, not an error.
type FailReport struct {
	TripwireTriggered bool                  `json:"tripwire_triggered"`
	PII               PIIReport             `json:"pii"`
	Moderation        ModerationReport      `json:"moderation"`
	Jailbreak         JailbreakReport       `json:"jailbreak"`
	Hallucination     HallucinationReport   `json:"hallucination"`
	NSFW              NSFWReport            `json:"nsfw"`
	URLFilter         URLFilterReport       `json:"url_filter"`
	Custom            CustomReport          `json:"custom"`
	PromptInjection   PromptInjectionReport `json:"prompt_injection"`
}

// PassPayload is the successful counterpart: the text the agent should see.
type PassPayload struct {
	SafeText string `json:"safe_text"`
}

// FailReport builds the per-category report from the collected verdicts.
func (r RunResult) FailReport() FailReport {
	report := FailReport{TripwireTriggered: r.Tripwired()}
	for _, v := range r.Verdicts {
		if !v.Tripwire && v.Anonymized == "" {
			continue
		}
		switch v.Category {
		case CategoryPII:
			report.PII = PIIReport{Failed: v.Tripwire, Anonymized: v.Anonymized, Detail: v.Detail}
		case CategoryModeration:
			report.Moderation = ModerationReport{Failed: v.Tripwire, Detail: v.Detail}
		case CategoryJailbreak:
			report.Jailbreak = JailbreakReport{Failed: v.Tripwire, Detail: v.Detail}
		case CategoryHallucination:
			report.Hallucination = HallucinationReport{Failed: v.Tripwire, Detail: v.Detail}
		case CategoryNSFW:
			report.NSFW = NSFWReport{Failed: v.Tripwire, Detail: v.Detail}
		case CategoryURLFilter:
			report.URLFilter = URLFilterReport{Failed: v.Tripwire, Detail: v.Detail}
		case CategoryCustom:
			report.Custom = CustomReport{Failed: v.Tripwire, Guardrail: v.Name, Detail: v.Detail}
		case CategoryPromptInjection:
			report.PromptInjection = PromptInjectionReport{Failed: v.Tripwire, Detail: v.Detail}
		}
	}
	return report
}

// PassPayload builds the pass-side payload.
func (r RunResult) PassPayload() PassPayload {
	return PassPayload{SafeText: r.SafeText}
}
