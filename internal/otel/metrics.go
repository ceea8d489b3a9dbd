package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all atohub metric instruments.
type Metrics struct {
	TurnDuration     metric.Float64Histogram
	StageDuration    metric.Float64Histogram
	LLMCallDuration  metric.Float64Histogram
	TurnsTotal       metric.Int64Counter
	TripwiresTotal   metric.Int64Counter
	FallbacksTotal   metric.Int64Counter
	MaskedEntities   metric.Int64Counter
	RouteResolutions metric.Int64Counter
	RouteCollisions  metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var firstErr error
	seconds := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return c
	}

	m := &Metrics{
		TurnDuration:     seconds("atohub.turn.duration", "End-to-end workflow turn duration in seconds"),
		StageDuration:    seconds("atohub.stage.duration", "Per-stage pipeline duration in seconds"),
		LLMCallDuration:  seconds("atohub.llm.duration", "LLM API call duration in seconds"),
		TurnsTotal:       counter("atohub.turns", "Total workflow turns handled"),
		TripwiresTotal:   counter("atohub.guardrail.tripwires", "Turns short-circuited by a guardrail tripwire"),
		FallbacksTotal:   counter("atohub.turn.fallbacks", "Turns answered with the fixed safe fallback message"),
		MaskedEntities:   counter("atohub.guardrail.masked_entities", "PII entities masked across inputs and history"),
		RouteResolutions: counter("atohub.ato.resolutions", "Slash-route resolutions against the registry"),
		RouteCollisions:  counter("atohub.ato.collisions", "Create/rename requests rejected for route collision"),
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return m, nil
}
