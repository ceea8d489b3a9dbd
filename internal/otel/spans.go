package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for atohub spans.
var (
	AttrWorkflow  = attribute.Key("atohub.workflow")
	AttrSessionID = attribute.Key("atohub.session.id")
	AttrRoute     = attribute.Key("atohub.ato.route")
	AttrCategory  = attribute.Key("atohub.classify.category")
	AttrGuardrail = attribute.Key("atohub.guardrail.name")
	AttrTripwire  = attribute.Key("atohub.guardrail.tripwire")
	AttrModel     = attribute.Key("atohub.llm.model")
	AttrStoreID   = attribute.Key("atohub.search.store_id")
)

// StartSpan starts an internal span for one pipeline stage.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (gateway, channels).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (LLM, guardrail scoring, search).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
