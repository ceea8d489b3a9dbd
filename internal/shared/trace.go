package shared

import (
	"context"

	"github.com/google/uuid"
)

// DefaultWorkflowID is the workflow used when a caller does not name one.
const DefaultWorkflowID = "hub"

type traceKey struct{}
type sessionIDKey struct{}
type ownerIDKey struct{}
type workflowIDKey struct{}
type routeKey struct{}

func stringValue(ctx context.Context, key any) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent so log
// lines keep a stable shape.
func TraceID(ctx context.Context) string {
	if v := stringValue(ctx, traceKey{}); v != "" {
		return v
	}
	return "-"
}

// WithSessionID attaches a session_id to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionID extracts session_id from context. Returns "" if absent.
func SessionID(ctx context.Context) string {
	return stringValue(ctx, sessionIDKey{})
}

// WithOwnerID attaches the acting user's owner_id to the context.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey{}, ownerID)
}

// OwnerID extracts owner_id from context. Returns "" if absent.
func OwnerID(ctx context.Context) string {
	return stringValue(ctx, ownerIDKey{})
}

// WithWorkflowID attaches the active workflow id to the context.
func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return context.WithValue(ctx, workflowIDKey{}, workflowID)
}

// WorkflowID extracts the workflow id from context. Returns "" if absent.
func WorkflowID(ctx context.Context) string {
	return stringValue(ctx, workflowIDKey{})
}

// WithRoute attaches the resolved slash route to the context.
func WithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeKey{}, route)
}

// Route extracts the resolved slash route from context. Returns "" if absent.
func Route(ctx context.Context) string {
	return stringValue(ctx, routeKey{})
}
