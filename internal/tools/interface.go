// Package tools defines the tutoring tools the agent can invoke during a
// conversation. Each tool satisfies Eino's tool.BaseTool interface so it can
// be registered directly with the ReAct agent. Tool calls that need the
// gateway go through the GatewayClient interface so tests can inject a fake.
package tools

import (
	"context"
)

// GatewayClient is the interface for invoking tools on the tool gateway.
// Implementations must be safe to call from multiple goroutines.
type GatewayClient interface {
	// CallTool invokes the named gateway tool with the given arguments and
	// returns the concatenated text content of the result. A tool-level
	// error result is returned as a Go error.
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)

	// Close shuts down the underlying connection.
	Close() error
}

// ownerKey is the context key carrying the authenticated student ID.
type ownerKey struct{}

// WithStudentID returns a copy of ctx carrying the student whose data the
// tools may touch. The server sets this per request; tools refuse to run
// without it so the model can never pick the owner itself.
func WithStudentID(ctx context.Context, studentID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, studentID)
}

// StudentIDFromContext returns the student ID stored in ctx, or empty.
func StudentIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ownerKey{}).(string); ok {
		return id
	}
	return ""
}
