package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// LLMPinger probes an LLM backend through a provider-supplied health check
// (an HTTP version/models endpoint; no tokens consumed). It satisfies the
// Pinger interface and is used by GET /api/ready.
type LLMPinger struct {
	// check is the backend-specific reachability probe.
	check func(ctx context.Context) error
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given backend name and probe.
func NewLLMPinger(name string, check func(ctx context.Context) error) *LLMPinger {
	return &LLMPinger{check: check, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping runs the backend probe.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.check == nil {
		return nil
	}
	if err := p.check(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
