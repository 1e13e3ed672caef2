package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tutorstack/tutorrag/internal/version"
)

// MCPGatewayClient implements GatewayClient over the MCP streamable HTTP
// transport. The bearer token is attached to every request; the session is
// initialized lazily on first use and reused afterwards.
type MCPGatewayClient struct {
	mcp *client.Client

	mu          sync.Mutex
	initialized bool
}

// NewMCPGatewayClient constructs a client for the gateway at baseURL,
// authenticating with the given bearer token.
func NewMCPGatewayClient(baseURL, token string) (*MCPGatewayClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("tools: gateway URL must not be empty")
	}

	var opts []transport.StreamableHTTPCOption
	if token != "" {
		opts = append(opts, transport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + token,
		}))
	}

	c, err := client.NewStreamableHttpClient(baseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("tools: failed to create gateway client: %w", err)
	}

	return &MCPGatewayClient{mcp: c}, nil
}

// ensureInitialized starts the transport and performs the MCP initialize
// handshake once.
func (g *MCPGatewayClient) ensureInitialized(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initialized {
		return nil
	}

	if err := g.mcp.Start(ctx); err != nil {
		return fmt.Errorf("tools: gateway transport start failed: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "tutorrag",
		Version: version.Version,
	}
	if _, err := g.mcp.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("tools: gateway initialize failed: %w", err)
	}

	g.initialized = true
	return nil
}

// CallTool invokes the named gateway tool and returns the text content of
// the result.
func (g *MCPGatewayClient) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if err := g.ensureInitialized(ctx); err != nil {
		return "", err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := g.mcp.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("tools: call to %q failed: %w", name, err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			sb.WriteString(text.Text)
		}
	}

	if result.IsError {
		return "", fmt.Errorf("tools: %q returned an error: %s", name, sb.String())
	}
	return sb.String(), nil
}

// Close shuts down the transport.
func (g *MCPGatewayClient) Close() error {
	return g.mcp.Close()
}
