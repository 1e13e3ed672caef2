// Package gateway implements the tool gateway: an MCP server over streamable
// HTTP exposing the knowledge-base tools to the tutoring agent and to any
// other MCP client. Every request must carry the gateway bearer token; the
// token is checked before any tool logic runs.
package gateway

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tutorstack/tutorrag/internal/blob"
	"github.com/tutorstack/tutorrag/internal/ingestion"
	"github.com/tutorstack/tutorrag/internal/rag"
	"github.com/tutorstack/tutorrag/internal/store"
	"github.com/tutorstack/tutorrag/internal/version"
)

// Config holds the dependencies and settings for the gateway.
type Config struct {
	// Token is the bearer token required on every request. Required.
	Token string

	// Retriever serves knowledge_base_retrieval.
	Retriever rag.Retriever

	// Pipeline serves upload_student_file.
	Pipeline *ingestion.Pipeline

	// Blobs serves list_student_files.
	Blobs blob.Store

	// Uploads records upload status for files ingested through the gateway.
	Uploads store.UploadStore

	// Logger is the gateway's structured logger.
	Logger *slog.Logger
}

// Gateway bundles the MCP server with its dependencies.
type Gateway struct {
	cfg *Config
	mcp *server.MCPServer
}

// tokenKey is the context key carrying the caller's bearer token, extracted
// from the Authorization header by the HTTP context func.
type tokenKey struct{}

// New constructs the gateway and registers its tools.
func New(cfg *Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mcpServer := server.NewMCPServer(
		"tutorrag-gateway",
		version.Version,
		server.WithToolCapabilities(true),
	)

	g := &Gateway{cfg: cfg, mcp: mcpServer}

	mcpServer.AddTool(retrievalToolDef(), g.requireAuth(g.handleRetrieval))
	mcpServer.AddTool(uploadToolDef(), g.requireAuth(g.handleUpload))
	mcpServer.AddTool(listFilesToolDef(), g.requireAuth(g.handleListFiles))
	mcpServer.AddTool(previewToolDef(), g.requireAuth(g.handlePreview))

	return g
}

// Serve blocks, serving MCP over streamable HTTP on addr.
func (g *Gateway) Serve(addr string) error {
	httpServer := server.NewStreamableHTTPServer(g.mcp,
		server.WithHTTPContextFunc(extractBearerToken),
	)
	g.cfg.Logger.Info("gateway listening", slog.String("addr", addr))
	return httpServer.Start(addr)
}

// extractBearerToken copies the request's bearer token into the context so
// handlers can check it per call.
func extractBearerToken(ctx context.Context, r *http.Request) context.Context {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return context.WithValue(ctx, tokenKey{}, token)
	}
	return ctx
}

// withToken returns a copy of ctx carrying the given bearer token. Test hook
// mirroring what extractBearerToken does for real requests.
func withToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// authorized reports whether ctx carries the configured bearer token.
func (g *Gateway) authorized(ctx context.Context) bool {
	if g.cfg.Token == "" {
		return false
	}
	token, _ := ctx.Value(tokenKey{}).(string)
	return subtle.ConstantTimeCompare([]byte(token), []byte(g.cfg.Token)) == 1
}

// requireAuth wraps a tool handler with the bearer check. An unauthenticated
// call gets a structured error result and the wrapped handler never runs.
func (g *Gateway) requireAuth(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !g.authorized(ctx) {
			g.cfg.Logger.Warn("rejected unauthenticated tool call",
				slog.String("tool", request.Params.Name),
			)
			return errorResult("unauthorized: missing or invalid bearer token"), nil
		}
		return next(ctx, request)
	}
}

// errorResult builds a tool-level error result.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.NewTextContent(msg)},
	}
}

// textResult builds a successful text result.
func textResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(msg)},
	}
}
