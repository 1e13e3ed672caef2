package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/tool"
	"github.com/spf13/cobra"

	"github.com/tutorstack/tutorrag/internal/agent"
	"github.com/tutorstack/tutorrag/internal/blob"
	"github.com/tutorstack/tutorrag/internal/embedder"
	"github.com/tutorstack/tutorrag/internal/ingestion"
	"github.com/tutorstack/tutorrag/internal/logging"
	"github.com/tutorstack/tutorrag/internal/provider"
	"github.com/tutorstack/tutorrag/internal/server"
	"github.com/tutorstack/tutorrag/internal/tools"
	"github.com/tutorstack/tutorrag/internal/tracing"
)

// NewServeCmd constructs the `tutorrag serve` command, which starts the agent
// host HTTP server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var agentName string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tutoring agent host HTTP server",
		Long: `Start the tutoring agent host on localhost.

The server exposes streaming chat (SSE), student file upload into the
ingestion pipeline, session history, and operational endpoints (health,
readiness, metrics). The agent calls the knowledge-base tool gateway over
MCP for retrieval; run 'tutorrag gateway' first or point MCP_SERVER_URL at
an existing gateway.

Examples:
  tutorrag serve
  tutorrag serve --port 9090
  MODEL_PROVIDER=openai tutorrag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("serve: failed to initialise embedder: %w", err)
			}

			vectors, err := buildVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer vectors.Close()

			blobs, err := blob.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise blob store: %w", err)
			}

			history, err := openHistoryStore(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = history.Close() }()

			pipeline, err := ingestion.NewPipeline(emb, vectors, blobs, history, nil)
			if err != nil {
				return fmt.Errorf("serve: failed to create ingestion pipeline: %w", err)
			}

			gatewayURL := getEnvOrDefault("MCP_SERVER_URL", "http://127.0.0.1:8081/mcp")
			gatewayClient, err := tools.NewMCPGatewayClient(gatewayURL, os.Getenv("MCP_SERVER_TOKEN"))
			if err != nil {
				return fmt.Errorf("serve: failed to create gateway client: %w", err)
			}
			defer func() { _ = gatewayClient.Close() }()
			log.Info("tool gateway configured", slog.String("url", gatewayURL))

			tutor, err := agent.New(ctx, &agent.Config{
				Name:      agentName,
				ChatModel: chatModel,
				Tools:     []tool.BaseTool{tools.NewRetrievalTool(gatewayClient)},
				History:   history,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to initialise agent: %w", err)
			}

			pingers := []server.Pinger{
				server.NewLLMPinger(string(providerCfg.Backend), providerCfg.HealthCheck()),
				server.NewQdrantPinger(vectors.Client()),
			}

			srv, err := server.New(tutor, &server.Config{
				Host:       host,
				Port:       port,
				Logger:     log,
				Pingers:    pingers,
				APIKey:     os.Getenv("TUTORRAG_API_KEY"),
				Provider:   string(providerCfg.Backend),
				GatewayURL: gatewayURL,
				Sessions:   history,
				Uploads:    history,
				Pipeline:   pipeline,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")
	cmd.Flags().StringVar(&agentName, "agent-name", "tutor", "Agent name served under POST /chats/{agent}")

	return cmd
}
