package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tutorstack/tutorrag/internal/blob"
	"github.com/tutorstack/tutorrag/internal/embedder"
	"github.com/tutorstack/tutorrag/internal/gateway"
	"github.com/tutorstack/tutorrag/internal/ingestion"
	"github.com/tutorstack/tutorrag/internal/logging"
	"github.com/tutorstack/tutorrag/internal/rag"
)

// NewGatewayCmd constructs the `tutorrag gateway` command, which starts the
// knowledge-base tool gateway (MCP over streamable HTTP).
func NewGatewayCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Start the knowledge-base tool gateway (MCP over streamable HTTP)",
		Long: `Start the tool gateway that exposes the knowledge-base tools over MCP:
retrieval, upload, file listing, and text preview.

Every request must carry the bearer token from MCP_SERVER_TOKEN; the token
is checked before any tool logic runs. The agent host connects to this
process via MCP_SERVER_URL.

Examples:
  MCP_SERVER_TOKEN=secret tutorrag gateway
  MCP_SERVER_TOKEN=secret tutorrag gateway --addr :9081`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			token := os.Getenv("MCP_SERVER_TOKEN")
			if token == "" {
				return fmt.Errorf("gateway: MCP_SERVER_TOKEN is required")
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("gateway: %w", err)
			}
			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("gateway: failed to initialise embedder: %w", err)
			}

			vectors, err := buildVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("gateway: %w", err)
			}
			defer vectors.Close()

			blobs, err := blob.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("gateway: failed to initialise blob store: %w", err)
			}

			uploads, err := openHistoryStore(log)
			if err != nil {
				return fmt.Errorf("gateway: %w", err)
			}
			defer func() { _ = uploads.Close() }()

			pipeline, err := ingestion.NewPipeline(emb, vectors, blobs, uploads, nil)
			if err != nil {
				return fmt.Errorf("gateway: failed to create ingestion pipeline: %w", err)
			}

			g := gateway.New(&gateway.Config{
				Token:     token,
				Retriever: rag.NewRetriever(vectors, emb),
				Pipeline:  pipeline,
				Blobs:     blobs,
				Uploads:   uploads,
				Logger:    log,
			})

			// Serve blocks; shut down on signal by exiting the process.
			errCh := make(chan error, 1)
			go func() { errCh <- g.Serve(addr) }()

			select {
			case err := <-errCh:
				return fmt.Errorf("gateway: %w", err)
			case <-ctx.Done():
				log.Info("gateway shutting down", slog.String("addr", addr))
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", getEnvOrDefault("MCP_SERVER_ADDR", ":8081"), "Listen address for the MCP endpoint")

	return cmd
}
