package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tutorstack/tutorrag/internal/blob"
	"github.com/tutorstack/tutorrag/internal/embedder"
	"github.com/tutorstack/tutorrag/internal/ingestion"
	"github.com/tutorstack/tutorrag/internal/logging"
)

// NewIngestCmd constructs the `tutorrag ingest` command, which indexes local
// files into a student's knowledge base without going through the HTTP API.
func NewIngestCmd() *cobra.Command {
	var studentID string
	var subject string
	var topic string
	var difficulty int
	var description string
	var files []string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index local study files into a student's knowledge base",
		Long: `Run the ingestion pipeline for local files: store the raw file in blob
storage, extract its text, chunk, embed, and index into the student's
partition of the vector store.

Supported file types: PDF, DOCX, DOC.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: student_knowledge)
  MODEL_PROVIDER       Embedding backend: ollama, openai, azure (default: ollama)
  EMBEDDING_*          Provider-specific overrides (model, base URL, API key)
  BLOB_PROVIDER        azure | local (default: azure when a connection string is set)

Examples:
  tutorrag ingest --student alice --subject physics --file mechanics.pdf
  tutorrag ingest --student alice --subject maths --topic calculus --difficulty 7 --file notes.docx --file formulas.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if len(files) == 0 {
				return fmt.Errorf("ingest: at least one --file is required")
			}
			if studentID == "" {
				return fmt.Errorf("ingest: --student is required")
			}
			if subject == "" {
				return fmt.Errorf("ingest: --subject is required")
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}

			vectors, err := buildVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer vectors.Close()

			blobs, err := blob.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise blob store: %w", err)
			}

			pipeline, err := ingestion.NewPipeline(emb, vectors, blobs, nil, nil)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("ingest: failed to read %s: %w", path, err)
				}

				result, err := pipeline.Ingest(ctx, ingestion.Input{
					FileID:          uuid.NewString(),
					StudentID:       studentID,
					Subject:         subject,
					Topic:           topic,
					DifficultyLevel: difficulty,
					Description:     description,
					Filename:        filepath.Base(path),
					Data:            data,
				})
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", path, err)
				}

				log.Info("file indexed",
					slog.String("file", path),
					slog.String("blob_path", result.BlobPath),
					slog.Int("chunks", result.ChunkCount),
				)
			}

			log.Info("ingestion complete", slog.Int("files", len(files)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&studentID, "student", "s", "", "Student who owns the files")
	cmd.Flags().StringVar(&subject, "subject", "", "Subject area (e.g. physics)")
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "Topic within the subject (derived from the filename when omitted)")
	cmd.Flags().IntVarP(&difficulty, "difficulty", "d", 0, "Difficulty rating 1-10 (default: 5)")
	cmd.Flags().StringVar(&description, "description", "", "Free-text description stored with each chunk")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "File to ingest (repeatable)")

	return cmd
}
