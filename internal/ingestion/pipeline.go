// Package ingestion implements the student-file ingestion pipeline: store
// the raw upload in blob storage, extract its text, chunk it, embed each
// chunk, and upsert the results into the owner's vector-store partition.
// The pipeline is invoked in the background by the upload endpoint, by the
// gateway's upload tool, and by the `tutorrag ingest` CLI command.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tutorstack/tutorrag/internal/blob"
	"github.com/tutorstack/tutorrag/internal/extract"
	"github.com/tutorstack/tutorrag/internal/logging"
	"github.com/tutorstack/tutorrag/internal/rag"
	"github.com/tutorstack/tutorrag/internal/store"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	// Defaults to 200 if zero.
	ChunkOverlap int

	// EmbedBatchSize is the number of chunks embedded per backend call.
	// Defaults to 16 if zero.
	EmbedBatchSize int

	// EmbedConcurrency bounds the number of concurrent embedding calls.
	// Defaults to 4 if zero.
	EmbedConcurrency int
}

// Input describes one file to ingest.
type Input struct {
	// FileID is the upload identifier; also the seed for chunk IDs.
	FileID string
	// StudentID is the owner. Required.
	StudentID string
	// Subject is the subject area. Required.
	Subject string
	// Topic is the topic label; derived from the filename when empty.
	Topic string
	// DifficultyLevel is the 1-10 rating; 0 means the default (5).
	DifficultyLevel int
	// Description is optional free-text context stored with each chunk.
	Description string
	// Filename is the original filename; its extension selects the extractor.
	Filename string
	// Data is the raw file content.
	Data []byte
}

// Result reports a completed ingestion.
type Result struct {
	// BlobPath is where the raw file landed in blob storage.
	BlobPath string
	// ChunkCount is the number of chunks indexed.
	ChunkCount int
}

// Pipeline orchestrates the store → extract → chunk → embed → upsert flow.
type Pipeline struct {
	// embedder converts text chunks into dense vector embeddings.
	embedder rag.Embedder

	// vectors persists the embedded chunks.
	vectors rag.VectorStore

	// blobs stores the raw uploaded files.
	blobs blob.Store

	// uploads tracks upload status transitions. Optional; nil disables
	// status tracking (CLI ingestion).
	uploads store.UploadStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, vectors rag.VectorStore, blobs blob.Store, uploads store.UploadStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if vectors == nil {
		return nil, fmt.Errorf("ingestion: vector store must not be nil")
	}
	if blobs == nil {
		return nil, fmt.Errorf("ingestion: blob store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = 200
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 5
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 16
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 4
	}

	return &Pipeline{
		embedder: embedder,
		vectors:  vectors,
		blobs:    blobs,
		uploads:  uploads,
		cfg:      cfg,
	}, nil
}

// Ingest runs the full pipeline for a raw upload. The file type is validated
// before any side effect; after the blob is stored, any failure marks the
// upload failed and removes whatever chunks were already upserted so a
// half-indexed document is never queryable.
func (p *Pipeline) Ingest(ctx context.Context, in Input) (*Result, error) {
	log := logging.FromContext(ctx).With(
		slog.String("file_id", in.FileID),
		slog.String("student_id", in.StudentID),
		slog.String("filename", in.Filename),
	)

	if in.StudentID == "" {
		return nil, p.fail(ctx, in.FileID, fmt.Errorf("ingestion: student_id is required"))
	}
	if in.Subject == "" {
		return nil, p.fail(ctx, in.FileID, fmt.Errorf("ingestion: subject is required"))
	}
	if !extract.SupportedExtension(in.Filename) {
		return nil, p.fail(ctx, in.FileID, fmt.Errorf("ingestion: %q: %w", in.Filename, extract.ErrUnsupportedType))
	}

	uploaded, err := p.blobs.Upload(ctx, blob.UploadInput{
		StudentID: in.StudentID,
		Subject:   in.Subject,
		Filename:  in.Filename,
		Data:      in.Data,
		Metadata: map[string]string{
			"file_id":          in.FileID,
			"topic":            in.Topic,
			"difficulty_level": strconv.Itoa(ClampDifficulty(in.DifficultyLevel)),
			"description":      in.Description,
		},
	})
	if err != nil {
		return nil, p.fail(ctx, in.FileID, fmt.Errorf("ingestion: blob store failed: %w", err))
	}
	log.Info("stored upload", slog.String("blob_path", uploaded.Path))

	if p.uploads != nil {
		if err := p.uploads.SetProcessing(ctx, in.FileID, uploaded.Path); err != nil {
			log.Warn("failed to record processing status", slog.String("error", err.Error()))
		}
	}

	result, err := p.index(ctx, in, uploaded.Path)
	if err != nil {
		return nil, p.fail(ctx, in.FileID, err)
	}

	if p.uploads != nil {
		if err := p.uploads.SetIndexed(ctx, in.FileID, result.ChunkCount); err != nil {
			log.Warn("failed to record indexed status", slog.String("error", err.Error()))
		}
	}
	log.Info("ingestion complete", slog.Int("chunks", result.ChunkCount))
	return result, nil
}

// index extracts, chunks, embeds, and upserts. On upsert failure it deletes
// every chunk ID already written for this file.
func (p *Pipeline) index(ctx context.Context, in Input, blobPath string) (*Result, error) {
	text, err := extract.Text(in.Filename, in.Data)
	if err != nil {
		return nil, fmt.Errorf("ingestion: extraction failed: %w", err)
	}

	pieces := Split(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("ingestion: %q produced no chunks", in.Filename)
	}

	embeddings, err := p.embedAll(ctx, pieces)
	if err != nil {
		return nil, fmt.Errorf("ingestion: embedding failed: %w", err)
	}

	topic := in.Topic
	if topic == "" {
		topic = DefaultTopic(in.Filename)
	}
	uploadedAt := time.Now().UTC().Format(time.RFC3339)

	chunks := make([]rag.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, rag.Chunk{
			ID:              chunkID(in.FileID, i),
			Content:         piece,
			StudentID:       in.StudentID,
			Subject:         in.Subject,
			Topic:           topic,
			DifficultyLevel: ClampDifficulty(in.DifficultyLevel),
			Metadata: map[string]string{
				"file_id":          in.FileID,
				"filename":         in.Filename,
				"file_type":        FileType(in.Filename),
				"blob_path":        blobPath,
				"chunk_index":      strconv.Itoa(i),
				"total_chunks":     strconv.Itoa(len(pieces)),
				"upload_timestamp": uploadedAt,
				"description":      in.Description,
			},
		})
	}

	if err := p.upsertAll(ctx, chunks, embeddings); err != nil {
		return nil, err
	}

	return &Result{BlobPath: blobPath, ChunkCount: len(chunks)}, nil
}

// embedAll embeds the chunk texts in bounded concurrent batches. The result
// slice is parallel to texts.
func (p *Pipeline) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EmbedConcurrency)

	for start := 0; start < len(texts); start += p.cfg.EmbedBatchSize {
		end := start + p.cfg.EmbedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		g.Go(func() error {
			batch, err := p.embedder.Embed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(batch) != end-start {
				return fmt.Errorf("expected %d embeddings, got %d", end-start, len(batch))
			}
			copy(embeddings[start:end], batch)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// upsertBatchSize bounds the number of points written per vector-store call.
const upsertBatchSize = 64

// upsertAll writes the chunks in batches. If any batch fails, the IDs already
// written are deleted before returning the error.
func (p *Pipeline) upsertAll(ctx context.Context, chunks []rag.Chunk, embeddings [][]float32) error {
	var written []string
	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := p.vectors.Upsert(ctx, chunks[start:end], embeddings[start:end]); err != nil {
			p.rollback(ctx, written)
			return fmt.Errorf("ingestion: vector upsert failed: %w", err)
		}
		for _, c := range chunks[start:end] {
			written = append(written, c.ID)
		}
	}
	return nil
}

// rollback deletes partially written chunks. Uses a fresh context so cleanup
// still runs when the request context was cancelled.
func (p *Pipeline) rollback(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := p.vectors.Delete(cleanupCtx, ids); err != nil {
		logging.FromContext(ctx).Error("failed to roll back partial index",
			slog.Int("chunks", len(ids)),
			slog.String("error", err.Error()),
		)
	}
}

// fail records the terminal failed status (when status tracking is enabled)
// and returns the error unchanged.
func (p *Pipeline) fail(ctx context.Context, fileID string, err error) error {
	if p.uploads != nil && fileID != "" {
		statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if serr := p.uploads.SetFailed(statusCtx, fileID, err.Error()); serr != nil {
			logging.FromContext(ctx).Warn("failed to record failed status", slog.String("error", serr.Error()))
		}
	}
	return err
}

// chunkID generates a deterministic UUID for a chunk from its file ID and
// index, so re-ingesting the same upload overwrites rather than duplicates.
func chunkID(fileID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s#%d", fileID, index))).String()
}
