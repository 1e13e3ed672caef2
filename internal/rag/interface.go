// Package rag defines the interfaces for retrieval-augmented generation
// components: vector storage, chunk retrieval, and embedding.
// Concrete implementations (Qdrant, etc.) satisfy these interfaces so the
// gateway and agent layers never depend on a specific backend.
//
// Every stored chunk belongs to exactly one student. Search is always scoped
// to a single student's partition — there is no unscoped search entry point.
package rag

import (
	"context"
)

// Chunk represents a unit of stored or retrieved knowledge: a span of text
// extracted from a student's uploaded material, plus its source metadata.
type Chunk struct {
	// ID is the unique identifier for this chunk.
	ID string

	// Content is the raw text content of the chunk.
	Content string

	// StudentID is the owner of this chunk. Chunks are partitioned by owner;
	// a chunk is never visible to a query scoped to a different student.
	StudentID string

	// Subject is the subject area this chunk belongs to (e.g. "Mathematics").
	Subject string

	// Topic is the topic within the subject (e.g. "Calculus").
	Topic string

	// DifficultyLevel is the 1-10 difficulty rating assigned at upload time.
	DifficultyLevel int

	// Metadata holds additional key-value pairs (filename, file_type,
	// chunk_index, description, etc.).
	Metadata map[string]string

	// Score is the similarity score assigned during retrieval (0.0–1.0).
	// Zero value means the score was not computed.
	Score float32
}

// Scope restricts a search to one student's partition, optionally narrowed
// further by subject and topic. StudentID is mandatory — implementations
// must reject a scope with an empty owner.
type Scope struct {
	// StudentID is the owner whose partition is searched. Required.
	StudentID string

	// Subject optionally restricts results to one subject.
	Subject string

	// Topic optionally restricts results to one topic.
	Topic string
}

// VectorStore is the interface for persisting and searching chunk embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or updates a batch of chunks with their pre-computed embeddings.
	// The embeddings slice must be parallel to chunks — embeddings[i] is the
	// vector for chunks[i].
	Upsert(ctx context.Context, chunks []Chunk, embeddings [][]float32) error

	// Search performs a semantic similarity search within the given scope and
	// returns the top-k most relevant chunks for the query embedding.
	// An empty result is a valid, non-error outcome.
	Search(ctx context.Context, queryEmbedding []float32, scope Scope, topK int) ([]Chunk, error)

	// Delete removes chunks by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever is the high-level interface used by the gateway to fetch relevant
// context for a student's question. It combines embedding and vector search.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns the top-k most relevant chunks for the query within
	// the given scope.
	Retrieve(ctx context.Context, query string, scope Scope, topK int) ([]Chunk, error)
}
