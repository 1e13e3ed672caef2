package rag

import (
	"context"
	"fmt"
)

// defaultTopK is the number of chunks returned when the caller does not
// specify a positive top-k.
const defaultTopK = 3

// DefaultRetriever implements Retriever by embedding the query and searching
// the vector store within the caller's scope.
type DefaultRetriever struct {
	store    VectorStore
	embedder Embedder
}

// NewRetriever creates a retriever that embeds queries with the given
// embedder and searches the given store.
func NewRetriever(store VectorStore, embedder Embedder) *DefaultRetriever {
	return &DefaultRetriever{store: store, embedder: embedder}
}

// Retrieve embeds the query and returns the top-k most similar chunks from
// the scoped partition. topK <= 0 falls back to the default.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, scope Scope, topK int) ([]Chunk, error) {
	if query == "" {
		return nil, fmt.Errorf("rag: query must not be empty")
	}
	if scope.StudentID == "" {
		return nil, fmt.Errorf("rag: retrieve requires a student_id scope")
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: failed to embed query: %w", err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("rag: expected 1 embedding, got %d", len(embeddings))
	}

	chunks, err := r.store.Search(ctx, embeddings[0], scope, topK)
	if err != nil {
		return nil, fmt.Errorf("rag: search failed: %w", err)
	}

	return chunks, nil
}
