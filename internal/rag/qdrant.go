package rag

import (
	"context"
	"fmt"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// Payload keys reserved by the store. Everything else in a chunk's Metadata
// map is stored verbatim alongside them.
const (
	payloadContent    = "content"
	payloadStudentID  = "student_id"
	payloadSubject    = "subject"
	payloadTopic      = "topic"
	payloadDifficulty = "difficulty_level"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance. All chunks
// live in one collection; per-student partitioning is enforced with a
// mandatory student_id payload filter on every search.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// and its student_id payload index exist (creating them if necessary), and
// returns a ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	clientCfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}

	client, err := qdrant.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// Client exposes the underlying gRPC client for health probes.
func (s *QdrantStore) Client() *qdrant.Client {
	return s.client
}

// ensureCollection creates the Qdrant collection and the keyword payload
// index on student_id if they do not already exist. The index keeps the
// mandatory owner filter cheap as partitions grow.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	fieldType := qdrant.FieldType_FieldTypeKeyword
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.cfg.Collection,
		FieldName:      payloadStudentID,
		FieldType:      &fieldType,
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create student_id index: %w", err)
	}

	return nil
}

// Upsert stores or updates a batch of chunks with their pre-computed
// embeddings. embeddings[i] is the vector for chunks[i].
func (s *QdrantStore) Upsert(ctx context.Context, chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("qdrant: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		if c.StudentID == "" {
			return fmt.Errorf("qdrant: chunk %q has no student_id", c.ID)
		}

		payload := map[string]interface{}{
			payloadContent:    c.Content,
			payloadStudentID:  c.StudentID,
			payloadSubject:    c.Subject,
			payloadTopic:      c.Topic,
			payloadDifficulty: strconv.Itoa(c.DifficultyLevel),
		}
		for k, v := range c.Metadata {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// Search performs a cosine similarity search within the scope's partition and
// returns the top-k results. The student_id filter is always applied — a
// scope without an owner is an error, never an unscoped search.
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float32, scope Scope, topK int) ([]Chunk, error) {
	if scope.StudentID == "" {
		return nil, fmt.Errorf("qdrant: search requires a student_id scope")
	}

	must := []*qdrant.Condition{
		qdrant.NewMatch(payloadStudentID, scope.StudentID),
	}
	if scope.Subject != "" {
		must = append(must, qdrant.NewMatch(payloadSubject, scope.Subject))
	}
	if scope.Topic != "" {
		must = append(must, qdrant.NewMatch(payloadTopic, scope.Topic))
	}

	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Filter:         &qdrant.Filter{Must: must},
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	chunks := make([]Chunk, 0, len(results))
	for _, r := range results {
		c := Chunk{
			ID:       r.Id.GetUuid(),
			Score:    r.Score,
			Metadata: make(map[string]string),
		}
		for k, v := range r.Payload {
			switch k {
			case payloadContent:
				c.Content = v.GetStringValue()
			case payloadStudentID:
				c.StudentID = v.GetStringValue()
			case payloadSubject:
				c.Subject = v.GetStringValue()
			case payloadTopic:
				c.Topic = v.GetStringValue()
			case payloadDifficulty:
				if n, convErr := strconv.Atoi(v.GetStringValue()); convErr == nil {
					c.DifficultyLevel = n
				}
			default:
				c.Metadata[k] = v.GetStringValue()
			}
		}
		chunks = append(chunks, c)
	}

	return chunks, nil
}

// Delete removes chunks from the collection by their IDs.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}

	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
