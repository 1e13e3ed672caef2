package ingestion

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/tutorstack/tutorrag/internal/blob"
	"github.com/tutorstack/tutorrag/internal/extract"
	"github.com/tutorstack/tutorrag/internal/rag"
	"github.com/tutorstack/tutorrag/internal/store"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type fakeVectorStore struct {
	mu          sync.Mutex
	chunks      []rag.Chunk
	deleted     []string
	failOnCall  int
	upsertCalls int
}

func (f *fakeVectorStore) Upsert(_ context.Context, chunks []rag.Chunk, embeddings [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	if f.failOnCall > 0 && f.upsertCalls >= f.failOnCall {
		return errors.New("vector store unavailable")
	}
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunks/embeddings mismatch: %d vs %d", len(chunks), len(embeddings))
	}
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func (f *fakeVectorStore) Search(context.Context, []float32, rag.Scope, int) ([]rag.Chunk, error) {
	return nil, nil
}

func (f *fakeVectorStore) Delete(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *fakeVectorStore) Close() error { return nil }

// docxFile builds an in-memory DOCX with the given paragraph texts.
func docxFile(t *testing.T, paragraphs ...string) []byte {
	t.Helper()

	var body strings.Builder
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	doc := `<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body.String() + `</w:body></w:document>`
	if _, err := w.Write([]byte(doc)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, vectors rag.VectorStore, embedder rag.Embedder, cfg *Config) (*Pipeline, *store.SQLiteStore, blob.Store) {
	t.Helper()

	blobs, err := blob.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	uploads, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = uploads.Close() })

	p, err := NewPipeline(embedder, vectors, blobs, uploads, cfg)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return p, uploads, blobs
}

func acceptUpload(t *testing.T, uploads store.UploadStore, fileID, studentID, filename string) {
	t.Helper()
	err := uploads.CreateUpload(context.Background(), store.Upload{
		FileID: fileID, StudentID: studentID, Filename: filename, Subject: "math",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestIngestSuccess(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectorStore{}
	p, uploads, blobs := newTestPipeline(t, vectors, &fakeEmbedder{}, nil)
	ctx := context.Background()

	acceptUpload(t, uploads, "f1", "s1", "laws.docx")
	res, err := p.Ingest(ctx, Input{
		FileID:    "f1",
		StudentID: "s1",
		Subject:   "math",
		Filename:  "laws.docx",
		Data:      docxFile(t, "The derivative measures rate of change.", "The integral measures accumulated area."),
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.ChunkCount == 0 || res.ChunkCount != len(vectors.chunks) {
		t.Fatalf("chunk count %d, store has %d", res.ChunkCount, len(vectors.chunks))
	}

	for _, c := range vectors.chunks {
		if c.StudentID != "s1" {
			t.Errorf("chunk not owner-scoped: %q", c.StudentID)
		}
		if c.Topic != "uploaded_content_laws" {
			t.Errorf("default topic not applied: %q", c.Topic)
		}
		if c.DifficultyLevel != 5 {
			t.Errorf("default difficulty not applied: %d", c.DifficultyLevel)
		}
		if c.Metadata["file_type"] != "docx" {
			t.Errorf("file_type metadata: %q", c.Metadata["file_type"])
		}
	}

	up, err := uploads.GetUpload(ctx, "f1", "s1")
	if err != nil {
		t.Fatalf("GetUpload failed: %v", err)
	}
	if up.Status != store.StatusIndexed || up.ChunkCount != res.ChunkCount {
		t.Errorf("status %q chunks %d", up.Status, up.ChunkCount)
	}

	files, err := blobs.List(ctx, "s1", "math")
	if err != nil || len(files) != 1 {
		t.Fatalf("blob not stored: %v %d", err, len(files))
	}
}

func TestIngestUnsupportedType(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectorStore{}
	p, uploads, blobs := newTestPipeline(t, vectors, &fakeEmbedder{}, nil)
	ctx := context.Background()

	acceptUpload(t, uploads, "f2", "s1", "notes.txt")
	_, err := p.Ingest(ctx, Input{
		FileID:    "f2",
		StudentID: "s1",
		Subject:   "math",
		Filename:  "notes.txt",
		Data:      []byte("plain text"),
	})
	if !errors.Is(err, extract.ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}

	// Rejected before any side effect: no blob, no chunks.
	if files, _ := blobs.List(ctx, "s1", "math"); len(files) != 0 {
		t.Errorf("blob written for rejected upload: %d files", len(files))
	}
	if len(vectors.chunks) != 0 {
		t.Errorf("chunks indexed for rejected upload: %d", len(vectors.chunks))
	}

	up, err := uploads.GetUpload(ctx, "f2", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if up.Status != store.StatusFailed || up.Error == "" {
		t.Errorf("status %q error %q", up.Status, up.Error)
	}
}

func TestIngestEmbedFailure(t *testing.T) {
	t.Parallel()

	vectors := &fakeVectorStore{}
	p, uploads, _ := newTestPipeline(t, vectors, &fakeEmbedder{err: errors.New("backend down")}, nil)
	ctx := context.Background()

	acceptUpload(t, uploads, "f3", "s1", "a.docx")
	_, err := p.Ingest(ctx, Input{
		FileID:    "f3",
		StudentID: "s1",
		Subject:   "math",
		Filename:  "a.docx",
		Data:      docxFile(t, "some content here."),
	})
	if err == nil {
		t.Fatal("expected error")
	}

	up, _ := uploads.GetUpload(ctx, "f3", "s1")
	if up.Status != store.StatusFailed {
		t.Errorf("status %q", up.Status)
	}
	if len(vectors.chunks) != 0 {
		t.Errorf("chunks indexed despite embed failure: %d", len(vectors.chunks))
	}
}

func TestIngestRollsBackPartialUpsert(t *testing.T) {
	t.Parallel()

	// Fail on the second upsert batch so the first batch must be rolled back.
	vectors := &fakeVectorStore{failOnCall: 2}
	cfg := &Config{ChunkSize: 40, ChunkOverlap: 5}
	p, uploads, _ := newTestPipeline(t, vectors, &fakeEmbedder{}, cfg)
	ctx := context.Background()

	// Enough text for well over one 64-chunk batch at 40 chars per chunk.
	long := strings.Repeat("tutoring content with many words in it ", 200)
	acceptUpload(t, uploads, "f4", "s1", "big.docx")
	_, err := p.Ingest(ctx, Input{
		FileID:    "f4",
		StudentID: "s1",
		Subject:   "math",
		Filename:  "big.docx",
		Data:      docxFile(t, long),
	})
	if err == nil {
		t.Fatal("expected error")
	}

	if len(vectors.deleted) == 0 {
		t.Fatal("partial upsert was not rolled back")
	}
	if len(vectors.deleted) != len(vectors.chunks) {
		t.Errorf("rolled back %d of %d written chunks", len(vectors.deleted), len(vectors.chunks))
	}

	up, _ := uploads.GetUpload(ctx, "f4", "s1")
	if up.Status != store.StatusFailed {
		t.Errorf("status %q", up.Status)
	}
}

func TestChunkIDDeterministic(t *testing.T) {
	t.Parallel()

	if chunkID("f1", 0) != chunkID("f1", 0) {
		t.Error("chunk IDs must be deterministic")
	}
	if chunkID("f1", 0) == chunkID("f1", 1) {
		t.Error("chunk IDs must differ per index")
	}
	if chunkID("f1", 0) == chunkID("f2", 0) {
		t.Error("chunk IDs must differ per file")
	}
}
