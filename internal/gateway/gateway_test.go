package gateway

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tutorstack/tutorrag/internal/blob"
	"github.com/tutorstack/tutorrag/internal/ingestion"
	"github.com/tutorstack/tutorrag/internal/rag"
	"github.com/tutorstack/tutorrag/internal/store"
)

type fakeRetriever struct {
	chunks   []rag.Chunk
	calls    int
	gotScope rag.Scope
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, scope rag.Scope, _ int) ([]rag.Chunk, error) {
	f.calls++
	f.gotScope = scope
	return f.chunks, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.5}
	}
	return out, nil
}

type fakeVectorStore struct {
	chunks []rag.Chunk
}

func (f *fakeVectorStore) Upsert(_ context.Context, chunks []rag.Chunk, _ [][]float32) error {
	f.chunks = append(f.chunks, chunks...)
	return nil
}
func (f *fakeVectorStore) Search(context.Context, []float32, rag.Scope, int) ([]rag.Chunk, error) {
	return nil, nil
}
func (f *fakeVectorStore) Delete(context.Context, []string) error { return nil }
func (f *fakeVectorStore) Close() error                           { return nil }

const testToken = "gateway-secret"

func newTestGateway(t *testing.T, retriever rag.Retriever) (*Gateway, *store.SQLiteStore) {
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

	pipeline, err := ingestion.NewPipeline(fakeEmbedder{}, &fakeVectorStore{}, blobs, uploads, nil)
	if err != nil {
		t.Fatal(err)
	}

	return New(&Config{
		Token:     testToken,
		Retriever: retriever,
		Pipeline:  pipeline,
		Blobs:     blobs,
		Uploads:   uploads,
	}), uploads
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	var sb strings.Builder
	for _, c := range res.Content {
		if text, ok := mcp.AsTextContent(c); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}

func docxBase64(t *testing.T, paragraph string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	doc := `<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		`<w:p><w:r><w:t>` + paragraph + `</w:t></w:r></w:p></w:body></w:document>`
	if _, err := w.Write([]byte(doc)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestUnauthenticatedCallRejectedBeforeToolLogic(t *testing.T) {
	t.Parallel()

	retriever := &fakeRetriever{}
	g, _ := newTestGateway(t, retriever)
	handler := g.requireAuth(g.handleRetrieval)

	// No token in the context at all.
	res, err := handler(context.Background(), callRequest("knowledge_base_retrieval", map[string]any{
		"user_id": "alice", "query": "q",
	}))
	if err != nil {
		t.Fatalf("handler returned transport error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected error result")
	}
	if retriever.calls != 0 {
		t.Fatalf("tool logic ran for unauthenticated call: %d calls", retriever.calls)
	}

	// Wrong token.
	res, err = handler(withToken(context.Background(), "wrong"), callRequest("knowledge_base_retrieval", map[string]any{
		"user_id": "alice", "query": "q",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || retriever.calls != 0 {
		t.Fatal("wrong token was accepted")
	}
}

func TestRetrievalScopedToOwner(t *testing.T) {
	t.Parallel()

	retriever := &fakeRetriever{chunks: []rag.Chunk{
		{Content: "kinetic energy notes", Score: 0.91, Subject: "physics", Topic: "mechanics"},
	}}
	g, _ := newTestGateway(t, retriever)
	handler := g.requireAuth(g.handleRetrieval)

	res, err := handler(withToken(context.Background(), testToken), callRequest("knowledge_base_retrieval", map[string]any{
		"user_id": "alice",
		"query":   "kinetic energy",
		"subject": "physics",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if retriever.gotScope.StudentID != "alice" || retriever.gotScope.Subject != "physics" {
		t.Errorf("scope = %+v", retriever.gotScope)
	}

	var results []retrievalResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &results); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if len(results) != 1 || results[0].Content != "kinetic energy notes" {
		t.Errorf("results = %+v", results)
	}
}

func TestRetrievalEmptyResultIsSuccess(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, &fakeRetriever{})
	handler := g.requireAuth(g.handleRetrieval)

	res, err := handler(withToken(context.Background(), testToken), callRequest("knowledge_base_retrieval", map[string]any{
		"user_id": "alice", "query": "nothing indexed yet",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("empty result reported as error: %s", resultText(t, res))
	}
	if got := resultText(t, res); got != "[]" {
		t.Errorf("expected empty JSON array, got %q", got)
	}
}

func TestRetrievalMissingUserID(t *testing.T) {
	t.Parallel()

	retriever := &fakeRetriever{}
	g, _ := newTestGateway(t, retriever)
	handler := g.requireAuth(g.handleRetrieval)

	res, err := handler(withToken(context.Background(), testToken), callRequest("knowledge_base_retrieval", map[string]any{
		"query": "q",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected error result without user_id")
	}
	if retriever.calls != 0 {
		t.Error("retriever called without an owner")
	}
}

func TestUploadToolIndexesFile(t *testing.T) {
	t.Parallel()

	g, uploads := newTestGateway(t, &fakeRetriever{})
	handler := g.requireAuth(g.handleUpload)

	res, err := handler(withToken(context.Background(), testToken), callRequest("upload_student_file", map[string]any{
		"user_id":             "alice",
		"filename":            "energy.docx",
		"file_content_base64": docxBase64(t, "Energy can neither be created nor destroyed."),
		"subject":             "physics",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("upload failed: %s", resultText(t, res))
	}

	var out struct {
		FileID        string `json:"file_id"`
		Status        string `json:"status"`
		ChunksCreated int    `json:"chunks_created"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if out.Status != store.StatusIndexed || out.ChunksCreated == 0 {
		t.Errorf("out = %+v", out)
	}

	up, err := uploads.GetUpload(context.Background(), out.FileID, "alice")
	if err != nil {
		t.Fatalf("upload record missing: %v", err)
	}
	if up.Status != store.StatusIndexed {
		t.Errorf("status = %q", up.Status)
	}
}

func TestUploadToolUnsupportedType(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, &fakeRetriever{})
	handler := g.requireAuth(g.handleUpload)

	res, err := handler(withToken(context.Background(), testToken), callRequest("upload_student_file", map[string]any{
		"user_id":             "alice",
		"filename":            "notes.txt",
		"file_content_base64": base64.StdEncoding.EncodeToString([]byte("text")),
		"subject":             "physics",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected error result for unsupported type")
	}
	if !strings.Contains(resultText(t, res), "unsupported file type") {
		t.Errorf("message = %q", resultText(t, res))
	}
}

func TestListFilesTool(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, &fakeRetriever{})

	// Store one file through the upload tool first.
	upload := g.requireAuth(g.handleUpload)
	ctx := withToken(context.Background(), testToken)
	if res, err := upload(ctx, callRequest("upload_student_file", map[string]any{
		"user_id":             "alice",
		"filename":            "waves.docx",
		"file_content_base64": docxBase64(t, "Waves transfer energy without transferring matter."),
		"subject":             "physics",
	})); err != nil || res.IsError {
		t.Fatalf("seed upload failed: %v %s", err, resultText(t, res))
	}

	handler := g.requireAuth(g.handleListFiles)
	res, err := handler(ctx, callRequest("list_student_files", map[string]any{
		"user_id": "alice",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("list failed: %s", resultText(t, res))
	}

	var files []listedFile
	if err := json.Unmarshal([]byte(resultText(t, res)), &files); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if len(files) != 1 || !strings.HasPrefix(files[0].Path, "alice/physics/") {
		t.Errorf("files = %+v", files)
	}

	// Another student sees nothing.
	res, err = handler(ctx, callRequest("list_student_files", map[string]any{
		"user_id": "bob",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got := resultText(t, res); got != "[]" {
		t.Errorf("bob sees %q", got)
	}
}

func TestPreviewTool(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, &fakeRetriever{})
	handler := g.requireAuth(g.handlePreview)

	long := strings.Repeat("photosynthesis converts light into chemical energy. ", 30)
	res, err := handler(withToken(context.Background(), testToken), callRequest("preview_file_text", map[string]any{
		"filename":            "bio.docx",
		"file_content_base64": docxBase64(t, long),
		"max_chars":           100,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("preview failed: %s", resultText(t, res))
	}

	var out struct {
		Preview   string `json:"preview"`
		Truncated bool   `json:"truncated"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Preview) != 100 || !out.Truncated {
		t.Errorf("preview len %d truncated %v", len(out.Preview), out.Truncated)
	}
}

func TestPreviewToolFromBlobPath(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, &fakeRetriever{})
	handler := g.requireAuth(g.handlePreview)
	ctx := withToken(context.Background(), testToken)

	raw, err := base64.StdEncoding.DecodeString(docxBase64(t, "stored chemistry notes."))
	if err != nil {
		t.Fatal(err)
	}
	stored, err := g.cfg.Blobs.Upload(context.Background(), blob.UploadInput{
		StudentID: "alice",
		Subject:   "chemistry",
		Filename:  "notes.docx",
		Data:      raw,
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := handler(ctx, callRequest("preview_file_text", map[string]any{
		"filename":  "notes.docx",
		"user_id":   "alice",
		"blob_path": stored.Path,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("preview failed: %s", resultText(t, res))
	}
	if !strings.Contains(resultText(t, res), "stored chemistry notes.") {
		t.Errorf("preview missing stored text: %s", resultText(t, res))
	}

	// Another student must not be able to read alice's file by path.
	res, err = handler(ctx, callRequest("preview_file_text", map[string]any{
		"filename":  "notes.docx",
		"user_id":   "bob",
		"blob_path": stored.Path,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("expected error result for foreign blob path")
	}
}

func TestPreviewToolMaxCharsOutOfRange(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, &fakeRetriever{})
	handler := g.requireAuth(g.handlePreview)

	long := strings.Repeat("mitochondria are the powerhouse of the cell. ", 30)
	res, err := handler(withToken(context.Background(), testToken), callRequest("preview_file_text", map[string]any{
		"filename":            "bio.docx",
		"file_content_base64": docxBase64(t, long),
		"max_chars":           -1,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("preview failed: %s", resultText(t, res))
	}

	var out struct {
		Preview   string `json:"preview"`
		Truncated bool   `json:"truncated"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatal(err)
	}
	// Out-of-range max_chars falls back to the default of 500.
	if len(out.Preview) != 500 || !out.Truncated {
		t.Errorf("preview len %d truncated %v", len(out.Preview), out.Truncated)
	}
}

func TestPreviewToolTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, &fakeRetriever{})
	handler := g.requireAuth(g.handlePreview)

	res, err := handler(withToken(context.Background(), testToken), callRequest("preview_file_text", map[string]any{
		"filename":            "calc.docx",
		"file_content_base64": docxBase64(t, strings.Repeat("微积分基本定理。", 20)),
		"max_chars":           50,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("preview failed: %s", resultText(t, res))
	}

	var out struct {
		Preview   string `json:"preview"`
		Truncated bool   `json:"truncated"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(out.Preview) {
		t.Fatal("preview is not valid UTF-8")
	}
	if got := utf8.RuneCountInString(out.Preview); got != 50 {
		t.Errorf("preview runes = %d, want 50", got)
	}
	if !out.Truncated {
		t.Error("expected truncated preview")
	}
}
