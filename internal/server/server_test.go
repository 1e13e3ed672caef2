package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tutorstack/tutorrag/internal/ingestion"
	"github.com/tutorstack/tutorrag/internal/store"
)

// fakeIngester implements the ingester interface for tests. Each Ingest call
// records its input and signals done so tests can wait for the background
// goroutine without sleeping.
type fakeIngester struct {
	// got receives each Ingest input.
	got chan ingestion.Input
	// err is returned by Ingest when set.
	err error
}

func newFakeIngester() *fakeIngester {
	return &fakeIngester{got: make(chan ingestion.Input, 1)}
}

func (f *fakeIngester) Ingest(_ context.Context, in ingestion.Input) (*ingestion.Result, error) {
	f.got <- in
	if f.err != nil {
		return nil, f.err
	}
	return &ingestion.Result{BlobPath: "p", ChunkCount: 3}, nil
}

// newTestServer builds a *Server backed by an in-memory SQLite store and the
// given ingester fake.
func newTestServer(t *testing.T, ing ingester) (*Server, *store.SQLiteStore) {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	s := &Server{
		agentName: "tutor",
		toolNames: []string{"knowledge_base_retrieval"},
		ingester:  ing,
		cfg: &Config{
			Provider:       "ollama",
			GatewayURL:     "http://127.0.0.1:8081/mcp",
			Sessions:       st,
			Uploads:        st,
			MaxUploadBytes: defaultMaxUploadBytes,
		},
		log:     slog.Default(),
		metrics: newServerMetrics(prometheus.NewRegistry()),
	}
	return s, st
}

// uploadRequest builds a multipart POST /upload-student-file request.
func uploadRequest(t *testing.T, filename string, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte("%PDF-1.4 test content")); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload-student-file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandleUpload_AcceptedAndIngestedInBackground(t *testing.T) {
	t.Parallel()

	ing := newFakeIngester()
	s, st := newTestServer(t, ing)

	w := httptest.NewRecorder()
	s.handleUpload(w, uploadRequest(t, "mechanics.pdf", map[string]string{
		"student_id":       "alice",
		"subject":          "physics",
		"topic":            "mechanics",
		"difficulty_level": "7",
	}))

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp uploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.FileID == "" || resp.Status != store.StatusAccepted {
		t.Errorf("resp = %+v", resp)
	}

	// The status row exists before the background work completes.
	up, err := st.GetUpload(context.Background(), resp.FileID, "alice")
	if err != nil {
		t.Fatalf("upload record missing: %v", err)
	}
	if up.Status != store.StatusAccepted {
		t.Errorf("status = %q", up.Status)
	}

	select {
	case in := <-ing.got:
		if in.FileID != resp.FileID || in.StudentID != "alice" || in.Subject != "physics" ||
			in.Topic != "mechanics" || in.DifficultyLevel != 7 || in.Filename != "mechanics.pdf" {
			t.Errorf("ingest input = %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("background ingestion never ran")
	}
}

func TestHandleUpload_MissingFields(t *testing.T) {
	t.Parallel()

	ing := newFakeIngester()
	s, _ := newTestServer(t, ing)

	cases := map[string]map[string]string{
		"no student_id":  {"subject": "physics"},
		"no subject":     {"student_id": "alice"},
		"bad difficulty": {"student_id": "alice", "subject": "physics", "difficulty_level": "eleven"},
	}
	for name, fields := range cases {
		w := httptest.NewRecorder()
		s.handleUpload(w, uploadRequest(t, "notes.pdf", fields))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, w.Code)
		}
	}

	select {
	case <-ing.got:
		t.Fatal("ingestion ran for an invalid request")
	default:
	}
}

func TestHandleUpload_UnsupportedType(t *testing.T) {
	t.Parallel()

	ing := newFakeIngester()
	s, _ := newTestServer(t, ing)

	w := httptest.NewRecorder()
	s.handleUpload(w, uploadRequest(t, "notes.txt", map[string]string{
		"student_id": "alice",
		"subject":    "physics",
	}))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "unsupported file type") {
		t.Errorf("body = %q", w.Body.String())
	}
	select {
	case <-ing.got:
		t.Fatal("ingestion ran for an unsupported type")
	default:
	}
}

func TestHandleFileStatus_OwnerChecked(t *testing.T) {
	t.Parallel()

	s, st := newTestServer(t, newFakeIngester())
	ctx := context.Background()

	if err := st.CreateUpload(ctx, store.Upload{
		FileID: "f1", StudentID: "alice", Filename: "waves.pdf", Subject: "physics",
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.SetProcessing(ctx, "f1", "alice/physics/x_waves.pdf"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetIndexed(ctx, "f1", 12); err != nil {
		t.Fatal(err)
	}

	statusReq := func(fileID, studentID string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/files/"+fileID+"/status?student_id="+studentID, nil)
		req.SetPathValue("id", fileID)
		return req
	}

	w := httptest.NewRecorder()
	s.handleFileStatus(w, statusReq("f1", "alice"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp fileStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != store.StatusIndexed || resp.ChunkCount != 12 {
		t.Errorf("resp = %+v", resp)
	}

	// A different student cannot probe the ID.
	w = httptest.NewRecorder()
	s.handleFileStatus(w, statusReq("f1", "bob"))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for foreign owner, got %d", w.Code)
	}

	// Unknown ID.
	w = httptest.NewRecorder()
	s.handleFileStatus(w, statusReq("nope", "alice"))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", w.Code)
	}
}

func TestHandleHistory_UnknownSessionIs404(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, newFakeIngester())

	req := httptest.NewRequest(http.MethodGet, "/session/ghost/history", nil)
	req.SetPathValue("id", "ghost")
	w := httptest.NewRecorder()

	s.handleHistory(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleHistory_OrderedTurns(t *testing.T) {
	t.Parallel()

	s, st := newTestServer(t, newFakeIngester())
	ctx := context.Background()

	if err := st.Append(ctx, "s1", store.RoleUser, "what is a derivative?"); err != nil {
		t.Fatal(err)
	}
	if err := st.Append(ctx, "s1", store.RoleAssistant, "It measures instantaneous rate of change."); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/session/s1/history", nil)
	req.SetPathValue("id", "s1")
	w := httptest.NewRecorder()

	s.handleHistory(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var msgs []historyMessage
	if err := json.Unmarshal(w.Body.Bytes(), &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestHandleClearMemory_ThenHistoryIsEmpty(t *testing.T) {
	t.Parallel()

	s, st := newTestServer(t, newFakeIngester())
	ctx := context.Background()

	if err := st.Append(ctx, "s1", store.RoleUser, "hello"); err != nil {
		t.Fatal(err)
	}

	del := httptest.NewRequest(http.MethodDelete, "/session/s1/memory", nil)
	del.SetPathValue("id", "s1")
	w := httptest.NewRecorder()
	s.handleClearMemory(w, del)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp clearResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Cleared || resp.SessionID != "s1" {
		t.Errorf("resp = %+v", resp)
	}

	get := httptest.NewRequest(http.MethodGet, "/session/s1/history", nil)
	get.SetPathValue("id", "s1")
	w = httptest.NewRecorder()
	s.handleHistory(w, get)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after clear, got %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("expected empty history after clear, got %s", got)
	}
}

func TestHandleListSessions(t *testing.T) {
	t.Parallel()

	s, st := newTestServer(t, newFakeIngester())
	ctx := context.Background()

	if err := st.Append(ctx, "s1", store.RoleUser, "hello"); err != nil {
		t.Fatal(err)
	}
	if err := st.Append(ctx, "s1", store.RoleAssistant, "hi"); err != nil {
		t.Fatal(err)
	}
	if err := st.Append(ctx, "s2", store.RoleUser, "yo"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()
	s.handleListSessions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out []sessionSummary
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(out))
	}
	counts := make(map[string]int)
	for _, sum := range out {
		counts[sum.SessionID] = sum.MessageCount
	}
	if counts["s1"] != 2 || counts["s2"] != 1 {
		t.Errorf("message counts = %v", counts)
	}
}

func TestHandleDeleteSession_ThenHistoryIs404(t *testing.T) {
	t.Parallel()

	s, st := newTestServer(t, newFakeIngester())
	ctx := context.Background()

	if err := st.Append(ctx, "s1", store.RoleUser, "hello"); err != nil {
		t.Fatal(err)
	}

	del := httptest.NewRequest(http.MethodDelete, "/session/s1", nil)
	del.SetPathValue("id", "s1")
	w := httptest.NewRecorder()
	s.handleDeleteSession(w, del)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp deleteSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Deleted || resp.SessionID != "s1" {
		t.Errorf("resp = %+v", resp)
	}

	// Unlike clearing memory, the session itself is gone.
	get := httptest.NewRequest(http.MethodGet, "/session/s1/history", nil)
	get.SetPathValue("id", "s1")
	w = httptest.NewRecorder()
	s.handleHistory(w, get)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w.Code)
	}

	// Deleting an unknown session is 404.
	del = httptest.NewRequest(http.MethodDelete, "/session/s1", nil)
	del.SetPathValue("id", "s1")
	w = httptest.NewRecorder()
	s.handleDeleteSession(w, del)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for second delete, got %d", w.Code)
	}
}

func TestHandleAgentInfo(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, newFakeIngester())

	w := httptest.NewRecorder()
	s.handleAgentInfo(w, httptest.NewRequest(http.MethodGet, "/agent/info", nil))

	var resp agentInfoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Agent != "tutor" || resp.Provider != "ollama" {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Tools) != 1 || resp.Tools[0] != "knowledge_base_retrieval" {
		t.Errorf("tools = %v", resp.Tools)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, newFakeIngester())

	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %q", w.Body.String())
	}
}
