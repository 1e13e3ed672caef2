package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// fakeChatter implements the chatter interface for tests.
// It writes a fixed reply to the writer and returns a configurable error.
type fakeChatter struct {
	// reply is written verbatim to the writer on each Chat call.
	reply string
	// err is returned as the error value.
	err error
	// gotSession and gotStudent record the last call's arguments.
	gotSession string
	gotStudent string
}

func (f *fakeChatter) Chat(_ context.Context, sessionID, studentID, _ string, w io.Writer) error {
	f.gotSession = sessionID
	f.gotStudent = studentID
	if f.err != nil {
		return f.err
	}
	_, _ = fmt.Fprint(w, f.reply)
	return nil
}

// newChatTestServer builds a *Server wired with the given chatter fake.
func newChatTestServer(c chatter) *Server {
	return &Server{
		agentName: "tutor",
		toolNames: []string{"knowledge_base_retrieval"},
		chatter:   c,
		cfg:       &Config{Port: 8080, Provider: "ollama"},
		log:       slog.Default(),
		metrics:   newServerMetrics(prometheus.NewRegistry()),
	}
}

// chatReq builds a POST /chats/{agent} request with the agent path value set,
// as the mux would.
func chatReq(agentName, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/chats/"+agentName, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.SetPathValue("agent", agentName)
	return req
}

func TestHandleChat_UnknownAgent(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(nil)
	w := httptest.NewRecorder()

	s.handleChat(w, chatReq("someone-else", `{"session_id":"s1","message":"hi"}`))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleChat_MissingSessionID(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(nil)
	w := httptest.NewRecorder()

	s.handleChat(w, chatReq("tutor", `{"message":"hi"}`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleChat_MissingMessage(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(nil)
	w := httptest.NewRecorder()

	s.handleChat(w, chatReq("tutor", `{"session_id":"s1"}`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleChat_InvalidJSON(t *testing.T) {
	t.Parallel()

	s := newChatTestServer(nil)
	w := httptest.NewRecorder()

	s.handleChat(w, chatReq("tutor", `not-json`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// TestHandleChat_Success verifies that a valid request produces an SSE stream
// with data frames and a "done" event. httptest.ResponseRecorder implements
// http.Flusher so the handler's flusher check passes without a real connection.
func TestHandleChat_Success(t *testing.T) {
	t.Parallel()

	c := &fakeChatter{reply: "Kinetic energy is the energy of motion."}
	s := newChatTestServer(c)
	w := httptest.NewRecorder()

	s.handleChat(w, chatReq("tutor", `{"session_id":"s1","message":"what is kinetic energy?","user_id":"alice"}`))

	body := w.Body.String()

	if !strings.Contains(body, "data: Kinetic energy") {
		t.Errorf("expected SSE data frame in body, got: %s", body)
	}
	if !strings.Contains(body, "event: done") || !strings.Contains(body, "[DONE]") {
		t.Errorf("expected done event in body, got: %s", body)
	}
	if c.gotSession != "s1" || c.gotStudent != "alice" {
		t.Errorf("chat called with session %q student %q", c.gotSession, c.gotStudent)
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
}

// TestHandleChat_AgentError verifies that when the agent returns an error,
// the SSE stream includes an "error" event and the response is still 200
// (SSE errors are delivered in-band, not via HTTP status).
func TestHandleChat_AgentError(t *testing.T) {
	t.Parallel()

	c := &fakeChatter{err: fmt.Errorf("LLM unavailable")}
	s := newChatTestServer(c)
	w := httptest.NewRecorder()

	s.handleChat(w, chatReq("tutor", `{"session_id":"s1","message":"hi"}`))

	body := w.Body.String()
	if !strings.Contains(body, "event: error") {
		t.Errorf("expected error event in body, got: %s", body)
	}
	if !strings.Contains(body, "LLM unavailable") {
		t.Errorf("expected error message in body, got: %s", body)
	}
}

// TestSSEWriter_MultiLine verifies that a chunk containing newlines is split
// into one "data: " line per source line so the frame boundary survives.
func TestSSEWriter_MultiLine(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	sw := &sseWriter{w: rec, flusher: rec}

	if _, err := sw.Write([]byte("line one\nline two\n")); err != nil {
		t.Fatal(err)
	}

	want := "data: line one\ndata: line two\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("sse frame = %q, want %q", got, want)
	}
}
