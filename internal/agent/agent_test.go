package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/tutorstack/tutorrag/internal/store"
)

func newHistoryStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBuildMessagesOrder(t *testing.T) {
	t.Parallel()

	history := newHistoryStore(t)
	ctx := context.Background()
	if err := history.Append(ctx, "sess", store.RoleUser, "earlier question"); err != nil {
		t.Fatal(err)
	}
	if err := history.Append(ctx, "sess", store.RoleAssistant, "earlier answer"); err != nil {
		t.Fatal(err)
	}

	a := &TutorAgent{history: history, historyDepth: 10, maxContextTokens: 6000}
	msgs := a.buildMessages(ctx, "sess", "new question")

	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != schema.System {
		t.Errorf("first message role = %v", msgs[0].Role)
	}
	if !strings.Contains(msgs[0].Content, "knowledge_base_retrieval") {
		t.Error("system prompt does not name the retrieval tool")
	}
	if msgs[1].Content != "earlier question" || msgs[1].Role != schema.User {
		t.Errorf("history user turn misplaced: %+v", msgs[1])
	}
	if msgs[2].Content != "earlier answer" || msgs[2].Role != schema.Assistant {
		t.Errorf("history assistant turn misplaced: %+v", msgs[2])
	}
	if msgs[3].Content != "new question" || msgs[3].Role != schema.User {
		t.Errorf("current message misplaced: %+v", msgs[3])
	}
}

func TestBuildMessagesFreshSession(t *testing.T) {
	t.Parallel()

	a := &TutorAgent{history: newHistoryStore(t), historyDepth: 10, maxContextTokens: 6000}
	msgs := a.buildMessages(context.Background(), "new-sess", "hello")

	if len(msgs) != 2 {
		t.Fatalf("expected system + user only, got %d messages", len(msgs))
	}
}

func TestBuildMessagesTrimsOldestFirst(t *testing.T) {
	t.Parallel()

	history := newHistoryStore(t)
	ctx := context.Background()
	long := strings.Repeat("lengthy prior discussion ", 200)
	for i := 0; i < 6; i++ {
		if err := history.Append(ctx, "sess", store.RoleUser, long); err != nil {
			t.Fatal(err)
		}
	}

	// Budget only fits the fixed messages plus a little history.
	a := &TutorAgent{history: history, historyDepth: 10, maxContextTokens: 3000}
	msgs := a.buildMessages(ctx, "sess", "current question")

	if len(msgs) >= 8 {
		t.Fatalf("history was not trimmed: %d messages", len(msgs))
	}
	// The newest history and the current message must survive.
	if msgs[len(msgs)-1].Content != "current question" {
		t.Errorf("current message dropped")
	}
}
