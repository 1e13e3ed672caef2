// Package agent wires the Eino ReAct agent into the tutoring host. The model
// decides per turn whether to call the knowledge-base retrieval tool before
// answering; session history is injected under a token budget and each
// completed turn is persisted.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"

	"github.com/tutorstack/tutorrag/internal/budget"
	"github.com/tutorstack/tutorrag/internal/logging"
	"github.com/tutorstack/tutorrag/internal/store"
	"github.com/tutorstack/tutorrag/internal/tools"
)

// systemPrompt establishes the tutoring persona. The retrieval tool is named
// explicitly so the model reaches for the student's own material before
// answering from general knowledge.
const systemPrompt = `You are a patient, encouraging personal tutor. You help one student at a
time understand their own study material: textbooks, lecture notes, and
handouts they have uploaded.

How you work:

- For any subject question, first call the knowledge_base_retrieval tool to
  find what the student's own material says. Ground your explanation in those
  passages and mention which document they came from when it helps.
- If retrieval returns nothing relevant, say so briefly and answer from
  general knowledge instead. Never invent citations to material that was not
  retrieved.
- For greetings, scheduling, or questions about how to use the tutor, answer
  directly without calling any tool.

How you teach:

- Explain step by step, in plain language, at the level the student's
  questions suggest. Define a term the first time you use it.
- Prefer a worked example over an abstract definition.
- When the student is wrong, point out what was right in their thinking
  before correcting the mistake.
- End a longer explanation with one short question that checks understanding.
- Keep answers focused; do not pad them with encouragement boilerplate.`

// Config holds the dependencies required to construct a TutorAgent.
type Config struct {
	// Name is the agent name reported by the info endpoint.
	Name string

	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.ToolCallingChatModel

	// Tools is the list of tools available to the agent, normally the
	// gateway-backed retrieval tool.
	Tools []tool.BaseTool

	// History is the session store used to persist and replay prior turns.
	History store.SessionStore

	// HistoryDepth is the number of prior turns (user+assistant pairs) to
	// inject per query. Defaults to 10 if zero.
	HistoryDepth int

	// MaxContextTokens is the estimated token budget for the full input
	// context (system prompt + history + user message). History is trimmed
	// oldest-first to fit. Defaults to budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int
}

// TutorAgent wraps the Eino ReAct agent with per-session memory.
type TutorAgent struct {
	// name is the agent name reported by the info endpoint.
	name string

	// reactAgent is the underlying Eino ReAct loop agent.
	reactAgent *react.Agent

	// toolNames lists the registered tool names for the info endpoint.
	toolNames []string

	// history is the session store for multi-turn context.
	history store.SessionStore

	// historyDepth is the number of recent turn pairs to inject per query.
	historyDepth int

	// maxContextTokens is the estimated token budget for the input context.
	maxContextTokens int
}

// New constructs a TutorAgent from the provided Config.
func New(ctx context.Context, cfg *Config) (*TutorAgent, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("agent: ChatModel must not be nil")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("agent: History must not be nil")
	}

	reactAgent, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: cfg.ChatModel,
		ToolsConfig: compose.ToolsNodeConfig{
			Tools: cfg.Tools,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("agent: failed to create ReAct agent: %w", err)
	}

	var toolNames []string
	for _, t := range cfg.Tools {
		if info, err := t.Info(ctx); err == nil {
			toolNames = append(toolNames, info.Name)
		}
	}

	name := cfg.Name
	if name == "" {
		name = "tutor"
	}
	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = 10
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}

	return &TutorAgent{
		name:             name,
		reactAgent:       reactAgent,
		toolNames:        toolNames,
		history:          cfg.History,
		historyDepth:     depth,
		maxContextTokens: maxCtx,
	}, nil
}

// Name returns the agent name.
func (a *TutorAgent) Name() string { return a.name }

// ToolNames returns the names of the registered tools.
func (a *TutorAgent) ToolNames() []string { return a.toolNames }

// Chat runs one tutoring turn: prior session turns are injected, the reply
// streams to w as tokens arrive, and the completed turn is persisted.
// The student ID is placed in the context so the retrieval tool is scoped to
// the owner regardless of what the model asks for. A cancelled context stops
// generation; the partial turn is not persisted.
func (a *TutorAgent) Chat(ctx context.Context, sessionID, studentID, userMessage string, w io.Writer) error {
	if sessionID == "" {
		return fmt.Errorf("agent: session_id must not be empty")
	}
	if userMessage == "" {
		return fmt.Errorf("agent: message must not be empty")
	}
	ctx = tools.WithStudentID(ctx, studentID)

	messages := a.buildMessages(ctx, sessionID, userMessage)

	sr, err := a.reactAgent.Stream(ctx, messages)
	if err != nil {
		return fmt.Errorf("agent: stream failed: %w", err)
	}
	defer sr.Close()

	var reply []byte
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("agent: stream receive error: %w", err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		if _, err := io.WriteString(w, msg.Content); err != nil {
			return fmt.Errorf("agent: write error: %w", err)
		}
		reply = append(reply, msg.Content...)
	}

	// Persist the turn (non-fatal on error).
	persistCtx := context.WithoutCancel(ctx)
	if err := a.history.Append(persistCtx, sessionID, store.RoleUser, userMessage); err != nil {
		logging.FromContext(ctx).Warn("history: failed to persist user message", slog.Any("error", err))
	}
	if err := a.history.Append(persistCtx, sessionID, store.RoleAssistant, string(reply)); err != nil {
		logging.FromContext(ctx).Warn("history: failed to persist assistant message", slog.Any("error", err))
	}

	return nil
}

// buildMessages constructs the message slice for one turn: system prompt,
// trimmed session history, then the new user message.
func (a *TutorAgent) buildMessages(ctx context.Context, sessionID, userMessage string) []*schema.Message {
	var historyMsgs []*schema.Message
	prior, err := a.history.Recent(ctx, sessionID, a.historyDepth*2)
	if err != nil {
		logging.FromContext(ctx).Warn("history: failed to load prior messages", slog.Any("error", err))
	} else {
		for _, m := range prior {
			switch m.Role {
			case store.RoleUser:
				historyMsgs = append(historyMsgs, schema.UserMessage(m.Content))
			case store.RoleAssistant:
				historyMsgs = append(historyMsgs, schema.AssistantMessage(m.Content, nil))
			}
		}
	}

	fixed := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userMessage),
	}

	before := len(historyMsgs)
	historyMsgs = budget.TrimHistory(fixed, historyMsgs, a.maxContextTokens)
	if dropped := before - len(historyMsgs); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
			slog.Int("max_tokens", a.maxContextTokens),
		)
	}

	result := make([]*schema.Message, 0, 2+len(historyMsgs))
	result = append(result, fixed[0])
	result = append(result, historyMsgs...)
	result = append(result, fixed[1])
	return result
}
