package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// RetrievalToolName is the name the gateway and the agent agree on for the
// knowledge-base search tool.
const RetrievalToolName = "knowledge_base_retrieval"

// RetrievalTool is an Eino tool that searches the student's indexed study
// material through the tool gateway. The owner scope comes from the request
// context, never from the model's arguments.
type RetrievalTool struct {
	gateway GatewayClient
}

// retrievalInput is the JSON-serialisable input schema for RetrievalTool.
type retrievalInput struct {
	// Query is the natural-language search query.
	Query string `json:"query"`

	// Subject optionally restricts results to one subject.
	Subject string `json:"subject,omitempty"`

	// Topic optionally restricts results to one topic.
	Topic string `json:"topic,omitempty"`

	// TopK is the number of results to return (default 3).
	TopK int `json:"top_k,omitempty"`
}

// NewRetrievalTool constructs a RetrievalTool backed by the given gateway.
func NewRetrievalTool(gateway GatewayClient) *RetrievalTool {
	return &RetrievalTool{gateway: gateway}
}

// Name returns the tool name registered with the agent.
func (t *RetrievalTool) Name() string { return RetrievalToolName }

// Description returns the LLM-facing description of this tool.
func (t *RetrievalTool) Description() string {
	return "Searches the student's uploaded study material for passages relevant to a question. " +
		"Use this before answering subject questions so the explanation builds on the student's own notes and textbooks. " +
		"Returns matching passages with their source metadata, or an empty list when nothing relevant is indexed."
}

// Info returns the Eino tool metadata including the JSON input schema.
func (t *RetrievalTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name(),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "Natural-language search query describing what to look up.",
				Required: true,
			},
			"subject": {
				Type: schema.String,
				Desc: "Optional subject filter (e.g. 'Mathematics').",
			},
			"topic": {
				Type: schema.String,
				Desc: "Optional topic filter within the subject (e.g. 'Calculus').",
			},
			"top_k": {
				Type: schema.Integer,
				Desc: "Number of passages to return. Defaults to 3.",
			},
		}),
	}, nil
}

// InvokableRun forwards the search to the gateway, scoped to the student from
// the request context.
func (t *RetrievalTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var input retrievalInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("%s: invalid input: %w", RetrievalToolName, err)
	}
	if input.Query == "" {
		return "", fmt.Errorf("%s: query is required", RetrievalToolName)
	}

	studentID := StudentIDFromContext(ctx)
	if studentID == "" {
		return "", fmt.Errorf("%s: no student in request context", RetrievalToolName)
	}

	args := map[string]any{
		"user_id": studentID,
		"query":   input.Query,
	}
	if input.Subject != "" {
		args["subject"] = input.Subject
	}
	if input.Topic != "" {
		args["topic"] = input.Topic
	}
	if input.TopK > 0 {
		args["top_k"] = input.TopK
	}

	result, err := t.gateway.CallTool(ctx, RetrievalToolName, args)
	if err != nil {
		return "", fmt.Errorf("%s: gateway call failed: %w", RetrievalToolName, err)
	}
	return result, nil
}
