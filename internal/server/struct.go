package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tutorstack/tutorrag/internal/agent"
	"github.com/tutorstack/tutorrag/internal/ingestion"
	"github.com/tutorstack/tutorrag/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives the server's Prometheus metrics and backs GET /metrics.
	// If nil, a fresh registry is created.
	Registry *prometheus.Registry

	// Provider is the model backend name reported by GET /agent/info.
	Provider string
	// GatewayURL is the tool gateway address reported by GET /agent/info.
	GatewayURL string

	// Sessions persists conversation history. Required.
	Sessions store.SessionStore
	// Uploads tracks upload status records. Required.
	Uploads store.UploadStore
	// Pipeline ingests uploaded files in the background. Required.
	Pipeline *ingestion.Pipeline

	// MaxUploadBytes caps the size of an uploaded file. Defaults to 32 MiB.
	MaxUploadBytes int64
}

// chatter is the interface handleChat calls to stream a tutoring turn.
// *agent.TutorAgent satisfies it; tests inject a fake.
type chatter interface {
	// Chat streams the agent's reply for userMessage to w.
	Chat(ctx context.Context, sessionID, studentID, userMessage string, w io.Writer) error
}

// ingester is the interface the upload handler calls to run the ingestion
// pipeline. *ingestion.Pipeline satisfies it; tests inject a fake.
type ingester interface {
	Ingest(ctx context.Context, in ingestion.Input) (*ingestion.Result, error)
}

// Server is the HTTP server that exposes the tutoring agent.
type Server struct {
	// agent is the tutoring agent that handles all chat turns.
	agent *agent.TutorAgent
	// agentName is the agent's route name; requests for any other name are 404.
	agentName string
	// toolNames lists the agent's tool names for GET /agent/info.
	toolNames []string
	// chatter is the interface used by handleChat; set to agent in production,
	// overridden by a fake in tests.
	chatter chatter
	// ingester is the interface used by handleUpload; set to cfg.Pipeline in
	// production, overridden by a fake in tests.
	ingester ingester
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// registry backs GET /metrics.
	registry *prometheus.Registry
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /chats/{agent}.
type chatRequest struct {
	// SessionID identifies the conversation; created lazily on first turn.
	SessionID string `json:"session_id"`
	// Message is the student's message for this turn.
	Message string `json:"message"`
	// UserID scopes retrieval to this student's material. Optional: the
	// agent answers without it, but any retrieval tool call then fails
	// closed instead of searching across students.
	UserID string `json:"user_id,omitempty"`
}

// uploadResponse is the JSON body returned by POST /upload-student-file.
type uploadResponse struct {
	// FileID identifies the upload for later status polls.
	FileID string `json:"file_id"`
	// Status is always "accepted" at upload time.
	Status string `json:"status"`
}

// fileStatusResponse is the JSON body returned by GET /files/{id}/status.
type fileStatusResponse struct {
	// FileID is the upload identifier.
	FileID string `json:"file_id"`
	// Status is one of accepted, processing, indexed, failed.
	Status string `json:"status"`
	// Filename is the original filename.
	Filename string `json:"filename"`
	// Subject is the subject the file was uploaded under.
	Subject string `json:"subject"`
	// ChunkCount is the number of indexed chunks. Zero until indexed.
	ChunkCount int `json:"chunk_count"`
	// Error holds the failure reason when Status is "failed".
	Error string `json:"error,omitempty"`
}

// historyMessage is one turn in the GET /session/{id}/history response.
type historyMessage struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
	// TS is when the message was persisted, RFC 3339 UTC.
	TS string `json:"ts"`
}

// sessionSummary is one entry in the GET /sessions response.
type sessionSummary struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id"`
	// CreatedAt is when the session saw its first message, RFC 3339 UTC.
	CreatedAt string `json:"created_at"`
	// MessageCount is the number of messages currently in the session.
	MessageCount int `json:"message_count"`
}

// deleteSessionResponse is the JSON body returned by DELETE /session/{id}.
type deleteSessionResponse struct {
	// SessionID is the session that was removed.
	SessionID string `json:"session_id"`
	// Deleted is always true on success.
	Deleted bool `json:"deleted"`
}

// clearResponse is the JSON body returned by DELETE /session/{id}/memory.
type clearResponse struct {
	// SessionID is the session whose messages were removed.
	SessionID string `json:"session_id"`
	// Cleared is always true on success.
	Cleared bool `json:"cleared"`
}

// agentInfoResponse is the JSON body returned by GET /agent/info.
type agentInfoResponse struct {
	// Agent is the agent's name.
	Agent string `json:"agent"`
	// Provider is the model backend in use (e.g. "ollama").
	Provider string `json:"provider"`
	// GatewayURL is the tool gateway the agent's tools call.
	GatewayURL string `json:"gateway_url,omitempty"`
	// Tools lists the tool names available to the agent.
	Tools []string `json:"tools"`
}
