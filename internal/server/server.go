// Package server implements the HTTP server that exposes the tutoring agent:
// streaming chat over SSE, file upload into the ingestion pipeline, session
// history, and the operational endpoints (health, readiness, metrics).
// The server is started by the `tutorrag serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutorstack/tutorrag/internal/agent"
	"github.com/tutorstack/tutorrag/internal/logging"
)

// New constructs a Server from the provided agent and config.
func New(tutor *agent.TutorAgent, cfg *Config) (*Server, error) {
	if tutor == nil {
		return nil, fmt.Errorf("server: agent must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("server: session store must not be nil")
	}
	if cfg.Uploads == nil {
		return nil, fmt.Errorf("server: upload store must not be nil")
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("server: ingestion pipeline must not be nil")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		agent:     tutor,
		agentName: tutor.Name(),
		toolNames: tutor.ToolNames(),
		chatter:   tutor,
		ingester: cfg.Pipeline,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.Registry),
		registry: cfg.Registry,
	}

	if cfg.APIKey == "" {
		s.log.Warn("API key not configured; authentication is disabled")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	// protect applies auth then the per-IP rate limit. The operational
	// endpoints stay open so probes and scrapers need no credentials.
	protect := func(h http.Handler) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /chats/{agent}", s.instrument("chat", protect(http.HandlerFunc(s.handleChat))))
	mux.Handle("POST /upload-student-file", s.instrument("upload", protect(http.HandlerFunc(s.handleUpload))))
	mux.Handle("GET /files/{id}/status", s.instrument("file_status", protect(http.HandlerFunc(s.handleFileStatus))))
	mux.Handle("GET /sessions", s.instrument("list_sessions", protect(http.HandlerFunc(s.handleListSessions))))
	mux.Handle("GET /session/{id}/history", s.instrument("history", protect(http.HandlerFunc(s.handleHistory))))
	mux.Handle("DELETE /session/{id}/memory", s.instrument("clear_memory", protect(http.HandlerFunc(s.handleClearMemory))))
	mux.Handle("DELETE /session/{id}", s.instrument("delete_session", protect(http.HandlerFunc(s.handleDeleteSession))))
	mux.Handle("GET /agent/info", s.instrument("agent_info", protect(http.HandlerFunc(s.handleAgentInfo))))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAgentInfo handles GET /agent/info.
func (s *Server) handleAgentInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, agentInfoResponse{
		Agent:      s.agentName,
		Provider:   s.cfg.Provider,
		GatewayURL: s.cfg.GatewayURL,
		Tools:      s.toolNames,
	})
}

// writeJSON encodes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("response encode error", slog.Any("error", err))
	}
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line chunks never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	chunk := strings.TrimRight(string(bytes.Clone(p)), "\n")
	lines := strings.Split(chunk, "\n")
	var buf strings.Builder
	for _, line := range lines {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err = fmt.Fprint(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}

// backgroundContext returns a detached context carrying the request's logger,
// for work that must outlive the request (background ingestion).
func backgroundContext(r *http.Request) context.Context {
	return logging.WithLogger(context.Background(), logging.FromContext(r.Context()))
}
