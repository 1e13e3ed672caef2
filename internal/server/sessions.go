package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tutorstack/tutorrag/internal/logging"
	"github.com/tutorstack/tutorrag/internal/store"
)

// handleHistory handles GET /session/{id}/history. A session that has never
// had a message is 404; a cleared session returns an empty array.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	msgs, err := s.cfg.Sessions.History(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, fmt.Sprintf("session %q not found", sessionID), http.StatusNotFound)
			return
		}
		logging.FromContext(r.Context()).Error("failed to load session history", slog.Any("error", err))
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	out := make([]historyMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, historyMessage{
			Role:    string(m.Role),
			Content: m.Content,
			TS:      m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListSessions handles GET /sessions, returning a summary of every
// session newest-first.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.cfg.Sessions.ListSessions(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to list sessions", slog.Any("error", err))
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}

	out := make([]sessionSummary, 0, len(infos))
	for _, info := range infos {
		out = append(out, sessionSummary{
			SessionID:    info.SessionID,
			CreatedAt:    info.CreatedAt.UTC().Format(time.RFC3339),
			MessageCount: info.MessageCount,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDeleteSession handles DELETE /session/{id}, removing the session and
// its messages entirely. Unlike clearing memory, the session is gone
// afterwards and its history reads as 404.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if err := s.cfg.Sessions.DeleteSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, fmt.Sprintf("session %q not found", sessionID), http.StatusNotFound)
			return
		}
		logging.FromContext(r.Context()).Error("failed to delete session", slog.Any("error", err))
		http.Error(w, "failed to delete session", http.StatusInternalServerError)
		return
	}

	logging.FromContext(r.Context()).Info("session deleted", slog.String("session_id", sessionID))
	writeJSON(w, http.StatusOK, deleteSessionResponse{SessionID: sessionID, Deleted: true})
}

// handleClearMemory handles DELETE /session/{id}/memory. Clearing a session
// that does not exist succeeds.
func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if err := s.cfg.Sessions.Clear(r.Context(), sessionID); err != nil {
		logging.FromContext(r.Context()).Error("failed to clear session", slog.Any("error", err))
		http.Error(w, "failed to clear session", http.StatusInternalServerError)
		return
	}

	logging.FromContext(r.Context()).Info("session cleared", slog.String("session_id", sessionID))
	writeJSON(w, http.StatusOK, clearResponse{SessionID: sessionID, Cleared: true})
}
