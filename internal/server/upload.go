package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tutorstack/tutorrag/internal/extract"
	"github.com/tutorstack/tutorrag/internal/ingestion"
	"github.com/tutorstack/tutorrag/internal/logging"
	"github.com/tutorstack/tutorrag/internal/store"
)

// defaultMaxUploadBytes caps uploaded files at 32 MiB.
const defaultMaxUploadBytes = 32 << 20

// ingestTimeout bounds a single background ingestion run.
const ingestTimeout = 10 * time.Minute

// handleUpload handles POST /upload-student-file. The multipart form is
// validated synchronously (required fields, supported extension); the file is
// then ingested in the background while the client polls
// GET /files/{id}/status.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	studentID := r.FormValue("student_id")
	if studentID == "" {
		http.Error(w, "student_id is required", http.StatusBadRequest)
		return
	}
	subject := r.FormValue("subject")
	if subject == "" {
		http.Error(w, "subject is required", http.StatusBadRequest)
		return
	}

	difficulty := 0
	if v := r.FormValue("difficulty_level"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10 {
			http.Error(w, "difficulty_level must be an integer between 1 and 10", http.StatusBadRequest)
			return
		}
		difficulty = n
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !extract.SupportedExtension(header.Filename) {
		http.Error(w, fmt.Sprintf("unsupported file type: %q (supported: pdf, docx, doc)", header.Filename), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusBadRequest)
		return
	}

	fileID := uuid.NewString()
	if err := s.cfg.Uploads.CreateUpload(r.Context(), store.Upload{
		FileID:    fileID,
		StudentID: studentID,
		Filename:  header.Filename,
		Subject:   subject,
	}); err != nil {
		log.Error("failed to create upload record", slog.Any("error", err))
		http.Error(w, "failed to record upload", http.StatusInternalServerError)
		return
	}

	in := ingestion.Input{
		FileID:          fileID,
		StudentID:       studentID,
		Subject:         subject,
		Topic:           r.FormValue("topic"),
		DifficultyLevel: difficulty,
		Description:     r.FormValue("description"),
		Filename:        header.Filename,
		Data:            data,
	}

	// Ingestion outlives the request; the pipeline records the terminal
	// status and the client polls GET /files/{id}/status.
	bgCtx := backgroundContext(r)
	go func() {
		ctx, cancel := context.WithTimeout(bgCtx, ingestTimeout)
		defer cancel()
		if _, err := s.ingester.Ingest(ctx, in); err != nil {
			logging.FromContext(ctx).Error("background ingestion failed",
				slog.String("file_id", fileID),
				slog.Any("error", err),
			)
		}
	}()

	log.Info("upload accepted",
		slog.String("file_id", fileID),
		slog.String("student_id", studentID),
		slog.String("filename", header.Filename),
	)
	writeJSON(w, http.StatusAccepted, uploadResponse{FileID: fileID, Status: store.StatusAccepted})
}

// handleFileStatus handles GET /files/{id}/status. The optional student_id
// query parameter enforces the owner check; unknown and foreign IDs both read
// as 404.
func (s *Server) handleFileStatus(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("id")

	up, err := s.cfg.Uploads.GetUpload(r.Context(), fileID, r.URL.Query().Get("student_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, fmt.Sprintf("upload %q not found", fileID), http.StatusNotFound)
			return
		}
		logging.FromContext(r.Context()).Error("failed to load upload record", slog.Any("error", err))
		http.Error(w, "failed to load upload status", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, fileStatusResponse{
		FileID:     up.FileID,
		Status:     up.Status,
		Filename:   up.Filename,
		Subject:    up.Subject,
		ChunkCount: up.ChunkCount,
		Error:      up.Error,
	})
}
