package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tutorstack/tutorrag/internal/blob"
	"github.com/tutorstack/tutorrag/internal/extract"
	"github.com/tutorstack/tutorrag/internal/ingestion"
	"github.com/tutorstack/tutorrag/internal/rag"
	"github.com/tutorstack/tutorrag/internal/store"
)

// retrievalResult is one entry in the JSON array returned by
// knowledge_base_retrieval.
type retrievalResult struct {
	Content  string            `json:"content"`
	Score    float32           `json:"score"`
	Subject  string            `json:"subject,omitempty"`
	Topic    string            `json:"topic,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// handleRetrieval implements the knowledge_base_retrieval tool.
func (g *Gateway) handleRetrieval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil || userID == "" {
		return errorResult("user_id parameter is required"), nil
	}
	query, err := request.RequireString("query")
	if err != nil || query == "" {
		return errorResult("query parameter is required"), nil
	}

	scope := rag.Scope{
		StudentID: userID,
		Subject:   request.GetString("subject", ""),
		Topic:     request.GetString("topic", ""),
	}
	topK := request.GetInt("top_k", 0)

	chunks, err := g.cfg.Retriever.Retrieve(ctx, query, scope, topK)
	if err != nil {
		g.cfg.Logger.Error("retrieval failed",
			slog.String("student_id", userID),
			slog.String("error", err.Error()),
		)
		return errorResult(fmt.Sprintf("retrieval failed: %v", err)), nil
	}

	results := make([]retrievalResult, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, retrievalResult{
			Content:  c.Content,
			Score:    c.Score,
			Subject:  c.Subject,
			Topic:    c.Topic,
			Metadata: c.Metadata,
		})
	}

	payload, err := json.Marshal(results)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode results: %v", err)), nil
	}
	return textResult(string(payload)), nil
}

// handleUpload implements the upload_student_file tool: decode, store, and
// index in one call.
func (g *Gateway) handleUpload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil || userID == "" {
		return errorResult("user_id parameter is required"), nil
	}
	filename, err := request.RequireString("filename")
	if err != nil || filename == "" {
		return errorResult("filename parameter is required"), nil
	}
	encoded, err := request.RequireString("file_content_base64")
	if err != nil || encoded == "" {
		return errorResult("file_content_base64 parameter is required"), nil
	}
	subject, err := request.RequireString("subject")
	if err != nil || subject == "" {
		return errorResult("subject parameter is required"), nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return errorResult(fmt.Sprintf("file_content_base64 is not valid base64: %v", err)), nil
	}

	fileID := uuid.NewString()
	if g.cfg.Uploads != nil {
		if err := g.cfg.Uploads.CreateUpload(ctx, store.Upload{
			FileID:    fileID,
			StudentID: userID,
			Filename:  filename,
			Subject:   subject,
		}); err != nil {
			g.cfg.Logger.Warn("failed to create upload record", slog.String("error", err.Error()))
		}
	}

	result, err := g.cfg.Pipeline.Ingest(ctx, ingestion.Input{
		FileID:          fileID,
		StudentID:       userID,
		Subject:         subject,
		Topic:           request.GetString("topic", ""),
		DifficultyLevel: request.GetInt("difficulty_level", 0),
		Description:     request.GetString("description", ""),
		Filename:        filename,
		Data:            data,
	})
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedType) {
			return errorResult(fmt.Sprintf("unsupported file type: %q (supported: pdf, docx, doc)", filename)), nil
		}
		g.cfg.Logger.Error("ingestion failed",
			slog.String("student_id", userID),
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
		return errorResult(fmt.Sprintf("ingestion failed: %v", err)), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"file_id":        fileID,
		"status":         store.StatusIndexed,
		"chunks_created": result.ChunkCount,
		"blob_path":      result.BlobPath,
	})
	return textResult(string(payload)), nil
}

// listedFile is one entry in the JSON array returned by list_student_files.
type listedFile struct {
	Path         string            `json:"path"`
	Name         string            `json:"name"`
	Size         int64             `json:"size"`
	LastModified string            `json:"last_modified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// handleListFiles implements the list_student_files tool.
func (g *Gateway) handleListFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil || userID == "" {
		return errorResult("user_id parameter is required"), nil
	}

	files, err := g.cfg.Blobs.List(ctx, userID, request.GetString("subject", ""))
	if err != nil {
		g.cfg.Logger.Error("list files failed",
			slog.String("student_id", userID),
			slog.String("error", err.Error()),
		)
		return errorResult(fmt.Sprintf("listing files failed: %v", err)), nil
	}

	listed := make([]listedFile, 0, len(files))
	for _, f := range files {
		listed = append(listed, listedFile{
			Path:         f.Path,
			Name:         f.Name,
			Size:         f.Size,
			LastModified: f.LastModified.UTC().Format("2006-01-02T15:04:05Z"),
			Metadata:     f.Metadata,
		})
	}

	payload, err := json.Marshal(listed)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode results: %v", err)), nil
	}
	return textResult(string(payload)), nil
}

// handlePreview implements the preview_file_text tool.
func (g *Gateway) handlePreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := request.RequireString("filename")
	if err != nil || filename == "" {
		return errorResult("filename parameter is required"), nil
	}

	var data []byte
	if blobPath := request.GetString("blob_path", ""); blobPath != "" {
		userID := request.GetString("user_id", "")
		if userID == "" {
			return errorResult("user_id parameter is required with blob_path"), nil
		}
		// Blob paths are student-prefixed; refuse paths outside the caller's own tree.
		if strings.Contains(blobPath, "..") || !strings.HasPrefix(blobPath, userID+"/") {
			return errorResult(fmt.Sprintf("file not found: %q", blobPath)), nil
		}
		data, err = g.cfg.Blobs.Download(ctx, blobPath)
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				return errorResult(fmt.Sprintf("file not found: %q", blobPath)), nil
			}
			g.cfg.Logger.Error("preview download failed",
				slog.String("blob_path", blobPath),
				slog.String("error", err.Error()),
			)
			return errorResult(fmt.Sprintf("download failed: %v", err)), nil
		}
	} else {
		encoded, err := request.RequireString("file_content_base64")
		if err != nil || encoded == "" {
			return errorResult("either file_content_base64 or blob_path is required"), nil
		}
		data, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return errorResult(fmt.Sprintf("file_content_base64 is not valid base64: %v", err)), nil
		}
	}

	text, err := extract.Text(filename, data)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedType) {
			return errorResult(fmt.Sprintf("unsupported file type: %q (supported: pdf, docx, doc)", filename)), nil
		}
		return errorResult(fmt.Sprintf("extraction failed: %v", err)), nil
	}

	maxChars := request.GetInt("max_chars", 500)
	if maxChars <= 0 {
		maxChars = 500
	}
	// Truncate on rune boundaries so multibyte text stays valid UTF-8.
	truncated := false
	if runes := []rune(text); len(runes) > maxChars {
		text = string(runes[:maxChars])
		truncated = true
	}

	payload, _ := json.Marshal(map[string]any{
		"preview":   text,
		"truncated": truncated,
	})
	return textResult(string(payload)), nil
}
